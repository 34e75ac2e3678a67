package claim_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	"github.com/dydact/scrive-aci-sub002/internal/claim"
	claimPostgres "github.com/dydact/scrive-aci-sub002/internal/claim/postgres"
	claimDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/claim"
	clientDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/client"
	usageDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/usage"
	"github.com/dydact/scrive-aci-sub002/internal/store"
	"github.com/dydact/scrive-aci-sub002/internal/store/storetest"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
	"github.com/dydact/scrive-aci-sub002/internal/usage"
	usagePostgres "github.com/dydact/scrive-aci-sub002/internal/usage/postgres"
)

type stubGate struct {
	denied map[auth.Capability]bool
}

func (g *stubGate) CanOn(_ context.Context, _ int64, c auth.Capability, _ string) bool {
	return !g.denied[c]
}

func (g *stubGate) Require(_ context.Context, _ internal.Actor, c auth.Capability, resource string) error {
	if g.denied[c] {
		return internal.NewForbiddenError(string(c), resource)
	}
	return nil
}

type stubDenials struct {
	notices []claim.DenialNotice
	closed  map[int64]int64
	fail    error
}

func (d *stubDenials) OpenDenial(_ context.Context, n claim.DenialNotice) (int64, error) {
	if d.fail != nil {
		return 0, d.fail
	}
	d.notices = append(d.notices, n)
	return int64(len(d.notices)), nil
}

func (d *stubDenials) CloseForResubmission(_ context.Context, claimID, replacementID int64) error {
	if d.closed == nil {
		d.closed = map[int64]int64{}
	}
	d.closed[claimID] = replacementID
	return nil
}

func (d *stubDenials) DenialIDForClaim(_ context.Context, claimID int64) (*int64, error) {
	for i, n := range d.notices {
		if n.ClaimID == claimID {
			id := int64(i + 1)
			return &id, nil
		}
	}
	return nil, nil
}

var _ = Describe("Service", func() {
	var (
		db       *gorm.DB
		gate     *stubGate
		denials  *stubDenials
		recorder *audit.Memory
		service  *claim.Service
		ctx      context.Context
		actor    internal.Actor
		seq      int
	)

	billingDay := time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC)
	periodStart := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)

	addEvent := func(clientID int64, day int, units float64) {
		seq++
		row := &usageDatamodel.UsageEvent{
			ClientID:        clientID,
			AuthorizationID: 1,
			ServiceTypeID:   3,
			ServiceDate:     time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC),
			Units:           units,
			UnitRateCents:   4000,
			AmountCents:     usage.Amount(units, 4000),
			SourceType:      usage.SourceSession,
			SourceID:        fmt.Sprintf("s-%d", seq),
			RecordedBy:      2,
		}
		Expect(db.Create(row).Error).To(Succeed())
	}

	generate := func() (*claim.Claim, error) {
		return service.Generate(ctx, actor, claim.GenerateClaimDTO{
			ClientID:    10,
			PeriodStart: transport.Date{Time: periodStart},
			PeriodEnd:   transport.Date{Time: periodEnd},
		})
	}

	submit := func(c *claim.Claim) {
		_, err := service.MarkSubmitted(ctx, c.ID, 1)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		var err error
		db, err = storetest.Open(&claimDatamodel.Claim{}, &clientDatamodel.Client{}, &usageDatamodel.UsageEvent{}, &usageDatamodel.ClaimUsage{})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.Create(&clientDatamodel.Client{ID: 10, FirstName: "Avery", LastName: "Lane", MedicaidID: "MA12345678"}).Error).To(Succeed())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		tx := store.NewTransactor(db, logger)
		gate = &stubGate{denied: map[auth.Capability]bool{}}
		denials = &stubDenials{}
		recorder = audit.NewMemory()
		usageService := usage.NewService(usagePostgres.NewUsageRepository(db), tx, nil, gate, recorder, nil, logger)

		service = claim.NewService(claimPostgres.NewClaimRepository(db), tx, usageService, gate, recorder, nil, logger)
		service.SetDenialOpener(denials)
		service.SetClock(func() time.Time { return billingDay.Add(10 * time.Hour) })
		ctx = context.Background()
		actor = internal.Actor{UserID: 5}
		seq = 0
	})

	AfterEach(func() {
		Expect(storetest.Close(db)).To(Succeed())
	})

	Describe("Generate", func() {
		It("totals unbilled usage and marks it billed", func() {
			addEvent(10, 4, 3)
			addEvent(10, 11, 2)
			addEvent(11, 11, 5)

			c, err := generate()
			Expect(err).NotTo(HaveOccurred())
			Expect(c.TotalCents).To(Equal(int64(20000)))
			Expect(c.Status).To(Equal(claim.StatusGenerated))
			Expect(c.ClaimNumber).To(Equal("CLM-20240402-0001"))
			Expect(c.ClientName).To(Equal("Avery Lane"))

			var billed []usageDatamodel.UsageEvent
			Expect(db.Where("claim_id = ?", c.ID).Find(&billed).Error).To(Succeed())
			Expect(billed).To(HaveLen(2))

			var other usageDatamodel.UsageEvent
			Expect(db.Where("client_id = ?", 11).First(&other).Error).To(Succeed())
			Expect(other.ClaimID).To(BeNil())

			Expect(recorder.Find(claim.ActionGenerate)).To(HaveLen(1))
		})

		It("numbers claims sequentially per billing day", func() {
			addEvent(10, 4, 1)
			first, err := generate()
			Expect(err).NotTo(HaveOccurred())

			addEvent(10, 5, 1)
			second, err := generate()
			Expect(err).NotTo(HaveOccurred())

			Expect(first.ClaimNumber).To(Equal("CLM-20240402-0001"))
			Expect(second.ClaimNumber).To(Equal("CLM-20240402-0002"))
		})

		It("returns EmptyClaim when nothing is unbilled", func() {
			addEvent(10, 4, 1)
			_, err := generate()
			Expect(err).NotTo(HaveOccurred())

			_, err = generate()
			Expect(errors.Is(err, internal.ErrEmptyClaim)).To(BeTrue())

			var count int64
			Expect(db.Model(&claimDatamodel.Claim{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
		})

		It("requires view_billing", func() {
			addEvent(10, 4, 1)
			gate.denied[auth.ViewBilling] = true
			_, err := generate()
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
		})

		It("validates the period", func() {
			_, err := service.Generate(ctx, actor, claim.GenerateClaimDTO{
				ClientID:    10,
				PeriodStart: transport.Date{Time: periodEnd},
				PeriodEnd:   transport.Date{Time: periodStart},
			})
			Expect(errors.Is(err, internal.ErrValidation)).To(BeTrue())
		})
	})

	Describe("outcomes", func() {
		var c *claim.Claim

		BeforeEach(func() {
			addEvent(10, 4, 3)
			addEvent(10, 11, 2)
			var err error
			c, err = generate()
			Expect(err).NotTo(HaveOccurred())
		})

		It("cannot decide a claim that was never submitted", func() {
			_, err := service.RecordOutcome(ctx, actor, c.ID, claim.OutcomeDTO{Status: "accepted"})
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})

		It("opens a denial when the payer denies", func() {
			submit(c)
			denied, err := service.RecordOutcome(ctx, actor, c.ID, claim.OutcomeDTO{
				Status:       "denied",
				DenialCode:   "CO-16",
				DenialReason: "missing information",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(denied.Status).To(Equal(claim.StatusDenied))
			Expect(denials.notices).To(HaveLen(1))
			Expect(denials.notices[0].AmountCents).To(Equal(int64(20000)))
			Expect(denials.notices[0].Code).To(Equal("CO-16"))
		})

		It("rolls the denial back with the claim when opening fails", func() {
			submit(c)
			denials.fail = errors.New("boom")
			_, err := service.RecordOutcome(ctx, actor, c.ID, claim.OutcomeDTO{
				Status:       "denied",
				DenialCode:   "CO-16",
				DenialReason: "missing information",
			})
			Expect(err).To(HaveOccurred())

			view, err := service.Get(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(claim.StatusSubmitted))
		})

		It("records a short payment with its variance", func() {
			submit(c)
			_, err := service.RecordOutcome(ctx, actor, c.ID, claim.OutcomeDTO{Status: "accepted"})
			Expect(err).NotTo(HaveOccurred())

			paid, err := service.RecordPayment(ctx, actor, c.ID, claim.PaymentDTO{AmountCents: 18000})
			Expect(err).NotTo(HaveOccurred())
			Expect(paid.Status).To(Equal(claim.StatusPaid))
			Expect(paid.Variance()).To(Equal(int64(2000)))

			entries := recorder.Find(claim.ActionPayment)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Detail).To(HaveKeyWithValue("variance_cents", int64(2000)))
		})

		It("settles a denied claim", func() {
			submit(c)
			_, err := service.RecordOutcome(ctx, actor, c.ID, claim.OutcomeDTO{
				Status: "denied", DenialCode: "CO-16", DenialReason: "missing information",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.SettleDenied(ctx, c.ID, 20000)).To(Succeed())
			view, err := service.Get(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(claim.StatusPaid))
			Expect(view.DenialID).NotTo(BeNil())
		})

		It("resubmits a denied claim once", func() {
			submit(c)
			_, err := service.RecordOutcome(ctx, actor, c.ID, claim.OutcomeDTO{
				Status: "denied", DenialCode: "CO-16", DenialReason: "missing information",
			})
			Expect(err).NotTo(HaveOccurred())

			replacement, err := service.Resubmit(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(replacement.Status).To(Equal(claim.StatusGenerated))
			Expect(replacement.TotalCents).To(Equal(int64(20000)))
			Expect(*replacement.ReplacesClaimID).To(Equal(c.ID))
			Expect(replacement.ClaimNumber).To(Equal("CLM-20240402-0002"))

			view, err := service.Get(ctx, actor, replacement.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Events).To(HaveLen(2))

			_, err = service.Resubmit(ctx, actor, c.ID)
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})

		It("closes the denial and refuses to settle the resubmitted claim", func() {
			submit(c)
			_, err := service.RecordOutcome(ctx, actor, c.ID, claim.OutcomeDTO{
				Status: "denied", DenialCode: "CO-16", DenialReason: "missing information",
			})
			Expect(err).NotTo(HaveOccurred())

			replacement, err := service.Resubmit(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(denials.closed).To(HaveKeyWithValue(c.ID, replacement.ID))

			err = service.SettleDenied(ctx, c.ID, 20000)
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
			view, err := service.Get(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(claim.StatusDenied))
			Expect(view.Events).To(HaveLen(2))
			Expect(recorder.Find(claim.ActionSettle)).To(BeEmpty())
		})

		It("refuses to resubmit a claim that is not denied", func() {
			_, err := service.Resubmit(ctx, actor, c.ID)
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})
	})

	Describe("Get", func() {
		It("masks the client billing id without view_client_billing_ids", func() {
			addEvent(10, 4, 1)
			c, err := generate()
			Expect(err).NotTo(HaveOccurred())

			view, err := service.Get(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.ClientBillingID).To(Equal("MA12345678"))

			gate.denied[auth.ViewClientBillingIDs] = true
			view, err = service.Get(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.ClientBillingID).To(Equal("******5678"))
			Expect(view.Events).To(HaveLen(1))
		})

		It("returns not found for an unknown claim", func() {
			_, err := service.Get(ctx, actor, 999)
			Expect(errors.Is(err, internal.ErrClaimNotFound)).To(BeTrue())
		})
	})
})
