package edi_test

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
	ediDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/edi"
	usageDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/usage"
	"github.com/dydact/scrive-aci-sub002/internal/edi"
	ediPostgres "github.com/dydact/scrive-aci-sub002/internal/edi/postgres"
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

type stubCatalog struct{}

func (stubCatalog) Codes(context.Context) (map[int64]string, error) {
	return map[int64]string{3: "W1727"}, nil
}

func offenders(err error) []internal.ValidationError {
	appErr, ok := internal.IsAppError(err)
	Expect(ok).To(BeTrue())
	details, ok := appErr.Details.(internal.ValidationErrors)
	Expect(ok).To(BeTrue())
	return details.Errors
}

var _ = Describe("Service", func() {
	var (
		db       *gorm.DB
		gate     *stubGate
		recorder *audit.Memory
		claims   *claim.Service
		service  *edi.Service
		ctx      context.Context
		actor    internal.Actor
		seq      int
	)

	billingDay := time.Date(2024, time.April, 2, 12, 0, 0, 0, time.UTC)

	generated := func(clientID int64, medicaidID string, amounts ...int64) *claim.Claim {
		Expect(db.Create(&clientDatamodel.Client{ID: clientID, FirstName: "Avery", LastName: "Lane", MedicaidID: medicaidID}).Error).To(Succeed())
		for i, amount := range amounts {
			seq++
			Expect(db.Create(&usageDatamodel.UsageEvent{
				ClientID:        clientID,
				AuthorizationID: 1,
				ServiceTypeID:   3,
				ServiceDate:     time.Date(2024, time.March, 4+i, 0, 0, 0, 0, time.UTC),
				Units:           float64(amount) / 4000,
				UnitRateCents:   4000,
				AmountCents:     amount,
				SourceType:      usage.SourceSession,
				SourceID:        fmt.Sprintf("s-%d", seq),
				RecordedBy:      2,
			}).Error).To(Succeed())
		}
		c, err := claims.Generate(ctx, actor, claim.GenerateClaimDTO{
			ClientID:    clientID,
			PeriodStart: transport.Date{Time: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)},
			PeriodEnd:   transport.Date{Time: time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)},
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	status := func(id int64) claim.Status {
		var row claimDatamodel.Claim
		Expect(db.First(&row, id).Error).To(Succeed())
		return claim.Status(row.Status)
	}

	BeforeEach(func() {
		var err error
		db, err = storetest.Open(
			&claimDatamodel.Claim{},
			&clientDatamodel.Client{},
			&usageDatamodel.UsageEvent{},
			&usageDatamodel.ClaimUsage{},
			&ediDatamodel.Batch{},
		)
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		tx := store.NewTransactor(db, logger)
		gate = &stubGate{denied: map[auth.Capability]bool{}}
		recorder = audit.NewMemory()
		usageService := usage.NewService(usagePostgres.NewUsageRepository(db), tx, nil, gate, recorder, nil, logger)
		claims = claim.NewService(claimPostgres.NewClaimRepository(db), tx, usageService, gate, recorder, nil, logger)
		claims.SetClock(func() time.Time { return billingDay })

		service = edi.NewService(
			ediPostgres.NewBatchRepository(db),
			tx, claims, usageService, stubCatalog{}, gate, recorder, nil,
			internal.BillingConfig{
				OrganizationName: "American Caregivers Inc",
				NPI:              "1234567893",
				TaxID:            "521234567",
				SenderID:         "ACISENDER",
				ReceiverID:       "MDMEDICAID",
				UsageIndicator:   "T",
			},
			logger,
		)
		service.SetClock(func() time.Time { return billingDay })
		ctx = context.Background()
		actor = internal.Actor{UserID: 5}
		seq = 0
	})

	AfterEach(func() {
		Expect(storetest.Close(db)).To(Succeed())
	})

	It("writes a batch and submits every claim", func() {
		first := generated(10, "MA12345678", 12000, 8000)
		second := generated(11, "MA87654321", 4000)

		batch, err := service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{first.ID, second.ID}})
		Expect(err).NotTo(HaveOccurred())
		Expect(batch.ClaimCount).To(Equal(2))
		Expect(batch.TotalCents).To(Equal(int64(24000)))
		Expect(batch.ControlNumber).To(Equal(int64(1)))
		Expect(batch.Reference).To(HaveLen(26))
		Expect(batch.FileName).To(Equal("837P_" + batch.Reference + ".x12"))
		Expect(batch.Content).To(ContainSubstring("CLM*" + first.ClaimNumber + "*200.00*"))
		Expect(batch.Content).To(ContainSubstring("CLM*" + second.ClaimNumber + "*40.00*"))

		Expect(status(first.ID)).To(Equal(claim.StatusSubmitted))
		Expect(status(second.ID)).To(Equal(claim.StatusSubmitted))

		stored, err := service.File(ctx, actor, batch.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Content).To(Equal(batch.Content))
		Expect(stored.ClaimIDs).To(ConsistOf(first.ID, second.ID))
		Expect(recorder.Find(edi.ActionGenerate)).To(HaveLen(1))
		Expect(recorder.Find(edi.ActionDownload)).To(HaveLen(1))
	})

	It("increments the control number per batch", func() {
		first := generated(10, "MA12345678", 4000)
		second := generated(11, "MA87654321", 4000)

		a, err := service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{first.ID}})
		Expect(err).NotTo(HaveOccurred())
		b, err := service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{second.ID}})
		Expect(err).NotTo(HaveOccurred())
		Expect(b.ControlNumber).To(Equal(a.ControlNumber + 1))
	})

	It("rejects duplicate claim ids", func() {
		c := generated(10, "MA12345678", 4000)
		_, err := service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{c.ID, c.ID}})
		Expect(errors.Is(err, internal.ErrValidation)).To(BeTrue())
		Expect(offenders(err)).To(HaveLen(1))
		Expect(status(c.ID)).To(Equal(claim.StatusGenerated))
	})

	It("lists every claim that is not generated and submits none", func() {
		ok := generated(10, "MA12345678", 4000)
		done := generated(11, "MA87654321", 4000)
		_, err := service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{done.ID}})
		Expect(err).NotTo(HaveOccurred())

		_, err = service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{ok.ID, done.ID}})
		Expect(errors.Is(err, internal.ErrValidation)).To(BeTrue())
		list := offenders(err)
		Expect(list).To(HaveLen(1))
		Expect(list[0].Message).To(ContainSubstring(done.ClaimNumber))
		Expect(status(ok.ID)).To(Equal(claim.StatusGenerated))

		var count int64
		Expect(db.Model(&ediDatamodel.Batch{}).Count(&count).Error).To(Succeed())
		Expect(count).To(Equal(int64(1)))
	})

	It("rejects claims without a client billing id", func() {
		c := generated(10, "", 4000)
		_, err := service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{c.ID}})
		Expect(errors.Is(err, internal.ErrValidation)).To(BeTrue())
		Expect(offenders(err)[0].Message).To(ContainSubstring("billing id"))
	})

	It("returns not found for an unknown claim", func() {
		_, err := service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{404}})
		Expect(errors.Is(err, internal.ErrClaimNotFound)).To(BeTrue())
	})

	It("requires view_org_billing_ids as well as view_billing", func() {
		c := generated(10, "MA12345678", 4000)
		gate.denied[auth.ViewOrgBillingIDs] = true
		_, err := service.GenerateBatch(ctx, actor, edi.GenerateBatchDTO{ClaimIDs: []int64{c.ID}})
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Details).To(Equal(internal.ForbiddenDetails{RequiredCapability: string(auth.ViewOrgBillingIDs), Resource: "edi_batch"}))

		_, err = service.Organization(ctx, actor)
		Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
	})

	It("returns the organisation identifiers", func() {
		info, err := service.Organization(ctx, actor)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.NPI).To(Equal("1234567893"))
		Expect(info.TaxID).To(Equal("521234567"))
	})
})
