package denial_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
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
	denialDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/denial"
	usageDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/usage"
	"github.com/dydact/scrive-aci-sub002/internal/core/events"
	"github.com/dydact/scrive-aci-sub002/internal/denial"
	denialPostgres "github.com/dydact/scrive-aci-sub002/internal/denial/postgres"
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

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) ofType(t string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

var _ = Describe("Service", func() {
	var (
		db        *gorm.DB
		gate      *stubGate
		recorder  *audit.Memory
		publisher *capturePublisher
		claims    *claim.Service
		service   *denial.Service
		ctx       context.Context
		actor     internal.Actor
		now       time.Time
	)

	deniedAt := time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC)

	// deniedClaim bills one $200 event and walks the claim to denied.
	deniedClaim := func(clientID int64) (*claim.Claim, *denial.Denial) {
		Expect(db.Create(&clientDatamodel.Client{ID: clientID, FirstName: "Avery", LastName: "Lane", MedicaidID: "MA12345678"}).Error).To(Succeed())
		Expect(db.Create(&usageDatamodel.UsageEvent{
			ClientID:        clientID,
			AuthorizationID: 1,
			ServiceTypeID:   3,
			ServiceDate:     time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
			Units:           5,
			UnitRateCents:   4000,
			AmountCents:     20000,
			SourceType:      usage.SourceSession,
			SourceID:        fmt.Sprintf("s-%d", clientID),
			RecordedBy:      2,
		}).Error).To(Succeed())

		c, err := claims.Generate(ctx, actor, claim.GenerateClaimDTO{
			ClientID:    clientID,
			PeriodStart: transport.Date{Time: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)},
			PeriodEnd:   transport.Date{Time: time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = claims.MarkSubmitted(ctx, c.ID, 1)
		Expect(err).NotTo(HaveOccurred())
		c, err = claims.RecordOutcome(ctx, actor, c.ID, claim.OutcomeDTO{
			Status:       "denied",
			DenialCode:   "CO-16",
			DenialReason: "missing information",
			DeniedAt:     transport.Date{Time: deniedAt},
		})
		Expect(err).NotTo(HaveOccurred())

		var row denialDatamodel.Denial
		Expect(db.Where("claim_id = ?", c.ID).First(&row).Error).To(Succeed())
		return c, denial.FromDataModel(&row)
	}

	BeforeEach(func() {
		var err error
		db, err = storetest.Open(
			&claimDatamodel.Claim{},
			&clientDatamodel.Client{},
			&usageDatamodel.UsageEvent{},
			&usageDatamodel.ClaimUsage{},
			&denialDatamodel.Denial{},
			&denialDatamodel.Appeal{},
			&denialDatamodel.Task{},
		)
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		tx := store.NewTransactor(db, logger)
		gate = &stubGate{denied: map[auth.Capability]bool{}}
		recorder = audit.NewMemory()
		publisher = &capturePublisher{}
		now = deniedAt.Add(24 * time.Hour)
		clock := func() time.Time { return now }

		usageService := usage.NewService(usagePostgres.NewUsageRepository(db), tx, nil, gate, recorder, nil, logger)
		claims = claim.NewService(claimPostgres.NewClaimRepository(db), tx, usageService, gate, recorder, nil, logger)
		claims.SetClock(clock)

		service = denial.NewService(
			denialPostgres.NewDenialRepository(db),
			tx, claims, gate, recorder, publisher,
			internal.BillingConfig{AppealWindowDays: 90},
			logger,
		)
		service.SetClock(clock)
		claims.SetDenialOpener(service)

		ctx = context.Background()
		actor = internal.Actor{UserID: 7}
	})

	AfterEach(func() {
		Expect(storetest.Close(db)).To(Succeed())
	})

	It("opens a pending denial 90 days from the denial date when a claim is denied", func() {
		c, d := deniedClaim(10)
		Expect(d.ClaimID).To(Equal(c.ID))
		Expect(d.Status).To(Equal(denial.StatusPending))
		Expect(d.AmountCents).To(Equal(int64(20000)))
		Expect(d.AppealDeadline).To(Equal(time.Date(2024, time.July, 9, 0, 0, 0, 0, time.UTC)))
		Expect(recorder.Find(denial.ActionOpen)).To(HaveLen(1))

		view, err := claims.Get(ctx, actor, c.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(view.DenialID).To(Equal(&d.ID))
	})

	It("allows one denial per claim", func() {
		c, _ := deniedClaim(10)
		_, err := service.Open(ctx, c.ID, "CO-97", "duplicate", 100, deniedAt)
		Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
	})

	It("audits and announces a denial only when the opening transaction commits", func() {
		deniedClaim(10)
		Expect(recorder.Find(denial.ActionOpen)).To(HaveLen(1))
		Expect(publisher.ofType(events.EventTypeDenialOpened)).To(HaveLen(1))

		tx := store.NewTransactor(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
		err := tx.WithinTx(ctx, func(ctx context.Context) error {
			_, err := service.Open(ctx, 555, "CO-97", "duplicate service", 4000, deniedAt)
			Expect(err).NotTo(HaveOccurred())
			return errors.New("payer file rejected")
		})
		Expect(err).To(HaveOccurred())

		Expect(recorder.Find(denial.ActionOpen)).To(HaveLen(1))
		Expect(publisher.ofType(events.EventTypeDenialOpened)).To(HaveLen(1))
		var count int64
		Expect(db.Model(&denialDatamodel.Denial{}).Where("claim_id = ?", 555).Count(&count).Error).To(Succeed())
		Expect(count).To(BeZero())
	})

	Describe("FileAppeal", func() {
		It("appeals before the deadline", func() {
			_, d := deniedClaim(10)
			appeal, err := service.FileAppeal(ctx, actor, denial.FileAppealDTO{
				DenialID:      d.ID,
				Reason:        "documentation attached",
				Documentation: "session notes",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(appeal.FiledBy).To(Equal(actor.UserID))

			detail, err := service.Get(ctx, actor, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Status).To(Equal(denial.StatusAppealed))
			Expect(detail.Appeals).To(HaveLen(1))
		})

		It("returns DeadlineExpired after the window", func() {
			_, d := deniedClaim(10)
			now = d.AppealDeadline.Add(time.Hour)
			_, err := service.FileAppeal(ctx, actor, denial.FileAppealDTO{DenialID: d.ID, Reason: "late"})
			Expect(errors.Is(err, internal.ErrDeadlineExpired)).To(BeTrue())

			failures := recorder.Find(denial.ActionAppeal)
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].Result).To(Equal(audit.ResultFailure))
		})

		It("returns InvalidTransition for an appealed denial", func() {
			_, d := deniedClaim(10)
			_, err := service.FileAppeal(ctx, actor, denial.FileAppealDTO{DenialID: d.ID, Reason: "first"})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.FileAppeal(ctx, actor, denial.FileAppealDTO{DenialID: d.ID, Reason: "second"})
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})

		It("returns not found for an unknown denial", func() {
			_, err := service.FileAppeal(ctx, actor, denial.FileAppealDTO{DenialID: 404, Reason: "x"})
			Expect(errors.Is(err, internal.ErrDenialNotFound)).To(BeTrue())
		})

		It("requires view_billing", func() {
			gate.denied[auth.ViewBilling] = true
			_, err := service.FileAppeal(ctx, actor, denial.FileAppealDTO{DenialID: 1, Reason: "x"})
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
		})
	})

	Describe("Resolve", func() {
		It("settles the claim when the outcome is paid", func() {
			c, d := deniedClaim(10)
			_, err := service.FileAppeal(ctx, actor, denial.FileAppealDTO{DenialID: d.ID, Reason: "notes"})
			Expect(err).NotTo(HaveOccurred())

			amount := int64(19000)
			resolved, err := service.Resolve(ctx, actor, denial.ResolveDTO{DenialID: d.ID, Outcome: "paid", AmountCents: &amount})
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved.Status).To(Equal(denial.StatusResolved))
			Expect(*resolved.Outcome).To(Equal(denial.OutcomePaid))

			view, err := claims.Get(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(claim.StatusPaid))
			Expect(*view.PaymentCents).To(Equal(int64(19000)))
			Expect(view.VarianceCents).To(Equal(int64(1000)))

			settle := recorder.Find(claim.ActionSettle)
			Expect(settle).To(HaveLen(1))
			Expect(settle[0].ActorID).To(Equal(actor.UserID))
		})

		It("leaves the claim denied when the denial is upheld", func() {
			c, d := deniedClaim(10)
			_, err := service.Resolve(ctx, actor, denial.ResolveDTO{DenialID: d.ID, Outcome: "upheld"})
			Expect(err).NotTo(HaveOccurred())

			view, err := claims.Get(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(claim.StatusDenied))
		})

		It("does not resolve twice", func() {
			_, d := deniedClaim(10)
			_, err := service.Resolve(ctx, actor, denial.ResolveDTO{DenialID: d.ID, Outcome: "written_off"})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Resolve(ctx, actor, denial.ResolveDTO{DenialID: d.ID, Outcome: "paid"})
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})

		It("closes the denial when its claim is resubmitted", func() {
			c, d := deniedClaim(10)

			replacement, err := claims.Resubmit(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())

			detail, err := service.Get(ctx, actor, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Status).To(Equal(denial.StatusResolved))
			Expect(*detail.Outcome).To(Equal(denial.OutcomeResubmitted))
			Expect(*detail.ResolvedBy).To(Equal(actor.UserID))

			resolve := recorder.Find(denial.ActionResolve)
			Expect(resolve).To(HaveLen(1))
			Expect(resolve[0].Detail).To(HaveKeyWithValue("replacement_claim_id", replacement.ID))

			_, err = service.Resolve(ctx, actor, denial.ResolveDTO{DenialID: d.ID, Outcome: "paid"})
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
			err = claims.SettleDenied(ctx, c.ID, 20000)
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())

			view, err := claims.Get(ctx, actor, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(claim.StatusDenied))
			Expect(view.Events).To(HaveLen(1))
			Expect(recorder.Find(claim.ActionSettle)).To(BeEmpty())

			n, err := service.SweepOverdue(ctx, d.AppealDeadline.AddDate(0, 0, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("rejects an unknown outcome", func() {
			_, d := deniedClaim(10)
			_, err := service.Resolve(ctx, actor, denial.ResolveDTO{DenialID: d.ID, Outcome: "maybe"})
			Expect(errors.Is(err, internal.ErrValidation)).To(BeTrue())
		})
	})

	Describe("tasks", func() {
		It("moves a pending denial to in_progress and completes tasks", func() {
			_, d := deniedClaim(10)
			task, err := service.AddTask(ctx, actor, d.ID, denial.AddTaskDTO{
				Title:   "request session notes",
				DueDate: transport.Date{Time: deniedAt.AddDate(0, 0, 14)},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(task.IsCompleted()).To(BeFalse())

			detail, err := service.Get(ctx, actor, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Status).To(Equal(denial.StatusInProgress))

			done, err := service.CompleteTask(ctx, actor, d.ID, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(done.IsCompleted()).To(BeTrue())
			Expect(*done.CompletedBy).To(Equal(actor.UserID))

			tasks, err := service.ListTasks(ctx, actor, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].CompletedAt).NotTo(BeNil())
		})

		It("returns TaskNotFound for a task of another denial", func() {
			_, d := deniedClaim(10)
			_, err := service.CompleteTask(ctx, actor, d.ID, 99)
			Expect(errors.Is(err, internal.ErrTaskNotFound)).To(BeTrue())
		})
	})

	Describe("SweepOverdue", func() {
		It("flags open denials past their deadline once", func() {
			_, first := deniedClaim(10)
			_, second := deniedClaim(11)
			_, err := service.FileAppeal(ctx, actor, denial.FileAppealDTO{DenialID: second.ID, Reason: "filed in time"})
			Expect(err).NotTo(HaveOccurred())

			late := first.AppealDeadline.AddDate(0, 0, 1)
			n, err := service.SweepOverdue(ctx, late)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			n, err = service.SweepOverdue(ctx, late)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			overdue := publisher.ofType(events.EventTypeDenialOverdue)
			Expect(overdue).To(HaveLen(1))
			Expect(overdue[0].(*events.DenialEvent).DenialID).To(Equal(first.ID))

			now = late
			list, err := service.ListOverdue(ctx, actor)
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Total).To(Equal(1))
			Expect(list.Denials[0].Overdue).To(BeTrue())
		})

		It("flags nothing before the deadline", func() {
			deniedClaim(10)
			n, err := service.SweepOverdue(ctx, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})
