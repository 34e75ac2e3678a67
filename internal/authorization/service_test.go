package authorization_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	"github.com/dydact/scrive-aci-sub002/internal/authorization"
	authorizationPostgres "github.com/dydact/scrive-aci-sub002/internal/authorization/postgres"
	authorizationDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/authorization"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
	"github.com/dydact/scrive-aci-sub002/internal/store"
	"github.com/dydact/scrive-aci-sub002/internal/store/storetest"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type stubGate struct {
	denied map[auth.Capability]bool
}

func (g *stubGate) Require(_ context.Context, _ internal.Actor, c auth.Capability, resource string) error {
	if g.denied[c] {
		return internal.NewForbiddenError(string(c), resource)
	}
	return nil
}

func (g *stubGate) RequireAny(_ context.Context, _ internal.Actor, resource string, caps ...auth.Capability) error {
	for _, c := range caps {
		if !g.denied[c] {
			return nil
		}
	}
	return internal.NewForbiddenError(string(caps[0]), resource)
}

type stubCatalog struct{}

func (stubCatalog) Lookup(_ context.Context, id int64) (*servicetype.ServiceType, error) {
	if id != 3 {
		return nil, internal.ErrServiceTypeNotFound
	}
	return &servicetype.ServiceType{ID: 3, Code: "W1727", UnitRateCents: 1500, IsActive: true}, nil
}

var _ = Describe("Service", func() {
	var (
		db       *gorm.DB
		gate     *stubGate
		recorder *audit.Memory
		service  *authorization.Service
		tx       *store.Transactor
		ctx      context.Context
		actor    internal.Actor
		clock    time.Time
	)

	create := func(weekly, yearly float64, rollover bool) *authorization.Authorization {
		a, err := service.Create(ctx, actor, authorization.CreateAuthorizationDTO{
			ClientID:        10,
			Program:         "autism_waiver",
			ServiceTypeID:   3,
			StartDate:       transport.Date{Time: day(2023, time.July, 1)},
			EndDate:         transport.Date{Time: day(2024, time.June, 30)},
			WeeklyAllotment: weekly,
			YearlyAllotment: yearly,
			Rollover:        rollover,
		})
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	BeforeEach(func() {
		var err error
		db, err = storetest.Open(&authorizationDatamodel.Authorization{})
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		gate = &stubGate{denied: map[auth.Capability]bool{}}
		recorder = audit.NewMemory()
		clock = day(2024, time.March, 4)
		tx = store.NewTransactor(db, logger)
		service = authorization.NewService(
			authorizationPostgres.NewAuthorizationRepository(db),
			tx,
			gate,
			stubCatalog{},
			recorder,
			internal.BillingConfig{WarningThreshold: 0.80, ResetIntervalDays: 7},
			logger,
		)
		service.SetClock(func() time.Time { return clock })
		ctx = context.Background()
		actor = internal.Actor{UserID: 1}
	})

	AfterEach(func() {
		Expect(storetest.Close(db)).To(Succeed())
	})

	Describe("Create", func() {
		It("defaults the rate from the service type", func() {
			a := create(20, 500, false)
			Expect(a.ID).NotTo(BeZero())
			Expect(a.UnitRateCents).To(Equal(int64(1500)))
			Expect(a.FiscalYear).To(Equal(2024))
			Expect(a.LastResetDate).To(Equal(clock))
			Expect(recorder.Find(authorization.ActionCreate)).To(HaveLen(1))
		})

		It("rejects an overlapping window", func() {
			create(20, 500, false)
			_, err := service.Create(ctx, actor, authorization.CreateAuthorizationDTO{
				ClientID:        10,
				Program:         "autism_waiver",
				ServiceTypeID:   3,
				StartDate:       transport.Date{Time: day(2024, time.January, 1)},
				EndDate:         transport.Date{Time: day(2024, time.March, 31)},
				YearlyAllotment: 100,
			})
			Expect(errors.Is(err, internal.ErrOverlappingWindow)).To(BeTrue())
		})

		It("rejects an unknown service type", func() {
			_, err := service.Create(ctx, actor, authorization.CreateAuthorizationDTO{
				ClientID:        10,
				Program:         "autism_waiver",
				ServiceTypeID:   99,
				StartDate:       transport.Date{Time: day(2023, time.July, 1)},
				EndDate:         transport.Date{Time: day(2024, time.June, 30)},
				YearlyAllotment: 100,
			})
			Expect(errors.Is(err, internal.ErrServiceTypeNotFound)).To(BeTrue())
		})

		It("rejects a window crossing the fiscal year end", func() {
			_, err := service.Create(ctx, actor, authorization.CreateAuthorizationDTO{
				ClientID:        10,
				Program:         "autism_waiver",
				ServiceTypeID:   3,
				StartDate:       transport.Date{Time: day(2024, time.January, 1)},
				EndDate:         transport.Date{Time: day(2024, time.December, 31)},
				YearlyAllotment: 100,
			})
			Expect(errors.Is(err, internal.ErrValidation)).To(BeTrue())
		})

		It("requires manage_authorizations", func() {
			gate.denied[auth.ManageAuthorizations] = true
			_, err := service.Create(ctx, actor, authorization.CreateAuthorizationDTO{ClientID: 10})
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
		})
	})

	Describe("Consume", func() {
		It("accepts two 8 hour sessions and rejects the third", func() {
			a := create(20, 500, false)

			level, err := service.Consume(ctx, a.ID, 8, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(level).To(Equal(authorization.AlertNormal))

			level, err = service.Consume(ctx, a.ID, 8, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(level).To(Equal(authorization.AlertWarning))

			_, err = service.Consume(ctx, a.ID, 8, false)
			Expect(errors.Is(err, internal.ErrInsufficientUnits)).To(BeTrue())

			status, err := service.GetStatus(ctx, actor, 10, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Used).To(Equal(16.0))
			Expect(status.YearlyUsed).To(Equal(16.0))
			Expect(status.Remaining).To(Equal(4.0))
			Expect(status.AlertLevel).To(Equal(authorization.AlertWarning))

			failures := 0
			for _, e := range recorder.Find(authorization.ActionConsume) {
				if e.Result == audit.ResultFailure {
					failures++
				}
			}
			Expect(failures).To(Equal(1))
		})

		It("returns not found for a missing authorization", func() {
			_, err := service.Consume(ctx, 404, 1, false)
			Expect(errors.Is(err, internal.ErrAuthorizationNotFound)).To(BeTrue())
		})

		It("starts a new weekly window when the interval elapsed without a sweep", func() {
			a := create(20, 500, false)
			_, err := service.Consume(ctx, a.ID, 20, false)
			Expect(err).NotTo(HaveOccurred())

			clock = clock.AddDate(0, 0, 8)

			_, err = service.Consume(ctx, a.ID, 4, false)
			Expect(err).NotTo(HaveOccurred())

			status, err := service.GetStatus(ctx, actor, 10, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Used).To(Equal(4.0))
			Expect(status.YearlyUsed).To(Equal(24.0))
			Expect(status.ResetDue).To(BeFalse())

			resets := recorder.Find(authorization.ActionReset)
			Expect(resets).To(HaveLen(1))
			Expect(resets[0].Detail).To(HaveKeyWithValue("weekly_used_before", 20.0))
		})

		It("keeps units of the new window when the sweep runs late", func() {
			a := create(20, 500, false)
			_, err := service.Consume(ctx, a.ID, 10, false)
			Expect(err).NotTo(HaveOccurred())

			clock = clock.AddDate(0, 0, 8)
			_, err = service.Consume(ctx, a.ID, 8, false)
			Expect(err).NotTo(HaveOccurred())

			_, changed, err := service.ResetIfDue(ctx, internal.SystemActor, a.ID, clock)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())

			_, err = service.Consume(ctx, a.ID, 20, false)
			Expect(errors.Is(err, internal.ErrInsufficientUnits)).To(BeTrue())

			status, err := service.GetStatus(ctx, actor, 10, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Used).To(Equal(8.0))
		})

		It("audits a consume once, after the caller's transaction commits", func() {
			a := create(20, 500, false)
			successes := func() int {
				n := 0
				for _, e := range recorder.Find(authorization.ActionConsume) {
					if e.Result == audit.ResultSuccess {
						n++
					}
				}
				return n
			}

			attempts := 0
			err := tx.WithinTx(ctx, func(ctx context.Context) error {
				attempts++
				if _, err := service.Consume(ctx, a.ID, 3, false); err != nil {
					return err
				}
				Expect(successes()).To(BeZero())
				if attempts == 1 {
					return internal.ErrConcurrencyConflict
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(attempts).To(Equal(2))
			Expect(successes()).To(Equal(1))

			err = tx.WithinTx(ctx, func(ctx context.Context) error {
				if _, err := service.Consume(ctx, a.ID, 2, false); err != nil {
					return err
				}
				return internal.ErrEmptyClaim
			})
			Expect(errors.Is(err, internal.ErrEmptyClaim)).To(BeTrue())
			Expect(successes()).To(Equal(1))

			status, err := service.GetStatus(ctx, actor, 10, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.YearlyUsed).To(Equal(3.0))
		})
	})

	Describe("ResetIfDue", func() {
		It("is idempotent and separate from status reads", func() {
			a := create(20, 500, false)
			_, err := service.Consume(ctx, a.ID, 12, false)
			Expect(err).NotTo(HaveOccurred())

			clock = clock.AddDate(0, 0, 8)

			status, err := service.GetStatus(ctx, actor, 10, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.ResetDue).To(BeTrue())
			Expect(status.Used).To(Equal(12.0))

			status, changed, err := service.ResetIfDue(ctx, actor, a.ID, clock)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(status.Used).To(BeZero())
			Expect(status.YearlyUsed).To(Equal(12.0))
			Expect(status.AlertLevel).To(Equal(authorization.AlertNone))

			status, changed, err = service.ResetIfDue(ctx, actor, a.ID, clock)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(status.Used).To(BeZero())
			Expect(recorder.Find(authorization.ActionReset)).To(HaveLen(1))
		})

		It("lists due authorizations for the sweep", func() {
			a := create(20, 500, false)
			ids, err := service.DueForReset(ctx, clock)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())

			ids, err = service.DueForReset(ctx, clock.AddDate(0, 0, 7))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf(a.ID))
		})
	})

	Describe("status changes", func() {
		It("terminates and refuses further consumption", func() {
			a := create(20, 500, false)
			t, err := service.Terminate(ctx, actor, a.ID, "moved out of state")
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Status).To(Equal(authorization.StatusTerminated))
			Expect(t.TerminatedAt).NotTo(BeNil())

			_, err = service.Consume(ctx, a.ID, 1, false)
			Expect(errors.Is(err, internal.ErrNoActiveAuthorization)).To(BeTrue())

			_, err = service.Reactivate(ctx, actor, a.ID, "")
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})

		It("suspends and reactivates", func() {
			a := create(20, 500, false)
			_, err := service.Suspend(ctx, actor, a.ID, "pending review")
			Expect(err).NotTo(HaveOccurred())
			r, err := service.Reactivate(ctx, actor, a.ID, "review done")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(authorization.StatusActive))
		})
	})

	Describe("Renew", func() {
		It("carries unused units into the next fiscal year", func() {
			a := create(20, 100, true)
			_, err := service.Consume(ctx, a.ID, 15, false)
			Expect(err).NotTo(HaveOccurred())

			next, err := service.Renew(ctx, actor, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.FiscalYear).To(Equal(2025))
			Expect(next.StartDate).To(Equal(day(2024, time.July, 1)))
			Expect(next.YearlyAllotment).To(Equal(185.0))
			Expect(*next.RenewedFromID).To(Equal(a.ID))

			list, err := service.ListStatus(ctx, actor, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Authorizations).To(HaveLen(1))
			Expect(list.Authorizations[0].AuthorizationID).To(Equal(next.ID))

			_, err = service.Renew(ctx, actor, a.ID)
			Expect(errors.Is(err, internal.ErrOverlappingWindow)).To(BeTrue())
		})
	})

	It("expires lapsed authorizations once", func() {
		create(20, 500, false)
		n, err := service.ExpireLapsed(ctx, day(2024, time.July, 2))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		n, err = service.ExpireLapsed(ctx, day(2024, time.July, 2))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})
})
