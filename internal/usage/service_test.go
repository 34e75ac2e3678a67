package usage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
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
	usageDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/usage"
	"github.com/dydact/scrive-aci-sub002/internal/core/events"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
	"github.com/dydact/scrive-aci-sub002/internal/store"
	"github.com/dydact/scrive-aci-sub002/internal/store/storetest"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
	"github.com/dydact/scrive-aci-sub002/internal/usage"
	usagePostgres "github.com/dydact/scrive-aci-sub002/internal/usage/postgres"
)

func TestUsage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Usage Recorder Suite")
}

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
	return &servicetype.ServiceType{ID: id, Code: "W1727", UnitRateCents: 4000, IsActive: true}, nil
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

// racingRepo hides an existing row from the first lookups, the way a
// concurrent request would see the table before the other insert commits.
type racingRepo struct {
	usage.Repository
	hide int
}

func (r *racingRepo) GetBySource(ctx context.Context, sourceType, sourceID string) (*usageDatamodel.UsageEvent, error) {
	if r.hide > 0 {
		r.hide--
		return nil, nil
	}
	return r.Repository.GetBySource(ctx, sourceType, sourceID)
}

var _ = Describe("Service", func() {
	var (
		db        *gorm.DB
		gate      *stubGate
		ledger    *authorization.Service
		repo      *racingRepo
		publisher *capturePublisher
		service   *usage.Service
		tx        *store.Transactor
		ctx       context.Context
		actor     internal.Actor
		authID    int64
	)

	serviceDay := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)

	record := func(source string, units float64) (*usage.RecordResult, error) {
		return service.Record(ctx, actor, usage.RecordUsageDTO{
			ClientID:      10,
			ServiceTypeID: 3,
			ServiceDate:   transport.Date{Time: serviceDay},
			Units:         units,
			SourceType:    usage.SourceSession,
			SourceID:      source,
		})
	}

	BeforeEach(func() {
		var err error
		db, err = storetest.Open(&authorizationDatamodel.Authorization{}, &usageDatamodel.UsageEvent{}, &usageDatamodel.ClaimUsage{})
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		tx = store.NewTransactor(db, logger)
		gate = &stubGate{denied: map[auth.Capability]bool{}}
		recorder := audit.NewMemory()
		ledger = authorization.NewService(
			authorizationPostgres.NewAuthorizationRepository(db),
			tx, gate, stubCatalog{}, recorder,
			internal.BillingConfig{WarningThreshold: 0.80, ResetIntervalDays: 7},
			logger,
		)
		ledger.SetClock(func() time.Time { return serviceDay })

		repo = &racingRepo{Repository: usagePostgres.NewUsageRepository(db)}
		publisher = &capturePublisher{}
		service = usage.NewService(repo, tx, ledger, gate, recorder, publisher, logger)
		ctx = context.Background()
		actor = internal.Actor{UserID: 2}

		a, err := ledger.Create(ctx, actor, authorization.CreateAuthorizationDTO{
			ClientID:        10,
			Program:         "autism_waiver",
			ServiceTypeID:   3,
			StartDate:       transport.Date{Time: time.Date(2023, time.July, 1, 0, 0, 0, 0, time.UTC)},
			EndDate:         transport.Date{Time: time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)},
			WeeklyAllotment: 20,
			YearlyAllotment: 1000,
		})
		Expect(err).NotTo(HaveOccurred())
		authID = a.ID
	})

	AfterEach(func() {
		Expect(storetest.Close(db)).To(Succeed())
	})

	It("records two 8 hour sessions and rejects the third", func() {
		first, err := record("s-1", 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.AlertLevel).To(Equal(authorization.AlertNormal))
		Expect(first.Event.AmountCents).To(Equal(int64(32000)))

		second, err := record("s-2", 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.AlertLevel).To(Equal(authorization.AlertWarning))

		_, err = record("s-3", 8)
		Expect(errors.Is(err, internal.ErrInsufficientUnits)).To(BeTrue())

		a, err := ledger.Get(ctx, authID)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.WeeklyUsed).To(Equal(16.0))
		Expect(a.AlertLevel).To(Equal(authorization.AlertWarning))

		var n int64
		Expect(db.Model(&usageDatamodel.UsageEvent{}).Count(&n).Error).To(Succeed())
		Expect(n).To(Equal(int64(2)))

		Expect(publisher.events).To(HaveLen(1))
		alert := publisher.events[0].(*events.AlertRaisedEvent)
		Expect(alert.AlertLevel).To(Equal("warning"))
		Expect(alert.Used).To(Equal(16.0))
		Expect(alert.Allotment).To(Equal(20.0))
	})

	It("does not double count a source recorded twice", func() {
		_, err := record("s-1", 4)
		Expect(err).NotTo(HaveOccurred())

		again, err := record("s-1", 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Duplicate).To(BeTrue())

		a, err := ledger.Get(ctx, authID)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.WeeklyUsed).To(Equal(4.0))
	})

	It("resolves a concurrent duplicate insert to the stored event after one retry", func() {
		first, err := record("s-1", 4)
		Expect(err).NotTo(HaveOccurred())
		before := tx.Attempts()

		repo.hide = 1
		again, err := record("s-1", 4)

		Expect(err).NotTo(HaveOccurred())
		Expect(again.Duplicate).To(BeTrue())
		Expect(again.Event.ID).To(Equal(first.Event.ID))
		Expect(tx.Attempts() - before).To(Equal(int64(2)))

		a, err := ledger.Get(ctx, authID)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.WeeklyUsed).To(Equal(4.0))
	})

	It("fails without an authorization covering the date", func() {
		_, err := service.Record(ctx, actor, usage.RecordUsageDTO{
			ClientID:      10,
			ServiceTypeID: 3,
			ServiceDate:   transport.Date{Time: time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)},
			Units:         1,
			SourceType:    usage.SourceTimeEntry,
			SourceID:      "t-1",
		})
		Expect(errors.Is(err, internal.ErrNoActiveAuthorization)).To(BeTrue())
	})

	It("requires manage_authorizations for an override", func() {
		gate.denied[auth.ManageAuthorizations] = true
		_, err := service.Record(ctx, actor, usage.RecordUsageDTO{
			ClientID:      10,
			ServiceTypeID: 3,
			ServiceDate:   transport.Date{Time: serviceDay},
			Units:         30,
			SourceType:    usage.SourceSession,
			SourceID:      "s-9",
			Override:      true,
		})
		Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
	})

	It("validates the source type", func() {
		_, err := service.Record(ctx, actor, usage.RecordUsageDTO{
			ClientID:      10,
			ServiceTypeID: 3,
			ServiceDate:   transport.Date{Time: serviceDay},
			Units:         1,
			SourceType:    "phone_call",
			SourceID:      "p-1",
		})
		Expect(errors.Is(err, internal.ErrValidation)).To(BeTrue())
	})

	It("marks events billed once", func() {
		r, err := record("s-1", 2)
		Expect(err).NotTo(HaveOccurred())

		err = tx.WithinTx(ctx, func(ctx context.Context) error {
			return service.MarkBilled(ctx, []int64{r.Event.ID}, 77)
		})
		Expect(err).NotTo(HaveOccurred())

		err = service.MarkBilled(ctx, []int64{r.Event.ID}, 78)
		Expect(errors.Is(err, internal.ErrConcurrencyConflict)).To(BeTrue())

		billed, err := service.ListByClaim(ctx, 77)
		Expect(err).NotTo(HaveOccurred())
		Expect(billed).To(HaveLen(1))

		unbilled, err := service.Unbilled(ctx, 10, serviceDay, serviceDay, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(unbilled).To(BeEmpty())
	})
	It("keeps the denied claim's history when events move to a replacement", func() {
		r, err := record("s-1", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(service.MarkBilled(ctx, []int64{r.Event.ID}, 77)).To(Succeed())

		n, err := service.Rebill(ctx, 77, 90)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		current, err := service.ListByClaim(ctx, 90)
		Expect(err).NotTo(HaveOccurred())
		Expect(current).To(HaveLen(1))
		Expect(*current[0].ClaimID).To(Equal(int64(90)))

		history, err := service.ListByClaim(ctx, 77)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1))
		Expect(history[0].ID).To(Equal(r.Event.ID))

		n, err = service.Rebill(ctx, 77, 91)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})
})
