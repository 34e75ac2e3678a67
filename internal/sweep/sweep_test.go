package sweep_test

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

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/authorization"
	"github.com/dydact/scrive-aci-sub002/internal/sweep"
)

func TestSweep(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sweep Suite")
}

// fakeLedger resets each due authorization once, like the row-locked
// ledger does.
type fakeLedger struct {
	mu       sync.Mutex
	due      map[int64]bool
	failOn   int64
	actors   []internal.Actor
	expired  int
	expireN  int
	inFlight int
	peak     int
}

func (l *fakeLedger) DueForReset(context.Context, time.Time) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []int64
	for id, due := range l.due {
		if due {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *fakeLedger) ResetIfDue(_ context.Context, actor internal.Actor, id int64, _ time.Time) (*authorization.UnitStatus, bool, error) {
	l.mu.Lock()
	l.inFlight++
	if l.inFlight > l.peak {
		l.peak = l.inFlight
	}
	l.actors = append(l.actors, actor)
	l.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight--
	if id == l.failOn {
		return nil, false, errors.New("lock timeout")
	}
	if !l.due[id] {
		return &authorization.UnitStatus{}, false, nil
	}
	l.due[id] = false
	return &authorization.UnitStatus{}, true, nil
}

func (l *fakeLedger) ExpireLapsed(context.Context, time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.expireN
	l.expired += n
	l.expireN = 0
	return n, nil
}

type fakeDenials struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (d *fakeDenials) SweepOverdue(context.Context, time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail != nil {
		return 0, d.fail
	}
	if d.calls == 1 {
		return 2, nil
	}
	return 0, nil
}

var _ = Describe("Pool", func() {
	var (
		ledger  *fakeLedger
		denials *fakeDenials
		pool    *sweep.Pool
		ctx     context.Context
		now     time.Time
	)

	BeforeEach(func() {
		ledger = &fakeLedger{due: map[int64]bool{}, expireN: 1}
		for id := int64(1); id <= 10; id++ {
			ledger.due[id] = true
		}
		denials = &fakeDenials{}
		pool = sweep.NewPool(sweep.Config{MaxWorkers: 3, JobQueueSize: 4}, ledger, denials,
			slog.New(slog.NewTextHandler(io.Discard, nil)))
		ctx = context.Background()
		now = time.Date(2024, time.March, 11, 6, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		pool.Shutdown()
	})

	It("resets every due authorization and runs expiry and overdue once", func() {
		report, err := pool.RunOnce(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(report).To(Equal(&sweep.Report{Reset: 10, Expired: 1, Overdue: 2}))
		Expect(denials.calls).To(Equal(1))
		for _, a := range ledger.actors {
			Expect(a.IsSystem()).To(BeTrue())
		}
	})

	It("changes nothing on a second run", func() {
		_, err := pool.RunOnce(ctx, now)
		Expect(err).NotTo(HaveOccurred())

		report, err := pool.RunOnce(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(report).To(Equal(&sweep.Report{}))
	})

	It("never runs more jobs at once than it has workers", func() {
		_, err := pool.RunOnce(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(ledger.peak).To(BeNumerically("<=", 3))
		Expect(ledger.peak).To(BeNumerically(">", 1))
	})

	It("reports failed jobs and finishes the rest", func() {
		ledger.failOn = 4
		denials.fail = errors.New("db down")

		report, err := pool.RunOnce(ctx, now)
		Expect(err).To(MatchError(ContainSubstring("2 sweep jobs failed")))
		Expect(report.Failed).To(Equal(2))
		Expect(report.Reset).To(Equal(9))
	})

	It("stops the interval loop when the context ends", func() {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- pool.Run(runCtx, time.Hour) }()

		Eventually(func() int {
			denials.mu.Lock()
			defer denials.mu.Unlock()
			return denials.calls
		}).Should(Equal(1))
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
