package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/authorization"
	"github.com/dydact/scrive-aci-sub002/internal/metrics"
	"github.com/dydact/scrive-aci-sub002/pkg/logger"
)

type Kind string

const (
	KindReset   Kind = "reset"
	KindExpire  Kind = "expire"
	KindOverdue Kind = "overdue"
)

// Job is one unit of sweep work. Reset jobs target a single authorization;
// the others cover their whole table.
type Job struct {
	Kind     Kind
	TargetID int64
	Now      time.Time
	done     chan<- Result
}

type Result struct {
	Kind     Kind
	TargetID int64
	Changed  int
	Err      error
}

// Report sums one sweep run.
type Report struct {
	Reset   int `json:"reset"`
	Expired int `json:"expired"`
	Overdue int `json:"overdue"`
	Failed  int `json:"failed"`
}

type Ledger interface {
	DueForReset(ctx context.Context, now time.Time) ([]int64, error)
	ResetIfDue(ctx context.Context, actor internal.Actor, id int64, now time.Time) (*authorization.UnitStatus, bool, error)
	ExpireLapsed(ctx context.Context, now time.Time) (int, error)
}

type DenialTracker interface {
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	MaxWorkers   int
	JobQueueSize int
	JobTimeout   time.Duration
}

// Pool runs sweep jobs on a bounded set of workers. Every job is idempotent
// and row locked, so a sweep may overlap with live requests or with another
// sweep process.
type Pool struct {
	ledger  Ledger
	denials DenialTracker
	logger  *slog.Logger
	timeout time.Duration

	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewPool(config Config, ledger Ledger, denials DenialTracker, lg *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	timeout := config.JobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	pool := &Pool{
		ledger:  ledger,
		denials: denials,
		logger:  lg,
		timeout: timeout,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan Job, jobQueueSize),
		workerPool: make(chan chan Job, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}

	pool.start()

	return pool
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.maxWorkers; i++ {
			worker := NewWorker(i, p.workerPool, p.logger)
			worker.Start(p.ctx, &p.wg, p.process)
		}

		p.wg.Add(1)
		go p.dispatch()

		p.logger.Info("sweep worker pool started",
			"max_workers", p.maxWorkers,
			"queue_size", cap(p.jobQueue))
	})
}

func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
				case <-p.ctx.Done():
					p.abandon(job)
					return
				}
			case <-p.ctx.Done():
				p.abandon(job)
				return
			}
		case <-p.ctx.Done():
			p.logger.Info("sweep dispatcher shutting down")
			return
		}
	}
}

func (p *Pool) abandon(job Job) {
	p.logger.Info("sweep dispatcher shutting down", "dropped_kind", job.Kind)
	job.done <- Result{Kind: job.Kind, TargetID: job.TargetID, Err: context.Canceled}
}

func (p *Pool) Shutdown() {
	p.logger.Info("shutting down sweep worker pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("sweep worker pool shutdown complete")
}

func (p *Pool) process(job Job) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	ctx = internal.ContextWithActor(ctx, internal.SystemActor)
	ctx = logger.Into(ctx, p.logger.With("kind", job.Kind, "target_id", job.TargetID))

	res := Result{Kind: job.Kind, TargetID: job.TargetID}
	switch job.Kind {
	case KindReset:
		var reset bool
		_, reset, res.Err = p.ledger.ResetIfDue(ctx, internal.SystemActor, job.TargetID, job.Now)
		if reset {
			res.Changed = 1
		}
	case KindExpire:
		res.Changed, res.Err = p.ledger.ExpireLapsed(ctx, job.Now)
	case KindOverdue:
		res.Changed, res.Err = p.denials.SweepOverdue(ctx, job.Now)
	default:
		res.Err = fmt.Errorf("unknown sweep job %q", job.Kind)
	}

	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
		logger.From(ctx).Error("sweep job failed", "error", res.Err)
	}
	metrics.SweepJobs.WithLabelValues(string(job.Kind), outcome).Inc()
	job.done <- res
}

// RunOnce queues a reset job per due authorization plus one expiry and one
// overdue job, then waits for all of them.
func (p *Pool) RunOnce(ctx context.Context, now time.Time) (*Report, error) {
	now = now.UTC()
	due, err := p.ledger.DueForReset(ctx, now)
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(due)+2)
	for _, id := range due {
		jobs = append(jobs, Job{Kind: KindReset, TargetID: id, Now: now})
	}
	jobs = append(jobs, Job{Kind: KindExpire, Now: now}, Job{Kind: KindOverdue, Now: now})

	results := make(chan Result, len(jobs))
	queued := 0
	for _, job := range jobs {
		job.done = results
		select {
		case p.jobQueue <- job:
			queued++
		case <-ctx.Done():
			return p.collect(results, queued), ctx.Err()
		case <-p.ctx.Done():
			return p.collect(results, queued), errors.New("sweep pool is shut down")
		}
	}

	report := p.collect(results, queued)
	p.logger.Info("sweep finished",
		"reset", report.Reset,
		"expired", report.Expired,
		"overdue", report.Overdue,
		"failed", report.Failed)
	if report.Failed > 0 {
		return report, fmt.Errorf("%d sweep jobs failed", report.Failed)
	}
	return report, nil
}

func (p *Pool) collect(results <-chan Result, n int) *Report {
	report := &Report{}
	for i := 0; i < n; i++ {
		var res Result
		select {
		case res = <-results:
		case <-p.ctx.Done():
			report.Failed += n - i
			return report
		}
		if res.Err != nil {
			report.Failed++
			continue
		}
		switch res.Kind {
		case KindReset:
			report.Reset += res.Changed
		case KindExpire:
			report.Expired += res.Changed
		case KindOverdue:
			report.Overdue += res.Changed
		}
	}
	return report
}

// Run sweeps immediately and then on every interval until ctx is done.
func (p *Pool) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx, time.Now()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("sweep run incomplete", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
