package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dydact/scrive-aci-sub002/internal/metrics"
	"github.com/dydact/scrive-aci-sub002/internal/sweep"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers such as the periodic authorization and denial sweep.`,
}

var sweepWorkerCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the weekly reset, expiry and overdue-denial sweep",
	Long:  `Resets due weekly counters, expires lapsed authorizations and flags denials past their appeal deadline. Runs once with --once, otherwise on the configured interval.`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweepWorker()
	},
}

var (
	sweepOnce       bool
	sweepInterval   time.Duration
	maxWorkers      int
	jobQueueSize    int
	sweepJobTimeout time.Duration
)

func startSweepWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.DB.Close()

	logger := deps.Logger
	cfg := deps.Config
	if cfg.Observability.Metrics.Enabled {
		metrics.Init()
	}

	poolConfig := sweep.Config{
		MaxWorkers:   getIntFlag(maxWorkers, cfg.Sweep.MaxWorkers),
		JobQueueSize: getIntFlag(jobQueueSize, cfg.Sweep.JobQueueSize),
		JobTimeout:   sweepJobTimeout,
	}
	interval := sweepInterval
	if interval <= 0 {
		interval = cfg.Sweep.Interval
	}

	logger.Info("starting sweep worker",
		"max_workers", poolConfig.MaxWorkers,
		"job_queue_size", poolConfig.JobQueueSize,
		"interval", interval,
		"once", sweepOnce)

	pool := sweep.NewPool(poolConfig, deps.Services.Authorization, deps.Services.Denials, logger)
	defer pool.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sweepOnce {
		report, err := pool.RunOnce(ctx, time.Now())
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("reset=%d expired=%d overdue=%d\n", report.Reset, report.Expired, report.Overdue)
		drainEvents(deps)
		return
	}

	if err := pool.Run(ctx, interval); err != nil {
		logger.Error("sweep worker stopped", "error", err)
		os.Exit(1)
	}
	drainEvents(deps)
	logger.Info("sweep worker shutdown complete")
}

// drainEvents lets overdue notifications published by the last sweep finish.
func drainEvents(deps *Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := deps.Bus.Drain(ctx); err != nil {
		deps.Logger.Warn("event handlers still running at exit", "error", err)
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	sweepWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single sweep and exit")
	sweepWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "time between sweeps (overrides config)")
	sweepWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	sweepWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	sweepWorkerCmd.Flags().DurationVar(&sweepJobTimeout, "job-timeout", 30*time.Second, "timeout for a single sweep job")

	workerCmd.AddCommand(sweepWorkerCmd)
}
