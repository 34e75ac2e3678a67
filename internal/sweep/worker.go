package sweep

import (
	"context"
	"log/slog"
	"sync"
)

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("sweep worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("sweep worker processing job", "worker_id", w.ID, "kind", job.Kind, "target_id", job.TargetID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("sweep worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}
