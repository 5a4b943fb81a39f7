package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aiqso/audit-engine/internal/audit"
	"github.com/aiqso/audit-engine/internal/engine"
	"github.com/aiqso/audit-engine/internal/metrics"
)

// depther is implemented by queues that can report their backlog.
type depther interface {
	Depth() int
}

// Worker drains the job queue and executes audits one at a time.
type Worker struct {
	id    int
	queue audit.Queue
	svc   *Service
	log   *zap.Logger
}

// NewWorker creates a worker.
func NewWorker(id int, queue audit.Queue, svc *Service, log *zap.Logger) *Worker {
	return &Worker{id: id, queue: queue, svc: svc, log: log.With(zap.Int("worker", id))}
}

// Run processes jobs until the context ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started")
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.log.Info("worker stopping", zap.Error(err))
			} else {
				w.log.Info("worker stopped")
			}
			return
		}
		if d, ok := w.queue.(depther); ok {
			metrics.SetQueueDepth(d.Depth())
		}

		if _, err := w.svc.Execute(ctx, job); err != nil {
			// In-flight collisions are expected under concurrent
			// dispatch; anything else is worth a louder log.
			if errors.Is(err, engine.ErrAuditInFlight) {
				w.log.Debug("job skipped, audit already running",
					zap.String("audit_id", job.AuditID),
					zap.String("target", job.Target))
				continue
			}
			w.log.Error("job execution failed",
				zap.String("audit_id", job.AuditID),
				zap.String("target", job.Target),
				zap.Error(err))
		}
	}
}

// Dispatcher fans the queue out across a fixed pool of workers.
type Dispatcher struct {
	workers []*Worker
	log     *zap.Logger
}

// NewDispatcher creates count workers over the queue.
func NewDispatcher(count int, queue audit.Queue, svc *Service, log *zap.Logger) *Dispatcher {
	if count <= 0 {
		count = 1
	}
	d := &Dispatcher{log: log}
	for i := 0; i < count; i++ {
		d.workers = append(d.workers, NewWorker(i+1, queue, svc, log))
	}
	return d
}

// Run blocks until every worker has stopped.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	d.log.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	wg.Wait()
	d.log.Info("dispatcher stopped")
}
