package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/queue"
	"mailprobe/internal/store"
	"mailprobe/internal/verifier"
)

// Each job gets its own ceiling so an address whose MX silently drops
// port-25 traffic cannot hold a worker slot past three full attempts of
// backoff and timeouts.
const taskTimeout = 3 * time.Minute

// Pool drains the verification queue with a fixed number of goroutines.
type Pool struct {
	Queue       *queue.Queue
	Store       *store.Store
	Verifier    *verifier.Verifier
	Concurrency int
	Log         *logrus.Logger
}

// Start launches the pool and blocks until every goroutine has exited.
// The caller signals shutdown by cancelling ctx; in-flight verifications
// are interrupted promptly because their contexts derive from it.
func (p *Pool) Start(ctx context.Context) {
	p.Log.WithField("concurrency", p.Concurrency).Info("starting worker pool")

	var wg sync.WaitGroup
	for i := 1; i <= p.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.run(ctx, workerID)
		}(i)
	}

	wg.Wait()
	p.Log.Info("all workers exited, pool shut down")
}

func (p *Pool) run(ctx context.Context, workerID int) {
	log := p.Log.WithField("worker", workerID)

	for {
		// A short Pop window instead of blocking forever gives the loop
		// a natural checkpoint to notice shutdown on an idle queue.
		task, err := p.Queue.Pop(ctx, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutdown signal received, exiting")
				return
			}
			if errors.Is(err, queue.ErrNil) {
				continue
			}

			// Network blip or redis restart: back off briefly so we do
			// not spin-loop and flood the logs during an outage.
			log.WithError(err).Warn("queue pop failed, backing off 1s")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		p.processTask(ctx, log, task)
	}
}

// processTask runs one verification inside its own function so the defers
// close over the task, not the worker loop.
func (p *Pool) processTask(ctx context.Context, log *logrus.Entry, task *queue.Task) {
	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	result := p.Verifier.Verify(taskCtx, task.Email)

	// Persist under the parent ctx: the verification deadline should not
	// also cut off our ability to record what it found.
	if err := p.Store.SaveResult(ctx, task.JobID, result); err != nil {
		log.WithError(err).WithField("email", task.Email).Error("failed to persist result")
		return
	}

	log.WithFields(logrus.Fields{
		"email":    task.Email,
		"status":   result.Status,
		"code":     result.SMTPCode,
		"attempts": result.Attempts,
	}).Info("processed")
}
