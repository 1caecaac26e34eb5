package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"channel-manager/internal/manager"
	"channel-manager/internal/metrics"
	"channel-manager/internal/model"
)

// EventHandler applies one provider event; in production it is the
// lifecycle manager's HandleProviderEvent.
type EventHandler func(ctx context.Context, ev model.WebhookEvent, arrival time.Time) error

type job struct {
	event   model.WebhookEvent
	arrival time.Time
}

// Pool decouples webhook acknowledgment from reconciliation: the ingestion
// endpoint enqueues and returns 2xx immediately, workers drain the queue.
// Out-of-order completion across workers is safe because every
// reconciliation write is recency-guarded.
type Pool struct {
	handler EventHandler
	log     *zap.Logger
	jobs    chan job
	stopCh  chan struct{}
	wg      sync.WaitGroup
	workers int
	timeout time.Duration
}

func NewPool(workers int, handler EventHandler, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		handler: handler,
		log:     log,
		jobs:    make(chan job, 256),
		stopCh:  make(chan struct{}),
		workers: workers,
		timeout: 30 * time.Second,
	}
}

func (p *Pool) Start() {
	p.log.Info("starting webhook worker pool", zap.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Dispatch enqueues an event without blocking. It reports false when the
// queue is full; the caller logs the drop but still acknowledges the
// delivery, so the provider does not start a retry storm.
func (p *Pool) Dispatch(ev model.WebhookEvent, arrival time.Time) bool {
	select {
	case p.jobs <- job{event: ev, arrival: arrival}:
		return true
	default:
		metrics.WorkerProcessed.WithLabelValues("overflow").Inc()
		return false
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.jobs:
			p.handle(j)
		}
	}
}

func (p *Pool) handle(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.handler(ctx, j.event, j.arrival)
	switch {
	case err == nil:
		metrics.WorkerProcessed.WithLabelValues("ok").Inc()
	case isMalformed(err):
		metrics.WorkerProcessed.WithLabelValues("dropped").Inc()
		p.log.Warn("provider event dropped",
			zap.String("instance", j.event.Instance),
			zap.String("event", j.event.Event),
			zap.Error(err))
	default:
		metrics.WorkerProcessed.WithLabelValues("error").Inc()
		p.log.Error("failed to process provider event",
			zap.String("instance", j.event.Instance),
			zap.String("event", j.event.Event),
			zap.Error(err))
	}
}

// Stop drains nothing: pending jobs are abandoned, which is acceptable
// because the next status poll reconciles whatever was missed.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func isMalformed(err error) bool {
	var me *manager.MalformedEventError
	return errors.As(err, &me)
}
