// Package push delivers device notifications for new messages. Notify only
// queues; a background worker drains the queue through a Gateway, and
// delivery failures never reach the message sender.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/store"
	"go.uber.org/zap"
)

// DefaultQueueSize bounds the number of undelivered pushes.
const DefaultQueueSize = 1000

// Outbox is the durable queue the dispatcher drains.
type Outbox interface {
	QueuePush(ctx context.Context, token, title, body string, data map[string]string) (int64, error)
	CountQueuedPushes(ctx context.Context) (int, error)
	PendingPushes(ctx context.Context, limit int) ([]store.PushEntry, error)
	MarkPushSending(ctx context.Context, id int64) error
	MarkPushSent(ctx context.Context, id int64) error
	MarkPushFailed(ctx context.Context, id int64, errMsg string) error
	RequeueSending(ctx context.Context) (int64, error)
}

// Result is the payload of push.sent and push.failed events.
type Result struct {
	ID      int64
	Gateway string
	Error   string
}

// Dispatcher queues pushes in the outbox and sends them in the background.
type Dispatcher struct {
	outbox    Outbox
	gateway   Gateway
	bus       *bus.Bus
	logger    *zap.Logger
	queueSize int
	interval  time.Duration

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. queueSize <= 0 uses DefaultQueueSize.
func NewDispatcher(outbox Outbox, gateway Gateway, b *bus.Bus, logger *zap.Logger, queueSize int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		outbox:    outbox,
		gateway:   gateway,
		bus:       b,
		logger:    logger,
		queueSize: queueSize,
		interval:  500 * time.Millisecond,
		wake:      make(chan struct{}, 1),
	}
}

// Notify queues one push per token and returns without waiting for
// delivery. Tokens beyond the queue bound are dropped.
func (d *Dispatcher) Notify(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	queued, err := d.outbox.CountQueuedPushes(ctx)
	if err != nil {
		return err
	}
	room := d.queueSize - queued
	if room < len(tokens) {
		d.logger.Warn("push queue full, dropping",
			zap.Int("dropped", len(tokens)-max(room, 0)), zap.Int("queue_size", d.queueSize))
		for i := max(room, 0); i < len(tokens); i++ {
			d.bus.Emit(bus.KindPushFailed, Result{Gateway: d.gateway.Name(), Error: "queue full"})
		}
		tokens = tokens[:max(room, 0)]
	}
	for _, tok := range tokens {
		if _, err := d.outbox.QueuePush(ctx, tok, title, body, data); err != nil {
			return err
		}
	}
	if len(tokens) > 0 {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start puts pushes interrupted by a previous run back in the queue and
// begins draining it.
func (d *Dispatcher) Start(ctx context.Context) {
	if n, err := d.outbox.RequeueSending(ctx); err != nil {
		d.logger.Error("failed to requeue interrupted pushes", zap.Error(err))
	} else if n > 0 {
		d.logger.Info("requeued interrupted pushes", zap.Int64("count", n))
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop stops the worker and waits for the current batch to finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.processPending(ctx)
		case <-d.wake:
			d.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) processPending(ctx context.Context) {
	pending, err := d.outbox.PendingPushes(ctx, 100)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("failed to read push outbox", zap.Error(err))
		}
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := d.outbox.MarkPushSending(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark push sending", zap.Error(err), zap.Int64("push_id", entry.ID))
			continue
		}

		err := d.gateway.Send(ctx, Message{To: entry.Token, Title: entry.Title, Body: entry.Body, Data: entry.Data})
		if err != nil {
			d.logger.Warn("push failed", zap.Error(err), zap.Int64("push_id", entry.ID), zap.String("gateway", d.gateway.Name()))
			if err := d.outbox.MarkPushFailed(ctx, entry.ID, err.Error()); err != nil {
				d.logger.Error("failed to mark push failed", zap.Error(err), zap.Int64("push_id", entry.ID))
			}
			d.bus.Emit(bus.KindPushFailed, Result{ID: entry.ID, Gateway: d.gateway.Name(), Error: err.Error()})
			continue
		}

		if err := d.outbox.MarkPushSent(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark push sent", zap.Error(err), zap.Int64("push_id", entry.ID))
		}
		d.logger.Debug("push sent", zap.Int64("push_id", entry.ID), zap.String("gateway", d.gateway.Name()))
		d.bus.Emit(bus.KindPushSent, Result{ID: entry.ID, Gateway: d.gateway.Name()})
	}
}
