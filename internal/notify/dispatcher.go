package notify

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Dispatcher is both the Publisher handed to services and the worker that drains the queue.
type Dispatcher struct {
	queue  Queue
	sender Sender // nil when mail is not configured
	live   Broadcaster
	log    *zap.Logger
	opts   Options
}

func NewDispatcher(queue Queue, sender Sender, live Broadcaster, log *zap.Logger, opts Options) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Dispatcher{queue: queue, sender: sender, live: live, log: log, opts: opts}
}

// Publish enqueues without blocking the caller. Failures are logged and dropped.
func (d *Dispatcher) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.queue.Enqueue(ctx, ev); err != nil {
		d.log.Warn("dropping notification",
			zap.String("event", string(ev.Kind)),
			zap.Uint("request_id", ev.RequestID),
			zap.Error(err))
	}
}

// Run processes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("notification worker started")
	defer d.log.Info("notification worker stopped")

	for {
		ev, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Error("failed to read notification queue", zap.Error(err))
			if !d.sleep(ctx, d.opts.RetryBackoff) {
				return nil
			}
			continue
		}
		d.handle(ctx, ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("event", string(ev.Kind)),
		zap.Uint("request_id", ev.RequestID),
	}

	if d.live != nil {
		if payload, err := ev.liveJSON(); err == nil {
			d.live.Broadcast(ev.Audience, payload)
		}
	}

	if ev.Recipient == nil {
		return
	}
	if ev.Recipient.Email == "" {
		d.log.Warn("recipient has no email address, skipping notification",
			append(fields, zap.Uint("user_id", ev.Recipient.UserID))...)
		return
	}
	if d.sender == nil {
		d.log.Warn("mail is not configured, skipping notification", fields...)
		return
	}

	msg, err := Render(ev)
	if err != nil {
		d.log.Error("failed to render notification", append(fields, zap.Error(err))...)
		return
	}

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err = d.sender.Send(ctx, msg)
		if err == nil {
			d.log.Info("notification sent", append(fields, zap.String("to", msg.To), zap.Int("attempt", attempt))...)
			return
		}
		if errors.Is(err, context.Canceled) || attempt == d.opts.MaxAttempts {
			break
		}
		d.log.Warn("notification send failed, retrying", append(fields, zap.Int("attempt", attempt), zap.Error(err))...)
		if !d.sleep(ctx, time.Duration(attempt)*d.opts.RetryBackoff) {
			break
		}
	}

	d.log.Error("notification dropped", append(fields, zap.String("to", msg.To), zap.Error(err))...)
	sentry.CaptureException(err)
}

func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
