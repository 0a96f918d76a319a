package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/commercegroup/stocksync/common"
)

// Handler processes one job payload. attempt starts at 1 and counts
// deliveries, including redeliveries of the same item.
type Handler func(ctx context.Context, data []byte, attempt int) Result

const suspendKey = "suspended"

// Runner drains the jobs stream through a durable consumer and translates
// each handler Result into queue mechanics: ack removes the item, retry naks
// it with a growing delay, suspend stops the consumer and persists a marker
// so the queue stays down across restarts until an operator resumes it.
type Runner struct {
	js     jetstream.JetStream
	status jetstream.KeyValue

	handlers map[Kind]Handler

	// MaxAttempts bounds deliveries per item; past it the item is dropped
	// with an error log.
	MaxAttempts int
	// RetryBase is the first redelivery delay; it doubles per attempt.
	RetryBase time.Duration

	mu  sync.Mutex
	cc  jetstream.ConsumeContext
	ctx context.Context
}

func NewRunner(js jetstream.JetStream, status jetstream.KeyValue) *Runner {
	return &Runner{
		js:          js,
		status:      status,
		handlers:    make(map[Kind]Handler),
		MaxAttempts: 5,
		RetryBase:   5 * time.Second,
	}
}

func (r *Runner) Register(kind Kind, handler Handler) {
	r.handlers[kind] = handler
}

// Start begins consuming, unless a suspension marker is present from a
// previous run; then the queue stays halted until Resume is called.
func (r *Runner) Start(ctx context.Context) error {
	r.ctx = ctx

	if suspended, reason, err := r.Suspended(ctx); err != nil {
		return err
	} else if suspended {
		slog.WarnContext(ctx, "Queue is suspended, not consuming", "reason", reason)
		return nil
	}

	return r.consume(ctx)
}

func (r *Runner) consume(ctx context.Context) error {
	consumer, err := r.js.CreateOrUpdateConsumer(ctx, common.JobsStreamConfig.Name, jetstream.ConsumerConfig{
		Durable:    "jobs-runner",
		AckPolicy:  jetstream.AckExplicitPolicy,
		MaxDeliver: r.MaxAttempts,
		AckWait:    30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create jobs consumer: %w", err)
	}

	cc, err := consumer.Consume(r.dispatch)
	if err != nil {
		return fmt.Errorf("failed to consume jobs: %w", err)
	}

	r.mu.Lock()
	r.cc = cc
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.stop()
	}()

	return nil
}

func (r *Runner) stop() {
	r.mu.Lock()
	cc := r.cc
	r.cc = nil
	r.mu.Unlock()
	if cc != nil {
		cc.Stop()
	}
}

func (r *Runner) dispatch(msg jetstream.Msg) {
	ctx := r.ctx

	kindStr, found := strings.CutPrefix(msg.Subject(), "jobs.")
	if !found {
		_ = msg.TermWithReason("received job on strange subject")
		slog.ErrorContext(ctx, "Received job on strange subject", "subject", msg.Subject())
		return
	}
	kind := Kind(kindStr)

	handler, ok := r.handlers[kind]
	if !ok {
		_ = msg.TermWithReason("no handler registered for job kind")
		slog.ErrorContext(ctx, "No handler registered for job kind", "kind", kind)
		return
	}

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	res := handler(ctx, msg.Data(), attempt)

	if common.JobsProcessed != nil {
		common.JobsProcessed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kindStr),
			attribute.Int("outcome", int(res.outcome)),
		))
	}

	switch res.outcome {
	case outcomeAck:
		_ = msg.Ack()

	case outcomeRetry:
		if attempt >= r.MaxAttempts {
			slog.ErrorContext(ctx, "Job exhausted its retries, dropping",
				"kind", kind, "attempt", attempt, "reason", res.Reason)
			_ = msg.Term()
			return
		}
		slog.WarnContext(ctx, "Job failed, will retry",
			"kind", kind, "attempt", attempt, "reason", res.Reason)
		_ = msg.NakWithDelay(r.RetryBase << (attempt - 1))

	case outcomeSuspend:
		// The item goes back to the queue so it is reprocessed after the
		// operator fixes the configuration and resumes.
		_ = msg.Nak()
		if _, err := r.status.Put(ctx, suspendKey, []byte(res.Reason)); err != nil {
			slog.ErrorContext(ctx, "Failed to persist queue suspension", "error", err)
		}
		slog.ErrorContext(ctx, "Queue suspended", "kind", kind, "reason", res.Reason)
		r.stop()
	}
}

// Resume clears the suspension marker and restarts consumption.
func (r *Runner) Resume(ctx context.Context) error {
	err := r.status.Delete(ctx, suspendKey)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to clear queue suspension: %w", err)
	}

	r.mu.Lock()
	running := r.cc != nil
	r.mu.Unlock()
	if running {
		return nil
	}

	slog.InfoContext(ctx, "Queue resumed")
	return r.consume(r.ctx)
}

// Suspended reports whether the queue is halted, and why.
func (r *Runner) Suspended(ctx context.Context) (bool, string, error) {
	entry, err := r.status.Get(ctx, suspendKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, "", nil
	} else if err != nil {
		return false, "", fmt.Errorf("failed to read queue status: %w", err)
	}
	return true, string(entry.Value()), nil
}
