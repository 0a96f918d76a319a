package common

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Service collects and unifies functionality that would otherwise be repeated
// among all binaries: a shared context, NATS core and JetStream connections,
// and automatic draining of subscriptions on shutdown.
type Service[S any] struct {
	state         S
	ctx           context.Context
	nc            *nats.Conn
	js            jetstream.JetStream
	subscriptions []*nats.Subscription
	consumers     []jetstream.ConsumeContext
}

// Handler represents a handler for a particular NATS Core subject
type Handler[S any] func(context.Context, *Service[S], *nats.Msg)

// JsHandler represents a handler for a particular JetStream stream
type JsHandler[S any] func(context.Context, *Service[S], jetstream.Msg) error

// NewService will create a new instance of Service
func NewService[S any](ctx context.Context, nc *nats.Conn, state S) *Service[S] {
	js, err := jetstream.New(nc)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create JetStream client", "error", err)
		return nil
	}

	s := &Service[S]{ctx: ctx, state: state, nc: nc, js: js}

	go func(ctx context.Context) {
		<-ctx.Done()

		for _, cc := range s.consumers {
			cc.Stop()
		}
		for _, sub := range s.subscriptions {
			err := sub.Drain()
			if err != nil {
				slog.ErrorContext(ctx, "Failed to drain subscription", "error", err, "subject", sub.Subject)
			}
		}

		nc.Close()
	}(ctx)

	return s
}

// State returns the state of this service.
//
// Note that the state can be shared between multiple goroutines,
// so you should implement locking if it is needed.
func (s *Service[S]) State() *S {
	return &s.state
}

// NatsConn returns the NATS connection associated with this Service
func (s *Service[S]) NatsConn() *nats.Conn {
	return s.nc
}

// JetStream returns the JetStream connection associated with this Service
func (s *Service[S]) JetStream() jetstream.JetStream {
	return s.js
}

// RegisterHandler registers a handler for the given NATS subject
func (s *Service[S]) RegisterHandler(subject string, handler Handler[S]) error {
	subscription, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(s.ctx, s, msg)
	})
	if err != nil {
		slog.ErrorContext(s.ctx, "Failed to subscribe to subject", "subject", subject, "error", err)
		return fmt.Errorf("failed to subscribe to %q: %w", subject, err)
	}

	s.subscriptions = append(s.subscriptions, subscription)
	return nil
}

// RegisterJsHandler registers a handler for the given JetStream stream and
// keeps consuming until the service context is cancelled.
//
// Messages are acked when the handler returns nil, and nak'd otherwise, so
// the stream will redeliver them. Handlers must therefore tolerate replays.
func (s *Service[S]) RegisterJsHandler(stream string, handler JsHandler[S], opts ...JsHandlerOpt) error {
	cfg := jetstream.ConsumerConfig{AckPolicy: jetstream.AckExplicitPolicy}
	for _, opt := range opts {
		opt(&cfg)
	}

	consumer, err := s.js.CreateOrUpdateConsumer(s.ctx, stream, cfg)
	if err != nil {
		return fmt.Errorf("failed to create JetStream consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(s.ctx, s, msg); err != nil {
			slog.ErrorContext(s.ctx, "Failed to handle message", "error", err, "subject", msg.Subject())
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to consume from stream: %w", err)
	}

	s.consumers = append(s.consumers, cc)
	return nil
}

// RegisterJsHandlerExisting registers a handler for the given JetStream stream.
//
// An ad-hoc, ephemeral consumer will be created for the given stream using the
// given opts. After having read all messages (i.e. when a message is returned
// with NumPending = 0), the subscription will be automatically closed, and
// only then this function will return.
func (s *Service[S]) RegisterJsHandlerExisting(stream string, handler JsHandler[S], opts ...JsHandlerOpt) error {
	cfg := jetstream.ConsumerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	consumer, err := s.js.CreateConsumer(s.ctx, stream, cfg)
	if err != nil {
		return fmt.Errorf("failed to create JetStream consumer: %w", err)
	}

	// Consume all messages, and stop when they are finished or an error occurs
	var cc jetstream.ConsumeContext
	var msgErr error
	cc, err = consumer.Consume(func(msg jetstream.Msg) {
		msgErr = handler(s.ctx, s, msg)
		if msgErr != nil {
			err = fmt.Errorf("failed to handle message: %w", msgErr)
			cc.Stop()
		}

		var meta *jetstream.MsgMetadata
		meta, msgErr = msg.Metadata()
		if msgErr != nil {
			err = fmt.Errorf("failed to read message metadata: %w", msgErr)
			cc.Stop()
		}
		if msgErr == nil && meta.NumPending == 0 {
			cc.Drain()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to consume from stream: %w", err)
	}

	<-cc.Closed()
	return msgErr
}

// JsHandlerOpt represents various options used when creating a JetStream handler
type JsHandlerOpt func(config *jetstream.ConsumerConfig)

// WithDeliverNew will set the consumer's DeliveryPolicy to DeliverNew
func WithDeliverNew() JsHandlerOpt {
	return func(config *jetstream.ConsumerConfig) {
		config.DeliverPolicy = jetstream.DeliverNewPolicy
	}
}

// WithDeliverAll will set the consumer's DeliveryPolicy to DeliverAll
func WithDeliverAll() JsHandlerOpt {
	return func(config *jetstream.ConsumerConfig) {
		config.DeliverPolicy = jetstream.DeliverAllPolicy
	}
}

// WithDurable gives the consumer a durable name, so that redeliveries survive
// process restarts.
func WithDurable(name string) JsHandlerOpt {
	return func(config *jetstream.ConsumerConfig) {
		config.Durable = name
	}
}

// WithSubjectFilter will filter the delivered messages to those specified. Mutually exclusive with WithSubjectsFilter
func WithSubjectFilter(subject string) JsHandlerOpt {
	return func(config *jetstream.ConsumerConfig) {
		config.FilterSubject = subject
	}
}

// WithSubjectsFilter will filter the delivered messages to those specified. Mutually exclusive with WithSubjectFilter
func WithSubjectsFilter(subjects []string) JsHandlerOpt {
	return func(config *jetstream.ConsumerConfig) {
		config.FilterSubjects = append(config.FilterSubjects, subjects...)
	}
}
