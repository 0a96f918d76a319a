package common

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

var OrderEventsStreamConfig = jetstream.StreamConfig{
	Name:     "orders",
	Subjects: []string{"orders.>"},
	Storage:  jetstream.FileStorage,
}

var ProductEventsStreamConfig = jetstream.StreamConfig{
	Name:     "products",
	Subjects: []string{"products.>"},
	Storage:  jetstream.FileStorage,
}

// JobsStreamConfig holds the work queue. WorkQueuePolicy retention removes a
// message only once a consumer acks it, giving at-least-once delivery to the
// job handlers.
var JobsStreamConfig = jetstream.StreamConfig{
	Name:      "jobs",
	Subjects:  []string{"jobs.>"},
	Storage:   jetstream.FileStorage,
	Retention: jetstream.WorkQueuePolicy,
}

const (
	// ThresholdBucket is the KV bucket holding, per product variation, the
	// stock level at which the last low-stock or out-of-stock notice fired.
	ThresholdBucket = "thresholds"
	// QueueStatusBucket is the KV bucket holding the queue suspension marker.
	QueueStatusBucket = "queue_status"
)

func CreateStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) error {
	_, err := js.CreateStream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// KeyValueBucket creates the named file-backed KV bucket if it does not
// exist yet, and returns it.
func KeyValueBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  name,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key-value bucket %q: %w", name, err)
	}
	return kv, nil
}
