package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
)

// ThresholdStore records, per product variation, the stock level at which the
// last low-stock or out-of-stock notification fired. Presence of a record
// means a notification is "open" and suppresses further ones until a
// qualifying restock clears it.
//
// Implementations must provide single-key atomic put; no cross-key
// transaction is required.
type ThresholdStore interface {
	Get(ctx context.Context, productID string) (level int, ok bool, err error)
	Put(ctx context.Context, productID string, level int) error
	Delete(ctx context.Context, productID string) error
}

// KVThresholdStore keeps threshold markers in a JetStream KV bucket.
type KVThresholdStore struct {
	kv jetstream.KeyValue
}

func NewKVThresholdStore(kv jetstream.KeyValue) *KVThresholdStore {
	return &KVThresholdStore{kv: kv}
}

func (s *KVThresholdStore) Get(ctx context.Context, productID string) (int, bool, error) {
	entry, err := s.kv.Get(ctx, productID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, fmt.Errorf("failed to get threshold marker: %w", err)
	}

	level, err := strconv.Atoi(string(entry.Value()))
	if err != nil {
		return 0, false, fmt.Errorf("corrupt threshold marker for %q: %w", productID, err)
	}
	return level, true, nil
}

func (s *KVThresholdStore) Put(ctx context.Context, productID string, level int) error {
	_, err := s.kv.Put(ctx, productID, []byte(strconv.Itoa(level)))
	if err != nil {
		return fmt.Errorf("failed to put threshold marker: %w", err)
	}
	return nil
}

func (s *KVThresholdStore) Delete(ctx context.Context, productID string) error {
	err := s.kv.Delete(ctx, productID)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete threshold marker: %w", err)
	}
	return nil
}
