package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/commercegroup/stocksync/common/messages"
	"github.com/commercegroup/stocksync/stock"
)

// Notification subjects exposed to the rest of the platform. Payloads carry
// identifiers only, never rendered markup.
const (
	SubjectLowStock   = "notifications.low_stock"
	SubjectOutOfStock = "notifications.out_of_stock"
	SubjectRestock    = "notifications.restock"
)

// Enqueuer schedules restock-notify jobs on the work queue.
type Enqueuer interface {
	EnqueueRestockNotify(ctx context.Context, userID, productID string) error
}

// ThresholdSubscriber is the per-product notification state machine. A
// persisted threshold marker means a low-stock or out-of-stock notice is
// open; while it exists no further notice fires, which makes redelivered
// product-updated events natural no-ops. A qualifying restock clears the
// marker and re-arms the machine.
type ThresholdSubscriber struct {
	products  stock.Repository
	store     stock.ThresholdStore
	interests InterestRepository
	mailer    Mailer
	enq       Enqueuer
	nc        *nats.Conn
	// operatorAddr receives the low-stock and out-of-stock notices.
	operatorAddr string
}

func NewThresholdSubscriber(
	products stock.Repository,
	store stock.ThresholdStore,
	interests InterestRepository,
	mailer Mailer,
	enq Enqueuer,
	nc *nats.Conn,
	operatorAddr string,
) *ThresholdSubscriber {
	return &ThresholdSubscriber{
		products:     products,
		store:        store,
		interests:    interests,
		mailer:       mailer,
		enq:          enq,
		nc:           nc,
		operatorAddr: operatorAddr,
	}
}

// HandleProductUpdated evaluates the thresholds after any stock change. It
// only ever fires on the edge out of the normal state: once a marker exists,
// nothing more happens until a restock clears it.
func (t *ThresholdSubscriber) HandleProductUpdated(ctx context.Context, msg jetstream.Msg) error {
	var evt messages.ProductVariationUpdated
	if err := json.Unmarshal(msg.Data(), &evt); err != nil {
		slog.ErrorContext(ctx, "Error unmarshalling message", "error", err, "subject", msg.Subject())
		return nil
	}

	p, err := t.products.Get(ctx, evt.ProductID)
	if errors.Is(err, stock.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	_, open, err := t.store.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if open {
		return nil
	}

	switch {
	case !stock.IsAvailable(p, 0):
		return t.fire(ctx, p, SubjectOutOfStock, "Out of stock",
			fmt.Sprintf("Product %s (%s) is out of stock (level %d).", p.SKU, p.ID, p.Stock))
	case stock.BelowRestockThreshold(p):
		return t.fire(ctx, p, SubjectLowStock, "Low stock",
			fmt.Sprintf("Product %s (%s) is low on stock (level %d).", p.SKU, p.ID, p.Stock))
	default:
		return nil
	}
}

// fire persists the marker first: the marker is the dedupe mechanism, so a
// crash between put and dispatch loses at most one notice, never duplicates
// one.
func (t *ThresholdSubscriber) fire(ctx context.Context, p *stock.ProductVariation, subject, mailSubject, mailBody string) error {
	if err := t.store.Put(ctx, p.ID, p.Stock); err != nil {
		return err
	}

	t.publishNotice(ctx, subject, p.ID, p.Stock)

	if t.operatorAddr != "" {
		if err := t.mailer.Send(ctx, t.operatorAddr, mailSubject, mailBody); err != nil {
			slog.ErrorContext(ctx, "Failed to send stock notice mail", "error", err, "product_id", p.ID)
		}
	}

	slog.InfoContext(ctx, "Stock notice fired", "subject", subject, "product_id", p.ID, "stock", p.Stock)
	return nil
}

// HandleReplenished reacts to the stock-update job reporting an availability
// flip. The marker is only cleared when the new stock actually exceeds the
// level recorded at notification time.
func (t *ThresholdSubscriber) HandleReplenished(ctx context.Context, msg jetstream.Msg) error {
	var evt messages.StockReplenished
	if err := json.Unmarshal(msg.Data(), &evt); err != nil {
		slog.ErrorContext(ctx, "Error unmarshalling message", "error", err, "subject", msg.Subject())
		return nil
	}

	level, open, err := t.store.Get(ctx, evt.ProductID)
	if err != nil {
		return err
	}
	if !open || evt.NewStock <= level {
		return nil
	}

	if err := t.store.Delete(ctx, evt.ProductID); err != nil {
		return err
	}

	t.publishNotice(ctx, SubjectRestock, evt.ProductID, evt.NewStock)

	users, err := t.interests.ListInterested(ctx, evt.ProductID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list restock interest", "error", err, "product_id", evt.ProductID)
		return nil
	}
	for _, userID := range users {
		if err := t.enq.EnqueueRestockNotify(ctx, userID, evt.ProductID); err != nil {
			slog.ErrorContext(ctx, "Failed to enqueue restock notice", "error", err, "user_id", userID, "product_id", evt.ProductID)
		}
	}

	slog.InfoContext(ctx, "Restock detected", "product_id", evt.ProductID, "stock", evt.NewStock, "notified_users", len(users))
	return nil
}

func (t *ThresholdSubscriber) publishNotice(ctx context.Context, subject, productID string, level int) {
	body, err := json.Marshal(messages.StockNotice{ProductID: productID, Stock: level})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal value as JSON", "error", err)
		return
	}
	if err := t.nc.Publish(subject, body); err != nil {
		slog.ErrorContext(ctx, "Failed to publish notice", "error", err, "subject", subject)
	}
}
