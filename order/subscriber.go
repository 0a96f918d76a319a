package order

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/commercegroup/stocksync/common"
	"github.com/commercegroup/stocksync/common/messages"
	"github.com/commercegroup/stocksync/stock"
)

// Enqueuer schedules order-submission jobs on the work queue.
type Enqueuer interface {
	EnqueueSendOrder(ctx context.Context, orderID string) error
}

// StockSubscriber reacts to order lifecycle events by applying or reversing
// stock deltas on the affected product variations, and hands placed orders to
// the work queue for submission to the fulfilment API.
//
// Delta application is best-effort: a failed stock write is logged and
// swallowed so the order transition itself is never blocked. The resulting
// drift is healed by the periodic warehouse reconciliation.
type StockSubscriber struct {
	orders   Repository
	products stock.Repository
	js       jetstream.JetStream
	enq      Enqueuer
}

func NewStockSubscriber(orders Repository, products stock.Repository, js jetstream.JetStream, enq Enqueuer) *StockSubscriber {
	return &StockSubscriber{orders: orders, products: products, js: js, enq: enq}
}

// Handle dispatches a message from the `orders` stream. A nil return acks the
// message; a non-nil return naks it for redelivery, so it is only used for
// failures that may resolve on retry (storage reads).
func (s *StockSubscriber) Handle(ctx context.Context, msg jetstream.Msg) error {
	switch msg.Subject() {
	case SubjectPlaced:
		return s.handlePlaced(ctx, msg)
	case SubjectCanceled:
		return s.handleCanceled(ctx, msg)
	case SubjectUpdated:
		return s.handleUpdated(ctx, msg)
	case SubjectItemUpdated:
		return s.handleItemUpdated(ctx, msg)
	case SubjectItemDeleted:
		return s.handleItemDeleted(ctx, msg)
	case SubjectPredelete:
		return s.handlePredelete(ctx, msg)
	default:
		slog.WarnContext(ctx, "Unknown order event subject", "subject", msg.Subject())
		return nil
	}
}

func unmarshal[T any](ctx context.Context, msg jetstream.Msg) (*T, bool) {
	var v T
	if err := json.Unmarshal(msg.Data(), &v); err != nil {
		slog.ErrorContext(
			ctx,
			"Error unmarshalling message",
			"error", err,
			"subject", msg.Subject(),
		)
		return nil, false
	}
	return &v, true
}

// applyDelta loads a product, applies a signed quantity and persists it.
// Missing products (deleted from the catalog) are a no-op; persistence
// failures are logged and swallowed.
func (s *StockSubscriber) applyDelta(ctx context.Context, productID string, delta int) {
	p, err := s.products.Get(ctx, productID)
	if errors.Is(err, stock.ErrNotFound) {
		return
	} else if err != nil {
		slog.ErrorContext(ctx, "Failed to load product for stock delta", "error", err, "product_id", productID)
		return
	}

	stock.ApplyDelta(p, delta)
	if err := s.products.SaveStock(ctx, p); err != nil {
		slog.ErrorContext(ctx, "Failed to persist stock delta", "error", err, "product_id", productID, "delta", delta)
		return
	}

	if common.StockDeltas != nil {
		direction := "decrement"
		if delta > 0 {
			direction = "increment"
		}
		common.StockDeltas.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
	}

	_ = stock.PublishUpdated(ctx, s.js, p.ID)
}

func (s *StockSubscriber) handlePlaced(ctx context.Context, msg jetstream.Msg) error {
	evt, ok := unmarshal[messages.OrderPlaced](ctx, msg)
	if !ok {
		return nil
	}

	o, err := s.orders.GetOrder(ctx, evt.OrderID)
	if errors.Is(err, ErrNotFound) {
		slog.WarnContext(ctx, "Placed order not found", "order_id", evt.OrderID)
		return nil
	} else if err != nil {
		return err
	}

	// Enqueue before touching stock: a failed enqueue naks the event while no
	// delta has been applied yet, and the job's message id absorbs the
	// duplicate enqueue on redelivery.
	if err := s.enq.EnqueueSendOrder(ctx, evt.OrderID); err != nil {
		return err
	}

	for _, it := range o.Items {
		if it.ProductID == nil {
			continue
		}
		s.applyDelta(ctx, *it.ProductID, -it.Quantity)
	}
	return nil
}

func (s *StockSubscriber) handleCanceled(ctx context.Context, msg jetstream.Msg) error {
	evt, ok := unmarshal[messages.OrderCanceled](ctx, msg)
	if !ok {
		return nil
	}

	// A cancel from draft never decremented anything.
	if evt.PreviousState == StateDraft {
		return nil
	}

	o, err := s.orders.GetOrder(ctx, evt.OrderID)
	if errors.Is(err, ErrNotFound) {
		slog.WarnContext(ctx, "Canceled order not found", "order_id", evt.OrderID)
		return nil
	} else if err != nil {
		return err
	}

	for _, it := range o.Items {
		if it.ProductID == nil {
			continue
		}
		s.applyDelta(ctx, *it.ProductID, +it.Quantity)
	}
	return nil
}

func (s *StockSubscriber) handleUpdated(ctx context.Context, msg jetstream.Msg) error {
	evt, ok := unmarshal[messages.OrderUpdated](ctx, msg)
	if !ok {
		return nil
	}

	o, err := s.orders.GetOrder(ctx, evt.OrderID)
	if errors.Is(err, ErrNotFound) {
		slog.WarnContext(ctx, "Updated order not found", "order_id", evt.OrderID)
		return nil
	} else if err != nil {
		return err
	}

	if !StockImpacting(o.State) {
		return nil
	}

	previous := make(map[string]struct{}, len(evt.PreviousItemIDs))
	for _, id := range evt.PreviousItemIDs {
		previous[id] = struct{}{}
	}

	// Only items added after placement decrement stock here; quantity
	// changes on existing items arrive as item_updated events.
	for _, it := range o.Items {
		if _, existed := previous[it.ID]; existed {
			continue
		}
		if it.ProductID == nil {
			continue
		}
		s.applyDelta(ctx, *it.ProductID, -it.Quantity)
	}
	return nil
}

func (s *StockSubscriber) handleItemUpdated(ctx context.Context, msg jetstream.Msg) error {
	evt, ok := unmarshal[messages.OrderItemUpdated](ctx, msg)
	if !ok {
		return nil
	}

	o, err := s.orders.GetOrder(ctx, evt.OrderID)
	if errors.Is(err, ErrNotFound) {
		slog.WarnContext(ctx, "Order of updated item not found", "order_id", evt.OrderID)
		return nil
	} else if err != nil {
		return err
	}

	if !StockImpacting(o.State) {
		return nil
	}

	it, err := s.orders.GetItem(ctx, evt.ItemID)
	if errors.Is(err, ErrNotFound) {
		slog.WarnContext(ctx, "Updated order item not found", "item_id", evt.ItemID)
		return nil
	} else if err != nil {
		return err
	}
	if it.ProductID == nil {
		return nil
	}

	// Increasing quantity yields a negative diff and a further decrement;
	// decreasing yields a positive diff and a partial reversal.
	diff := evt.PreviousQuantity - it.Quantity
	if diff != 0 {
		s.applyDelta(ctx, *it.ProductID, diff)
	}
	return nil
}

func (s *StockSubscriber) handleItemDeleted(ctx context.Context, msg jetstream.Msg) error {
	evt, ok := unmarshal[messages.OrderItemDeleted](ctx, msg)
	if !ok {
		return nil
	}

	if !StockImpacting(evt.OrderState) {
		return nil
	}
	if evt.ProductID == "" {
		return nil
	}

	s.applyDelta(ctx, evt.ProductID, +evt.Quantity)
	return nil
}

// handlePredelete reverses stock for orders hard-deleted while still in
// flight. Normally the reversal already happened through an explicit cancel;
// an in-flight delete is unusual enough to warrant a warning.
func (s *StockSubscriber) handlePredelete(ctx context.Context, msg jetstream.Msg) error {
	evt, ok := unmarshal[messages.OrderPredelete](ctx, msg)
	if !ok {
		return nil
	}

	o, err := s.orders.GetOrder(ctx, evt.OrderID)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	// Completed orders shipped their goods; deleting the record must not
	// resurrect stock.
	if !StockImpacting(o.State) || o.State == StateCompleted {
		return nil
	}

	slog.WarnContext(ctx, "Order deleted while holding stock, reversing", "order_id", o.ID, "state", o.State)
	for _, it := range o.Items {
		if it.ProductID == nil {
			continue
		}
		s.applyDelta(ctx, *it.ProductID, +it.Quantity)
	}
	return nil
}
