package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/commercegroup/stocksync/common/messages"
)

// Producer publishes jobs onto the work-queue stream. Message ids deduplicate
// accidental double-enqueues within the stream's dedupe window; handlers
// still tolerate duplicates beyond it.
type Producer struct {
	js jetstream.JetStream
}

func NewProducer(js jetstream.JetStream) *Producer {
	return &Producer{js: js}
}

func (p *Producer) publish(ctx context.Context, kind Kind, payload any, msgID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal value as JSON", "error", err)
		return err
	}

	_, err = p.js.Publish(ctx, Subject(kind), body, jetstream.WithMsgID(msgID))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue job", "error", err, "kind", kind)
		return fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}
	return nil
}

func (p *Producer) EnqueueSendOrder(ctx context.Context, orderID string) error {
	return p.publish(ctx, KindSendOrder,
		messages.SendOrderJob{OrderID: orderID},
		fmt.Sprintf("send_order-%s", orderID))
}

func (p *Producer) EnqueueUpdateStock(ctx context.Context, warehouseItemID string, newStock int) error {
	return p.publish(ctx, KindUpdateStock,
		messages.UpdateStockJob{WarehouseItemID: warehouseItemID, NewStock: newStock},
		fmt.Sprintf("update_stock-%s-%d", warehouseItemID, newStock))
}

func (p *Producer) EnqueueRestockNotify(ctx context.Context, userID, productID string) error {
	return p.publish(ctx, KindRestockNotify,
		messages.RestockNotifyJob{UserID: userID, ProductID: productID},
		fmt.Sprintf("restock_notify-%s-%s", userID, productID))
}
