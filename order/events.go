package order

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/commercegroup/stocksync/common/messages"
)

// Subjects of the order lifecycle events on the `orders` stream.
const (
	SubjectPlaced      = "orders.placed"
	SubjectCanceled    = "orders.canceled"
	SubjectUpdated     = "orders.updated"
	SubjectItemUpdated = "orders.item_updated"
	SubjectItemDeleted = "orders.item_deleted"
	SubjectPredelete   = "orders.predelete"
)

func publish(ctx context.Context, js jetstream.JetStream, subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal value as JSON", "error", err)
		return err
	}

	_, err = js.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: body})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish message", "error", err, "subject", subject)
		return err
	}
	return nil
}

func PublishPlaced(ctx context.Context, js jetstream.JetStream, orderID string) error {
	return publish(ctx, js, SubjectPlaced, messages.OrderPlaced{OrderID: orderID})
}

func PublishCanceled(ctx context.Context, js jetstream.JetStream, orderID, previousState string) error {
	return publish(ctx, js, SubjectCanceled, messages.OrderCanceled{OrderID: orderID, PreviousState: previousState})
}

func PublishUpdated(ctx context.Context, js jetstream.JetStream, orderID string, previousItemIDs []string) error {
	return publish(ctx, js, SubjectUpdated, messages.OrderUpdated{OrderID: orderID, PreviousItemIDs: previousItemIDs})
}

func PublishItemUpdated(ctx context.Context, js jetstream.JetStream, orderID, itemID string, previousQuantity int) error {
	return publish(ctx, js, SubjectItemUpdated, messages.OrderItemUpdated{
		OrderID: orderID, ItemID: itemID, PreviousQuantity: previousQuantity,
	})
}

func PublishItemDeleted(ctx context.Context, js jetstream.JetStream, it *OrderItem, orderState string) error {
	msg := messages.OrderItemDeleted{OrderID: it.OrderID, OrderState: orderState, Quantity: it.Quantity}
	if it.ProductID != nil {
		msg.ProductID = *it.ProductID
	}
	return publish(ctx, js, SubjectItemDeleted, msg)
}

func PublishPredelete(ctx context.Context, js jetstream.JetStream, orderID string) error {
	return publish(ctx, js, SubjectPredelete, messages.OrderPredelete{OrderID: orderID})
}
