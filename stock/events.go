package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/commercegroup/stocksync/common/messages"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// PublishUpdated announces that a product variation's stock changed. The
// threshold subscriber and the gateway's view react to it.
func PublishUpdated(ctx context.Context, js jetstream.JetStream, productID string) error {
	body, err := json.Marshal(messages.ProductVariationUpdated{ProductID: productID})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal value as JSON", "error", err)
		return err
	}

	_, err = js.PublishMsg(ctx, &nats.Msg{
		Subject: fmt.Sprintf("products.updated.%s", productID),
		Data:    body,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish message", "error", err, "product_id", productID)
		return err
	}

	return nil
}

// PublishReplenished announces that a product variation's availability
// flipped from false to true.
func PublishReplenished(ctx context.Context, js jetstream.JetStream, productID string, newStock int) error {
	body, err := json.Marshal(messages.StockReplenished{ProductID: productID, NewStock: newStock})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal value as JSON", "error", err)
		return err
	}

	_, err = js.PublishMsg(ctx, &nats.Msg{
		Subject: fmt.Sprintf("products.replenished.%s", productID),
		Data:    body,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish message", "error", err, "product_id", productID)
		return err
	}

	return nil
}
