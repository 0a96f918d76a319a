package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/commercegroup/stocksync/common/messages"
	"github.com/commercegroup/stocksync/notify"
	"github.com/commercegroup/stocksync/order"
	"github.com/commercegroup/stocksync/stock"
	"github.com/commercegroup/stocksync/warehouse"
)

// SendOrderHandler submits a completed order to the external order API.
type SendOrderHandler struct {
	orders   order.Repository
	products stock.Repository
	api      *warehouse.OrderAPI
	mailer   notify.Mailer
	// operatorAddr is notified when the remote rejects a payload, since
	// that usually needs a human to look at the order.
	operatorAddr string
}

func NewSendOrderHandler(orders order.Repository, products stock.Repository, api *warehouse.OrderAPI, mailer notify.Mailer, operatorAddr string) *SendOrderHandler {
	return &SendOrderHandler{orders: orders, products: products, api: api, mailer: mailer, operatorAddr: operatorAddr}
}

func (h *SendOrderHandler) Handle(ctx context.Context, data []byte, attempt int) Result {
	var job messages.SendOrderJob
	if err := json.Unmarshal(data, &job); err != nil {
		slog.ErrorContext(ctx, "Error unmarshalling job", "error", err, "kind", KindSendOrder)
		return Ack()
	}

	o, err := h.orders.GetOrder(ctx, job.OrderID)
	if errors.Is(err, order.ErrNotFound) {
		// The order will never spontaneously appear; drop the job.
		slog.WarnContext(ctx, "Order to send does not exist, dropping job", "order_id", job.OrderID)
		return Ack()
	} else if err != nil {
		return Retry(fmt.Sprintf("failed to load order %s: %v", job.OrderID, err))
	}

	warehouseItemIDs := make(map[string]string)
	for _, it := range o.Items {
		if it.ProductID == nil {
			continue
		}
		p, err := h.products.Get(ctx, *it.ProductID)
		if err != nil {
			continue
		}
		warehouseItemIDs[*it.ProductID] = p.WarehouseItemID
	}

	err = h.api.Submit(ctx, warehouse.BuildOrderPayload(o, warehouseItemIDs))
	switch {
	case err == nil:
		slog.InfoContext(ctx, "Order submitted", "order_id", o.ID, "order_number", o.Number)
		return Ack()

	case errors.Is(err, warehouse.ErrNotConfigured):
		// Retrying this item cannot help; the whole queue waits for an
		// operator to configure credentials.
		return Suspend(fmt.Sprintf("order api not configured (order %s)", o.ID))

	case errors.Is(err, warehouse.ErrValidation):
		if h.operatorAddr != "" {
			mailErr := h.mailer.Send(ctx, h.operatorAddr,
				fmt.Sprintf("Order %s rejected by order API", o.Number),
				fmt.Sprintf("Submission of order %s (id %s) failed: %v", o.Number, o.ID, err))
			if mailErr != nil {
				slog.ErrorContext(ctx, "Failed to notify operator of rejected order", "error", mailErr, "order_id", o.ID)
			}
		}
		return Retry(err.Error())

	default:
		return Retry(err.Error())
	}
}
