package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/commercegroup/stocksync/common/messages"
	"github.com/commercegroup/stocksync/notify"
	"github.com/commercegroup/stocksync/stock"
)

// RestockNotifyHandler mails one user that a product they flagged is back in
// stock, then removes the flag so the same restock never re-notifies them.
type RestockNotifyHandler struct {
	products  stock.Repository
	interests notify.InterestRepository
	mailer    notify.Mailer
}

func NewRestockNotifyHandler(products stock.Repository, interests notify.InterestRepository, mailer notify.Mailer) *RestockNotifyHandler {
	return &RestockNotifyHandler{products: products, interests: interests, mailer: mailer}
}

func (h *RestockNotifyHandler) Handle(ctx context.Context, data []byte, attempt int) Result {
	var job messages.RestockNotifyJob
	if err := json.Unmarshal(data, &job); err != nil {
		slog.ErrorContext(ctx, "Error unmarshalling job", "error", err, "kind", KindRestockNotify)
		return Ack()
	}

	email, err := h.interests.UserEmail(ctx, job.UserID)
	if errors.Is(err, notify.ErrUserNotFound) {
		slog.WarnContext(ctx, "User to notify does not exist, dropping job", "user_id", job.UserID)
		return Ack()
	} else if err != nil {
		return Retry(fmt.Sprintf("failed to resolve user %s: %v", job.UserID, err))
	}

	p, err := h.products.Get(ctx, job.ProductID)
	if errors.Is(err, stock.ErrNotFound) {
		slog.WarnContext(ctx, "Product to notify about does not exist, dropping job", "product_id", job.ProductID)
		return Ack()
	} else if err != nil {
		return Retry(fmt.Sprintf("failed to load product %s: %v", job.ProductID, err))
	}

	err = h.mailer.Send(ctx, email,
		fmt.Sprintf("%s is back in stock", p.SKU),
		fmt.Sprintf("The product you asked about (%s) is available again.", p.SKU))
	if err != nil {
		return Retry(fmt.Sprintf("failed to mail %s: %v", email, err))
	}

	if err := h.interests.Remove(ctx, job.UserID, job.ProductID); err != nil {
		return Retry(fmt.Sprintf("failed to clear restock interest: %v", err))
	}

	slog.InfoContext(ctx, "Restock notice sent", "user_id", job.UserID, "product_id", job.ProductID)
	return Ack()
}
