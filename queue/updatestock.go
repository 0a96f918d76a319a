package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/commercegroup/stocksync/common/messages"
	"github.com/commercegroup/stocksync/stock"
	"github.com/commercegroup/stocksync/warehouse"
)

// UpdateStockHandler reconciles a local product against the authoritative
// warehouse count. The value overwrites local stock; replaying the same job
// is harmless because the replenishment check compares availability before
// and after instead of counting.
type UpdateStockHandler struct {
	products stock.Repository
	syncer   *warehouse.Syncer
}

func NewUpdateStockHandler(products stock.Repository, syncer *warehouse.Syncer) *UpdateStockHandler {
	return &UpdateStockHandler{products: products, syncer: syncer}
}

func (h *UpdateStockHandler) Handle(ctx context.Context, data []byte, attempt int) Result {
	var job messages.UpdateStockJob
	if err := json.Unmarshal(data, &job); err != nil {
		slog.ErrorContext(ctx, "Error unmarshalling job", "error", err, "kind", KindUpdateStock)
		return Ack()
	}

	p, err := h.products.GetByWarehouseItem(ctx, job.WarehouseItemID)
	if errors.Is(err, stock.ErrNotFound) {
		// Catalog and warehouse can diverge transiently; not an error.
		slog.WarnContext(ctx, "No local product for warehouse item, dropping job",
			"warehouse_item_id", job.WarehouseItemID)
		return Ack()
	} else if err != nil {
		return Retry(fmt.Sprintf("failed to resolve warehouse item %s: %v", job.WarehouseItemID, err))
	}

	if err := h.syncer.ApplyCount(ctx, p, job.NewStock); err != nil {
		return Retry(err.Error())
	}
	return Ack()
}
