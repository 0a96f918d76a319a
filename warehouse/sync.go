package warehouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/commercegroup/stocksync/stock"
)

// Enqueuer schedules stock-update jobs on the work queue.
type Enqueuer interface {
	EnqueueUpdateStock(ctx context.Context, warehouseItemID string, newStock int) error
}

// Syncer reconciles local stock against the warehouse: the remote count
// overwrites the local value, it is never applied as a delta.
type Syncer struct {
	products  stock.Repository
	inventory InventoryAPI
	js        jetstream.JetStream
	enq       Enqueuer
	// defaultCheckLevel is the refresh-candidate cutoff for variations
	// without any configured threshold.
	defaultCheckLevel int
}

func NewSyncer(products stock.Repository, inventory InventoryAPI, js jetstream.JetStream, enq Enqueuer, defaultCheckLevel int) *Syncer {
	return &Syncer{
		products:          products,
		inventory:         inventory,
		js:                js,
		enq:               enq,
		defaultCheckLevel: defaultCheckLevel,
	}
}

// ApplyCount overwrites the product's stock with the authoritative warehouse
// value, persists it and publishes the resulting product events. When
// availability flips from false to true a replenishment event goes out, which
// is what ultimately clears the threshold marker and notifies waiting users.
//
// Re-applying the same count is safe: the before/after availability
// comparison makes replays emit nothing.
func (s *Syncer) ApplyCount(ctx context.Context, p *stock.ProductVariation, newStock int) error {
	previouslyAvailable := stock.IsAvailable(p, 0)

	p.Stock = newStock
	if err := s.products.SaveStock(ctx, p); err != nil {
		return fmt.Errorf("failed to persist reconciled stock: %w", err)
	}

	_ = stock.PublishUpdated(ctx, s.js, p.ID)

	if !previouslyAvailable && stock.IsAvailable(p, 0) {
		_ = stock.PublishReplenished(ctx, s.js, p.ID, p.Stock)
	}

	slog.InfoContext(ctx, "Stock reconciled", "product_id", p.ID, "stock", newStock)
	return nil
}

// RefreshOne fetches the warehouse count for a single product and applies it
// synchronously. A failed or empty remote reply leaves local stock untouched:
// never zero out stock on a bad call.
func (s *Syncer) RefreshOne(ctx context.Context, p *stock.ProductVariation) error {
	count, err := s.inventory.GetSingleInventory(ctx, p.WarehouseItemID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch warehouse inventory", "error", err, "product_id", p.ID)
		return err
	}
	return s.ApplyCount(ctx, p, count)
}

// RefreshAll fetches the full warehouse catalog once, joins it against the
// refresh candidates and enqueues one stock-update job per match. It returns
// the number of jobs enqueued.
//
// An empty catalog aborts the whole batch; it reads as a warehouse outage,
// not as zero stock for everyone.
func (s *Syncer) RefreshAll(ctx context.Context) (int, error) {
	candidates, err := s.products.ListRefreshCandidates(ctx, s.defaultCheckLevel)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	catalog, err := s.inventory.GetAllInventory(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch warehouse catalog, aborting refresh", "error", err)
		return 0, err
	}

	counts := make(map[string]int, len(catalog))
	for _, entry := range catalog {
		counts[entry.WarehouseItemID] = entry.StockOnHand
	}

	enqueued := 0
	for _, p := range candidates {
		count, ok := counts[p.WarehouseItemID]
		if !ok {
			continue
		}
		if err := s.enq.EnqueueUpdateStock(ctx, p.WarehouseItemID, count); err != nil {
			slog.ErrorContext(ctx, "Failed to enqueue stock update", "error", err, "product_id", p.ID)
			continue
		}
		enqueued++
	}

	slog.InfoContext(ctx, "Warehouse refresh scheduled", "candidates", len(candidates), "enqueued", enqueued)
	return enqueued, nil
}
