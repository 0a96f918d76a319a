package stock

// Ledger functions are pure: they mutate or inspect a ProductVariation in
// memory and never persist. Callers persist and publish.

// ApplyDelta adds a signed quantity to the product's stock. Decrement on
// purchase, increment on reversal.
func ApplyDelta(p *ProductVariation, delta int) {
	p.Stock += delta
}

// IsAvailable reports whether the product can satisfy a purchase of
// requestedQty more units. Stock at or below zero is never available,
// regardless of thresholds.
func IsAvailable(p *ProductVariation, requestedQty int) bool {
	return p.Stock > requestedQty && !BelowStopCheckThreshold(p)
}

// BelowStopCheckThreshold reports whether stock has fallen into the
// reserved-for-backorder buffer.
func BelowStopCheckThreshold(p *ProductVariation) bool {
	if p.StopCheckThreshold == nil {
		return false
	}
	return p.Stock < *p.StopCheckThreshold
}

// BelowRestockThreshold reports whether stock is at or below the configured
// low-stock level.
func BelowRestockThreshold(p *ProductVariation) bool {
	if p.RestockThreshold == nil {
		return false
	}
	return p.Stock <= *p.RestockThreshold
}
