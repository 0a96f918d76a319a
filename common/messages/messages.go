package messages

// Order lifecycle events, published on `orders.<event>` subjects.
//
// Events carry entity identifiers plus whatever pre-transition data the
// consumers cannot recover from storage after the fact (previous state,
// previous quantity, snapshots of deleted rows).

type OrderPlaced struct {
	OrderID string `json:"order_id"`
}

type OrderCanceled struct {
	OrderID string `json:"order_id"`
	// PreviousState is the workflow state the order was in before the
	// cancellation. A cancel from `draft` never touched stock.
	PreviousState string `json:"previous_state"`
}

type OrderUpdated struct {
	OrderID string `json:"order_id"`
	// PreviousItemIDs lists the order items of the last persisted revision.
	// Items present now but absent from this list were added post-placement.
	PreviousItemIDs []string `json:"previous_item_ids"`
}

type OrderItemUpdated struct {
	OrderID          string `json:"order_id"`
	ItemID           string `json:"item_id"`
	PreviousQuantity int    `json:"previous_quantity"`
}

// OrderItemDeleted snapshots the removed row, since it is gone from storage
// by the time the event is consumed.
type OrderItemDeleted struct {
	OrderID    string `json:"order_id"`
	OrderState string `json:"order_state"`
	ProductID  string `json:"product_id,omitempty"`
	Quantity   int    `json:"quantity"`
}

type OrderPredelete struct {
	OrderID string `json:"order_id"`
}

// CartAssigned requests cart reconciliation after an order was attributed to
// a user, either through an explicit assignment or a session login. Sent over
// core NATS on `carts.assigned`.
type CartAssigned struct {
	CartID string `json:"cart_id"`
	UserID string `json:"user_id"`
	// Login distinguishes a session login from a plain assignment; on login
	// the emptied source cart is deleted rather than kept.
	Login bool `json:"login"`
}

// Product events, published on `products.updated.<id>` and
// `products.replenished.<id>`.

type ProductVariationUpdated struct {
	ProductID string `json:"product_id"`
}

// StockReplenished is emitted by the stock-update job when a product's
// availability flips from false to true.
type StockReplenished struct {
	ProductID string `json:"product_id"`
	NewStock  int    `json:"new_stock"`
}

// StockNotice is the payload of the `notifications.*` subjects
// (low_stock, out_of_stock, restock).
type StockNotice struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

// Queue job payloads, published on `jobs.<kind>` subjects.

type SendOrderJob struct {
	OrderID string `json:"order_id"`
}

type UpdateStockJob struct {
	WarehouseItemID string `json:"warehouse_item_id"`
	NewStock        int    `json:"new_stock"`
}

type RestockNotifyJob struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
}
