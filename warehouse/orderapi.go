package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/commercegroup/stocksync/order"
)

// OrderPayload is the body of POST /orders/{agency}.
type OrderPayload struct {
	OrderNumber string        `json:"order_number"`
	StoreID     string        `json:"store_id"`
	Items       []OrderLine   `json:"cart_items"`
	Shipping    order.Address `json:"shipping_address"`
	Billing     order.Address `json:"billing_address"`
	Answers     []string      `json:"customer_answers"`
}

type OrderLine struct {
	SKU             string `json:"sku"`
	WarehouseItemID string `json:"warehouse_item_id"`
	Quantity        int    `json:"quantity"`
}

// BuildOrderPayload maps a local order onto the submission API shape. Items
// without a resolvable warehouse identity are still submitted by SKU.
func BuildOrderPayload(o *order.Order, warehouseItemIDs map[string]string) *OrderPayload {
	p := &OrderPayload{
		OrderNumber: o.Number,
		StoreID:     o.StoreID,
		Shipping:    o.Shipping,
		Billing:     o.Billing,
		Answers:     o.Answers,
	}
	for _, it := range o.Items {
		line := OrderLine{SKU: it.SKU, Quantity: it.Quantity}
		if it.ProductID != nil {
			line.WarehouseItemID = warehouseItemIDs[*it.ProductID]
		}
		p.Items = append(p.Items, line)
	}
	return p
}

type OrderAPIConfig struct {
	BaseURL   string
	Agency    string
	ClientKey string
	Timeout   time.Duration
}

// OrderAPI submits completed orders to the external fulfillment endpoint.
type OrderAPI struct {
	cfg  OrderAPIConfig
	http *http.Client
}

func NewOrderAPI(cfg OrderAPIConfig) *OrderAPI {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &OrderAPI{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (a *OrderAPI) Submit(ctx context.Context, payload *OrderPayload) error {
	if a.cfg.ClientKey == "" || a.cfg.Agency == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	u := fmt.Sprintf("%s/orders/%s", a.cfg.BaseURL, url.PathEscape(a.cfg.Agency))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ClientKey", a.cfg.ClientKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: http status %d: %s", ErrValidation, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
