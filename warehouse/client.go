package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// Failure taxonomy of the remote APIs. Callers pick retry behavior off these:
// configuration failures will not resolve by retrying, transport failures
// might, validation failures need an operator to look at the payload.
var (
	ErrNotConfigured  = errors.New("warehouse api not configured")
	ErrTransport      = errors.New("warehouse api unreachable")
	ErrValidation     = errors.New("warehouse api rejected request")
	ErrEmptyInventory = errors.New("warehouse returned no inventory")
)

// InventoryAPI is the read side of the external warehouse, the system of
// record for absolute stock counts.
type InventoryAPI interface {
	GetSingleInventory(ctx context.Context, warehouseItemID string) (int, error)
	GetAllInventory(ctx context.Context) ([]CatalogEntry, error)
}

type CatalogEntry struct {
	WarehouseItemID string `json:"warehouse_item_id"`
	StockOnHand     int    `json:"warehouse_stock_on_hand"`
}

type ClientConfig struct {
	BaseURL string
	Agency  string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the warehouse inventory API over HTTP. A circuit breaker
// short-circuits calls while the remote is known to be down, so a full
// refresh does not hammer a dead endpoint once per candidate.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	cb   *gobreaker.CircuitBreaker
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "WarehouseInventory",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// envelope is the common response shape of the inventory endpoints. A Code
// other than 200 inside the body is a handled error, not an exception.
type envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message,omitempty"`
	Inventory *struct {
		StockOnHand int `json:"warehouse_stock_on_hand"`
	} `json:"inventory,omitempty"`
	Catalog []CatalogEntry `json:"Catalog,omitempty"`
}

func (c *Client) get(ctx context.Context, path string) (*envelope, error) {
	if c.cfg.APIKey == "" || c.cfg.Agency == "" {
		return nil, ErrNotConfigured
	}

	res, err := c.cb.Execute(func() (any, error) {
		u := fmt.Sprintf("%s%s?api_key=%s", c.cfg.BaseURL, path, url.QueryEscape(c.cfg.APIKey))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: http status %d", ErrValidation, resp.StatusCode)
		}

		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return &env, nil
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		// Breaker-open and network errors both read as transport failures.
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return res.(*envelope), nil
}

func (c *Client) GetSingleInventory(ctx context.Context, warehouseItemID string) (int, error) {
	env, err := c.get(ctx, fmt.Sprintf("/inventory/%s/%s", url.PathEscape(c.cfg.Agency), url.PathEscape(warehouseItemID)))
	if err != nil {
		return 0, err
	}

	if env.Code != http.StatusOK {
		return 0, fmt.Errorf("%w: code %d: %s", ErrValidation, env.Code, env.Message)
	}
	if env.Inventory == nil {
		return 0, ErrEmptyInventory
	}
	return env.Inventory.StockOnHand, nil
}

func (c *Client) GetAllInventory(ctx context.Context) ([]CatalogEntry, error) {
	env, err := c.get(ctx, fmt.Sprintf("/inventory/%s", url.PathEscape(c.cfg.Agency)))
	if err != nil {
		return nil, err
	}

	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("%w: code %d: %s", ErrValidation, env.Code, env.Message)
	}
	if len(env.Catalog) == 0 {
		return nil, ErrEmptyInventory
	}
	return env.Catalog, nil
}
