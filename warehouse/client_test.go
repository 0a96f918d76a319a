package warehouse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func inventoryServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, Agency: "main", APIKey: "secret"})
}

func TestGetSingleInventory(t *testing.T) {
	c := inventoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/inventory/main/w-1", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("api_key"))
		fmt.Fprint(w, `{"code":200,"inventory":{"warehouse_stock_on_hand":7}}`)
	})

	count, err := c.GetSingleInventory(context.Background(), "w-1")
	require.NoError(t, err)
	require.Equal(t, 7, count)
}

func TestGetAllInventory(t *testing.T) {
	c := inventoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/inventory/main", r.URL.Path)
		fmt.Fprint(w, `{"code":200,"Catalog":[
			{"warehouse_item_id":"w-1","warehouse_stock_on_hand":5},
			{"warehouse_item_id":"w-2","warehouse_stock_on_hand":0}
		]}`)
	})

	catalog, err := c.GetAllInventory(context.Background())
	require.NoError(t, err)
	require.Equal(t, []CatalogEntry{
		{WarehouseItemID: "w-1", StockOnHand: 5},
		{WarehouseItemID: "w-2", StockOnHand: 0},
	}, catalog)
}

func TestBodyErrorCodeIsValidation(t *testing.T) {
	// The remote reports errors inside a 200 response.
	c := inventoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":500,"message":"internal error"}`)
	})

	_, err := c.GetSingleInventory(context.Background(), "w-1")
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorContains(t, err, "internal error")
}

func TestEmptyCatalogIsEmptyInventory(t *testing.T) {
	c := inventoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"Catalog":[]}`)
	})

	_, err := c.GetAllInventory(context.Background())
	require.ErrorIs(t, err, ErrEmptyInventory)
}

func TestMissingCredentialsIsNotConfigured(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://localhost:1", Agency: "main"})

	_, err := c.GetSingleInventory(context.Background(), "w-1")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestUnreachableIsTransport(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", Agency: "main", APIKey: "secret", Timeout: time.Second})

	_, err := c.GetSingleInventory(context.Background(), "w-1")
	require.ErrorIs(t, err, ErrTransport)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var healthy atomic.Bool
	c := inventoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			fmt.Fprint(w, `{"code":200,"inventory":{"warehouse_stock_on_hand":7}}`)
			return
		}
		http.Error(w, "down", http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		_, err := c.GetSingleInventory(context.Background(), "w-1")
		require.Error(t, err)
	}

	// The endpoint recovered, but the open breaker short-circuits the call.
	healthy.Store(true)
	_, err := c.GetSingleInventory(context.Background(), "w-1")
	require.ErrorIs(t, err, ErrTransport)
}
