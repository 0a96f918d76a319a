package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/commercegroup/stocksync/common"
	"github.com/commercegroup/stocksync/common/messages"
	"github.com/commercegroup/stocksync/common/natsutil"
	"github.com/commercegroup/stocksync/stock"
)

// ProductUpdatedHandler refreshes the stock view for one product. The event
// carries only the product id, so the current value is read from storage.
func ProductUpdatedHandler(ctx context.Context, s *common.Service[GatewayState], msg jetstream.Msg) error {
	var evt messages.ProductVariationUpdated
	if err := json.Unmarshal(msg.Data(), &evt); err != nil {
		err2 := msg.TermWithReason(fmt.Sprintf("failed to unmarshal product update: %v", err))
		if err2 != nil {
			return fmt.Errorf("while handling %w, another error happened: %w", err, err2)
		}
		return nil
	}

	p, err := s.State().products.Get(ctx, evt.ProductID)
	if errors.Is(err, stock.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to load product %s: %w", evt.ProductID, err)
	}

	s.State().stock.Store(p.SKU, p.Stock)
	return nil
}

// NoticeHandler tracks the latest threshold notice per SKU. A restock notice
// clears the entry; low-stock and out-of-stock notices overwrite it.
func NoticeHandler(ctx context.Context, s *common.Service[GatewayState], msg *nats.Msg) {
	var notice messages.StockNotice
	if err := json.Unmarshal(msg.Data, &notice); err != nil {
		slog.ErrorContext(ctx, "Error unmarshalling message", "error", err, "subject", msg.Subject)
		return
	}

	kind, found := strings.CutPrefix(msg.Subject, "notifications.")
	if !found {
		slog.ErrorContext(ctx, "Received notice on strange subject", "subject", msg.Subject)
		return
	}

	p, err := s.State().products.Get(ctx, notice.ProductID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load product for notice", "error", err, "product_id", notice.ProductID)
		return
	}

	if kind == "restock" {
		s.State().notices.Delete(p.SKU)
		s.State().stock.Store(p.SKU, notice.Stock)
		return
	}
	s.State().notices.Store(p.SKU, kind)
}

// StockRequestHandler answers point stock queries from other services over
// core NATS. The request body is the bare SKU.
func StockRequestHandler(ctx context.Context, s *common.Service[GatewayState], msg *nats.Msg) {
	sku := string(msg.Data)
	if sku == "" {
		natsutil.Respond(msg, natsutil.InvalidRequest)
		return
	}

	level, ok := s.State().stock.Load(sku)
	if !ok {
		natsutil.Respond(msg, natsutil.ProductNotFound)
		return
	}

	body, err := json.Marshal(map[string]any{"sku": sku, "stock": level})
	if err != nil {
		natsutil.Respond(msg, natsutil.MarshalError)
		return
	}
	if err := msg.Respond(body); err != nil {
		slog.ErrorContext(ctx, "Failed to respond to stock query", "error", err, "sku", sku)
	}
}

func StockListRoute(s *common.Service[GatewayState]) gin.HandlerFunc {
	return func(c *gin.Context) {
		view := map[string]int{}
		s.State().stock.Range(func(sku string, level int) bool {
			view[sku] = level
			return true
		})
		c.JSON(http.StatusOK, view)
	}
}

func NoticesListRoute(s *common.Service[GatewayState]) gin.HandlerFunc {
	return func(c *gin.Context) {
		view := map[string]string{}
		s.State().notices.Range(func(sku string, kind string) bool {
			view[sku] = kind
			return true
		})
		c.JSON(http.StatusOK, view)
	}
}

func StockGetRoute(s *common.Service[GatewayState]) gin.HandlerFunc {
	return func(c *gin.Context) {
		sku := c.Param("sku")
		level, ok := s.State().stock.Load(sku)
		if !ok {
			c.String(http.StatusNotFound, "Not Found")
			return
		}

		resp := gin.H{"sku": sku, "stock": level}
		if notice, ok := s.State().notices.Load(sku); ok {
			resp["notice"] = notice
		}
		c.JSON(http.StatusOK, resp)
	}
}
