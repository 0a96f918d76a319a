package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/commercegroup/stocksync/common"
	"github.com/commercegroup/stocksync/queue"
	"github.com/commercegroup/stocksync/stock"
	"github.com/commercegroup/stocksync/warehouse"
)

func countRequests(c *gin.Context) {
	if common.NumRequests != nil {
		common.NumRequests.Add(c.Request.Context(), 1)
	}
	c.Next()
}

func getHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK\n")
}

func queueStatusRoute(runner *queue.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		suspended, reason, err := runner.Suspended(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"suspended": suspended, "reason": reason})
	}
}

func queueResumeRoute(runner *queue.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := runner.Resume(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "queue resumed"})
	}
}

func refreshAllRoute(syncer *warehouse.Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		enqueued, err := syncer.RefreshAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "refresh scheduled", "enqueued": enqueued})
	}
}

func refreshOneRoute(products stock.Repository, syncer *warehouse.Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		p, err := products.Get(ctx, c.Param("id"))
		if errors.Is(err, stock.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such product variation"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		err = syncer.RefreshOne(ctx, p)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{
				"message": fmt.Sprintf("stock for %s updated", p.SKU),
				"stock":   p.Stock,
			})
		case errors.Is(err, warehouse.ErrNotConfigured):
			c.JSON(http.StatusConflict, gin.H{"error": "warehouse api not configured"})
		case errors.Is(err, warehouse.ErrValidation):
			c.JSON(http.StatusBadGateway, gin.H{"error": "warehouse rejected the request, stock left unchanged"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "warehouse unreachable, stock left unchanged"})
		}
	}
}

func setupRoutes(products stock.Repository, syncer *warehouse.Syncer, runner *queue.Runner) *gin.Engine {
	r := gin.Default()
	r.Use(countRequests)
	r.GET("/health", getHealth)
	r.GET("/queue", queueStatusRoute(runner))
	r.POST("/queue/resume", queueResumeRoute(runner))
	r.POST("/refresh", refreshAllRoute(syncer))
	r.POST("/refresh/:id", refreshOneRoute(products, syncer))

	return r
}

func startServer(ctx context.Context, listenPort int, products stock.Repository, syncer *warehouse.Syncer, runner *queue.Runner) {
	r := setupRoutes(products, syncer, runner)

	if err := r.Run(fmt.Sprintf(":%d", listenPort)); err != nil {
		slog.ErrorContext(ctx, "Admin API server stopped", "error", err)
	}
}
