package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/commercegroup/stocksync/common"
	"github.com/commercegroup/stocksync/common/natsutil"
	"github.com/commercegroup/stocksync/notify"
	"github.com/commercegroup/stocksync/stock"
)

var meter = otel.Meter("github.com/commercegroup/stocksync/srv/gateway")

func setupObservability(ctx context.Context, otlpUrl string) func(context.Context) {
	otelshutdown := common.SetupOTelSDK(ctx, otlpUrl)

	var err error
	common.NumRequests, err = meter.Int64Counter("num_requests", metric.WithDescription("Number of HTTP requests received"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to init metric `num_requests`", "error", err)
	}

	return otelshutdown
}

// GatewayState is the in-memory read model of the storefront: current stock
// and the latest open notice, both keyed by SKU. It is rebuilt from the
// products stream at startup.
type GatewayState struct {
	products stock.Repository
	stock    *xsync.MapOf[string, int]
	notices  *xsync.MapOf[string, string]
	statusKv jetstream.KeyValue
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	natsUrl := os.Getenv("NATS_URL")
	dbConnStr := os.Getenv("DB_URL")
	otlpUrl := os.Getenv("OTLP_URL")
	httpPort := 8080
	if port, err := strconv.Atoi(os.Getenv("HTTP_PORT")); err == nil {
		httpPort = port
	}

	otelshutdown := setupObservability(ctx, otlpUrl)
	defer func() {
		otelshutdown(context.WithoutCancel(ctx))
	}()

	nc, err := nats.Connect(natsUrl)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to connect to NATS", "error", err)
		return
	}

	pg, err := pgxpool.New(ctx, dbConnStr)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to connect to PostgreSQL", "error", err)
		return
	}
	defer pg.Close()

	svc := common.NewService(ctx, nc, GatewayState{
		products: stock.NewPgRepository(pg),
		stock:    xsync.NewMapOf[string, int](),
		notices:  xsync.NewMapOf[string, string](),
	})
	if svc == nil {
		return
	}

	svc.State().statusKv, err = common.KeyValueBucket(ctx, svc.JetStream(), common.QueueStatusBucket)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to open key-value bucket", "error", err, "bucket", common.QueueStatusBucket)
		return
	}

	// Rebuild the stock view from the stream before serving, then keep it
	// fresh with a live consumer.
	err = natsutil.ConsumeAll(ctx, svc.JetStream(), common.ProductEventsStreamConfig.Name,
		jetstream.OrderedConsumerConfig{FilterSubjects: []string{"products.updated.>"}},
		func(msg jetstream.Msg) {
			_ = ProductUpdatedHandler(ctx, svc, msg)
		})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to warm up stock view", "error", err)
		return
	}

	err = svc.RegisterJsHandler(common.ProductEventsStreamConfig.Name, ProductUpdatedHandler,
		common.WithDeliverNew(),
		common.WithSubjectFilter("products.updated.>"))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register handler", "error", err, "stream", common.ProductEventsStreamConfig.Name)
		return
	}

	for _, subject := range []string{notify.SubjectLowStock, notify.SubjectOutOfStock, notify.SubjectRestock} {
		if err := svc.RegisterHandler(subject, NoticeHandler); err != nil {
			return
		}
	}
	if err := svc.RegisterHandler("stock.get", StockRequestHandler); err != nil {
		return
	}

	r := gin.Default()
	r.Use(func(c *gin.Context) {
		if common.NumRequests != nil {
			common.NumRequests.Add(c.Request.Context(), 1)
		}
		c.Next()
	})
	r.GET("/ping", PingHandler)
	r.GET("/stock", StockListRoute(svc))
	r.GET("/stock/:sku", StockGetRoute(svc))
	r.GET("/notices", NoticesListRoute(svc))
	r.GET("/queue", QueueStatusRoute(svc))
	err = r.Run(":" + strconv.Itoa(httpPort))
	if err != nil {
		log.Fatal(err)
	}
}

func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

func QueueStatusRoute(s *common.Service[GatewayState]) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := s.State().statusKv.Get(c.Request.Context(), "suspended")
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			c.JSON(http.StatusOK, gin.H{"suspended": false})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"suspended": true, "reason": string(entry.Value())})
	}
}
