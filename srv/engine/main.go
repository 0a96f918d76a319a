package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/commercegroup/stocksync/common"
	"github.com/commercegroup/stocksync/common/messages"
	"github.com/commercegroup/stocksync/notify"
	"github.com/commercegroup/stocksync/order"
	"github.com/commercegroup/stocksync/queue"
	"github.com/commercegroup/stocksync/stock"
	"github.com/commercegroup/stocksync/warehouse"
)

var meter = otel.Meter("github.com/commercegroup/stocksync/srv/engine")

func setupObservability(ctx context.Context, otlpUrl string) func(context.Context) {
	otelshutdown := common.SetupOTelSDK(ctx, otlpUrl)

	var err error
	common.JobsProcessed, err = meter.Int64Counter("jobs_processed", metric.WithDescription("Number of queue jobs processed"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to init metric `jobs_processed`", "error", err)
	}
	common.StockDeltas, err = meter.Int64Counter("stock_deltas", metric.WithDescription("Number of stock delta applications"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to init metric `stock_deltas`", "error", err)
	}
	common.NumRequests, err = meter.Int64Counter("num_requests", metric.WithDescription("Number of HTTP requests received"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to init metric `num_requests`", "error", err)
	}

	return otelshutdown
}

type config struct {
	natsUrl  string
	dbUrl    string
	otlpUrl  string
	httpPort int

	warehouseUrl    string
	warehouseAgency string
	warehouseApiKey string

	orderApiUrl    string
	orderApiAgency string
	orderClientKey string

	smtpAddr     string
	smtpFrom     string
	smtpUsername string
	smtpPassword string
	operatorMail string

	refreshInterval   time.Duration
	defaultCheckLevel int
}

func configFromEnv() config {
	cfg := config{
		natsUrl:           os.Getenv("NATS_URL"),
		dbUrl:             os.Getenv("DB_URL"),
		otlpUrl:           os.Getenv("OTLP_URL"),
		httpPort:          8081,
		warehouseUrl:      os.Getenv("WAREHOUSE_URL"),
		warehouseAgency:   os.Getenv("WAREHOUSE_AGENCY"),
		warehouseApiKey:   os.Getenv("WAREHOUSE_API_KEY"),
		orderApiUrl:       os.Getenv("ORDER_API_URL"),
		orderApiAgency:    os.Getenv("ORDER_API_AGENCY"),
		orderClientKey:    os.Getenv("ORDER_API_CLIENT_KEY"),
		smtpAddr:          os.Getenv("SMTP_ADDR"),
		smtpFrom:          os.Getenv("SMTP_FROM"),
		smtpUsername:      os.Getenv("SMTP_USERNAME"),
		smtpPassword:      os.Getenv("SMTP_PASSWORD"),
		operatorMail:      os.Getenv("OPERATOR_EMAIL"),
		refreshInterval:   15 * time.Minute,
		defaultCheckLevel: 5,
	}

	if port, err := strconv.Atoi(os.Getenv("HTTP_PORT")); err == nil {
		cfg.httpPort = port
	}
	if d, err := time.ParseDuration(os.Getenv("REFRESH_INTERVAL")); err == nil {
		cfg.refreshInterval = d
	}
	if lvl, err := strconv.Atoi(os.Getenv("DEFAULT_CHECK_LEVEL")); err == nil {
		cfg.defaultCheckLevel = lvl
	}

	return cfg
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := configFromEnv()

	otelshutdown := setupObservability(ctx, cfg.otlpUrl)
	defer func() {
		otelshutdown(context.WithoutCancel(ctx))
	}()

	nc, err := nats.Connect(cfg.natsUrl)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to connect to NATS", "error", err)
		return
	}
	defer nc.Close()

	pg, err := pgxpool.New(ctx, cfg.dbUrl)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to connect to PostgreSQL", "error", err)
		return
	}
	defer pg.Close()

	if err := setupEngine(ctx, nc, pg, cfg); err != nil {
		return
	}

	// Wait for ctrl-c, and gracefully stop service
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c

	cancel()

	slog.InfoContext(ctx, "Shutting down")
}

type engineState struct{}

func setupEngine(ctx context.Context, nc *nats.Conn, pg *pgxpool.Pool, cfg config) error {
	svc := common.NewService(ctx, nc, engineState{})
	if svc == nil {
		return nats.ErrConnectionClosed
	}
	js := svc.JetStream()

	for _, streamCfg := range []jetstream.StreamConfig{
		common.OrderEventsStreamConfig,
		common.ProductEventsStreamConfig,
		common.JobsStreamConfig,
	} {
		if err := common.CreateStream(ctx, js, streamCfg); err != nil {
			slog.ErrorContext(ctx, "Failed to create stream", "error", err, "stream", streamCfg.Name)
			return err
		}
	}

	thresholdKv, err := common.KeyValueBucket(ctx, js, common.ThresholdBucket)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create key-value bucket", "error", err, "bucket", common.ThresholdBucket)
		return err
	}
	statusKv, err := common.KeyValueBucket(ctx, js, common.QueueStatusBucket)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create key-value bucket", "error", err, "bucket", common.QueueStatusBucket)
		return err
	}

	products := stock.NewPgRepository(pg)
	orders := order.NewPgRepository(pg)
	interests := notify.NewPgInterestRepository(pg)
	thresholds := stock.NewKVThresholdStore(thresholdKv)
	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Addr:     cfg.smtpAddr,
		From:     cfg.smtpFrom,
		Username: cfg.smtpUsername,
		Password: cfg.smtpPassword,
	})

	producer := queue.NewProducer(js)
	inventory := warehouse.NewClient(warehouse.ClientConfig{
		BaseURL: cfg.warehouseUrl,
		Agency:  cfg.warehouseAgency,
		APIKey:  cfg.warehouseApiKey,
	})
	orderApi := warehouse.NewOrderAPI(warehouse.OrderAPIConfig{
		BaseURL:   cfg.orderApiUrl,
		Agency:    cfg.orderApiAgency,
		ClientKey: cfg.orderClientKey,
	})
	syncer := warehouse.NewSyncer(products, inventory, js, producer, cfg.defaultCheckLevel)

	stockSub := order.NewStockSubscriber(orders, products, js, producer)
	thresholdSub := notify.NewThresholdSubscriber(products, thresholds, interests, mailer, producer, nc, cfg.operatorMail)
	reconciler := order.NewCartReconciler(orders, products)

	err = svc.RegisterHandler("carts.assigned", func(ctx context.Context, _ *common.Service[engineState], msg *nats.Msg) {
		var evt messages.CartAssigned
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			slog.ErrorContext(ctx, "Error unmarshalling message", "error", err, "subject", msg.Subject)
			return
		}
		mode := order.MergeAssign
		if evt.Login {
			mode = order.MergeLogin
		}
		if err := reconciler.Reconcile(ctx, evt.CartID, evt.UserID, mode); err != nil {
			slog.ErrorContext(ctx, "Failed to reconcile carts", "error", err, "cart_id", evt.CartID, "user_id", evt.UserID)
		}
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register handler", "error", err, "subject", "carts.assigned")
		return err
	}

	err = svc.RegisterJsHandler(common.OrderEventsStreamConfig.Name,
		func(ctx context.Context, _ *common.Service[engineState], msg jetstream.Msg) error {
			return stockSub.Handle(ctx, msg)
		},
		common.WithDurable("engine-orders"))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register handler", "error", err, "stream", common.OrderEventsStreamConfig.Name)
		return err
	}

	err = svc.RegisterJsHandler(common.ProductEventsStreamConfig.Name,
		func(ctx context.Context, _ *common.Service[engineState], msg jetstream.Msg) error {
			return thresholdSub.HandleProductUpdated(ctx, msg)
		},
		common.WithDurable("engine-thresholds"),
		common.WithSubjectFilter("products.updated.>"))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register handler", "error", err, "stream", common.ProductEventsStreamConfig.Name)
		return err
	}

	err = svc.RegisterJsHandler(common.ProductEventsStreamConfig.Name,
		func(ctx context.Context, _ *common.Service[engineState], msg jetstream.Msg) error {
			return thresholdSub.HandleReplenished(ctx, msg)
		},
		common.WithDurable("engine-restocks"),
		common.WithSubjectFilter("products.replenished.>"))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register handler", "error", err, "stream", common.ProductEventsStreamConfig.Name)
		return err
	}

	runner := queue.NewRunner(js, statusKv)
	runner.Register(queue.KindSendOrder, queue.NewSendOrderHandler(orders, products, orderApi, mailer, cfg.operatorMail).Handle)
	runner.Register(queue.KindUpdateStock, queue.NewUpdateStockHandler(products, syncer).Handle)
	runner.Register(queue.KindRestockNotify, queue.NewRestockNotifyHandler(products, interests, mailer).Handle)
	if err := runner.Start(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to start queue runner", "error", err)
		return err
	}

	go refreshLoop(ctx, syncer, cfg.refreshInterval)
	go startServer(ctx, cfg.httpPort, products, syncer, runner)

	slog.InfoContext(ctx, "Service setup successful", "service", "engine")
	return nil
}

// refreshLoop schedules the periodic full reconciliation against the
// warehouse. Failures are logged and retried on the next tick.
func refreshLoop(ctx context.Context, syncer *warehouse.Syncer, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := syncer.RefreshAll(ctx); err != nil {
				slog.ErrorContext(ctx, "Scheduled warehouse refresh failed", "error", err)
			}
		}
	}
}
