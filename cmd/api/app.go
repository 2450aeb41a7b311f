package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"bundle-platform/internal/audit"
	"bundle-platform/internal/auth"
	"bundle-platform/internal/catalog"
	"bundle-platform/internal/config"
	"bundle-platform/internal/events"
	"bundle-platform/internal/gateway"
	"bundle-platform/internal/httpapi"
	"bundle-platform/internal/orders"
	"bundle-platform/internal/reporting"
	"bundle-platform/internal/wallet"
	"bundle-platform/pkg/logger"
	"bundle-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// app holds the wired services. Built once in main; no globals.
type app struct {
	cfg config.Config

	handlers   httpapi.Handlers
	reconciler *orders.Reconciler
	relay      *events.Relay
	publisher  *events.KafkaPublisher
}

func buildApp(cfg config.Config, db *sql.DB, rdb *redis.Client) (*app, error) {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, err
	}

	walletStore := wallet.NewSQLStore(db)
	orderStore := orders.NewSQLStore(db)
	walletSvc := wallet.NewService(walletStore)
	auditSvc := audit.NewService(audit.NewSQLRepo(db))
	catalogSvc := catalog.NewService(catalog.NewCachedRepository(
		catalog.NewSQLRepo(db),
		catalog.NewRedisCache(rdb, "catalog:"),
		cfg.Limits.CatalogCacheTTL,
	))

	// Per-call deadlines come from the config timeouts via context.
	httpClient := &http.Client{}

	callbackURL := cfg.Gateway.CallbackURL
	if callbackURL == "" && cfg.App.PublicBaseURL != "" {
		callbackURL = strings.TrimRight(cfg.App.PublicBaseURL, "/") + "/payments/callback"
	}

	ordersSvc := orders.NewService(orders.Deps{
		Store:       orderStore,
		Catalog:     catalogSvc,
		Payments:    gateway.NewPaystackClient(cfg.Gateway, httpClient),
		Fulfillment: gateway.NewDataMartClient(cfg.Fulfillment, httpClient),
		Audit:       auditSvc,
		Deposits:    walletSvc,
		Locker:      utils.NewLocker(rdb, "lock:"),
		Limiter:     utils.NewConcurrencyCap(rdb, "inflight:", cfg.Limits.MaxInFlightOrders, cfg.Limits.InFlightTTL),
		CallbackURL: callbackURL,
		EventsTopic: cfg.Kafka.OrderEventsTopic,
	})

	a := &app{
		cfg: cfg,
		handlers: httpapi.Handlers{
			Auth:          authManager,
			Orders:        ordersSvc,
			Wallet:        walletSvc,
			Catalog:       catalogSvc,
			Audit:         auditSvc,
			Reports:       reporting.NewService(reporting.StoreRepo{Orders: orderStore, Wallets: walletStore}),
			WebhookSecret: cfg.Gateway.SecretKey,
		},
		reconciler: orders.NewReconciler(ordersSvc, orderStore, cfg.Jobs.ReconcileInterval, cfg.Jobs.StaleCheckoutAfter),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
		a.relay = events.NewRelay(events.NewSQLRepo(db), pub, cfg.Jobs.OutboxInterval, cfg.Jobs.OutboxBatchSize, cfg.Jobs.OutboxMaxRetries)
	}
	return a, nil
}

func (a *app) startJobs(ctx context.Context, wg *sync.WaitGroup) {
	log := logger.From(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reconciler.Start(ctx)
	}()

	if a.relay == nil {
		log.Warn("KAFKA_BROKERS not set; order events stay in the outbox")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.relay.Start(ctx)
	}()
}

func (a *app) close() {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Close(); err != nil {
		slog.Error("kafka producer close failed", "err", err)
	}
}
