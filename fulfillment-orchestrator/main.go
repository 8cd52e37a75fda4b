package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"topup-fulfillment/pkg/api"
	"topup-fulfillment/pkg/catalog"
	"topup-fulfillment/pkg/config"
	"topup-fulfillment/pkg/credential"
	"topup-fulfillment/pkg/database"
	"topup-fulfillment/pkg/events"
	"topup-fulfillment/pkg/fulfillment"
	"topup-fulfillment/pkg/httpclient"
	"topup-fulfillment/pkg/logger"
	"topup-fulfillment/pkg/metrics"
	"topup-fulfillment/pkg/nats"
	"topup-fulfillment/pkg/notify"
	"topup-fulfillment/pkg/provider"
	"topup-fulfillment/pkg/resolver"
	"topup-fulfillment/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logg := logger.MustNew(cfg.ServiceName, cfg.Env)
	defer logg.Sync()

	if err := run(cfg, logg); err != nil {
		logg.Error("service_stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.CreateTables(db); err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.NATSURL, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer nc.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orders := store.NewMySQLOrderStore(db)
	creds := credential.NewMySQLStore(db)
	if cfg.Provider.APIKey != "" {
		if err := creds.Seed(ctx, cfg.Provider.Name, cfg.Provider.APIKey); err != nil {
			return err
		}
	}

	var cache resolver.MappingCache
	if cfg.Redis.Addr != "" {
		rdb, err := catalog.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logg.Warn("mapping_cache_disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			cache = catalog.NewRedisMappingCache(rdb, cfg.Redis.TTL)
		}
	}

	transports := []notify.Transport{notify.NewNATSTransport(nc, cfg.Notify.Subject)}
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		transports = append(transports, notify.NewTelegramTransport(
			cfg.Notify.TelegramBaseURL,
			cfg.Notify.TelegramBotToken,
			cfg.Notify.TelegramChatID,
			httpclient.NewClient(cfg.Notify.Timeout),
		))
	}
	dispatcher := notify.NewDispatcher(notify.Options{
		QueueSize: cfg.Notify.QueueSize,
		Workers:   cfg.Notify.Workers,
		Timeout:   cfg.Notify.Timeout,
	}, logg, m, transports...)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	deps := fulfillment.Deps{
		Orders:      orders,
		Credentials: creds,
		Resolver:    resolver.New(catalog.NewMySQLCatalog(db), cache, logg),
		Adapter:     provider.NewClient(cfg.Provider.BaseURL, httpclient.NewClient(cfg.Provider.Timeout), m),
		Notifier:    dispatcher,
		Metrics:     m,
		Logger:      logg,
	}
	fcfg := fulfillment.Config{
		ProviderName:         cfg.Provider.Name,
		CallbackURL:          cfg.Provider.CallbackURL,
		EmptyVoucherPolicy:   cfg.EmptyVoucherPolicy,
		StaleProcessingAfter: cfg.StaleProcessingAfter,
		ProviderTimeout:      cfg.Provider.Timeout,
		StuckAfter:           cfg.Reconcile.StuckAfter,
		SweepBatchSize:       cfg.Reconcile.BatchSize,
	}
	orchestrator := fulfillment.New(deps, fcfg)
	reconciler := fulfillment.NewReconciler(deps, fcfg)

	payments := events.NewPaymentSubscriber(orders, orchestrator, logg)
	sub, err := nc.QueueSubscribe(events.SubjectPaymentPaid, cfg.ServiceName, payments.HandleMsg)
	if err != nil {
		return err
	}

	go reconciler.RunSweeps(ctx, cfg.Reconcile.SweepInterval)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(orchestrator, reconciler, cfg.Provider.CallbackSecret, logg), api.RouterConfig{
		InternalToken: cfg.InternalToken,
		AdminToken:    cfg.AdminToken,
		Gatherer:      reg,
	}, logg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info("http_server_starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("provider", cfg.Provider.Name),
			zap.String("empty_voucher_policy", cfg.EmptyVoucherPolicy),
			zap.Duration("sweep_interval", cfg.Reconcile.SweepInterval),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logg.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("http_shutdown_failed", zap.Error(err))
	}
	if err := sub.Unsubscribe(); err != nil {
		logg.Warn("payment_unsubscribe_failed", zap.Error(err))
	}
	payments.Wait()
	return nil
}
