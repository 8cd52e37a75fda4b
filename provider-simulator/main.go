package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"topup-fulfillment/pkg/config"
	"topup-fulfillment/pkg/database"
	"topup-fulfillment/pkg/httpclient"
	"topup-fulfillment/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const serviceName = "provider-simulator"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logg := logger.MustNew(serviceName, cfg.Env)
	defer logg.Sync()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logg.Fatal("database_open_failed", zap.Error(err))
	}
	defer db.Close()

	if err := database.CreateTables(db); err != nil {
		logg.Fatal("create_tables_failed", zap.Error(err))
	}

	simCfg := simulatorConfig{
		APIKey:           cfg.Provider.APIKey,
		CallbackSecret:   cfg.Provider.CallbackSecret,
		IdempotencyCheck: os.Getenv("EXTERNAL_IDEMPOTENCY_CHECK") == "true",
		FailRate:         envInt("SIM_FAIL_RATE", 10),
		SettleAfter:      envDuration("SIM_SETTLE_AFTER", 2*time.Second),
	}
	sim := newSimulator(simCfg, &mysqlRepo{db: db}, httpclient.NewClient(10*time.Second), logg)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	sim.routes(router)

	addr := getEnv("SIM_HTTP_ADDR", ":9000")
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logg.Info("provider_simulator_starting",
			zap.String("addr", addr),
			zap.Bool("external_idempotency_check", simCfg.IdempotencyCheck),
			zap.Int("fail_rate", simCfg.FailRate),
			zap.Duration("settle_after", simCfg.SettleAfter),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("http_server_failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("http_shutdown_failed", zap.Error(err))
	}
	sim.wg.Wait()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return d
}
