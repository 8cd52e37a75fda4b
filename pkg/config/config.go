package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	TimeZone string
}

type Provider struct {
	Name        string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	CallbackURL string
	// CallbackSecret signs provider callbacks (HMAC-SHA256, hex).
	CallbackSecret string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type Notify struct {
	TelegramBaseURL  string
	TelegramBotToken string
	TelegramChatID   string
	Subject          string
	Timeout          time.Duration
	QueueSize        int
	Workers          int
}

type Reconcile struct {
	SweepInterval time.Duration
	StuckAfter    time.Duration
	BatchSize     int
}

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string
	NATSURL     string

	// InternalToken guards the payment-side fulfill route, AdminToken the
	// operator routes. An empty token rejects every request.
	InternalToken string
	AdminToken    string

	// EmptyVoucherPolicy is "complete" or "manual".
	EmptyVoucherPolicy   string
	StaleProcessingAfter time.Duration

	Database  Database
	Provider  Provider
	Redis     Redis
	Notify    Notify
	Reconcile Reconcile
}

// Load reads the configuration from the environment. godotenv is expected to
// have been loaded by the caller.
func Load() (*Config, error) {
	var errs []error
	dur := func(key, def string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	num := func(key string, def int) int {
		raw := os.Getenv(key)
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return n
	}

	cfg := &Config{
		ServiceName:          getEnv("SERVICE_NAME", "fulfillment-orchestrator"),
		Env:                  getEnv("APP_ENV", "production"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8002"),
		NATSURL:              getEnv("NATS_URL", "nats://localhost:4222"),
		InternalToken:        os.Getenv("INTERNAL_TOKEN"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		EmptyVoucherPolicy:   getEnv("EMPTY_VOUCHER_POLICY", "complete"),
		StaleProcessingAfter: dur("STALE_PROCESSING_AFTER", "10m"),
		Database: Database{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "3306"),
			Name:     os.Getenv("DB_NAME"),
			TimeZone: getEnv("DB_TIMEZONE", "Asia/Jakarta"),
		},
		Provider: Provider{
			Name:           getEnv("PROVIDER_NAME", "topup-provider"),
			BaseURL:        getEnv("PROVIDER_BASE_URL", "http://localhost:9000"),
			APIKey:         os.Getenv("PROVIDER_API_KEY"),
			Timeout:        dur("PROVIDER_TIMEOUT", "15s"),
			CallbackURL:    getEnv("PROVIDER_CALLBACK_URL", "http://localhost:8002/provider/callback"),
			CallbackSecret: os.Getenv("CALLBACK_SECRET"),
		},
		Redis: Redis{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       num("REDIS_DB", 0),
			TTL:      dur("MAPPING_CACHE_TTL", "10m"),
		},
		Notify: Notify{
			TelegramBaseURL:  getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
			TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
			Subject:          getEnv("NOTIFY_SUBJECT", "fulfillment.outcome"),
			Timeout:          dur("NOTIFY_TIMEOUT", "5s"),
			QueueSize:        num("NOTIFY_QUEUE_SIZE", 256),
			Workers:          num("NOTIFY_WORKERS", 2),
		},
		Reconcile: Reconcile{
			SweepInterval: dur("RECONCILE_SWEEP_INTERVAL", "0s"),
			StuckAfter:    dur("RECONCILE_STUCK_AFTER", "5m"),
			BatchSize:     num("RECONCILE_BATCH_SIZE", 50),
		},
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}
	if cfg.EmptyVoucherPolicy != "complete" && cfg.EmptyVoucherPolicy != "manual" {
		return nil, fmt.Errorf("invalid configuration: EMPTY_VOUCHER_POLICY must be complete or manual, got %q", cfg.EmptyVoucherPolicy)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
