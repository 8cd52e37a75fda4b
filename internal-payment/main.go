package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"topup-fulfillment/pkg/config"
	"topup-fulfillment/pkg/events"
	"topup-fulfillment/pkg/logger"
	"topup-fulfillment/pkg/models"
	"topup-fulfillment/pkg/nats"
	"topup-fulfillment/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const serviceName = "internal-payment"

type publisher interface {
	Publish(subject string, data []byte) error
}

type paymentHandler struct {
	pub          publisher
	delay        time.Duration
	publishCount func() int
	log          *zap.Logger
}

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

	nc, err := nats.Connect(cfg.NATSURL, serviceName)
	if err != nil {
		logg.Fatal("nats_connect_failed", zap.Error(err))
	}
	defer nc.Close()

	timeoutMs, err := strconv.Atoi(os.Getenv("PAYMENT_TIMEOUT_MS"))
	if err != nil {
		timeoutMs = 200
	}

	h := &paymentHandler{
		pub:          nc,
		delay:        time.Duration(timeoutMs) * time.Millisecond,
		publishCount: utils.DeterminePublishCount,
		log:          logg,
	}

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/trigger-payment-paid", h.triggerPaymentPaid)
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

	addr := os.Getenv("PAYMENT_HTTP_ADDR")
	if addr == "" {
		addr = ":8001"
	}
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logg.Info("internal_payment_starting", zap.String("addr", addr), zap.Int("payment_timeout_ms", timeoutMs))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("http_server_failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("http_shutdown_failed", zap.Error(err))
	}
}

// triggerPaymentPaid confirms a payment and publishes payment.paid, at
// times more than once, the way a flaky upstream would.
func (h *paymentHandler) triggerPaymentPaid(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = utils.GenerateCorrelationID()
	}
	log := h.log.With(zap.String("correlation_id", req.CorrelationID), zap.String("order_id", req.OrderID))

	log.Info("processing_payment", zap.Int64("amount", req.PaidAmount))
	time.Sleep(h.delay)

	message := models.PaymentPaidMessage{
		OrderID:       req.OrderID,
		PaidAmount:    req.PaidAmount,
		PaidAt:        time.Now(),
		CorrelationID: req.CorrelationID,
	}
	data, err := json.Marshal(message)
	if err != nil {
		log.Error("payment_encode_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	count := h.publishCount()
	log.Info("publish_count", zap.Int("count", count))

	published := 0
	for i := 0; i < count; i++ {
		if err := h.pub.Publish(events.SubjectPaymentPaid, data); err != nil {
			log.Error("payment_publish_failed", zap.Error(err))
			continue
		}
		published++
	}
	if published == 0 {
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment event not published"})
		return
	}

	c.JSON(http.StatusOK, models.PaymentResponse{Status: "success"})
}
