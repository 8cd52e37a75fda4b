package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"topup-fulfillment/pkg/fulfillment"
	"topup-fulfillment/pkg/provider"
	"topup-fulfillment/pkg/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBody = 64 << 10

type Orchestrator interface {
	Fulfill(ctx context.Context, orderID string) (fulfillment.Outcome, error)
	Retry(ctx context.Context, orderID string) (fulfillment.Outcome, error)
}

type Reconciler interface {
	CheckStatus(ctx context.Context, orderID string) (fulfillment.Outcome, error)
	HandleCallback(ctx context.Context, u fulfillment.CallbackUpdate) (fulfillment.Outcome, error)
}

type Handler struct {
	orchestrator   Orchestrator
	reconciler     Reconciler
	callbackSecret string
	logger         *zap.Logger
}

func NewHandler(o Orchestrator, r Reconciler, callbackSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orchestrator: o, reconciler: r, callbackSecret: callbackSecret, logger: logger}
}

type outcomeResponse struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	ExternalOrderRef string `json:"external_order_ref,omitempty"`
	Kind             string `json:"kind,omitempty"`
	ProviderMessage  string `json:"provider_message,omitempty"`
	Dispatched       bool   `json:"dispatched"`
}

func toResponse(o fulfillment.Outcome) outcomeResponse {
	return outcomeResponse{
		OrderID:          o.OrderID,
		Status:           string(o.Status),
		Message:          o.Message,
		ExternalOrderRef: o.ExternalOrderRef,
		Kind:             string(o.Kind),
		ProviderMessage:  o.ProviderMessage,
		Dispatched:       o.Dispatched,
	}
}

func (h *Handler) Fulfill(c *gin.Context) {
	out, err := h.orchestrator.Fulfill(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, toResponse(out))
}

func (h *Handler) Retry(c *gin.Context) {
	out, err := h.orchestrator.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, toResponse(out))
}

func (h *Handler) Status(c *gin.Context) {
	out, err := h.reconciler.CheckStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, toResponse(out))
}

// Callback verifies the signature over the raw body before anything is
// parsed. Conflicts and ignored updates are still acknowledged with 200 so
// the provider stops redelivering.
func (h *Handler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return
	}

	if !provider.VerifySignature(h.callbackSecret, body, c.GetHeader(provider.SignatureHeader)) {
		h.logger.Warn("callback_signature_invalid", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	cb, err := provider.ParseCallback(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.reconciler.HandleCallback(c.Request.Context(), fulfillment.CallbackUpdate{
		ExternalOrderRef: string(cb.OrderID),
		ProviderStatus:   cb.Status,
		Message:          cb.Message,
	})
	if err != nil {
		h.writeError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(out))
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) writeError(c *gin.Context, orderID string, err error) {
	var ferr *fulfillment.Error
	switch {
	case errors.As(err, &ferr):
		code := http.StatusUnprocessableEntity
		if ferr.Kind == fulfillment.KindNotEligible {
			code = http.StatusConflict
		}
		c.JSON(code, gin.H{
			"order_id":         ferr.OrderID,
			"kind":             ferr.Kind,
			"provider_message": ferr.ProviderMessage,
			"status":           ferr.Status,
		})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, fulfillment.ErrUnknownExternalRef):
		// Not a 2xx: a callback that raced the reference write gets redelivered.
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider order"})
	default:
		h.logger.Error("request_failed", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
