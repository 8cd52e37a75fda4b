package models

import "time"

type Status string

const (
	StatusPending       Status = "pending"
	StatusPaid          Status = "paid"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusPendingManual Status = "pending_manual"
)

// Terminal reports whether automation has finished with the order.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPendingManual:
		return true
	}
	return false
}

type CardCode struct {
	Code   string `json:"code"`
	Serial string `json:"serial"`
	Expire string `json:"expire"`
}

type Order struct {
	ID                 string     `json:"id"`
	GameName           string     `json:"game_name"`
	PackageName        string     `json:"package_name"`
	PlayerID           string     `json:"player_id"`
	ServerID           string     `json:"server_id,omitempty"`
	PlayerName         string     `json:"player_name,omitempty"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	PaymentMethod      string     `json:"payment_method"`
	ExternalProductRef string     `json:"external_product_ref,omitempty"`
	ExternalOrderRef   string     `json:"external_order_ref,omitempty"`
	IdempotencyToken   string     `json:"idempotency_token,omitempty"`
	CardCodes          []CardCode `json:"card_codes,omitempty"`
	Status             Status     `json:"status"`
	StatusMessage      string     `json:"status_message"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.CardCodes != nil {
		c.CardCodes = append([]CardCode(nil), o.CardCodes...)
	}
	return &c
}

// Transition is a conditional status write. It only applies when the stored
// status is one of From, or when StaleBefore is set and the order is an
// unreferenced processing order last touched before it.
//
// Empty ExternalOrderRef, IdempotencyToken and nil CardCodes leave the stored
// values alone. ResetDispatch drops the stored provider reference and card
// codes first, so a redispatch never inherits a previous provider order.
type Transition struct {
	From             []Status
	To               Status
	Message          string
	ExternalOrderRef string
	CardCodes        []CardCode
	IdempotencyToken string
	ResetDispatch    bool
	StaleBefore      *time.Time
}

func (t Transition) Allows(o *Order) bool {
	for _, s := range t.From {
		if o.Status == s {
			return true
		}
	}
	if t.StaleBefore != nil && o.Status == StatusProcessing && o.ExternalOrderRef == "" {
		return o.UpdatedAt.Before(*t.StaleBefore)
	}
	return false
}

type PaymentPaidMessage struct {
	OrderID       string    `json:"order_id"`
	PaidAmount    int64     `json:"paid_amount"`
	PaidAt        time.Time `json:"paid_at"`
	CorrelationID string    `json:"correlation_id"`
}

type PaymentRequest struct {
	OrderID       string `json:"order-id"`
	PaidAmount    int64  `json:"paid-amount"`
	CorrelationID string `json:"correlation-id"`
}

type PaymentResponse struct {
	Status string `json:"status"`
}

type FulfillmentAttempt struct {
	ID            int       `json:"id"`
	OrderID       string    `json:"order_id"`
	AttemptNumber int       `json:"attempt_number"`
	Operation     string    `json:"operation"`
	Payload       string    `json:"payload"`
	AttemptedAt   time.Time `json:"attempted_at"`
}
