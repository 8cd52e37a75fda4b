package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"topup-fulfillment/pkg/models"
)

// Event summarizes a fulfillment outcome for people and downstream services.
type Event struct {
	OrderID          string        `json:"order_id"`
	ExternalOrderRef string        `json:"external_order_ref,omitempty"`
	GameName         string        `json:"game_name"`
	PackageName      string        `json:"package_name"`
	PlayerID         string        `json:"player_id"`
	ServerID         string        `json:"server_id,omitempty"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           models.Status `json:"status"`
	Message          string        `json:"message,omitempty"`
	Trigger          string        `json:"trigger"`
	OccurredAt       time.Time     `json:"occurred_at"`
}

func EventFromOrder(o *models.Order, trigger string) Event {
	return Event{
		OrderID:          o.ID,
		ExternalOrderRef: o.ExternalOrderRef,
		GameName:         o.GameName,
		PackageName:      o.PackageName,
		PlayerID:         o.PlayerID,
		ServerID:         o.ServerID,
		Amount:           o.Amount,
		Currency:         o.Currency,
		Status:           o.Status,
		Message:          o.StatusMessage,
		Trigger:          trigger,
		OccurredAt:       time.Now(),
	}
}

var statusIcons = map[models.Status]string{
	models.StatusCompleted:     "✅",
	models.StatusFailed:        "❌",
	models.StatusPendingManual: "⚠️",
	models.StatusProcessing:    "⏳",
}

// Text renders the event as a plain chat message.
func (e Event) Text() string {
	var b strings.Builder
	icon := statusIcons[e.Status]
	if icon == "" {
		icon = "ℹ️"
	}
	fmt.Fprintf(&b, "%s Top-up %s\n", icon, strings.ToUpper(string(e.Status)))
	fmt.Fprintf(&b, "Game: %s\n", e.GameName)
	fmt.Fprintf(&b, "Package: %s\n", e.PackageName)
	player := e.PlayerID
	if e.ServerID != "" {
		player += " (" + e.ServerID + ")"
	}
	fmt.Fprintf(&b, "Player: %s\n", player)
	fmt.Fprintf(&b, "Amount: %s %d\n", e.Currency, e.Amount)
	fmt.Fprintf(&b, "Order: %s\n", e.OrderID)
	if e.ExternalOrderRef != "" {
		fmt.Fprintf(&b, "Provider order: %s\n", e.ExternalOrderRef)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, "Note: %s\n", e.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Notifier accepts outcome events without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type Transport interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
