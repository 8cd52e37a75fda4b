package fulfillment

import (
	"errors"
	"fmt"

	"topup-fulfillment/pkg/models"
)

type Kind string

const (
	KindConfiguration          Kind = "configuration"
	KindProviderRejection      Kind = "provider_rejection"
	KindTransport              Kind = "transport"
	KindReconciliationConflict Kind = "reconciliation_conflict"
	KindNotEligible            Kind = "not_eligible"
)

var ErrUnknownExternalRef = errors.New("no order for provider reference")

// Error is what operator-facing calls report: the kind, the provider's raw
// message if there was one, and where the order stands now.
type Error struct {
	Kind            Kind
	OrderID         string
	Status          models.Status
	ProviderMessage string
	Err             error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: order %s is %s", e.Kind, e.OrderID, e.Status)
	if e.ProviderMessage != "" {
		msg += ": " + e.ProviderMessage
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Outcome is the result of one fulfillment or reconciliation run.
type Outcome struct {
	OrderID          string
	Status           models.Status
	Message          string
	ExternalOrderRef string
	// Kind is empty unless the run ended on one of the error kinds.
	Kind            Kind
	ProviderMessage string
	// Dispatched reports whether this run called the provider.
	Dispatched bool
}

func outcomeOf(o *models.Order) Outcome {
	return Outcome{
		OrderID:          o.ID,
		Status:           o.Status,
		Message:          o.StatusMessage,
		ExternalOrderRef: o.ExternalOrderRef,
	}
}

func (o Outcome) asError() error {
	if o.Kind == "" {
		return nil
	}
	return &Error{Kind: o.Kind, OrderID: o.OrderID, Status: o.Status, ProviderMessage: o.ProviderMessage}
}
