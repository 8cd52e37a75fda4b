package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSTransport publishes the outcome event as JSON for other services.
type NATSTransport struct {
	pub     Publisher
	subject string
}

func NewNATSTransport(pub Publisher, subject string) *NATSTransport {
	return &NATSTransport{pub: pub, subject: subject}
}

func (t *NATSTransport) Name() string { return "nats" }

func (t *NATSTransport) Send(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}
	if err := t.pub.Publish(t.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", t.subject, err)
	}
	return nil
}
