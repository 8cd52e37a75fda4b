package nats

import (
	"time"

	"github.com/nats-io/nats.go"
)

// Conn wraps a NATS connection so callers can be handed a single value
// instead of reaching for a package global.
type Conn struct {
	nc *nats.Conn
}

func Connect(url, name string) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Conn{nc: nc}, nil
}

func (c *Conn) Close() {
	if c != nil && c.nc != nil {
		c.nc.Drain()
	}
}

func (c *Conn) Publish(subject string, data []byte) error {
	if c == nil || c.nc == nil {
		return nats.ErrConnectionClosed
	}
	return c.nc.Publish(subject, data)
}

func (c *Conn) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if c == nil || c.nc == nil {
		return nil, nats.ErrConnectionClosed
	}
	return c.nc.Subscribe(subject, handler)
}

// QueueSubscribe lets several orchestrator replicas share one payment stream.
func (c *Conn) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if c == nil || c.nc == nil {
		return nil, nats.ErrConnectionClosed
	}
	return c.nc.QueueSubscribe(subject, queue, handler)
}
