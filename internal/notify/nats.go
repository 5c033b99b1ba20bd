package notify

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBackend publishes notifications to a NATS subject.
type NATSBackend struct {
	conn    *nats.Conn
	subject string
}

func NewNATSBackend(url, subject string, timeout time.Duration) (*NATSBackend, error) {
	conn, err := nats.Connect(url, nats.Name("cloudemu"), nats.Timeout(timeout))
	if err != nil {
		return nil, err
	}
	return &NATSBackend{conn: conn, subject: subject}, nil
}

func (n *NATSBackend) Name() string {
	return "nats"
}

// Publish waits for the server to acknowledge the flush so a dead
// connection surfaces as a delivery error.
func (n *NATSBackend) Publish(ctx context.Context, payload []byte) error {
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return err
	}
	return n.conn.FlushWithContext(ctx)
}

func (n *NATSBackend) Close() error {
	n.conn.Close()
	return nil
}
