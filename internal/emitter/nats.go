package emitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mbd888/riskflow/internal/retry"
)

// NATSPublisher publishes events over a NATS connection. Each publish is
// followed by a flush so the broker has the message before Publish returns.
type NATSPublisher struct {
	conn         *nats.Conn
	flushTimeout time.Duration
}

// ConnectNATS dials url with reconnect handling suitable for a long-lived
// pipeline process.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("riskflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return conn, nil
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn, flushTimeout: 5 * time.Second}
}

// Publish sends data to topic and waits for the broker to acknowledge the
// flush.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if err := p.conn.Publish(topic, data); err != nil {
		// A closed connection stays closed; retrying cannot help.
		if errors.Is(err, nats.ErrConnectionClosed) {
			return retry.Permanent(fmt.Errorf("nats publish to %s: %w", topic, err))
		}
		return fmt.Errorf("nats publish to %s: %w", topic, err)
	}

	timeout := p.flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("nats flush for %s: %w", topic, err)
	}
	return nil
}
