package logstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// subjectPrefix namespaces log traffic on the broker; one subject per app.
const subjectPrefix = "slipway.logs."

// NATSRouter routes log lines over a NATS broker so that multiple server
// nodes see every app's output regardless of which node runs the dyno.
type NATSRouter struct {
	conn *nats.Conn
}

var _ Router = (*NATSRouter)(nil)

// NewNATSRouter connects to the NATS broker at url.
func NewNATSRouter(url string) (*NATSRouter, error) {
	conn, err := nats.Connect(url,
		nats.Name("slipway-logstream"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %q: %w", url, err)
	}
	return &NATSRouter{conn: conn}, nil
}

// Publish sends the line to the app's log subject.
func (r *NATSRouter) Publish(_ context.Context, line Line) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to encode log line: %w", err)
	}
	if err := r.conn.Publish(subjectPrefix+line.App, data); err != nil {
		return fmt.Errorf("failed to publish log line: %w", err)
	}
	return nil
}

// Subscribe returns a channel of lines for the named app.  The subscription
// is torn down and the channel closed when ctx is cancelled.  Lines that fail
// to decode are dropped.
func (r *NATSRouter) Subscribe(ctx context.Context, app string) (<-chan Line, error) {
	ch := make(chan Line, subscriberBuffer)
	sub, err := r.conn.Subscribe(subjectPrefix+app, func(msg *nats.Msg) {
		var line Line
		if err := json.Unmarshal(msg.Data, &line); err != nil {
			return
		}
		select {
		case ch <- line:
		default:
			// slow subscriber, drop the line rather than block the broker callback
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs for %q: %w", app, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(ch)
	}()
	return ch, nil
}

// Close drains and closes the broker connection.
func (r *NATSRouter) Close() error {
	if err := r.conn.Drain(); err != nil {
		return fmt.Errorf("error draining NATS connection: %w", err)
	}
	return nil
}
