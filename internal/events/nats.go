package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream that holds brieflow events.
const StreamName = "BRIEFLOW"

// NATSSink publishes events to JetStream under "brieflow.events.<type>".
// Publish failures are logged and dropped.
type NATSSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	timeout time.Duration
	logger  *slog.Logger
}

// NewNATSSink connects to NATS and makes sure the event stream exists.
func NewNATSSink(ctx context.Context, url string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"brieflow.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		// The stream may be managed externally.
		logger.Warn("failed to ensure event stream", "stream", StreamName, "error", err)
	}

	return &NATSSink{nc: nc, js: js, timeout: 2 * time.Second, logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func Subject(eventType string) string {
	return "brieflow.events." + eventType
}

// Emit implements Sink.
func (s *NATSSink) Emit(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("failed to marshal event", "type", e.Type, "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if _, err := s.js.Publish(pubCtx, Subject(e.Type), data); err != nil {
		s.logger.Warn("failed to publish event", "subject", Subject(e.Type), "error", err)
	}
}

// Close drains the connection.
func (s *NATSSink) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}
