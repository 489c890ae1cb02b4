package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/companion/internal/config"
)

// Client owns the NATS connection that carries per-user pushes.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// userEventsStream keeps recent pushes so a client that reconnects within
// the hour can replay what it missed.
var userEventsStream = jetstream.StreamConfig{
	Name:              StreamUserEvents,
	Subjects:          []string{SubjectUserPrefix + ".>"},
	Retention:         jetstream.LimitsPolicy,
	Storage:           jetstream.FileStorage,
	Discard:           jetstream.DiscardOld,
	MaxAge:            time.Hour,
	MaxMsgsPerSubject: 100,
}

// NewClient connects and ensures the user events stream exists. Startup
// treats an error here as "run without pushes".
func NewClient(ctx context.Context, cfg config.NATSConfig) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("companion-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(streamCtx, userEventsStream); err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating stream %s: %w", userEventsStream.Name, err)
	}

	slog.Info("connected to NATS", "url", nc.ConnectedUrlRedacted(), "stream", userEventsStream.Name)
	return &Client{conn: nc, js: js}, nil
}

// JetStream is handed to the Publisher.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Healthy reports whether the connection is currently up.
func (c *Client) Healthy() bool {
	return c.conn.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		slog.Warn("draining NATS connection", "error", err)
	}
}
