// Package bus wraps the NATS connection this fleet publishes gateway
// frames and coordination messages through: durable publish with retry,
// topic subscription, and persistent stream creation.
package bus

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/TheRockettek/stratum/internal/retry"
	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StreamNameSuffix is appended to the fleet name to form the persistent
// stream's name (spec: "<fleet>-events").
const StreamNameSuffix = "-events"

// Client is a thin wrapper around *nats.Conn plus its JetStream context.
type Client struct {
	Fleet string
	Prefix string

	conn *nats.Conn
	js   nats.JetStreamContext
	log  zerolog.Logger
}

// Connect dials url, retrying under the retry.StreamCreate budget (at
// most 10 attempts within 5 minutes) or until ctx is cancelled.
func Connect(ctx context.Context, url, fleet, prefix string, log zerolog.Logger) (*Client, error) {
	var conn *nats.Conn

	err := retry.Do(ctx, retry.StreamCreate(), func() error {
		log.Debug().Str("url", url).Msg("connecting to bus")
		c, err := nats.Connect(url)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to bus, retrying")
			return fmt.Errorf("%w: %w", stratumerrors.ErrTransientBus, err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}

	log.Info().Str("url", url).Msg("connected to bus")

	return &Client{Fleet: fleet, Prefix: prefix, conn: conn, js: js, log: log}, nil
}

// Close closes the underlying connection without draining it.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// EnsureStream creates (or adopts) the fleet's persistent stream,
// retrying under the 5-minute/10-attempt budget.
func (c *Client) EnsureStream(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:     c.Fleet + StreamNameSuffix,
		Subjects: []string{c.Prefix + ".shards.>"},
		MaxMsgs:  10000,
	}

	return retry.Do(ctx, retry.StreamCreate(), func() error {
		if _, err := c.js.StreamInfo(cfg.Name); err == nil {
			return nil
		}
		if _, err := c.js.AddStream(cfg); err != nil {
			c.log.Warn().Err(err).Str("stream", cfg.Name).Msg("failed to ensure stream, retrying")
			return fmt.Errorf("%w: %w", stratumerrors.ErrTransientBus, err)
		}
		c.log.Info().Str("stream", cfg.Name).Msg("ensured persistent stream")
		return nil
	})
}

// PublishRaw publishes data to subject under the given retry budget. A
// publish that exhausts its budget is fatal and wrapped in
// stratumerrors.ErrTransientBus.
func (c *Client) PublishRaw(ctx context.Context, subject string, data []byte, budget retry.Budget) error {
	err := retry.Do(ctx, budget, func() error {
		if err := c.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("%w: publish %s: %w", stratumerrors.ErrTransientBus, subject, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// PublishJSON marshals v and publishes it to subject under budget.
func (c *Client) PublishJSON(ctx context.Context, subject string, v interface{}, budget retry.Budget) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal payload for %s: %w", subject, err)
	}
	return c.PublishRaw(ctx, subject, data, budget)
}

// Message is a single inbound message delivered to a Subscribe handler.
type Message struct {
	Subject string
	Data    []byte
}

// Subscribe registers handler on subject and returns an unsubscribe
// func. The handler runs on NATS's own dispatch goroutine, matching the
// teacher's fire-and-forget subscription style; callers that need
// sequential processing should hand off to their own goroutine/queue.
func (c *Client) Subscribe(subject string, handler func(Message)) (func() error, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(Message{Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", stratumerrors.ErrTransientBus, subject, err)
	}
	return sub.Unsubscribe, nil
}

// Topic builds "<prefix>.<suffix>".
func (c *Client) Topic(suffix string) string {
	return c.Prefix + "." + suffix
}
