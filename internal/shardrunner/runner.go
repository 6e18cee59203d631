// Package shardrunner pumps frames from one shard's gateway connection
// to the bus: a startup announcement, then a forward-verbatim loop with
// bounded-retry publish, until the gateway stream ends or reports a
// reconnect-class error.
package shardrunner

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TheRockettek/stratum/internal/gatewayclient"
	"github.com/TheRockettek/stratum/internal/retry"
	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

// GatewayClient is the narrow shard-transport interface the runner
// needs, so tests can drive it with a fake instead of a real
// websocket connection.
type GatewayClient interface {
	Next(ctx context.Context) (gatewayclient.Frame, error)
}

// Publisher is the narrow bus interface the runner needs.
type Publisher interface {
	PublishRaw(ctx context.Context, subject string, data []byte, budget retry.Budget) error
	Topic(suffix string) string
}

// Run pumps frames from shard until the gateway stream ends normally
// (nil return) or a reconnect-class error is encountered (non-nil
// return, caller restarts after its own cool-off).
func Run(ctx context.Context, shardID int, shard GatewayClient, bus Publisher, log zerolog.Logger) error {
	startupBody := fmt.Sprintf("Shard %d is starting", shardID)
	startupTopic := bus.Topic(fmt.Sprintf("shards.%d.startup", shardID))
	eventsTopic := bus.Topic(fmt.Sprintf("shards.%d.events", shardID))

	if err := bus.PublishRaw(ctx, startupTopic, []byte(startupBody), retry.RunnerPublish()); err != nil {
		return fmt.Errorf("shardrunner: shard %d: startup announcement: %w", shardID, err)
	}

	for {
		frame, err := shard.Next(ctx)
		if err != nil {
			if errors.Is(err, gatewayclient.ErrStreamClosed) {
				return nil
			}
			if errors.Is(err, stratumerrors.ErrGatewayReconnect) {
				return fmt.Errorf("shardrunner: shard %d: %w", shardID, err)
			}
			log.Warn().Err(err).Int("shard", shardID).Msg("non-reconnect gateway error, continuing")
			continue
		}

		switch frame.Type {
		case gatewayclient.FrameClose:
			continue
		default:
			if err := bus.PublishRaw(ctx, eventsTopic, frame.Data, retry.RunnerPublish()); err != nil {
				return fmt.Errorf("shardrunner: shard %d: publish event: %w", shardID, err)
			}
		}
	}
}
