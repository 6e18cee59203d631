package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheRockettek/stratum/internal/bus"
	"github.com/TheRockettek/stratum/internal/coordination"
	"github.com/TheRockettek/stratum/internal/gatewayclient"
	"github.com/TheRockettek/stratum/internal/retry"
	"github.com/TheRockettek/stratum/internal/shardmanager"
	"github.com/TheRockettek/stratum/internal/workerconfig"
)

var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	cfg, err := workerconfig.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load worker configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fleet, prefix := workerFleetAndPrefix(cfg.WorkerID)

	busClient, err := bus.Connect(ctx, cfg.BusURL, fleet, prefix, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to bus")
	}
	defer busClient.Close()

	if err := busClient.EnsureStream(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("failed to ensure persistent stream")
	}

	if err := busClient.PublishRaw(ctx, busClient.Topic("gateway.startup"), []byte("Bot is starting up!"), retry.RunnerPublish()); err != nil {
		zlog.Warn().Err(err).Msg("failed to publish startup announcement")
	}

	manager := shardmanager.New(
		shardmanager.Config{
			ShardIDStart:     cfg.ShardIDStart,
			ShardIDEnd:       cfg.ShardIDEnd,
			TotalShards:      cfg.TotalShards,
			GroupIndex:       cfg.GroupIndex,
			ShardsPerReplica: cfg.ShardsPerReplica,
			MaxConcurrency:   cfg.MaxConcurrency,
			WorkerID:         cfg.WorkerID,
		},
		busClient,
		newShardFactory(cfg.VendorToken),
		zlog,
	)

	go logSessionEvents(manager)
	go manager.Run(ctx)

	handler := coordination.NewHandler(busClient, manager, zlog)
	unsubscribe, err := handler.Subscribe(ctx)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to subscribe to operator coordination topics")
	}
	defer unsubscribe()

	if err := manager.StartShards(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("failed to start assigned shards")
	}

	zlog.Info().
		Str("worker_id", cfg.WorkerID).
		Uint32("shard_id_start", cfg.ShardIDStart).
		Uint32("shard_id_end", cfg.ShardIDEnd).
		Uint32("total_shards", cfg.TotalShards).
		Msg("worker started")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)
}

func newShardFactory(token string) shardmanager.Factory {
	return func(shardID, totalShards uint32) shardmanager.ShardClient {
		return gatewayclient.New(gatewayclient.Config{Token: token}, int(shardID), int(totalShards))
	}
}

func logSessionEvents(manager *shardmanager.Manager) {
	for ev := range manager.Events() {
		if ev.Err != nil {
			zlog.Warn().Err(ev.Err).Uint32("shard", ev.ShardID).Str("phase", ev.Phase).Msg("shard session event")
			continue
		}
		zlog.Info().Uint32("shard", ev.ShardID).Str("phase", ev.Phase).Msg("shard session event")
	}
}

// workerFleetAndPrefix derives the fleet/topic-prefix from the worker's
// id of the form "<fleet>-group-<N>", falling back to the id itself
// when it does not match that shape.
func workerFleetAndPrefix(workerID string) (fleet, prefix string) {
	const marker = "-group-"
	for i := 0; i+len(marker) <= len(workerID); i++ {
		if workerID[i:i+len(marker)] == marker {
			return workerID[:i], workerID[:i]
		}
	}
	return workerID, workerID
}
