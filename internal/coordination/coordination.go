// Package coordination subscribes to the operator's reshard and
// startup-coordination broadcasts and drives the worker's shard
// manager accordingly. Per-shard request/complete publishes are owned
// by internal/shardmanager directly, not this package.
package coordination

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/TheRockettek/stratum/internal/bus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Subscriber is the bus surface this handler needs.
type Subscriber interface {
	Subscribe(subject string, handler func(bus.Message)) (func() error, error)
	Topic(suffix string) string
}

// ShardManager is the narrow shard-manager surface the handler drives.
type ShardManager interface {
	UpdateShards(ctx context.Context, newTotal uint32) error
	ResizeSemaphore(ctx context.Context, max uint32) error
	SetShardsPerReplica(ctx context.Context, n uint32) error
}

type reshardMessage struct {
	Event         string `json:"event"`
	NewShardCount uint32 `json:"new_shard_count"`
}

type shardGroup struct {
	DeploymentName string `json:"deployment_name"`
	ShardStart     uint32 `json:"shard_start"`
	ShardEnd       uint32 `json:"shard_end"`
	Replicas       int32  `json:"replicas"`
}

type startupCoordinationMessage struct {
	Event          string       `json:"event"`
	Cluster        string       `json:"cluster"`
	MaxConcurrency uint32       `json:"max_concurrency"`
	TotalShards    uint32       `json:"total_shards"`
	ShardGroups    []shardGroup `json:"shard_groups"`
}

// Handler wires the two operator broadcast topics to a ShardManager.
type Handler struct {
	Bus     Subscriber
	Manager ShardManager
	Log     zerolog.Logger

	// lastShardGroups caches the most recent startup_coordination
	// payload's groups, per SPEC_FULL §4.5.1, so shards_per_replica can
	// be derived without the worker talking to the reconciler directly.
	lastShardGroups  []shardGroup
	lastMaxConc      uint32
	lastShardsPerRep uint32
}

// NewHandler wires h against bus and manager.
func NewHandler(subscriber Subscriber, manager ShardManager, log zerolog.Logger) *Handler {
	return &Handler{Bus: subscriber, Manager: manager, Log: log}
}

// Subscribe registers both operator topics. The returned func
// unsubscribes from both; callers should defer it.
func (h *Handler) Subscribe(ctx context.Context) (func() error, error) {
	unsubReshard, err := h.Bus.Subscribe(h.Bus.Topic("operator.reshard"), func(msg bus.Message) {
		h.handleReshard(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	unsubStartup, err := h.Bus.Subscribe(h.Bus.Topic("operator.startup"), func(msg bus.Message) {
		h.handleStartup(ctx, msg)
	})
	if err != nil {
		unsubReshard()
		return nil, err
	}

	return func() error {
		err1 := unsubReshard()
		err2 := unsubStartup()
		if err1 != nil {
			return err1
		}
		return err2
	}, nil
}

func (h *Handler) handleReshard(ctx context.Context, msg bus.Message) {
	var payload reshardMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		h.Log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed reshard message")
		return
	}
	if payload.Event != "reshard" {
		h.Log.Warn().Str("event", payload.Event).Msg("dropping reshard message with unexpected event field")
		return
	}

	if err := h.Manager.UpdateShards(ctx, payload.NewShardCount); err != nil {
		h.Log.Error().Err(err).Uint32("new_shard_count", payload.NewShardCount).Msg("failed to apply reshard")
	}
}

func (h *Handler) handleStartup(ctx context.Context, msg bus.Message) {
	var payload startupCoordinationMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		h.Log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed startup_coordination message")
		return
	}
	if payload.Event != "startup_coordination" {
		h.Log.Warn().Str("event", payload.Event).Msg("dropping startup_coordination message with unexpected event field")
		return
	}

	h.lastShardGroups = payload.ShardGroups

	if payload.MaxConcurrency != h.lastMaxConc {
		h.lastMaxConc = payload.MaxConcurrency
		if err := h.Manager.ResizeSemaphore(ctx, payload.MaxConcurrency); err != nil {
			h.Log.Error().Err(err).Uint32("max_concurrency", payload.MaxConcurrency).Msg("failed to resize startup semaphore")
		}
	}

	if shardsPerReplica, ok := shardsPerReplicaOf(payload.ShardGroups); ok && shardsPerReplica != h.lastShardsPerRep {
		h.lastShardsPerRep = shardsPerReplica
		if err := h.Manager.SetShardsPerReplica(ctx, shardsPerReplica); err != nil {
			h.Log.Error().Err(err).Uint32("shards_per_replica", shardsPerReplica).Msg("failed to update shards_per_replica")
		}
	}
}

// shardsPerReplicaOf derives the group size from the first shard group:
// every group but the last covers exactly shards_per_replica shards, per
// internal/partition.Groups.
func shardsPerReplicaOf(groups []shardGroup) (uint32, bool) {
	if len(groups) == 0 {
		return 0, false
	}
	return groups[0].ShardEnd - groups[0].ShardStart + 1, true
}
