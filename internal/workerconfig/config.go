// Package workerconfig loads the environment-variable contract between
// the reconciler and a worker replica (spec §6's worker environment
// variables), and derives the worker's group index from its WORKER_ID.
package workerconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

// Config is a worker replica's resolved configuration.
type Config struct {
	BusURL         string
	ShardIDStart   uint32
	ShardIDEnd     uint32
	TotalShards    uint32
	WorkerID       string
	MaxConcurrency uint32
	VendorToken    string

	// GroupIndex is parsed from WorkerID's "<fleet>-group-<N>" suffix.
	// A WorkerID that does not match yields 0.
	GroupIndex uint32

	// ShardsPerReplica is read from SHARDS_PER_REPLICA, which the
	// reconciler sets on every worker Deployment alongside the spec §6
	// variables; it is 0 when unset. The worker's shard manager keeps its
	// own copy, which the coordination handler replaces via
	// SetShardsPerReplica when a startup_coordination broadcast implies a
	// different group size (§4.5.1).
	ShardsPerReplica uint32
}

const (
	defaultWorkerID       = "unknown"
	defaultMaxConcurrency = uint32(1)
	defaultBusURL         = "nats://127.0.0.1:4222"
)

// Load reads the worker's configuration from the environment. SHARD_ID_START,
// SHARD_ID_END, TOTAL_SHARDS, and VENDOR_TOKEN are required.
func Load() (Config, error) {
	cfg := Config{
		BusURL:         envOr("BUS_URL", defaultBusURL),
		WorkerID:       envOr("WORKER_ID", defaultWorkerID),
		MaxConcurrency: defaultMaxConcurrency,
	}

	var err error

	cfg.ShardIDStart, err = requireUint32("SHARD_ID_START")
	if err != nil {
		return Config{}, err
	}

	cfg.ShardIDEnd, err = requireUint32("SHARD_ID_END")
	if err != nil {
		return Config{}, err
	}

	cfg.TotalShards, err = requireUint32("TOTAL_SHARDS")
	if err != nil {
		return Config{}, err
	}

	cfg.VendorToken = strings.TrimSpace(os.Getenv("VENDOR_TOKEN"))
	if cfg.VendorToken == "" {
		return Config{}, fmt.Errorf("%w: workerconfig: VENDOR_TOKEN is required", stratumerrors.ErrConfig)
	}

	if raw, ok := os.LookupEnv("MAX_CONCURRENCY"); ok {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("%w: workerconfig: MAX_CONCURRENCY: %w", stratumerrors.ErrConfig, err)
		}
		cfg.MaxConcurrency = uint32(v)
	}

	cfg.GroupIndex = ParseGroupIndex(cfg.WorkerID)

	if raw, ok := os.LookupEnv("SHARDS_PER_REPLICA"); ok {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("%w: workerconfig: SHARDS_PER_REPLICA: %w", stratumerrors.ErrConfig, err)
		}
		cfg.ShardsPerReplica = uint32(v)
	}

	return cfg, nil
}

// ParseGroupIndex extracts N from a worker id of the form
// "<fleet>-group-<N>". A non-matching id yields 0 (spec §4.4 step 2).
func ParseGroupIndex(workerID string) uint32 {
	idx := strings.LastIndex(workerID, "-group-")
	if idx < 0 {
		return 0
	}

	suffix := workerID[idx+len("-group-"):]
	n, err := strconv.ParseUint(suffix, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func requireUint32(key string) (uint32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: workerconfig: %s is required", stratumerrors.ErrConfig, key)
	}

	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: workerconfig: %s: %w", stratumerrors.ErrConfig, key, err)
	}
	return uint32(v), nil
}
