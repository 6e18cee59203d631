package workerconfig_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/stratum/internal/workerconfig"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BUS_URL", "SHARD_ID_START", "SHARD_ID_END", "TOTAL_SHARDS",
		"WORKER_ID", "MAX_CONCURRENCY", "VENDOR_TOKEN", "SHARDS_PER_REPLICA",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("SHARD_ID_START", "0")
	os.Setenv("SHARD_ID_END", "1")
	os.Setenv("TOTAL_SHARDS", "4")
	os.Setenv("VENDOR_TOKEN", "shh")

	cfg, err := workerconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, "unknown", cfg.WorkerID)
	assert.Equal(t, uint32(1), cfg.MaxConcurrency)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.BusURL)
	assert.Equal(t, uint32(0), cfg.GroupIndex)
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t)
	_, err := workerconfig.Load()
	assert.Error(t, err)
}

func TestLoad_ParsesGroupIndex(t *testing.T) {
	clearEnv(t)
	os.Setenv("SHARD_ID_START", "4")
	os.Setenv("SHARD_ID_END", "5")
	os.Setenv("TOTAL_SHARDS", "6")
	os.Setenv("VENDOR_TOKEN", "shh")
	os.Setenv("WORKER_ID", "stratum-group-2")

	cfg, err := workerconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cfg.GroupIndex)
}

func TestParseGroupIndex_NonMatchingYieldsZero(t *testing.T) {
	assert.Equal(t, uint32(0), workerconfig.ParseGroupIndex("some-other-name"))
	assert.Equal(t, uint32(0), workerconfig.ParseGroupIndex("stratum-group-abc"))
	assert.Equal(t, uint32(7), workerconfig.ParseGroupIndex("stratum-group-7"))
}
