package operatorconfig_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/stratum/internal/operatorconfig"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"KUBECONFIG", "BUS_URL", "FLEET", "TOPIC_PREFIX", "METRICS_ADDR",
		"HEALTH_PROBE_ADDR", "LEADER_ELECTION_ENABLE", "RATE_LIMIT_GUARD",
		"STEADY_STATE_REQUEUE", "RATE_LIMIT_REQUEUE", "TRANSIENT_REQUEUE",
		"SCHEDULER_INTERVAL",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := operatorconfig.Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.KubeconfigPath)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.BusURL)
	assert.Equal(t, "stratum", cfg.Fleet)
	assert.Equal(t, "stratum", cfg.Prefix)
	assert.False(t, cfg.LeaderElectionEnable)
	assert.Equal(t, 10*time.Minute, cfg.RateLimitGuard)
	assert.Equal(t, 30*time.Minute, cfg.SteadyStateRequeue)
	assert.Equal(t, 5*time.Minute, cfg.RateLimitRequeue)
	assert.Equal(t, 2*time.Minute, cfg.TransientRequeue)
	assert.Equal(t, time.Hour, cfg.SchedulerInterval)
}

func TestLoad_PrefixDefaultsToFleetWhenFleetOverridden(t *testing.T) {
	clearEnv(t)
	os.Setenv("FLEET", "acme")

	cfg, err := operatorconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Fleet)
	assert.Equal(t, "acme", cfg.Prefix)
}

func TestLoad_TopicPrefixOverridesIndependently(t *testing.T) {
	clearEnv(t)
	os.Setenv("FLEET", "acme")
	os.Setenv("TOPIC_PREFIX", "acme-staging")

	cfg, err := operatorconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Fleet)
	assert.Equal(t, "acme-staging", cfg.Prefix)
}

func TestLoad_OverridesDurations(t *testing.T) {
	clearEnv(t)
	os.Setenv("RATE_LIMIT_GUARD", "1m")
	os.Setenv("SCHEDULER_INTERVAL", "15m")

	cfg, err := operatorconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.RateLimitGuard)
	assert.Equal(t, 15*time.Minute, cfg.SchedulerInterval)
}

func TestLoad_InvalidDurationErrors(t *testing.T) {
	clearEnv(t)
	os.Setenv("RATE_LIMIT_GUARD", "not-a-duration")

	_, err := operatorconfig.Load()
	assert.Error(t, err)
}

func TestLoad_LeaderElectionParsesBool(t *testing.T) {
	clearEnv(t)
	os.Setenv("LEADER_ELECTION_ENABLE", "true")

	cfg, err := operatorconfig.Load()
	require.NoError(t, err)
	assert.True(t, cfg.LeaderElectionEnable)
}
