// Package operatorconfig loads the operator's environment-variable
// contract: which kubeconfig (or in-cluster config) to reconcile
// against, the bus URL and fleet/topic prefix, and the reconcile-loop
// durations spec §4.2/§4.3 default to literal values for.
package operatorconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

// Config is the operator's resolved configuration.
type Config struct {
	// KubeconfigPath is empty when the operator should use in-cluster
	// config (the default when running as a Deployment).
	KubeconfigPath string

	BusURL string
	Fleet  string
	Prefix string

	MetricsAddr          string
	HealthProbeAddr      string
	LeaderElectionEnable bool

	RateLimitGuard     time.Duration
	SteadyStateRequeue time.Duration
	RateLimitRequeue   time.Duration
	TransientRequeue   time.Duration
	SchedulerInterval  time.Duration
}

const (
	defaultBusURL             = "nats://127.0.0.1:4222"
	defaultFleet              = "stratum"
	defaultMetricsAddr        = ":8080"
	defaultHealthProbeAddr    = ":8081"
	defaultRateLimitGuard     = 10 * time.Minute
	defaultSteadyStateRequeue = 30 * time.Minute
	defaultRateLimitRequeue   = 5 * time.Minute
	defaultTransientRequeue   = 2 * time.Minute
	defaultSchedulerInterval  = time.Hour
)

// Load reads the operator's configuration from the environment. Every
// field has a production default; nothing is required.
func Load() (Config, error) {
	cfg := Config{
		KubeconfigPath:       os.Getenv("KUBECONFIG"),
		BusURL:               envOr("BUS_URL", defaultBusURL),
		Fleet:                envOr("FLEET", defaultFleet),
		MetricsAddr:          envOr("METRICS_ADDR", defaultMetricsAddr),
		HealthProbeAddr:      envOr("HEALTH_PROBE_ADDR", defaultHealthProbeAddr),
		LeaderElectionEnable: envBool("LEADER_ELECTION_ENABLE", false),
		RateLimitGuard:       defaultRateLimitGuard,
		SteadyStateRequeue:   defaultSteadyStateRequeue,
		RateLimitRequeue:     defaultRateLimitRequeue,
		TransientRequeue:     defaultTransientRequeue,
		SchedulerInterval:    defaultSchedulerInterval,
	}

	cfg.Prefix = envOr("TOPIC_PREFIX", cfg.Fleet)

	var err error
	if cfg.RateLimitGuard, err = durationOr("RATE_LIMIT_GUARD", cfg.RateLimitGuard); err != nil {
		return Config{}, err
	}
	if cfg.SteadyStateRequeue, err = durationOr("STEADY_STATE_REQUEUE", cfg.SteadyStateRequeue); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRequeue, err = durationOr("RATE_LIMIT_REQUEUE", cfg.RateLimitRequeue); err != nil {
		return Config{}, err
	}
	if cfg.TransientRequeue, err = durationOr("TRANSIENT_REQUEUE", cfg.TransientRequeue); err != nil {
		return Config{}, err
	}
	if cfg.SchedulerInterval, err = durationOr("SCHEDULER_INTERVAL", cfg.SchedulerInterval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: operatorconfig: %s: %w", stratumerrors.ErrConfig, key, err)
	}
	return d, nil
}
