package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr/funcr"
	"github.com/rs/zerolog"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	stratumv1alpha1 "github.com/TheRockettek/stratum/api/v1alpha1"
	"github.com/TheRockettek/stratum/internal/bus"
	"github.com/TheRockettek/stratum/internal/operatorconfig"
	"github.com/TheRockettek/stratum/internal/reconciler"
)

var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	cfg, err := operatorconfig.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load operator configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	crlog.SetLogger(funcr.New(func(prefix, args string) {
		zlog.Info().Msg(prefix + " " + args)
	}, funcr.Options{}))

	scheme, err := newScheme()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to build runtime scheme")
	}

	restConfig, err := config.GetConfigWithContext("")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to resolve kubeconfig")
	}

	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.MetricsAddr},
		HealthProbeBindAddress: cfg.HealthProbeAddr,
		LeaderElection:         cfg.LeaderElectionEnable,
		LeaderElectionID:       "stratum-operator-lock",
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to build controller manager")
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		zlog.Fatal().Err(err).Msg("failed to register health check")
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		zlog.Fatal().Err(err).Msg("failed to register readiness check")
	}

	busClient, err := bus.Connect(ctx, cfg.BusURL, cfg.Fleet, cfg.Prefix, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to bus")
	}
	defer busClient.Close()

	if err := busClient.EnsureStream(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("failed to ensure persistent stream")
	}

	reconciler.RateLimitGuard = cfg.RateLimitGuard
	reconciler.SteadyStateRequeue = cfg.SteadyStateRequeue
	reconciler.RateLimitRequeue = cfg.RateLimitRequeue
	reconciler.TransientRequeue = cfg.TransientRequeue

	rec := reconciler.NewReconciler(mgr.GetClient(), busClient, cfg.Fleet)
	if err := rec.SetupWithManager(mgr); err != nil {
		zlog.Fatal().Err(err).Msg("failed to wire reconciler into manager")
	}

	reconciler.TickInterval = cfg.SchedulerInterval
	sched := reconciler.NewScheduler(mgr.GetClient())
	go sched.Run(ctx)

	zlog.Info().Str("bus_url", cfg.BusURL).Str("fleet", cfg.Fleet).Msg("starting operator")

	if err := mgr.Start(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("manager exited with error")
	}
}

func newScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, err
	}
	if err := appsv1.AddToScheme(scheme); err != nil {
		return nil, err
	}
	if err := stratumv1alpha1.AddToScheme(scheme); err != nil {
		return nil, err
	}
	return scheme, nil
}
