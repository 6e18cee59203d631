package reconciler

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	stratumv1alpha1 "github.com/TheRockettek/stratum/api/v1alpha1"
)

// TickInterval is the reshard scheduler's tick interval (spec: 1 hour).
var TickInterval = time.Hour

// Scheduler periodically annotates stale ShardCluster records to wake
// the Reconciler's watch. It never calls the vendor itself.
type Scheduler struct {
	client.Client
	Now func() time.Time
}

// NewScheduler wires a Scheduler with production defaults.
func NewScheduler(c client.Client) *Scheduler {
	return &Scheduler{Client: c, Now: time.Now}
}

// Run ticks every TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs a single scheduler pass synchronously, so callers (and
// tests) can drive it without waiting on TickInterval.
func (s *Scheduler) Tick(ctx context.Context) {
	logger := log.FromContext(ctx)

	var clusters stratumv1alpha1.ShardClusterList
	if err := s.List(ctx, &clusters); err != nil {
		logger.Error(err, "failed to list shardclusters")
		return
	}

	now := s.Now()

	for i := range clusters.Items {
		cluster := &clusters.Items[i]
		if !shouldReshard(cluster, now) {
			continue
		}

		patch := client.MergeFrom(cluster.DeepCopy())
		if cluster.Annotations == nil {
			cluster.Annotations = map[string]string{}
		}
		cluster.Annotations[stratumv1alpha1.ReshardTriggerAnnotation] = now.UTC().Format(time.RFC3339)

		if err := s.Patch(ctx, cluster, patch); err != nil {
			logger.Error(err, "failed to trigger reshard", "shardcluster", types.NamespacedName{
				Namespace: cluster.Namespace,
				Name:      cluster.Name,
			})
		}
	}
}

// shouldReshard implements spec §4.3's should_reshard predicate.
func shouldReshard(cluster *stratumv1alpha1.ShardCluster, now time.Time) bool {
	if cluster.Status.LastReshard == nil {
		return true
	}

	interval := time.Duration(cluster.Spec.ReshardIntervalHours) * time.Hour
	return now.Sub(cluster.Status.LastReshard.Time) >= interval
}
