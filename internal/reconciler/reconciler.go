// Package reconciler implements the cluster-resource control loop: it
// rate-limits its own vendor API calls, computes a partitioning via
// internal/partition, reconciles worker replicas via
// internal/orchestrator, and broadcasts reshard/startup events over
// internal/bus.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	stratumv1alpha1 "github.com/TheRockettek/stratum/api/v1alpha1"
	"github.com/TheRockettek/stratum/internal/discordrest"
	"github.com/TheRockettek/stratum/internal/orchestrator"
	"github.com/TheRockettek/stratum/internal/partition"
	"github.com/TheRockettek/stratum/internal/retry"
	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

// Durations named by spec §4.2/§4.3, kept as vars so tests can shrink
// them rather than hard-coding production timings into the control flow.
var (
	RateLimitGuard     = 10 * time.Minute
	SteadyStateRequeue = 30 * time.Minute
	RateLimitRequeue   = 5 * time.Minute
	TransientRequeue   = 2 * time.Minute
)

// VendorClient is the narrow interface the Reconciler needs from the
// vendor gateway client, so tests can substitute a fake.
type VendorClient interface {
	GetGatewayBot(ctx context.Context) (discordrest.GatewayInfo, error)
}

// Broadcaster is the narrow interface the Reconciler needs from the bus
// client, so tests can substitute a fake instead of dialing a real
// NATS server.
type Broadcaster interface {
	PublishJSON(ctx context.Context, subject string, v interface{}, budget retry.Budget) error
	Topic(suffix string) string
}

// Reconciler reconciles ShardCluster objects.
type Reconciler struct {
	client.Client

	Bus   Broadcaster
	Fleet string

	// NewVendorClient builds a VendorClient bound to a freshly resolved
	// token. Exposed as a func field so tests can inject a fake without
	// needing a real vendor token.
	NewVendorClient func(token string) VendorClient

	// Now is exposed for tests; defaults to time.Now.
	Now func() time.Time
}

// NewReconciler wires a Reconciler with production defaults.
func NewReconciler(c client.Client, busClient Broadcaster, fleet string) *Reconciler {
	return &Reconciler{
		Client: c,
		Bus:    busClient,
		Fleet:  fleet,
		NewVendorClient: func(token string) VendorClient {
			return discordrest.NewClient(token)
		},
		Now: time.Now,
	}
}

// Reconcile implements reconcile.Reconciler.
func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("shardcluster", req.NamespacedName)

	cluster := &stratumv1alpha1.ShardCluster{}
	if err := r.Get(ctx, req.NamespacedName, cluster); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("reconciler: get shardcluster: %w", err)
	}

	result, err := r.reconcile(ctx, cluster)
	if err != nil {
		return r.errorPolicy(logger, err), nil
	}
	return result, nil
}

// errorPolicy classifies err's string form per spec §4.2 and returns
// the requeue interval the control loop should use.
func (r *Reconciler) errorPolicy(logger logr.Logger, err error) ctrl.Result {
	if stratumerrors.IsRateLimit(err) {
		logger.Error(err, "vendor rate limited, backing off")
		return ctrl.Result{RequeueAfter: RateLimitRequeue}
	}
	logger.Error(err, "reconcile failed")
	return ctrl.Result{RequeueAfter: TransientRequeue}
}

func (r *Reconciler) reconcile(ctx context.Context, cluster *stratumv1alpha1.ShardCluster) (ctrl.Result, error) {
	now := r.Now()

	bypass := r.reshardTriggerBypasses(cluster, now)

	if !bypass && cluster.Status.LastReshard != nil && now.Sub(cluster.Status.LastReshard.Time) < RateLimitGuard {
		return ctrl.Result{RequeueAfter: RateLimitGuard}, nil
	}

	orch := orchestrator.New(r.Client, cluster.Namespace)

	token, err := orch.GetToken(ctx, cluster.Spec.TokenSecretRef)
	if err != nil {
		return ctrl.Result{}, err
	}

	vendor := r.NewVendorClient(token)
	info, err := vendor.GetGatewayBot(ctx)
	if err != nil {
		return ctrl.Result{}, err
	}

	recommendedShards := uint32(info.RecommendedShards)
	maxConcurrency := uint32(info.MaxConcurrency)

	desiredGroups := partition.Groups(r.Fleet, recommendedShards, cluster.Spec.ShardsPerReplica)

	if len(desiredGroups) != len(cluster.Status.ShardGroups) {
		err := orch.ReconcileReplicas(ctx, orchestrator.ReconcileReplicasInput{
			ClusterName:      cluster.Name,
			WorkerImage:      cluster.Spec.WorkerImage,
			BusURL:           cluster.Spec.BusURL,
			TokenSecretName:  cluster.Spec.TokenSecretRef,
			TotalShards:      recommendedShards,
			MaxConcurrency:   maxConcurrency,
			ShardsPerReplica: cluster.Spec.ShardsPerReplica,
			DesiredGroups:    desiredGroups,
		})
		if err != nil {
			return ctrl.Result{}, err
		}
	}

	if err := r.broadcast(ctx, cluster.Name, recommendedShards, maxConcurrency, desiredGroups, now); err != nil {
		return ctrl.Result{}, err
	}

	if err := r.patchStatus(ctx, cluster, recommendedShards, desiredGroups, now); err != nil {
		return ctrl.Result{}, err
	}

	return ctrl.Result{RequeueAfter: SteadyStateRequeue}, nil
}

// reshardTriggerBypasses implements SPEC_FULL §4.3.1: a reshard-trigger
// annotation newer than the last reshard bypasses the rate-limit guard
// for one cycle.
func (r *Reconciler) reshardTriggerBypasses(cluster *stratumv1alpha1.ShardCluster, now time.Time) bool {
	raw, ok := cluster.Annotations[stratumv1alpha1.ReshardTriggerAnnotation]
	if !ok {
		return false
	}

	triggeredAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}

	if cluster.Status.LastReshard == nil {
		return true
	}

	return triggeredAt.After(cluster.Status.LastReshard.Time)
}

func (r *Reconciler) broadcast(ctx context.Context, clusterName string, totalShards, maxConcurrency uint32, groups []partition.Group, now time.Time) error {
	reshardMsg := reshardSignal{
		Event:         "reshard",
		NewShardCount: totalShards,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
	if err := r.Bus.PublishJSON(ctx, r.Bus.Topic("operator.reshard"), reshardMsg, retry.StreamCreate()); err != nil {
		return fmt.Errorf("reconciler: broadcast reshard: %w", err)
	}

	statusGroups := toShardGroupStatus(groups)
	payloadGroups := make([]shardGroupPayload, len(statusGroups))
	for i, g := range statusGroups {
		payloadGroups[i] = shardGroupPayload(g)
	}

	startupMsg := startupCoordination{
		Event:          "startup_coordination",
		Cluster:        clusterName,
		MaxConcurrency: maxConcurrency,
		TotalShards:    totalShards,
		ShardGroups:    payloadGroups,
		Timestamp:      now.UTC().Format(time.RFC3339),
	}
	if err := r.Bus.PublishJSON(ctx, r.Bus.Topic("operator.startup"), startupMsg, retry.StreamCreate()); err != nil {
		return fmt.Errorf("reconciler: broadcast startup coordination: %w", err)
	}

	return nil
}

func (r *Reconciler) patchStatus(ctx context.Context, cluster *stratumv1alpha1.ShardCluster, totalShards uint32, groups []partition.Group, now time.Time) error {
	// The reshard-trigger annotation lives in metadata, not status: a
	// Status().Patch only touches the /status subresource, so clearing
	// it has to go through a separate metadata patch.
	if _, ok := cluster.Annotations[stratumv1alpha1.ReshardTriggerAnnotation]; ok {
		annotationPatch := client.MergeFrom(cluster.DeepCopy())
		delete(cluster.Annotations, stratumv1alpha1.ReshardTriggerAnnotation)
		if err := r.Patch(ctx, cluster, annotationPatch); err != nil {
			return fmt.Errorf("reconciler: clear reshard trigger annotation: %w", err)
		}
	}

	patch := client.MergeFrom(cluster.DeepCopy())

	cluster.Status.CurrentShards = &totalShards
	lastReshard := metav1.NewTime(now)
	cluster.Status.LastReshard = &lastReshard
	cluster.Status.ShardGroups = toShardGroupStatus(groups)
	cluster.Status.Phase = "Active"

	if err := r.Status().Patch(ctx, cluster, patch); err != nil {
		return fmt.Errorf("reconciler: patch status: %w", err)
	}
	return nil
}

func toShardGroupStatus(groups []partition.Group) []stratumv1alpha1.ShardGroupStatus {
	out := make([]stratumv1alpha1.ShardGroupStatus, len(groups))
	for i, g := range groups {
		out[i] = stratumv1alpha1.ShardGroupStatus{
			DeploymentName: g.DeploymentName,
			ShardStart:     g.ShardStart,
			ShardEnd:       g.ShardEnd,
			Replicas:       g.Replicas,
		}
	}
	return out
}

type reshardSignal struct {
	Event         string `json:"event"`
	NewShardCount uint32 `json:"new_shard_count"`
	Timestamp     string `json:"timestamp"`
}

type startupCoordination struct {
	Event          string                             `json:"event"`
	Cluster        string                             `json:"cluster"`
	MaxConcurrency uint32                              `json:"max_concurrency"`
	TotalShards    uint32                              `json:"total_shards"`
	ShardGroups    []shardGroupPayload                `json:"shard_groups"`
	Timestamp      string                             `json:"timestamp"`
}

// shardGroupPayload carries a ShardGroupStatus on the bus under the
// snake_case keys the workers' coordination handler decodes.
type shardGroupPayload struct {
	DeploymentName string `json:"deployment_name"`
	ShardStart     uint32 `json:"shard_start"`
	ShardEnd       uint32 `json:"shard_end"`
	Replicas       int32  `json:"replicas"`
}

// SetupWithManager wires the Reconciler into mgr, watching ShardCluster
// objects.
func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&stratumv1alpha1.ShardCluster{}).
		Complete(r)
}
