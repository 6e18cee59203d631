// Package v1alpha1 contains the ShardCluster custom resource: the
// namespaced desired-state record the Reconciler watches and the
// single source of truth for a fleet's sharding configuration.
package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ShardGroupStatus mirrors partition.Group for JSON round-tripping
// through ShardCluster.Status. The startup_coordination bus message
// carries the same four fields under snake_case keys instead of these
// camelCase ones. It is a value object: nothing holds a pointer to it once a
// reconcile has built the slice.
type ShardGroupStatus struct {
	DeploymentName string `json:"deploymentName"`
	ShardStart     uint32 `json:"shardStart"`
	ShardEnd       uint32 `json:"shardEnd"`
	Replicas       int32  `json:"replicas"`
}

// ShardClusterSpec is the user-authored desired state.
type ShardClusterSpec struct {
	// TokenSecretRef names the Secret (in the same namespace) holding the
	// vendor API token under the key "token".
	TokenSecretRef string `json:"tokenSecretRef"`

	// BusURL is the durable message bus this fleet publishes frames to.
	BusURL string `json:"busURL"`

	// WorkerImage is the container image used for every worker replica.
	WorkerImage string `json:"workerImage"`

	// ShardsPerReplica bounds how many shards one worker replica owns.
	ShardsPerReplica uint32 `json:"shardsPerReplica"`

	// ReshardIntervalHours is the scheduler's minimum gap between
	// reshards for this cluster.
	ReshardIntervalHours uint32 `json:"reshardIntervalHours"`
}

// ShardClusterStatus is mutated exclusively by the Reconciler.
type ShardClusterStatus struct {
	// CurrentShards is the recommended_shards value from the last
	// successful reconcile.
	CurrentShards *uint32 `json:"currentShards,omitempty"`

	// LastReshard is when the status was last written by a reconcile.
	LastReshard *metav1.Time `json:"lastReshard,omitempty"`

	// ShardGroups is the partitioning announced on the bus.
	ShardGroups []ShardGroupStatus `json:"shardGroups,omitempty"`

	// Phase is a string tag; the only value ever written is "Active".
	Phase string `json:"phase,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=sc,scope=Namespaced

// ShardCluster is the namespaced desired-state record for one
// sharded fleet.
type ShardCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ShardClusterSpec   `json:"spec"`
	Status ShardClusterStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ShardClusterList is a list of ShardCluster.
type ShardClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []ShardCluster `json:"items"`
}

// ReshardTriggerAnnotation is the annotation the reshard scheduler
// patches onto a stale ShardCluster to wake the Reconciler and bypass
// its rate-limit guard for one cycle.
const ReshardTriggerAnnotation = "stratum.sandwich.dev/reshard-trigger"

// GroupName is the API group ShardCluster is registered under.
const GroupName = "stratum.sandwich.dev"

// GroupVersion is the API version ShardCluster is registered under.
const GroupVersion = "v1alpha1"
