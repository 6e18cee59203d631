// Package orchestrator drives the cluster workload substrate: get/list
// of worker replicas and secrets, and the create/patch/delete
// differential that brings the observed replica set in line with the
// desired one. The replica abstraction is realised concretely as an
// apps/v1 Deployment, since that is what a real orchestrator client
// exposes.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/TheRockettek/stratum/internal/partition"
	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

// Labels the reconciler's list query filters on and every worker
// replica carries (spec §6).
const (
	LabelApp        = "app"
	LabelManagedBy  = "managed-by"
	LabelCluster    = "cluster"
	LabelShardGroup = "shard-group"

	ManagedByValue = "stratum-operator"
	AppValue       = "stratum"
)

// Client wraps a controller-runtime client.Client with the handful of
// operations the Reconciler needs.
type Client struct {
	client.Client
	Namespace string
}

// New wraps c for use against namespace.
func New(c client.Client, namespace string) *Client {
	return &Client{Client: c, Namespace: namespace}
}

// GetToken fetches secretName and returns the UTF-8 string under the
// "token" key. Missing secret or missing key is a config error.
func (c *Client) GetToken(ctx context.Context, secretName string) (string, error) {
	secret := &corev1.Secret{}
	if err := c.Get(ctx, client.ObjectKey{Namespace: c.Namespace, Name: secretName}, secret); err != nil {
		return "", fmt.Errorf("%w: orchestrator: fetch secret %s: %w", stratumerrors.ErrConfig, secretName, err)
	}

	raw, ok := secret.Data["token"]
	if !ok {
		return "", fmt.Errorf("%w: orchestrator: secret %s missing key \"token\"", stratumerrors.ErrConfig, secretName)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: orchestrator: secret %s key \"token\" is not valid UTF-8", stratumerrors.ErrConfig, secretName)
	}

	return string(raw), nil
}

// ReconcileReplicasInput bundles the fields a worker Deployment's
// environment and labels are derived from.
type ReconcileReplicasInput struct {
	ClusterName      string
	WorkerImage      string
	BusURL           string
	TokenSecretName  string
	TotalShards      uint32
	MaxConcurrency   uint32
	ShardsPerReplica uint32
	DesiredGroups    []partition.Group
}

// ReconcileReplicas creates, patches, and deletes worker Deployments so
// the labelled set matches in.DesiredGroups exactly.
func (c *Client) ReconcileReplicas(ctx context.Context, in ReconcileReplicasInput) error {
	existing, err := c.listOwned(ctx, in.ClusterName)
	if err != nil {
		return err
	}

	desiredNames := make(map[string]struct{}, len(in.DesiredGroups))
	for _, group := range in.DesiredGroups {
		desiredNames[group.DeploymentName] = struct{}{}

		deployment := c.buildDeployment(in, group)

		var current appsv1.Deployment
		getErr := c.Get(ctx, client.ObjectKey{Namespace: c.Namespace, Name: group.DeploymentName}, &current)

		switch {
		case apierrors.IsNotFound(getErr):
			if err := c.Create(ctx, deployment); err != nil {
				return fmt.Errorf("orchestrator: create deployment %s: %w", group.DeploymentName, err)
			}
		case getErr != nil:
			return fmt.Errorf("orchestrator: get deployment %s: %w", group.DeploymentName, getErr)
		default:
			patch := client.MergeFrom(current.DeepCopy())
			current.Spec = deployment.Spec
			current.Labels = deployment.Labels
			if err := c.Patch(ctx, &current, patch); err != nil {
				return fmt.Errorf("orchestrator: patch deployment %s: %w", group.DeploymentName, err)
			}
		}
	}

	for _, dep := range existing {
		if _, wanted := desiredNames[dep.Name]; wanted {
			continue
		}
		if err := c.Delete(ctx, &dep); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("orchestrator: delete deployment %s: %w", dep.Name, err)
		}
	}

	return nil
}

func (c *Client) listOwned(ctx context.Context, clusterName string) ([]appsv1.Deployment, error) {
	var list appsv1.DeploymentList
	err := c.List(ctx, &list, client.InNamespace(c.Namespace), client.MatchingLabels{
		LabelManagedBy: ManagedByValue,
		LabelApp:       AppValue,
		LabelCluster:   clusterName,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list replicas for cluster %s: %w", clusterName, err)
	}

	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Name < list.Items[j].Name })
	return list.Items, nil
}

func (c *Client) buildDeployment(in ReconcileReplicasInput, group partition.Group) *appsv1.Deployment {
	labels := map[string]string{
		LabelApp:        AppValue,
		LabelManagedBy:  ManagedByValue,
		LabelCluster:    in.ClusterName,
		LabelShardGroup: group.DeploymentName,
	}

	env := []corev1.EnvVar{
		{Name: "BUS_URL", Value: in.BusURL},
		{Name: "SHARD_ID_START", Value: fmt.Sprintf("%d", group.ShardStart)},
		{Name: "SHARD_ID_END", Value: fmt.Sprintf("%d", group.ShardEnd)},
		{Name: "TOTAL_SHARDS", Value: fmt.Sprintf("%d", in.TotalShards)},
		{Name: "SHARDS_PER_REPLICA", Value: fmt.Sprintf("%d", in.ShardsPerReplica)},
		{Name: "WORKER_ID", Value: group.DeploymentName},
		{Name: "MAX_CONCURRENCY", Value: fmt.Sprintf("%d", in.MaxConcurrency)},
		{
			Name: "VENDOR_TOKEN",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: in.TokenSecretName},
					Key:                  "token",
				},
			},
		},
	}

	replicas := group.Replicas

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      group.DeploymentName,
			Namespace: c.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "stratum-worker",
							Image: in.WorkerImage,
							Env:   env,
						},
					},
				},
			},
		},
	}
}
