package orchestrator_test

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	fakeclient "sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/stratum/internal/orchestrator"
	"github.com/TheRockettek/stratum/internal/partition"
)

func newFakeClient(t *testing.T, objs ...runtime.Object) *orchestrator.Client {
	t.Helper()

	scheme := runtime.NewScheme()
	require.NoError(t, appsv1.AddToScheme(scheme))
	require.NoError(t, corev1.AddToScheme(scheme))

	builder := fakeclient.NewClientBuilder().WithScheme(scheme)
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}

	return orchestrator.New(builder.Build(), "default")
}

func TestGetToken(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "fleet-token", Namespace: "default"},
		Data:       map[string][]byte{"token": []byte("shh")},
	}

	c := newFakeClient(t, secret)
	token, err := c.GetToken(context.Background(), "fleet-token")
	require.NoError(t, err)
	assert.Equal(t, "shh", token)
}

func TestGetToken_MissingKey(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "fleet-token", Namespace: "default"},
		Data:       map[string][]byte{"other": []byte("x")},
	}

	c := newFakeClient(t, secret)
	_, err := c.GetToken(context.Background(), "fleet-token")
	assert.Error(t, err)
}

func TestReconcileReplicas_CreateUpdateDelete(t *testing.T) {
	stale := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "stratum-group-5",
			Namespace: "default",
			Labels: map[string]string{
				orchestrator.LabelApp:       orchestrator.AppValue,
				orchestrator.LabelManagedBy: orchestrator.ManagedByValue,
				orchestrator.LabelCluster:   "fleet",
			},
		},
	}

	existing := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "stratum-group-0",
			Namespace: "default",
			Labels: map[string]string{
				orchestrator.LabelApp:       orchestrator.AppValue,
				orchestrator.LabelManagedBy: orchestrator.ManagedByValue,
				orchestrator.LabelCluster:   "fleet",
			},
		},
	}

	c := newFakeClient(t, stale, existing)

	groups := partition.Groups("stratum", 4, 2)
	require.Len(t, groups, 2)

	err := c.ReconcileReplicas(context.Background(), orchestrator.ReconcileReplicasInput{
		ClusterName:      "fleet",
		WorkerImage:      "stratum-worker:latest",
		BusURL:           "nats://bus:4222",
		TokenSecretName:  "fleet-token",
		TotalShards:      4,
		MaxConcurrency:   1,
		ShardsPerReplica: 2,
		DesiredGroups:    groups,
	})
	require.NoError(t, err)

	var list appsv1.DeploymentList
	require.NoError(t, c.List(context.Background(), &list))

	names := map[string]bool{}
	var group0 appsv1.Deployment
	for _, d := range list.Items {
		names[d.Name] = true
		if d.Name == "stratum-group-0" {
			group0 = d
		}
	}

	assert.True(t, names["stratum-group-0"])
	assert.True(t, names["stratum-group-1"])
	assert.False(t, names["stratum-group-5"], "stale deployment should have been deleted")
	assert.Equal(t, "stratum-group-0", group0.Labels[orchestrator.LabelShardGroup], "existing deployment should have been patched")
}
