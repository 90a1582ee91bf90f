package kube

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/TFMV/nestegg/internal/model"
)

func defaultOptions() DiscoveryOptions {
	return DiscoveryOptions{
		RequestTimeoutSeconds: 20,
		MaxNamespaceScan:      100,
	}
}

func controllerRef(kind, name string) metav1.OwnerReference {
	controller := true
	return metav1.OwnerReference{Kind: kind, Name: name, Controller: &controller}
}

func namespaceObject(name string) *corev1.Namespace {
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
}

func boundPVC(namespace, name, volumeName string) *corev1.PersistentVolumeClaim {
	className := "fast-ssd"
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
			UID:       types.UID("uid-" + namespace + "-" + name),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			VolumeName:       volumeName,
			StorageClassName: &className,
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
		},
		Status: corev1.PersistentVolumeClaimStatus{
			Phase: corev1.ClaimBound,
			Capacity: corev1.ResourceList{
				corev1.ResourceStorage: resource.MustParse("10Gi"),
			},
		},
	}
}

func podMounting(namespace, name, claimName string, owners ...metav1.OwnerReference) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       namespace,
			Name:            name,
			OwnerReferences: owners,
		},
		Spec: corev1.PodSpec{
			Volumes: []corev1.Volume{
				{
					Name: "data",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: claimName,
						},
					},
				},
			},
		},
	}
}

func TestListVolumeRecordsValidatesArguments(t *testing.T) {
	client := fake.NewSimpleClientset()

	_, err := ListVolumeRecords(context.Background(), client, DiscoveryOptions{
		RequestTimeoutSeconds: 0,
		MaxNamespaceScan:      100,
	})
	assert.ErrorIs(t, err, ErrInvalidTimeout)

	_, err = ListVolumeRecords(context.Background(), client, DiscoveryOptions{
		RequestTimeoutSeconds: 20,
		MaxNamespaceScan:      0,
	})
	assert.ErrorIs(t, err, ErrInvalidScanLimit)
}

func TestListVolumeRecordsRefusesOversizedFilter(t *testing.T) {
	client := fake.NewSimpleClientset()
	opts := defaultOptions()
	opts.Namespaces = []string{"a", "b", "c"}
	opts.MaxNamespaceScan = 2

	_, err := ListVolumeRecords(context.Background(), client, opts)

	var discErr *DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Contains(t, discErr.Message, "exceeds the configured limit (2)")
}

func TestListVolumeRecordsRefusesOversizedCluster(t *testing.T) {
	client := fake.NewSimpleClientset(
		namespaceObject("a"), namespaceObject("b"), namespaceObject("c"))
	opts := defaultOptions()
	opts.MaxNamespaceScan = 2

	_, err := ListVolumeRecords(context.Background(), client, opts)

	var discErr *DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Contains(t, discErr.Message, "exceeding the configured discovery limit (2)")
}

func TestListVolumeRecordsNormalizesFilter(t *testing.T) {
	client := fake.NewSimpleClientset(boundPVC("team-a", "db-data", "pv-1"))
	opts := defaultOptions()
	// Duplicates and blanks collapse to a single namespace.
	opts.Namespaces = []string{" team-a ", "team-a", ""}
	opts.MaxNamespaceScan = 1

	records, err := ListVolumeRecords(context.Background(), client, opts)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "db-data", records[0].PVCName)
}

func TestListVolumeRecordsResolvesDeploymentChain(t *testing.T) {
	replicaSet := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       "team-a",
			Name:            "api-7d9f",
			OwnerReferences: []metav1.OwnerReference{controllerRef("Deployment", "api")},
		},
	}
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"),
		boundPVC("team-a", "db-data", "pv-1"),
		podMounting("team-a", "api-7d9f-x1", "db-data", controllerRef("ReplicaSet", "api-7d9f")),
		replicaSet,
	)

	opts := defaultOptions()
	opts.LastSuccess = map[[2]string]string{
		{"team-a", "db-data"}: "2026-02-01T10:00:00Z",
	}

	records, err := ListVolumeRecords(context.Background(), client, opts)
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, model.Owner{Kind: "Deployment", Name: "api"}, record.Owner)
	assert.Equal(t, "Bound", record.Phase)
	assert.Equal(t, "10Gi", record.Capacity)
	assert.Equal(t, "fast-ssd", record.StorageClass)
	assert.Equal(t, []string{"ReadWriteOnce"}, record.AccessModes)
	assert.Equal(t, "pv-1", record.BoundPV)
	assert.Equal(t, "uid-team-a-db-data", record.PVCUID)
	assert.Equal(t, "2026-02-01T10:00:00Z", record.LastSuccess)
}

func TestListVolumeRecordsResolvesCronJobChain(t *testing.T) {
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       "team-a",
			Name:            "nightly-28500",
			OwnerReferences: []metav1.OwnerReference{controllerRef("CronJob", "nightly")},
		},
	}
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"),
		boundPVC("team-a", "scratch", "pv-2"),
		podMounting("team-a", "nightly-28500-abc", "scratch", controllerRef("Job", "nightly-28500")),
		job,
	)

	records, err := ListVolumeRecords(context.Background(), client, defaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.Owner{Kind: "CronJob", Name: "nightly"}, records[0].Owner)
}

func TestListVolumeRecordsBarePodOwnsItself(t *testing.T) {
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"),
		boundPVC("team-a", "adhoc", "pv-3"),
		podMounting("team-a", "debug-shell", "adhoc"),
	)

	records, err := ListVolumeRecords(context.Background(), client, defaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.Owner{Kind: "Pod", Name: "debug-shell"}, records[0].Owner)
}

func TestListVolumeRecordsUnmountedClaimHasUnknownOwner(t *testing.T) {
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"),
		boundPVC("team-a", "orphan", "pv-4"),
	)

	records, err := ListVolumeRecords(context.Background(), client, defaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.Owner{Kind: UnknownOwner, Name: UnknownOwner}, records[0].Owner)
	assert.Empty(t, records[0].LastSuccess)
}

func TestListVolumeRecordsMissingControllerDegrades(t *testing.T) {
	// The owning ReplicaSet was deleted between listing and resolution.
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"),
		boundPVC("team-a", "db-data", "pv-1"),
		podMounting("team-a", "api-x1", "db-data", controllerRef("ReplicaSet", "gone")),
	)

	records, err := ListVolumeRecords(context.Background(), client, defaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.Owner{Kind: UnknownOwner, Name: "ReplicaSet/gone"}, records[0].Owner)
}

func TestListVolumeRecordsOwnerCycleDegrades(t *testing.T) {
	loop := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       "team-a",
			Name:            "loop",
			OwnerReferences: []metav1.OwnerReference{controllerRef("ReplicaSet", "loop")},
		},
	}
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"),
		boundPVC("team-a", "db-data", "pv-1"),
		podMounting("team-a", "looper", "db-data", controllerRef("ReplicaSet", "loop")),
		loop,
	)

	records, err := ListVolumeRecords(context.Background(), client, defaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.Owner{Kind: UnknownOwner, Name: "ReplicaSet/loop"}, records[0].Owner)
}

func TestListVolumeRecordsOwnerLookupRBACFailureIsFatal(t *testing.T) {
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"),
		boundPVC("team-a", "db-data", "pv-1"),
		podMounting("team-a", "api-x1", "db-data", controllerRef("ReplicaSet", "api-7d9f")),
	)
	client.PrependReactor("get", "replicasets",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewForbidden(
				schema.GroupResource{Group: "apps", Resource: "replicasets"},
				"api-7d9f", errors.New("no list-watch access"))
		})

	_, err := ListVolumeRecords(context.Background(), client, defaultOptions())

	var discErr *DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Contains(t, discErr.Message, "resolve ReplicaSet owner 'team-a/api-7d9f'")
	assert.Contains(t, discErr.Message, "RBAC")
}

func TestListVolumeRecordsSortsByNamespaceThenName(t *testing.T) {
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"), namespaceObject("team-b"),
		boundPVC("team-b", "aaa", "pv-1"),
		boundPVC("team-a", "zzz", "pv-2"),
		boundPVC("team-a", "aaa", "pv-3"),
	)

	records, err := ListVolumeRecords(context.Background(), client, defaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 3)

	keys := make([][2]string, 0, len(records))
	for _, record := range records {
		keys = append(keys, [2]string{record.Namespace, record.PVCName})
	}
	assert.Equal(t, [][2]string{
		{"team-a", "aaa"},
		{"team-a", "zzz"},
		{"team-b", "aaa"},
	}, keys)
}

func TestListVolumeRecordsSharedClaimReportsMultipleOwners(t *testing.T) {
	makeRS := func(name string) *appsv1.ReplicaSet {
		return &appsv1.ReplicaSet{
			ObjectMeta: metav1.ObjectMeta{
				Namespace:       "team-a",
				Name:            name + "-rs",
				OwnerReferences: []metav1.OwnerReference{controllerRef("Deployment", name)},
			},
		}
	}
	client := fake.NewSimpleClientset(
		namespaceObject("team-a"),
		boundPVC("team-a", "shared", "pv-1"),
		podMounting("team-a", "worker-p", "shared", controllerRef("ReplicaSet", "worker-rs")),
		podMounting("team-a", "api-p", "shared", controllerRef("ReplicaSet", "api-rs")),
		makeRS("worker"), makeRS("api"),
	)

	records, err := ListVolumeRecords(context.Background(), client, defaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.Owner{Kind: "Multiple[Deployment]", Name: "api, worker"}, records[0].Owner)
}
