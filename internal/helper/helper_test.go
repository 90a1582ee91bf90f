package helper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func TestCreateBuildsReadOnlyHelper(t *testing.T) {
	client := fake.NewSimpleClientset()
	helper := NewClient(client, nil, "alpine:3.20", time.Minute)

	err := helper.Create(context.Background(), "team-a", "nestegg-backup-x", "db-data")
	require.NoError(t, err)

	pod, err := client.CoreV1().Pods("team-a").Get(context.Background(), "nestegg-backup-x", metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, "nestegg", pod.Labels["app.kubernetes.io/name"])
	assert.Equal(t, "backup-helper", pod.Labels["app.kubernetes.io/component"])
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)

	require.Len(t, pod.Spec.Containers, 1)
	container := pod.Spec.Containers[0]
	assert.Equal(t, "alpine:3.20", container.Image)
	require.Len(t, container.VolumeMounts, 1)
	assert.Equal(t, MountPath, container.VolumeMounts[0].MountPath)
	assert.True(t, container.VolumeMounts[0].ReadOnly)

	require.Len(t, pod.Spec.Volumes, 1)
	claim := pod.Spec.Volumes[0].PersistentVolumeClaim
	require.NotNil(t, claim)
	assert.Equal(t, "db-data", claim.ClaimName)
	assert.True(t, claim.ReadOnly)
}

func TestCreatePrefersConsumerNode(t *testing.T) {
	consumer := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "team-a", Name: "app-0"},
		Spec: corev1.PodSpec{
			NodeName: "node-7",
			Volumes: []corev1.Volume{{
				Name: "data",
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "db-data"},
				},
			}},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	client := fake.NewSimpleClientset(consumer)
	helper := NewClient(client, nil, "alpine:3.20", time.Minute)

	require.NoError(t, helper.Create(context.Background(), "team-a", "nestegg-backup-x", "db-data"))

	pod, err := client.CoreV1().Pods("team-a").Get(context.Background(), "nestegg-backup-x", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "node-7", pod.Spec.NodeName)
}

func TestCreateReplacesStaleHelper(t *testing.T) {
	stale := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "team-a",
			Name:      "nestegg-backup-x",
			Labels:    map[string]string{"stale": "true"},
		},
	}
	client := fake.NewSimpleClientset(stale)
	helper := NewClient(client, nil, "alpine:3.20", time.Minute)

	require.NoError(t, helper.Create(context.Background(), "team-a", "nestegg-backup-x", "db-data"))

	pod, err := client.CoreV1().Pods("team-a").Get(context.Background(), "nestegg-backup-x", metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotContains(t, pod.Labels, "stale", "conflicting helper must be replaced, not reused")
	assert.Equal(t, "nestegg", pod.Labels["app.kubernetes.io/name"])
}

func TestWaitRunningImmediateSuccess(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "team-a", Name: "helper"},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}
	client := fake.NewSimpleClientset(pod)
	helper := NewClient(client, nil, "alpine:3.20", time.Minute)

	assert.NoError(t, helper.WaitRunning(context.Background(), "team-a", "helper"))
}

func TestWaitRunningTerminalPhase(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "team-a", Name: "helper"},
		Status:     corev1.PodStatus{Phase: corev1.PodFailed},
	}
	client := fake.NewSimpleClientset(pod)
	helper := NewClient(client, nil, "alpine:3.20", time.Minute)

	err := helper.WaitRunning(context.Background(), "team-a", "helper")
	assert.EqualError(t, err, "helper pod entered unexpected phase: Failed")
}

func TestWaitRunningTimeoutCarriesDiagnostics(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "team-a", Name: "helper"},
		Status: corev1.PodStatus{
			Phase: corev1.PodPending,
			Conditions: []corev1.PodCondition{{
				Type:    corev1.PodScheduled,
				Status:  corev1.ConditionFalse,
				Reason:  "Unschedulable",
				Message: "0/3 nodes are available",
			}},
		},
	}
	client := fake.NewSimpleClientset(pod)
	helper := NewClient(client, nil, "alpine:3.20", 100*time.Millisecond)

	err := helper.WaitRunning(context.Background(), "team-a", "helper")

	var timeoutErr *WaitTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "Pending", timeoutErr.LastPhase)
	assert.Contains(t, timeoutErr.Hint, "pod unschedulable (Unschedulable: 0/3 nodes are available)")
	assert.Contains(t, err.Error(), "did not become Running in time")
}

func TestDeleteToleratesMissingAndForbidden(t *testing.T) {
	client := fake.NewSimpleClientset()
	helper := NewClient(client, nil, "alpine:3.20", time.Minute)

	assert.NoError(t, helper.Delete(context.Background(), "team-a", "already-gone"))

	client.PrependReactor("delete", "pods",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewForbidden(
				schema.GroupResource{Resource: "pods"}, "helper", errors.New("rbac"))
		})
	assert.NoError(t, helper.Delete(context.Background(), "team-a", "helper"))
}

func TestDeletePropagatesOtherErrors(t *testing.T) {
	client := fake.NewSimpleClientset()
	client.PrependReactor("delete", "pods",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewServiceUnavailable("etcd down")
		})
	helper := NewClient(client, nil, "alpine:3.20", time.Minute)

	err := helper.Delete(context.Background(), "team-a", "helper")
	assert.Error(t, err)
}

func TestPendingHint(t *testing.T) {
	assert.Empty(t, pendingHint(&corev1.Pod{}))

	waiting := &corev1.Pod{Status: corev1.PodStatus{
		ContainerStatuses: []corev1.ContainerStatus{{
			State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{
				Reason:  "ImagePullBackOff",
				Message: "Back-off pulling image",
			}},
		}},
	}}
	assert.Equal(t, "container waiting (ImagePullBackOff: Back-off pulling image)", pendingHint(waiting))

	bare := &corev1.Pod{Status: corev1.PodStatus{
		ContainerStatuses: []corev1.ContainerStatus{{
			State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{}},
		}},
	}}
	assert.Equal(t, "container waiting (ContainerWaiting)", pendingHint(bare))
}

func TestExecError(t *testing.T) {
	base := errors.New("command terminated with exit code 1")
	assert.EqualError(t, execError(base, "tar: /data: permission denied\n", ""),
		"command terminated with exit code 1 (tar: /data: permission denied)")
	assert.EqualError(t, execError(base, "", ""), base.Error())
}
