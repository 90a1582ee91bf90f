// Package helper manages the short-lived, read-only helper pods used to
// reach a volume's contents for archiving.
package helper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/TFMV/nestegg/internal/logger"
)

const (
	// MountPath is where the target volume is mounted inside the helper.
	MountPath = "/data"

	containerName = "backup-helper"
	pollInterval  = 2 * time.Second
)

// WaitTimeoutError reports that a helper pod did not reach Running within
// the configured window. It carries the last observed phase and, when
// available, a scheduling or container-waiting diagnostic.
type WaitTimeoutError struct {
	Namespace string
	Pod       string
	LastPhase string
	Hint      string
}

func (e *WaitTimeoutError) Error() string {
	detail := fmt.Sprintf("last observed phase=%s", e.LastPhase)
	if e.Hint != "" {
		detail = detail + "; " + e.Hint
	}
	return fmt.Sprintf("helper pod %s/%s did not become Running in time (%s)", e.Namespace, e.Pod, detail)
}

// Client drives helper pod lifecycle through the cluster API.
type Client struct {
	kube        kubernetes.Interface
	config      *rest.Config
	image       string
	waitTimeout time.Duration
}

// NewClient builds a helper pod client. config may be nil in tests that
// never exec.
func NewClient(kube kubernetes.Interface, config *rest.Config, image string, waitTimeout time.Duration) *Client {
	return &Client{
		kube:        kube,
		config:      config,
		image:       image,
		waitTimeout: waitTimeout,
	}
}

// Create creates the helper pod with a read-only mount of the claim,
// preferring a node where the claim is already mounted by a running pod.
// A name conflict deletes the stale helper and recreates once.
func (c *Client) Create(ctx context.Context, namespace, podName, claimName string) error {
	nodeName := c.findConsumerNode(ctx, namespace, claimName)
	pod := c.buildPod(namespace, podName, claimName, nodeName)

	_, err := c.kube.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return err
	}

	// Stale helper from an earlier run; replace it.
	if err := c.Delete(ctx, namespace, podName); err != nil {
		return err
	}
	_, err = c.kube.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{})
	return err
}

// WaitRunning polls until the helper reaches Running. Failed and
// Succeeded are terminal surprises for an idle helper and error
// immediately; the configured timeout yields a WaitTimeoutError.
func (c *Client) WaitRunning(ctx context.Context, namespace, podName string) error {
	deadline := time.Now().Add(c.waitTimeout)
	lastPhase := "Unknown"
	lastHint := ""

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		pod, err := c.kube.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return err
		}

		phase := string(pod.Status.Phase)
		if phase == "" {
			phase = "Unknown"
		}
		lastPhase = phase
		if hint := pendingHint(pod); hint != "" {
			lastHint = hint
		}

		switch pod.Status.Phase {
		case corev1.PodRunning:
			return nil
		case corev1.PodFailed, corev1.PodSucceeded:
			return fmt.Errorf("helper pod entered unexpected phase: %s", phase)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return &WaitTimeoutError{
		Namespace: namespace,
		Pod:       podName,
		LastPhase: lastPhase,
		Hint:      lastHint,
	}
}

// Exec runs a command inside the helper and surfaces stderr in errors.
func (c *Client) Exec(ctx context.Context, namespace, podName string, command []string) error {
	var stdout, stderr bytes.Buffer
	if err := c.stream(ctx, namespace, podName, command, &stdout, &stderr); err != nil {
		return execError(err, stderr.String(), stdout.String())
	}
	return nil
}

// CopyFile streams a single file out of the helper to a local path.
func (c *Client) CopyFile(ctx context.Context, namespace, podName, remotePath, localPath string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating local file %s: %w", localPath, err)
	}

	var stderr bytes.Buffer
	streamErr := c.stream(ctx, namespace, podName, []string{"cat", remotePath}, file, &stderr)
	closeErr := file.Close()

	if streamErr != nil {
		os.Remove(localPath)
		return execError(streamErr, stderr.String(), "")
	}
	if closeErr != nil {
		os.Remove(localPath)
		return fmt.Errorf("writing local file %s: %w", localPath, closeErr)
	}
	return nil
}

// Delete removes the helper pod immediately. Not-found and forbidden are
// treated as already-deleted.
func (c *Client) Delete(ctx context.Context, namespace, podName string) error {
	grace := int64(0)
	err := c.kube.CoreV1().Pods(namespace).Delete(ctx, podName, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
	})
	if err != nil && !apierrors.IsNotFound(err) && !apierrors.IsForbidden(err) {
		return err
	}
	return nil
}

func (c *Client) buildPod(namespace, podName, claimName, nodeName string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: namespace,
			Labels: map[string]string{
				"app.kubernetes.io/name":      "nestegg",
				"app.kubernetes.io/component": "backup-helper",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			NodeName:      nodeName,
			Containers: []corev1.Container{
				{
					Name:    containerName,
					Image:   c.image,
					Command: []string{"sh", "-c", "sleep 3600"},
					VolumeMounts: []corev1.VolumeMount{
						// Read-only mount protects workloads from accidental writes.
						{Name: "target", MountPath: MountPath, ReadOnly: true},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "target",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: claimName,
							ReadOnly:  true,
						},
					},
				},
			},
		},
	}
}

// findConsumerNode returns the node of a running pod that already mounts
// the claim, avoiding a cross-node volume attach for the helper. Lookup
// failures leave placement to the scheduler.
func (c *Client) findConsumerNode(ctx context.Context, namespace, claimName string) string {
	pods, err := c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		logger.FromContext(ctx).Debug().
			Err(err).
			Str("namespace", namespace).
			Str("pvc", claimName).
			Msg("consumer node lookup failed, leaving placement to scheduler")
		return ""
	}

	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Status.Phase != corev1.PodRunning || pod.Spec.NodeName == "" {
			continue
		}
		for _, volume := range pod.Spec.Volumes {
			if volume.PersistentVolumeClaim != nil && volume.PersistentVolumeClaim.ClaimName == claimName {
				return pod.Spec.NodeName
			}
		}
	}
	return ""
}

func (c *Client) stream(ctx context.Context, namespace, podName string, command []string, stdout io.Writer, stderr *bytes.Buffer) error {
	req := c.kube.CoreV1().RESTClient().
		Post().
		Resource("pods").
		Name(podName).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: containerName,
			Command:   command,
			Stdin:     false,
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.config, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("creating exec stream: %w", err)
	}

	return exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
		Tty:    false,
	})
}

// pendingHint extracts a human-readable diagnostic for a pod stuck short
// of Running: an unschedulable condition first, then any waiting
// container state.
func pendingHint(pod *corev1.Pod) string {
	for _, condition := range pod.Status.Conditions {
		if condition.Type == corev1.PodScheduled && condition.Status == corev1.ConditionFalse {
			reason := condition.Reason
			if reason == "" {
				reason = "Unschedulable"
			}
			message := strings.TrimSpace(condition.Message)
			if message != "" {
				return fmt.Sprintf("pod unschedulable (%s: %s)", reason, message)
			}
			return fmt.Sprintf("pod unschedulable (%s)", reason)
		}
	}

	for _, statuses := range [][]corev1.ContainerStatus{pod.Status.InitContainerStatuses, pod.Status.ContainerStatuses} {
		for _, status := range statuses {
			waiting := status.State.Waiting
			if waiting == nil {
				continue
			}
			reason := waiting.Reason
			if reason == "" {
				reason = "ContainerWaiting"
			}
			message := strings.TrimSpace(waiting.Message)
			if message != "" {
				return fmt.Sprintf("container waiting (%s: %s)", reason, message)
			}
			return fmt.Sprintf("container waiting (%s)", reason)
		}
	}

	return ""
}

func execError(err error, stderr, stdout string) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = strings.TrimSpace(stdout)
	}
	if detail == "" {
		return err
	}
	return fmt.Errorf("%w (%s)", err, detail)
}
