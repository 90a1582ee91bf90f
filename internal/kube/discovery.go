package kube

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/TFMV/nestegg/internal/logger"
	"github.com/TFMV/nestegg/internal/metrics"
	"github.com/TFMV/nestegg/internal/model"
)

// Invalid-argument errors for discovery contract violations. These are
// configuration mistakes and are never retried.
var (
	ErrInvalidTimeout   = errors.New("request timeout seconds must be positive")
	ErrInvalidScanLimit = errors.New("max namespace scan must be positive")
)

// DiscoveryError is raised when volume discovery cannot safely continue.
// Partial results are never returned silently.
type DiscoveryError struct {
	Message string
}

func (e *DiscoveryError) Error() string { return e.Message }

// DiscoveryOptions control one volume discovery pass.
type DiscoveryOptions struct {
	// Namespaces filters discovery; empty means all namespaces.
	Namespaces []string
	// RequestTimeoutSeconds bounds each list call. Must be positive.
	RequestTimeoutSeconds int
	// MaxNamespaceScan is a hard cap on namespaces scanned per call.
	// Exceeding it refuses the call rather than truncating it.
	MaxNamespaceScan int
	// LastSuccess maps (namespace, pvc) to the latest successful backup
	// timestamp, joined into each record.
	LastSuccess map[[2]string]string
}

// ListVolumeRecords discovers PVCs and the pods mounting them, resolves
// each claim's owning workload, and returns records sorted by
// (namespace, name).
func ListVolumeRecords(ctx context.Context, client kubernetes.Interface, opts DiscoveryOptions) ([]model.VolumeRecord, error) {
	if opts.RequestTimeoutSeconds <= 0 {
		return nil, ErrInvalidTimeout
	}
	if opts.MaxNamespaceScan <= 0 {
		return nil, ErrInvalidScanLimit
	}

	started := time.Now()
	defer func() {
		metrics.RecordDiscovery(time.Since(started).Seconds())
	}()

	l := logger.FromContext(ctx)
	timeout := int64(opts.RequestTimeoutSeconds)
	listOpts := metav1.ListOptions{TimeoutSeconds: &timeout}

	targets := normalizeNamespaces(opts.Namespaces)

	var (
		pvcItems []corev1.PersistentVolumeClaim
		podItems []corev1.Pod
	)

	if len(targets) > 0 {
		if len(targets) > opts.MaxNamespaceScan {
			return nil, &DiscoveryError{Message: fmt.Sprintf(
				"requested scan for %d namespaces, which exceeds the configured limit (%d). "+
					"Reduce the namespace filter size or increase the limit.",
				len(targets), opts.MaxNamespaceScan)}
		}
		for _, namespace := range targets {
			pvcs, err := client.CoreV1().PersistentVolumeClaims(namespace).List(ctx, listOpts)
			if err != nil {
				return nil, discoveryFailure(
					fmt.Sprintf("list PVCs in namespace '%s'", namespace),
					"Check namespace spelling, API reachability, and RBAC verbs for persistentvolumeclaims.",
					err)
			}
			pvcItems = append(pvcItems, pvcs.Items...)

			pods, err := client.CoreV1().Pods(namespace).List(ctx, listOpts)
			if err != nil {
				return nil, discoveryFailure(
					fmt.Sprintf("list Pods in namespace '%s'", namespace),
					"Check RBAC verbs for pods and confirm the namespace still exists.",
					err)
			}
			podItems = append(podItems, pods.Items...)
		}
	} else {
		namespaces, err := client.CoreV1().Namespaces().List(ctx, listOpts)
		if err != nil {
			return nil, discoveryFailure(
				"list namespaces for discovery preflight",
				"Confirm cluster connectivity and RBAC verbs for namespaces.",
				err)
		}
		if len(namespaces.Items) > opts.MaxNamespaceScan {
			return nil, &DiscoveryError{Message: fmt.Sprintf(
				"cluster has %d namespaces, exceeding the configured discovery limit (%d). "+
					"Apply a namespace filter or increase the limit.",
				len(namespaces.Items), opts.MaxNamespaceScan)}
		}

		pvcs, err := client.CoreV1().PersistentVolumeClaims(metav1.NamespaceAll).List(ctx, listOpts)
		if err != nil {
			return nil, discoveryFailure(
				"list PVCs across all namespaces",
				"Apply a namespace filter for large clusters or verify RBAC verbs for persistentvolumeclaims.",
				err)
		}
		pvcItems = pvcs.Items

		pods, err := client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, listOpts)
		if err != nil {
			return nil, discoveryFailure(
				"list Pods across all namespaces",
				"Apply a namespace filter for large clusters or verify RBAC verbs for pods.",
				err)
		}
		podItems = pods.Items
	}

	// The owner cache lives for exactly one discovery pass.
	cache := newOwnerCache()
	consumers, err := buildConsumerIndex(ctx, client, podItems, cache)
	if err != nil {
		return nil, err
	}

	records := make([]model.VolumeRecord, 0, len(pvcItems))
	for i := range pvcItems {
		records = append(records, buildVolumeRecord(&pvcItems[i], consumers, opts.LastSuccess))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Namespace != records[j].Namespace {
			return records[i].Namespace < records[j].Namespace
		}
		return records[i].PVCName < records[j].PVCName
	})

	l.Debug().
		Int("pvcs", len(records)).
		Int("pods", len(podItems)).
		Msg("volume discovery pass completed")
	return records, nil
}

func buildVolumeRecord(
	pvc *corev1.PersistentVolumeClaim,
	consumers map[[2]string][]model.Owner,
	lastSuccess map[[2]string]string,
) model.VolumeRecord {
	key := [2]string{pvc.Namespace, pvc.Name}
	owner := selectOwner(consumers[key])

	capacity := ""
	if storage, ok := pvc.Status.Capacity[corev1.ResourceStorage]; ok {
		capacity = storage.String()
	}

	phase := string(pvc.Status.Phase)
	if phase == "" {
		phase = UnknownOwner
	}

	storageClass := ""
	if pvc.Spec.StorageClassName != nil {
		storageClass = *pvc.Spec.StorageClassName
	}

	accessModes := make([]string, 0, len(pvc.Spec.AccessModes))
	for _, mode := range pvc.Spec.AccessModes {
		accessModes = append(accessModes, string(mode))
	}

	return model.VolumeRecord{
		Namespace:    pvc.Namespace,
		PVCName:      pvc.Name,
		PVCUID:       string(pvc.UID),
		Phase:        phase,
		Capacity:     capacity,
		StorageClass: storageClass,
		AccessModes:  accessModes,
		BoundPV:      pvc.Spec.VolumeName,
		Owner:        owner,
		LastSuccess:  lastSuccess[key],
	}
}

func normalizeNamespaces(namespaces []string) []string {
	set := make(map[string]struct{})
	for _, namespace := range namespaces {
		trimmed := strings.TrimSpace(namespace)
		if trimmed == "" {
			continue
		}
		set[trimmed] = struct{}{}
	}
	result := make([]string, 0, len(set))
	for namespace := range set {
		result = append(result, namespace)
	}
	sort.Strings(result)
	return result
}

func discoveryFailure(operation, hint string, err error) *DiscoveryError {
	return &DiscoveryError{Message: fmt.Sprintf(
		"kubernetes discovery failed while trying to %s: %v. %s", operation, err, hint)}
}
