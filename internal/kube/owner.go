package kube

import (
	"context"
	"fmt"
	"sort"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/TFMV/nestegg/internal/model"
)

const (
	// UnknownOwner is the placeholder for unresolvable ownership.
	UnknownOwner = "Unknown"

	// maxOwnerDepth bounds controller-chain traversal so reference
	// cycles degrade instead of looping.
	maxOwnerDepth = 5
)

// ownerCache memoizes controller lookups for the duration of one
// discovery pass. A nil entry records a confirmed not-found.
type ownerCache struct {
	replicaSets map[string]*appsv1.ReplicaSet
	jobs        map[string]*batchv1.Job
}

func newOwnerCache() *ownerCache {
	return &ownerCache{
		replicaSets: make(map[string]*appsv1.ReplicaSet),
		jobs:        make(map[string]*batchv1.Job),
	}
}

func cacheKey(namespace, name string) string {
	return namespace + "/" + name
}

// buildConsumerIndex maps each (namespace, claim) mounted by a pod to the
// distinct resolved owners of those pods.
func buildConsumerIndex(
	ctx context.Context,
	client kubernetes.Interface,
	pods []corev1.Pod,
	cache *ownerCache,
) (map[[2]string][]model.Owner, error) {
	index := make(map[[2]string][]model.Owner)

	for i := range pods {
		pod := &pods[i]
		namespace := pod.Namespace
		if namespace == "" {
			continue
		}

		owner, err := resolvePodOwner(ctx, client, pod, cache)
		if err != nil {
			return nil, err
		}

		for _, volume := range pod.Spec.Volumes {
			claim := volume.PersistentVolumeClaim
			if claim == nil || claim.ClaimName == "" {
				continue
			}
			key := [2]string{namespace, claim.ClaimName}
			if !containsOwner(index[key], owner) {
				index[key] = append(index[key], owner)
			}
		}
	}

	return index, nil
}

// resolvePodOwner computes the controlling workload for one pod. Pods
// without owner references own themselves.
func resolvePodOwner(
	ctx context.Context,
	client kubernetes.Interface,
	pod *corev1.Pod,
	cache *ownerCache,
) (model.Owner, error) {
	ref := controllerReference(pod.OwnerReferences)
	if ref == nil {
		name := pod.Name
		if name == "" {
			name = UnknownOwner
		}
		return model.Owner{Kind: "Pod", Name: name}, nil
	}

	kind := ref.Kind
	if kind == "" {
		kind = UnknownOwner
	}
	name := ref.Name
	if name == "" {
		name = UnknownOwner
	}
	return resolveControllerOwner(ctx, client, pod.Namespace, kind, name, cache, 0)
}

// resolveControllerOwner walks one controller link at a time, with a hard
// depth cap threaded through every call.
func resolveControllerOwner(
	ctx context.Context,
	client kubernetes.Interface,
	namespace, kind, name string,
	cache *ownerCache,
	depth int,
) (model.Owner, error) {
	if depth >= maxOwnerDepth {
		return model.Owner{Kind: UnknownOwner, Name: kind + "/" + name}, nil
	}

	switch kind {
	case "ReplicaSet":
		rs, err := readReplicaSet(ctx, client, namespace, name, cache)
		if err != nil {
			return model.Owner{}, err
		}
		if rs == nil {
			return model.Owner{Kind: UnknownOwner, Name: "ReplicaSet/" + name}, nil
		}
		if ref := controllerReference(rs.OwnerReferences); ref != nil {
			return resolveControllerOwner(ctx, client, namespace, orUnknown(ref.Kind), orUnknown(ref.Name), cache, depth+1)
		}

	case "Job":
		job, err := readJob(ctx, client, namespace, name, cache)
		if err != nil {
			return model.Owner{}, err
		}
		if job == nil {
			return model.Owner{Kind: UnknownOwner, Name: "Job/" + name}, nil
		}
		if ref := controllerReference(job.OwnerReferences); ref != nil {
			return resolveControllerOwner(ctx, client, namespace, orUnknown(ref.Kind), orUnknown(ref.Name), cache, depth+1)
		}
	}

	return model.Owner{Kind: kind, Name: name}, nil
}

func readReplicaSet(
	ctx context.Context,
	client kubernetes.Interface,
	namespace, name string,
	cache *ownerCache,
) (*appsv1.ReplicaSet, error) {
	key := cacheKey(namespace, name)
	if rs, ok := cache.replicaSets[key]; ok {
		return rs, nil
	}

	rs, err := client.AppsV1().ReplicaSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			cache.replicaSets[key] = nil
			return nil, nil
		}
		return nil, &DiscoveryError{Message: fmt.Sprintf(
			"kubernetes discovery failed while trying to resolve ReplicaSet owner '%s/%s': %v. "+
				"Verify RBAC allows get on ReplicaSets and retry discovery.",
			namespace, name, err)}
	}
	cache.replicaSets[key] = rs
	return rs, nil
}

func readJob(
	ctx context.Context,
	client kubernetes.Interface,
	namespace, name string,
	cache *ownerCache,
) (*batchv1.Job, error) {
	key := cacheKey(namespace, name)
	if job, ok := cache.jobs[key]; ok {
		return job, nil
	}

	job, err := client.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			cache.jobs[key] = nil
			return nil, nil
		}
		return nil, &DiscoveryError{Message: fmt.Sprintf(
			"kubernetes discovery failed while trying to resolve Job owner '%s/%s': %v. "+
				"Verify RBAC allows get on Jobs and retry discovery.",
			namespace, name, err)}
	}
	cache.jobs[key] = job
	return job, nil
}

// selectOwner reduces the set of owners mounting one claim to a single
// presentation pair. Output is deterministic for any input order.
func selectOwner(owners []model.Owner) model.Owner {
	if len(owners) == 0 {
		return model.Owner{Kind: UnknownOwner, Name: UnknownOwner}
	}

	seen := make(map[model.Owner]struct{})
	normalized := make([]model.Owner, 0, len(owners))
	for _, owner := range owners {
		normal := model.Owner{Kind: orUnknown(owner.Kind), Name: orUnknown(owner.Name)}
		if _, ok := seen[normal]; ok {
			continue
		}
		seen[normal] = struct{}{}
		normalized = append(normalized, normal)
	}
	sort.Slice(normalized, func(i, j int) bool {
		if normalized[i].Kind != normalized[j].Kind {
			return normalized[i].Kind < normalized[j].Kind
		}
		return normalized[i].Name < normalized[j].Name
	})

	if len(normalized) == 1 {
		return normalized[0]
	}

	kinds := uniqueSorted(normalized, func(o model.Owner) string { return o.Kind })
	names := uniqueSorted(normalized, func(o model.Owner) string { return o.Name })

	display := strings.Join(names[:minInt(3, len(names))], ", ")
	if len(names) > 3 {
		display += ", ..."
	}
	return model.Owner{
		Kind: "Multiple[" + strings.Join(kinds, ",") + "]",
		Name: display,
	}
}

// controllerReference picks the reference flagged controller, falling
// back to the first reference.
func controllerReference(refs []metav1.OwnerReference) *metav1.OwnerReference {
	for i := range refs {
		if refs[i].Controller != nil && *refs[i].Controller {
			return &refs[i]
		}
	}
	if len(refs) > 0 {
		return &refs[0]
	}
	return nil
}

func containsOwner(owners []model.Owner, owner model.Owner) bool {
	for _, o := range owners {
		if o == owner {
			return true
		}
	}
	return false
}

func uniqueSorted(owners []model.Owner, field func(model.Owner) string) []string {
	set := make(map[string]struct{})
	for _, owner := range owners {
		set[field(owner)] = struct{}{}
	}
	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}
	sort.Strings(values)
	return values
}

func orUnknown(value string) string {
	if value == "" {
		return UnknownOwner
	}
	return value
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
