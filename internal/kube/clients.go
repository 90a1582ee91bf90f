// Package kube wraps the cluster-facing side of nestegg: client
// construction, volume discovery, and ownership resolution.
package kube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// AuthenticationError is raised before any discovery or backup attempt
// when cluster credentials cannot be established. The message always
// names the credential source so failures self-diagnose.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// Clients bundles the typed clientset with the rest config needed for
// exec streams.
type Clients struct {
	Kube       kubernetes.Interface
	RESTConfig *rest.Config
}

// LoadClients builds cluster clients from a kubeconfig (optionally with an
// explicit context) or from in-cluster service account credentials.
func LoadClients(kubeconfigPath, contextName string, inCluster bool) (*Clients, error) {
	if inCluster {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, &AuthenticationError{Message: fmt.Sprintf(
				"kubernetes authentication setup failed while loading in-cluster service account credentials: %v. "+
					"Ensure the pod has a mounted service account token and Kubernetes service host environment variables.",
				err)}
		}
		return newClients(config)
	}

	expanded := expandKubeconfigPath(kubeconfigPath)
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if expanded != "" {
		rules.ExplicitPath = expanded
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: contextName}
	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		source := expanded
		if source == "" {
			source = "default kubeconfig search path"
		}
		contextMessage := ""
		if contextName != "" {
			contextMessage = fmt.Sprintf(" with context '%s'", contextName)
		}
		return nil, &AuthenticationError{Message: fmt.Sprintf(
			"kubernetes authentication setup failed while loading kubeconfig from '%s'%s: %v. "+
				"Verify the kubeconfig path and context are valid.",
			source, contextMessage, err)}
	}
	return newClients(config)
}

func newClients(config *rest.Config) (*Clients, error) {
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, &AuthenticationError{Message: fmt.Sprintf(
			"kubernetes authentication setup failed while building the API client: %v", err)}
	}
	return &Clients{Kube: clientset, RESTConfig: config}, nil
}

// ListContextNames returns the sorted context names available in the
// given kubeconfig (or the default search path when empty).
func ListContextNames(kubeconfigPath string) ([]string, error) {
	expanded := expandKubeconfigPath(kubeconfigPath)
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if expanded != "" {
		rules.ExplicitPath = expanded
	}
	config, err := rules.Load()
	if err != nil {
		source := expanded
		if source == "" {
			source = "default kubeconfig search path"
		}
		return nil, &AuthenticationError{Message: fmt.Sprintf(
			"unable to list kubeconfig contexts from '%s': %v. Verify the kubeconfig path is readable and valid.",
			source, err)}
	}

	names := make([]string, 0, len(config.Contexts))
	for name := range config.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// PersistKubeconfigContent writes pasted kubeconfig text to a private
// temporary file and returns its path.
func PersistKubeconfigContent(content string) (string, error) {
	file, err := os.CreateTemp("", "nestegg-kubeconfig-*.yaml")
	if err != nil {
		return "", fmt.Errorf("creating kubeconfig temp file: %w", err)
	}
	path := file.Name()
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing kubeconfig temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing kubeconfig temp file: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("restricting kubeconfig permissions: %w", err)
	}
	return path, nil
}

// Summary reports coarse cluster inventory counts.
type Summary struct {
	Namespaces             int
	Pods                   int
	PersistentVolumeClaims int
}

// ClusterSummary counts namespaces, pods, and PVCs across the cluster.
func ClusterSummary(ctx context.Context, client kubernetes.Interface) (Summary, error) {
	namespaces, err := client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return Summary{}, fmt.Errorf("listing namespaces: %w", err)
	}
	pods, err := client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return Summary{}, fmt.Errorf("listing pods: %w", err)
	}
	pvcs, err := client.CoreV1().PersistentVolumeClaims(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return Summary{}, fmt.Errorf("listing persistent volume claims: %w", err)
	}
	return Summary{
		Namespaces:             len(namespaces.Items),
		Pods:                   len(pods.Items),
		PersistentVolumeClaims: len(pvcs.Items),
	}, nil
}

func expandKubeconfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
		}
	}
	return trimmed
}
