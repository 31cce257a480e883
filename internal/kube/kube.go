// Package kube provides access to the Kubernetes secrets and config maps
// that hold cluster credentials and product catalog data.
package kube

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClient creates a Kubernetes clientset. In-cluster configuration is
// preferred; outside a pod the standard kubeconfig lookup is used.
func NewClient() (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		config, err = clientConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load Kubernetes configuration: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return client, nil
}

// GetSecretValue reads one key from a namespaced secret. The returned bytes
// are the decoded secret value.
func GetSecretValue(ctx context.Context, client kubernetes.Interface, namespace, name, key string) ([]byte, error) {
	secret, err := client.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s/%s: %w", namespace, name, err)
	}

	value, ok := secret.Data[key]
	if !ok {
		return nil, fmt.Errorf("secret %s/%s has no %q key", namespace, name, key)
	}
	return value, nil
}

// GetConfigMapValue reads one key from a namespaced config map.
func GetConfigMapValue(ctx context.Context, client kubernetes.Interface, namespace, name, key string) (string, error) {
	configMap, err := client.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to read config map %s/%s: %w", namespace, name, err)
	}

	value, ok := configMap.Data[key]
	if !ok {
		return "", fmt.Errorf("config map %s/%s has no %q key", namespace, name, key)
	}
	return value, nil
}
