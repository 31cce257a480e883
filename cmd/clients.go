package cmd

import (
	"context"
	"fmt"

	"k8s.io/client-go/kubernetes"

	"cfsutil/internal/cfs"
	"cfsutil/internal/hsm"
	"cfsutil/internal/kube"
	"cfsutil/internal/session"
)

// apiClients bundles the authenticated service clients a command needs.
// Construction is deferred until after flag validation so that invalid
// invocations never touch the network.
type apiClients struct {
	kube kubernetes.Interface
	sess *session.AdminSession
	cfs  cfs.Client
	hsm  *hsm.Client
}

// newKubeClient creates just the Kubernetes client, for commands that only
// read secrets or ConfigMaps.
func newKubeClient() (kubernetes.Interface, error) {
	kubeClient, err := kube.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return kubeClient, nil
}

// newAPIClients creates the Kubernetes client, the authenticated gateway
// session, and the CFS and HSM clients on top of it.
func newAPIClients(ctx context.Context, cfsVersion string) (*apiClients, error) {
	kubeClient, err := newKubeClient()
	if err != nil {
		return nil, err
	}

	sess, err := session.NewAdminSession(ctx, kubeClient, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create API gateway session: %w", err)
	}

	cfsClient, err := cfs.NewClient(sess, cfsVersion, settings.APITimeout())
	if err != nil {
		return nil, err
	}

	return &apiClients{
		kube: kubeClient,
		sess: sess,
		cfs:  cfsClient,
		hsm:  hsm.NewClient(sess, settings.APITimeout()),
	}, nil
}
