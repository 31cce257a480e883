// Package session manages the authenticated API gateway session.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"cfsutil/internal/config"
	"cfsutil/internal/kube"
	"cfsutil/pkg/logging"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"k8s.io/client-go/kubernetes"
)

const (
	keycloakRealm = "shasta"

	adminClientID        = "admin-client"
	adminSecretName      = "admin-client-auth"
	adminSecretNamespace = "default"
	adminSecretKey       = "client-secret"
)

// AdminSession holds the OAuth2 client-credentials session used for all CFS
// and HSM requests in a run. It is constructed once at process start and
// passed by handle to every client; token acquisition happens once and the
// token source is shared read-only afterwards.
type AdminSession struct {
	// Host is the API gateway host the session authenticates against.
	Host string
	// CertVerify records whether TLS verification is enabled for the session.
	CertVerify bool

	httpClient *http.Client
}

// NewAdminSession builds an AdminSession from the admin client credentials
// stored in Kubernetes. The returned session's HTTP client injects and
// refreshes the bearer token transparently.
func NewAdminSession(ctx context.Context, kubeClient kubernetes.Interface, settings config.Settings) (*AdminSession, error) {
	clientSecret, err := kube.GetSecretValue(ctx, kubeClient, adminSecretNamespace, adminSecretName, adminSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get admin client credentials: %w", err)
	}

	conf := &clientcredentials.Config{
		ClientID:     adminClientID,
		ClientSecret: string(clientSecret),
		TokenURL: fmt.Sprintf("https://%s/keycloak/realms/%s/protocol/openid-connect/token",
			settings.APIGatewayHost, keycloakRealm),
	}

	baseClient := newBaseClient(settings.CertVerify)
	// The token exchange and all subsequent API requests go through the same
	// base transport so the TLS verification setting applies to both.
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, baseClient)

	httpClient := conf.Client(tokenCtx)
	httpClient.Transport = &oauth2.Transport{
		Source: conf.TokenSource(tokenCtx),
		Base:   baseClient.Transport,
	}

	logging.Debug("Session", "Created admin session for API gateway host %s", settings.APIGatewayHost)

	return &AdminSession{
		Host:       settings.APIGatewayHost,
		CertVerify: settings.CertVerify,
		httpClient: httpClient,
	}, nil
}

// HTTPClient returns the authenticated HTTP client for gateway requests.
func (s *AdminSession) HTTPClient() *http.Client {
	return s.httpClient
}

func newBaseClient(certVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !certVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}
