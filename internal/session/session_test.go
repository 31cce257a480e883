package session

import (
	"context"
	"testing"

	"cfsutil/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func adminSecret() *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "admin-client-auth", Namespace: "default"},
		Data:       map[string][]byte{"client-secret": []byte("s3cret")},
	}
}

func TestNewAdminSession(t *testing.T) {
	kubeClient := fake.NewClientset(adminSecret())
	settings := config.Defaults()

	session, err := NewAdminSession(context.Background(), kubeClient, settings)
	require.NoError(t, err)

	assert.Equal(t, settings.APIGatewayHost, session.Host)
	assert.True(t, session.CertVerify)
	assert.NotNil(t, session.HTTPClient())
}

func TestNewAdminSessionMissingSecret(t *testing.T) {
	kubeClient := fake.NewClientset()

	_, err := NewAdminSession(context.Background(), kubeClient, config.Defaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin client credentials")
}

func TestNewAdminSessionInsecure(t *testing.T) {
	kubeClient := fake.NewClientset(adminSecret())
	settings := config.Defaults()
	settings.CertVerify = false

	session, err := NewAdminSession(context.Background(), kubeClient, settings)
	require.NoError(t, err)
	assert.False(t, session.CertVerify)
}
