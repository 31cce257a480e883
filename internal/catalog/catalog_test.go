package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
)

const satCatalogData = `
"2.2.16":
  configuration:
    clone_url: https://vcs.local/vcs/cray/sat-config-management.git
    commit: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
    import_branch: cray/sat/2.2.16
"2.3.4":
  configuration:
    clone_url: https://vcs.local/vcs/cray/sat-config-management.git
    commit: bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb
    import_branch: cray/sat/2.3.4
`

func catalogClient(data map[string]string) kubernetes.Interface {
	return fake.NewClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "cray-product-catalog", Namespace: "services"},
		Data:       data,
	})
}

func TestGetProductExplicitVersion(t *testing.T) {
	client := catalogClient(map[string]string{"sat": satCatalogData})

	product, err := GetProduct(context.Background(), client, "sat", "2.2.16")
	require.NoError(t, err)

	assert.Equal(t, "sat", product.Name)
	assert.Equal(t, "2.2.16", product.Version)
	assert.Equal(t, "https://vcs.local/vcs/cray/sat-config-management.git", product.CloneURL)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", product.Commit)
}

func TestGetProductLatestVersion(t *testing.T) {
	client := catalogClient(map[string]string{"sat": satCatalogData})

	product, err := GetProduct(context.Background(), client, "sat", "")
	require.NoError(t, err)

	assert.Equal(t, "2.3.4", product.Version)
	assert.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", product.Commit)
}

func TestGetProductLatestVersionNumericOrdering(t *testing.T) {
	client := catalogClient(map[string]string{"cos": `
"2.9.0":
  configuration:
    clone_url: https://vcs.local/vcs/cray/cos-config-management.git
    commit: aaa
"2.10.0":
  configuration:
    clone_url: https://vcs.local/vcs/cray/cos-config-management.git
    commit: bbb
`})

	product, err := GetProduct(context.Background(), client, "cos", "")
	require.NoError(t, err)
	assert.Equal(t, "2.10.0", product.Version, "versions should compare numerically, not lexically")
}

func TestGetProductUnknownProduct(t *testing.T) {
	client := catalogClient(map[string]string{"sat": satCatalogData})

	_, err := GetProduct(context.Background(), client, "cos", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cos")
}

func TestGetProductUnknownVersion(t *testing.T) {
	client := catalogClient(map[string]string{"sat": satCatalogData})

	_, err := GetProduct(context.Background(), client, "sat", "9.9.9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "9.9.9")
}

func TestGetProductNoConfigurationData(t *testing.T) {
	client := catalogClient(map[string]string{"uan": `
"1.0.0":
  component_versions:
    docker: []
`})

	_, err := GetProduct(context.Background(), client, "uan", "1.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration repository")
}

func TestGetProductMalformedData(t *testing.T) {
	client := catalogClient(map[string]string{"sat": "not: [valid"})

	_, err := GetProduct(context.Background(), client, "sat", "")
	require.Error(t, err)
}
