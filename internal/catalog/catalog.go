// Package catalog looks up installed product versions in the product catalog,
// a Kubernetes ConfigMap maintained by product installers.
//
// Each ConfigMap key is a product name whose value is a YAML mapping from
// installed version to product data, including the configuration management
// repository and the commit imported for that version.
package catalog

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
	"k8s.io/client-go/kubernetes"

	"cfsutil/internal/kube"
	"cfsutil/pkg/logging"
)

const subsystem = "Catalog"

const (
	catalogNamespace = "services"
	catalogName      = "cray-product-catalog"
)

// Product identifies one installed version of a product and its configuration
// management repository.
type Product struct {
	Name     string
	Version  string
	CloneURL string
	Commit   string
}

// productEntry is the per-version YAML structure in the catalog.
type productEntry struct {
	Configuration struct {
		CloneURL     string `yaml:"clone_url"`
		Commit       string `yaml:"commit"`
		ImportBranch string `yaml:"import_branch"`
	} `yaml:"configuration"`
}

// GetProduct looks up a product in the catalog. An empty version selects the
// latest installed version by semantic version ordering.
func GetProduct(ctx context.Context, kubeClient kubernetes.Interface, name, version string) (*Product, error) {
	raw, err := kube.GetConfigMapValue(ctx, kubeClient, catalogNamespace, catalogName, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find product %q in product catalog: %w", name, err)
	}

	var entries map[string]productEntry
	if err := yaml.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse product catalog data for product %q: %w", name, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no versions of product %q found in product catalog", name)
	}

	if version == "" {
		version, err = latestVersion(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to determine latest version of product %q: %w", name, err)
		}
		logging.Info(subsystem, "Using latest installed version %s of product %q", version, name)
	}

	entry, ok := entries[version]
	if !ok {
		return nil, fmt.Errorf("version %s of product %q not found in product catalog", version, name)
	}
	if entry.Configuration.CloneURL == "" {
		return nil, fmt.Errorf("product catalog entry for version %s of product %q has no configuration repository",
			version, name)
	}

	return &Product{
		Name:     name,
		Version:  version,
		CloneURL: entry.Configuration.CloneURL,
		Commit:   entry.Configuration.Commit,
	}, nil
}

// latestVersion picks the highest semantic version among the catalog entries.
// Entries whose keys do not parse as versions are ignored.
func latestVersion(entries map[string]productEntry) (string, error) {
	var best *semver.Version
	bestKey := ""
	for key := range entries {
		parsed, err := semver.NewVersion(key)
		if err != nil {
			logging.Debug(subsystem, "Ignoring unparsable catalog version %q", key)
			continue
		}
		if best == nil || parsed.GreaterThan(best) {
			best = parsed
			bestKey = key
		}
	}
	if best == nil {
		return "", fmt.Errorf("no parsable versions among %d catalog entries", len(entries))
	}
	return bestKey, nil
}
