package cfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"cfsutil/pkg/logging"
)

const subsystem = "CFS"

// DuplicatePolicy decides what EnsureLayer does when more than one existing
// layer matches the candidate's identity. Released versions of this tool have
// disagreed on the right behavior, so it is a caller choice rather than
// hardcoded.
type DuplicatePolicy string

const (
	// DuplicatesUpdateAll updates or removes every matching layer.
	DuplicatesUpdateAll DuplicatePolicy = "update-all"
	// DuplicatesError rejects the operation without modifying any layer.
	DuplicatesError DuplicatePolicy = "error"
)

// String implements pflag.Value.
func (p *DuplicatePolicy) String() string {
	return string(*p)
}

// Set implements pflag.Value.
func (p *DuplicatePolicy) Set(value string) error {
	switch DuplicatePolicy(value) {
	case DuplicatesUpdateAll, DuplicatesError:
		*p = DuplicatePolicy(value)
		return nil
	}
	return fmt.Errorf("invalid duplicate layer policy %q (must be %q or %q)",
		value, DuplicatesUpdateAll, DuplicatesError)
}

// Type implements pflag.Value.
func (p *DuplicatePolicy) Type() string {
	return "policy"
}

// DuplicateLayersError is returned by EnsureLayer under the DuplicatesError
// policy when multiple existing layers share the candidate's identity.
type DuplicateLayersError struct {
	// ConfigName names the configuration containing the duplicates.
	ConfigName string
	// LayerNames are the display names of the colliding layers.
	LayerNames []string
}

// Error names the colliding layers so the duplicates can be found and fixed.
func (e *DuplicateLayersError) Error() string {
	return fmt.Sprintf("multiple layers matching the same repository and playbook found in configuration %q: %s",
		e.ConfigName, strings.Join(e.LayerNames, ", "))
}

// Configuration is a named, ordered collection of layers. The zero value is
// not useful; use NewConfiguration or one of the load functions.
//
// A Configuration is fetched once at the start of a run, mutated in memory by
// EnsureLayer calls, and then persisted or discarded. It is not safe for
// concurrent use.
type Configuration struct {
	name    string
	layers  []Layer
	changed bool
}

// NewConfiguration creates a configuration with the given name and layers.
// The name may be empty for configurations that have not been saved yet.
func NewConfiguration(name string, layers []Layer) *Configuration {
	return &Configuration{name: name, layers: append([]Layer(nil), layers...)}
}

// EmptyConfiguration creates an unnamed configuration with no layers.
func EmptyConfiguration() *Configuration {
	return &Configuration{}
}

// Name returns the configuration's name, empty until first saved.
func (c *Configuration) Name() string {
	return c.name
}

// Layers returns a copy of the configuration's ordered layer list.
func (c *Configuration) Layers() []Layer {
	return append([]Layer(nil), c.layers...)
}

// Changed reports whether any EnsureLayer call actually added, removed, or
// modified a layer since the configuration was loaded.
func (c *Configuration) Changed() bool {
	return c.changed
}

// describe names the configuration in log messages before it has a name.
func (c *Configuration) describe() string {
	if c.name == "" {
		return "(unnamed)"
	}
	return c.name
}

// EnsureLayer reconciles one candidate layer against the configuration's
// layer list.
//
// The layer list is scanned in order. Every layer matching the candidate's
// identity (repository path plus playbook) is replaced in place by the
// candidate when state is present, or dropped when state is absent; all other
// layers keep their positions. If no layer matches, a present candidate is
// appended at the end and an absent candidate is a no-op. Replacement is
// whole-layer: fields set on the existing layer but not on the candidate are
// lost.
//
// The operation is idempotent. Applying the same candidate twice leaves the
// layer list identical and reports no change the second time. The changed
// flag accumulates across calls, so batches of candidates OR their results.
func (c *Configuration) EnsureLayer(candidate Layer, state LayerState, policy DuplicatePolicy) error {
	var matchNames []string
	for _, layer := range c.layers {
		if layer.Matches(candidate) {
			matchNames = append(matchNames, layer.Name)
		}
	}
	if len(matchNames) > 1 && policy == DuplicatesError {
		return &DuplicateLayersError{ConfigName: c.name, LayerNames: matchNames}
	}

	found := false
	newLayers := make([]Layer, 0, len(c.layers)+1)
	for _, layer := range c.layers {
		if !layer.Matches(candidate) {
			newLayers = append(newLayers, layer)
			continue
		}

		found = true
		if state == LayerStateAbsent {
			logging.Info(subsystem, "Removing layer %q from configuration %q", layer.Name, c.describe())
			c.changed = true
			continue
		}

		diffs := fieldDiffs(layer, candidate)
		if len(diffs) > 0 {
			c.changed = true
			for _, diff := range diffs {
				logging.Info(subsystem, "Layer %q in configuration %q: %s", layer.Name, c.describe(), diff)
			}
		} else {
			logging.Info(subsystem, "Layer %q in configuration %q is already up to date", layer.Name, c.describe())
		}
		newLayers = append(newLayers, candidate)
	}

	if !found {
		if state == LayerStatePresent {
			logging.Info(subsystem, "No layer matching repository path %q and playbook %q found in configuration %q; appending layer %q",
				candidate.RepoPath(), candidate.Playbook, c.describe(), candidate.Name)
			newLayers = append(newLayers, candidate)
			c.changed = true
		} else {
			logging.Info(subsystem, "No layer matching repository path %q and playbook %q found in configuration %q; nothing to remove",
				candidate.RepoPath(), candidate.Playbook, c.describe())
		}
	}

	c.layers = newLayers
	return nil
}

// configPayload is the serialized form of a configuration: the request body
// for CFS saves and the on-disk file format. The name is carried in the URL
// or filename, not the payload.
type configPayload struct {
	Layers []Layer `json:"layers"`
}

// MarshalPayload serializes the configuration's layers to the CFS request and
// file format.
func (c *Configuration) MarshalPayload() ([]byte, error) {
	payload := configPayload{Layers: c.layers}
	if payload.Layers == nil {
		payload.Layers = []Layer{}
	}
	return json.MarshalIndent(payload, "", "  ")
}

// UnmarshalPayload deserializes a configuration payload. This is the only
// place the wire format enters the package; the reconciler itself never
// touches raw JSON.
func UnmarshalPayload(name string, data []byte) (*Configuration, error) {
	var payload configPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse configuration payload: %w", err)
	}
	return &Configuration{name: name, layers: payload.Layers}, nil
}

// LoadConfigurationFromFile loads a configuration from a JSON payload file.
// A missing file yields an empty configuration, matching the behavior of
// starting from a nonexistent CFS configuration.
func LoadConfigurationFromFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info(subsystem, "File %s does not exist; starting from an empty configuration", path)
			return EmptyConfiguration(), nil
		}
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	cfg, err := UnmarshalPayload("", data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON in file %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration payload to path. When overwrite is
// false an existing file is an error. A non-empty backupSuffix preserves the
// previous contents at path+backupSuffix before overwriting.
func (c *Configuration) SaveToFile(path string, overwrite bool, backupSuffix string) error {
	existing, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check file %s: %w", path, err)
	}

	if exists && !overwrite {
		return fmt.Errorf("file %s already exists and would not be overwritten", path)
	}
	if exists && backupSuffix != "" {
		backupPath := path + backupSuffix
		if err := os.WriteFile(backupPath, existing, 0o644); err != nil {
			return fmt.Errorf("failed to write backup file %s: %w", backupPath, err)
		}
		logging.Info(subsystem, "Backed up %s to %s", path, backupPath)
	}

	data, err := c.MarshalPayload()
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	logging.Info(subsystem, "Saved configuration to file %s", path)
	return nil
}
