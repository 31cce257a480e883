package cfs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"cfsutil/internal/gateway"
	"cfsutil/internal/session"
	"cfsutil/pkg/logging"
)

// Component is a CFS component: a managed node with a desired configuration
// and a convergence status.
type Component struct {
	ID                  string
	DesiredConfig       string
	Enabled             bool
	ConfigurationStatus string
	ErrorCount          int
}

// ComponentUpdate describes a partial update of a CFS component. Nil fields
// are left untouched.
type ComponentUpdate struct {
	// DesiredConfig sets the component's desired configuration name.
	DesiredConfig *string
	// Enabled enables or disables the component.
	Enabled *bool
	// ClearState empties the component's state list, forcing reconfiguration.
	ClearState bool
	// ClearError resets the component's error counter.
	ClearError bool
}

// IsEmpty reports whether the update would change nothing.
func (u ComponentUpdate) IsEmpty() bool {
	return u.DesiredConfig == nil && u.Enabled == nil && !u.ClearState && !u.ClearError
}

// Client is the CFS API contract shared by the supported API versions.
type Client interface {
	// Version returns the CFS API version string, e.g. "v2".
	Version() string
	// GetConfiguration fetches a named configuration.
	GetConfiguration(ctx context.Context, name string) (*Configuration, error)
	// PutConfiguration saves layers under the given name and returns the
	// configuration as stored by CFS.
	PutConfiguration(ctx context.Context, name string, cfg *Configuration) (*Configuration, error)
	// GetComponent fetches one component by ID.
	GetComponent(ctx context.Context, id string) (Component, error)
	// UpdateComponent applies a partial update to one component.
	UpdateComponent(ctx context.Context, id string, update ComponentUpdate) error
	// GetComponentIDsUsingConfig lists the components whose desired
	// configuration is the named one.
	GetComponentIDsUsingConfig(ctx context.Context, configName string) ([]string, error)
}

// SupportedVersions lists the CFS API versions this tool can talk to.
func SupportedVersions() []string {
	return []string{"v2", "v3"}
}

// NewClient creates a CFS client for the requested API version using the
// given session.
func NewClient(sess *session.AdminSession, version string, timeout time.Duration) (Client, error) {
	switch version {
	case "v2":
		return NewV2Client(gateway.NewClient(sess.Host, "cfs/v2", sess.HTTPClient(), timeout)), nil
	case "v3":
		return NewV3Client(gateway.NewClient(sess.Host, "cfs/v3", sess.HTTPClient(), timeout)), nil
	}
	return nil, fmt.Errorf("unsupported CFS API version %q (supported: %v)", version, SupportedVersions())
}

// v2Client talks to the CFS v2 API, which uses camelCase field names and
// unpaged list responses.
type v2Client struct {
	gw *gateway.Client
}

// NewV2Client creates a CFS v2 client on an existing gateway client.
func NewV2Client(gw *gateway.Client) Client {
	return &v2Client{gw: gw}
}

func (c *v2Client) Version() string { return "v2" }

type v2Configuration struct {
	Name   string  `json:"name"`
	Layers []Layer `json:"layers"`
}

type v2Component struct {
	ID                  string `json:"id"`
	DesiredConfig       string `json:"desiredConfig"`
	Enabled             bool   `json:"enabled"`
	ConfigurationStatus string `json:"configurationStatus"`
	ErrorCount          int    `json:"errorCount"`
}

func (c *v2Client) GetConfiguration(ctx context.Context, name string) (*Configuration, error) {
	var wire v2Configuration
	if err := c.gw.GetJSON(ctx, &wire, nil, "configurations", name); err != nil {
		return nil, fmt.Errorf("failed to get configuration %q: %w", name, err)
	}
	return NewConfiguration(wire.Name, wire.Layers), nil
}

func (c *v2Client) PutConfiguration(ctx context.Context, name string, cfg *Configuration) (*Configuration, error) {
	payload := configPayload{Layers: cfg.Layers()}
	if payload.Layers == nil {
		payload.Layers = []Layer{}
	}
	var wire v2Configuration
	if err := c.gw.Put(ctx, &wire, payload, "configurations", name); err != nil {
		return nil, fmt.Errorf("failed to save configuration %q: %w", name, err)
	}
	return NewConfiguration(wire.Name, wire.Layers), nil
}

func (c *v2Client) GetComponent(ctx context.Context, id string) (Component, error) {
	var wire v2Component
	if err := c.gw.GetJSON(ctx, &wire, nil, "components", id); err != nil {
		return Component{}, fmt.Errorf("failed to get component %q: %w", id, err)
	}
	return Component(wire), nil
}

func (c *v2Client) UpdateComponent(ctx context.Context, id string, update ComponentUpdate) error {
	body := map[string]interface{}{}
	if update.DesiredConfig != nil {
		body["desiredConfig"] = *update.DesiredConfig
	}
	if update.Enabled != nil {
		body["enabled"] = *update.Enabled
	}
	if update.ClearState {
		body["state"] = []interface{}{}
	}
	if update.ClearError {
		body["errorCount"] = 0
	}
	if err := c.gw.Patch(ctx, body, "components", id); err != nil {
		return fmt.Errorf("failed to update component %q: %w", id, err)
	}
	return nil
}

func (c *v2Client) GetComponentIDsUsingConfig(ctx context.Context, configName string) ([]string, error) {
	params := url.Values{}
	params.Set("configName", configName)

	var wire []v2Component
	if err := c.gw.GetJSON(ctx, &wire, params, "components"); err != nil {
		return nil, fmt.Errorf("failed to get components using configuration %q: %w", configName, err)
	}

	ids := make([]string, 0, len(wire))
	for _, component := range wire {
		ids = append(ids, component.ID)
	}
	return ids, nil
}

// v3Client talks to the CFS v3 API, which renamed fields to snake_case and
// pages its list responses.
type v3Client struct {
	gw *gateway.Client
}

// NewV3Client creates a CFS v3 client on an existing gateway client.
func NewV3Client(gw *gateway.Client) Client {
	return &v3Client{gw: gw}
}

func (c *v3Client) Version() string { return "v3" }

type v3Layer struct {
	CloneURL string `json:"clone_url"`
	Commit   string `json:"commit,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Name     string `json:"name,omitempty"`
	Playbook string `json:"playbook,omitempty"`
}

type v3Configuration struct {
	Name   string    `json:"name"`
	Layers []v3Layer `json:"layers"`
}

type v3Component struct {
	ID                  string `json:"id"`
	DesiredConfig       string `json:"desired_config"`
	Enabled             bool   `json:"enabled"`
	ConfigurationStatus string `json:"configuration_status"`
	ErrorCount          int    `json:"error_count"`
}

type v3ComponentPage struct {
	Components []v3Component          `json:"components"`
	Next       map[string]interface{} `json:"next"`
}

func fromV3Layers(wire []v3Layer) []Layer {
	layers := make([]Layer, len(wire))
	for i, l := range wire {
		layers[i] = Layer(l)
	}
	return layers
}

func toV3Layers(layers []Layer) []v3Layer {
	wire := make([]v3Layer, len(layers))
	for i, l := range layers {
		wire[i] = v3Layer(l)
	}
	return wire
}

func (c *v3Client) GetConfiguration(ctx context.Context, name string) (*Configuration, error) {
	var wire v3Configuration
	if err := c.gw.GetJSON(ctx, &wire, nil, "configurations", name); err != nil {
		return nil, fmt.Errorf("failed to get configuration %q: %w", name, err)
	}
	return NewConfiguration(wire.Name, fromV3Layers(wire.Layers)), nil
}

func (c *v3Client) PutConfiguration(ctx context.Context, name string, cfg *Configuration) (*Configuration, error) {
	payload := struct {
		Layers []v3Layer `json:"layers"`
	}{Layers: toV3Layers(cfg.Layers())}
	if payload.Layers == nil {
		payload.Layers = []v3Layer{}
	}

	var wire v3Configuration
	if err := c.gw.Put(ctx, &wire, payload, "configurations", name); err != nil {
		return nil, fmt.Errorf("failed to save configuration %q: %w", name, err)
	}
	return NewConfiguration(wire.Name, fromV3Layers(wire.Layers)), nil
}

func (c *v3Client) GetComponent(ctx context.Context, id string) (Component, error) {
	var wire v3Component
	if err := c.gw.GetJSON(ctx, &wire, nil, "components", id); err != nil {
		return Component{}, fmt.Errorf("failed to get component %q: %w", id, err)
	}
	return Component(wire), nil
}

func (c *v3Client) UpdateComponent(ctx context.Context, id string, update ComponentUpdate) error {
	body := map[string]interface{}{}
	if update.DesiredConfig != nil {
		body["desired_config"] = *update.DesiredConfig
	}
	if update.Enabled != nil {
		body["enabled"] = *update.Enabled
	}
	if update.ClearState {
		body["state"] = []interface{}{}
	}
	if update.ClearError {
		body["error_count"] = 0
	}
	if err := c.gw.Patch(ctx, body, "components", id); err != nil {
		return fmt.Errorf("failed to update component %q: %w", id, err)
	}
	return nil
}

func (c *v3Client) GetComponentIDsUsingConfig(ctx context.Context, configName string) ([]string, error) {
	var ids []string
	params := url.Values{}
	params.Set("config_name", configName)

	// v3 pages its list responses; follow after_id until the page runs out.
	for {
		var page v3ComponentPage
		if err := c.gw.GetJSON(ctx, &page, params, "components"); err != nil {
			return nil, fmt.Errorf("failed to get components using configuration %q: %w", configName, err)
		}
		for _, component := range page.Components {
			ids = append(ids, component.ID)
		}
		afterID, ok := page.Next["after_id"].(string)
		if !ok || afterID == "" {
			break
		}
		params.Set("after_id", afterID)
	}
	return ids, nil
}

// ComponentIDLister is the part of the HSM client the CFS helpers need.
type ComponentIDLister interface {
	GetComponentIDs(ctx context.Context, params map[string]string) ([]string, error)
}

// GetConfigurationsForComponents finds the distinct configurations desired by
// the components matching the given HSM query. Components with no desired
// configuration are skipped.
func GetConfigurationsForComponents(ctx context.Context, cfsClient Client, hsmClient ComponentIDLister, params map[string]string) ([]*Configuration, error) {
	componentIDs, err := hsmClient.GetComponentIDs(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get component IDs matching query: %w", err)
	}

	configNames := map[string]struct{}{}
	for _, id := range componentIDs {
		component, err := cfsClient.GetComponent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get desired configuration of component %q: %w", id, err)
		}
		if component.DesiredConfig != "" {
			configNames[component.DesiredConfig] = struct{}{}
		}
	}

	sortedNames := make([]string, 0, len(configNames))
	for name := range configNames {
		sortedNames = append(sortedNames, name)
	}
	sort.Strings(sortedNames)

	logging.Info(subsystem, "Found %d configuration(s) in use by %d component(s)", len(sortedNames), len(componentIDs))

	configs := make([]*Configuration, 0, len(sortedNames))
	for _, name := range sortedNames {
		cfg, err := cfsClient.GetConfiguration(ctx, name)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// SaveToCFS saves a configuration under the given name (or its own name when
// name is empty). When overwrite is false an existing configuration with the
// target name is an error. A non-empty backupSuffix saves a copy of the
// existing configuration under its name plus the suffix first.
func SaveToCFS(ctx context.Context, client Client, cfg *Configuration, name string, overwrite bool, backupSuffix string) (*Configuration, error) {
	if name == "" {
		name = cfg.Name()
	}
	if name == "" {
		return nil, fmt.Errorf("cannot save configuration without a name")
	}

	existing, err := client.GetConfiguration(ctx, name)
	exists := err == nil
	if err != nil {
		var apiErr *gateway.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
			return nil, fmt.Errorf("failed to check for existing configuration %q: %w", name, err)
		}
	}

	if exists && !overwrite {
		return nil, fmt.Errorf("configuration %q already exists and would not be overwritten", name)
	}
	if exists && backupSuffix != "" {
		backupName := name + backupSuffix
		if _, err := client.PutConfiguration(ctx, backupName, existing); err != nil {
			return nil, fmt.Errorf("failed to back up configuration %q to %q: %w", name, backupName, err)
		}
		logging.Info(subsystem, "Backed up configuration %q to %q", name, backupName)
	}

	saved, err := client.PutConfiguration(ctx, name, cfg)
	if err != nil {
		return nil, err
	}
	logging.Info(subsystem, "Saved configuration %q to CFS", saved.Name())
	return saved, nil
}
