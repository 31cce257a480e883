package cmd

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfsutil/internal/cfs"
	"cfsutil/internal/gateway"
)

// recordingCFSClient serves configurations from memory and records every put.
type recordingCFSClient struct {
	existing map[string][]cfs.Layer
	puts     map[string][]cfs.Layer
}

func (c *recordingCFSClient) Version() string { return "v2" }

func (c *recordingCFSClient) GetConfiguration(_ context.Context, name string) (*cfs.Configuration, error) {
	layers, ok := c.existing[name]
	if !ok {
		return nil, &gateway.APIError{Method: http.MethodGet, URL: name, StatusCode: http.StatusNotFound}
	}
	return cfs.NewConfiguration(name, layers), nil
}

func (c *recordingCFSClient) PutConfiguration(_ context.Context, name string, cfg *cfs.Configuration) (*cfs.Configuration, error) {
	if c.puts == nil {
		c.puts = make(map[string][]cfs.Layer)
	}
	c.puts[name] = cfg.Layers()
	return cfs.NewConfiguration(name, cfg.Layers()), nil
}

func (c *recordingCFSClient) GetComponent(context.Context, string) (cfs.Component, error) {
	return cfs.Component{}, nil
}

func (c *recordingCFSClient) UpdateComponent(context.Context, string, cfs.ComponentUpdate) error {
	return nil
}

func (c *recordingCFSClient) GetComponentIDsUsingConfig(context.Context, string) ([]string, error) {
	return nil, nil
}

func presentLayerOpts() *updateConfigsOptions {
	opts := &updateConfigsOptions{}
	opts.layer.state = cfs.LayerStatePresent
	opts.layer.duplicatePolicy = cfs.DuplicatesUpdateAll
	return opts
}

func TestReconcileAndSaveSkipsUnchangedCFSSave(t *testing.T) {
	layer := cfs.Layer{CloneURL: "/vcs/cray/a.git", Playbook: "site.yml", Commit: "abc", Name: "a"}
	client := &recordingCFSClient{existing: map[string][]cfs.Layer{
		"base": {layer},
	}}

	opts := presentLayerOpts()
	opts.save.saveToCFS = "new-config"

	target := &configTarget{cfg: cfs.NewConfiguration("base", []cfs.Layer{layer}), saveName: "new-config"}
	saved, err := reconcileAndSave(context.Background(), opts, &apiClients{cfs: client}, target, []cfs.Layer{layer})
	require.NoError(t, err)

	assert.Empty(t, client.puts, "an unchanged configuration should not be written to CFS")
	assert.Equal(t, "new-config", saved, "unchanged configurations still count as affected")
}

func TestReconcileAndSaveSkipsUnchangedFileSave(t *testing.T) {
	layer := cfs.Layer{CloneURL: "/vcs/cray/a.git", Playbook: "site.yml", Commit: "abc", Name: "a"}

	opts := presentLayerOpts()
	opts.save.saveToFile = filepath.Join(t.TempDir(), "out.json")

	target := &configTarget{cfg: cfs.NewConfiguration("", []cfs.Layer{layer}), savePath: opts.save.saveToFile}
	_, err := reconcileAndSave(context.Background(), opts, nil, target, []cfs.Layer{layer})
	require.NoError(t, err)

	_, err = os.Stat(opts.save.saveToFile)
	assert.True(t, os.IsNotExist(err), "an unchanged configuration should not be written to a file")
}

func TestReconcileAndSaveWritesChangedConfiguration(t *testing.T) {
	existing := cfs.Layer{CloneURL: "/vcs/cray/a.git", Playbook: "site.yml", Commit: "abc", Name: "a"}
	candidate := existing
	candidate.Commit = "def"

	client := &recordingCFSClient{existing: map[string][]cfs.Layer{
		"base": {existing},
	}}

	opts := presentLayerOpts()
	opts.save.saveToCFS = "new-config"

	target := &configTarget{cfg: cfs.NewConfiguration("base", []cfs.Layer{existing}), saveName: "new-config"}
	saved, err := reconcileAndSave(context.Background(), opts, &apiClients{cfs: client}, target, []cfs.Layer{candidate})
	require.NoError(t, err)

	assert.Equal(t, "new-config", saved)
	require.Contains(t, client.puts, "new-config")
	assert.Equal(t, "def", client.puts["new-config"][0].Commit)
}

func TestLoadConfigTargetsBaseFileWithSuffix(t *testing.T) {
	baseFile := filepath.Join(t.TempDir(), "base.json")
	base := cfs.NewConfiguration("", []cfs.Layer{
		{CloneURL: "/vcs/cray/a.git", Playbook: "site.yml", Commit: "abc", Name: "a"},
	})
	require.NoError(t, base.SaveToFile(baseFile, false, ""))

	opts := presentLayerOpts()
	opts.base.baseFile = baseFile
	opts.save.saveSuffix = "-new"

	targets, err := loadConfigTargets(context.Background(), opts, nil)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, baseFile+"-new", targets[0].savePath,
		"a suffix save from a base file should write to the suffixed file path")
	assert.Empty(t, targets[0].saveName)
}

func TestReconcileAndSaveBaseFileWithSuffix(t *testing.T) {
	baseFile := filepath.Join(t.TempDir(), "base.json")
	base := cfs.NewConfiguration("", []cfs.Layer{
		{CloneURL: "/vcs/cray/a.git", Playbook: "site.yml", Commit: "abc", Name: "a"},
	})
	require.NoError(t, base.SaveToFile(baseFile, false, ""))

	opts := presentLayerOpts()
	opts.base.baseFile = baseFile
	opts.save.saveSuffix = "-new"

	targets, err := loadConfigTargets(context.Background(), opts, nil)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	candidate := cfs.Layer{CloneURL: "/vcs/cray/a.git", Playbook: "site.yml", Commit: "def", Name: "a"}
	_, err = reconcileAndSave(context.Background(), opts, nil, targets[0], []cfs.Layer{candidate})
	require.NoError(t, err)

	saved, err := cfs.LoadConfigurationFromFile(baseFile + "-new")
	require.NoError(t, err)
	require.Len(t, saved.Layers(), 1)
	assert.Equal(t, "def", saved.Layers()[0].Commit)

	original, err := cfs.LoadConfigurationFromFile(baseFile)
	require.NoError(t, err)
	assert.Equal(t, "abc", original.Layers()[0].Commit, "the base file should be untouched")
}
