package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfsutil/internal/cfs"
)

func TestLayerFlagsValidate(t *testing.T) {
	tests := []struct {
		name    string
		flags   layerFlags
		wantErr string
	}{
		{
			name:  "product only",
			flags: layerFlags{product: "sat"},
		},
		{
			name:  "clone URL with branch",
			flags: layerFlags{cloneURL: "https://vcs.local/vcs/cray/a.git", gitBranch: "main"},
		},
		{
			name:  "clone URL with commit",
			flags: layerFlags{cloneURL: "https://vcs.local/vcs/cray/a.git", gitCommit: "abc123"},
		},
		{
			name:    "neither product nor clone URL",
			flags:   layerFlags{},
			wantErr: "exactly one of --product and --clone-url",
		},
		{
			name:    "both product and clone URL",
			flags:   layerFlags{product: "sat", cloneURL: "/a.git", gitCommit: "abc"},
			wantErr: "exactly one of --product and --clone-url",
		},
		{
			name:    "branch and commit together",
			flags:   layerFlags{product: "sat", gitBranch: "main", gitCommit: "abc"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "clone URL without revision",
			flags:   layerFlags{cloneURL: "/a.git"},
			wantErr: "--clone-url requires",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.flags.validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)

			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestProductNameVersion(t *testing.T) {
	flags := layerFlags{product: "sat:2.3.4"}
	name, version := flags.productNameVersion()
	assert.Equal(t, "sat", name)
	assert.Equal(t, "2.3.4", version)

	flags = layerFlags{product: "sat"}
	name, version = flags.productNameVersion()
	assert.Equal(t, "sat", name)
	assert.Empty(t, version)
}

func TestBaseFlagsValidate(t *testing.T) {
	assert.NoError(t, (&baseFlags{}).validate())
	assert.NoError(t, (&baseFlags{baseConfig: "ncn-personalization"}).validate())
	assert.NoError(t, (&baseFlags{baseQuery: "role=Management"}).validate())

	err := (&baseFlags{baseConfig: "a", baseFile: "b.json"}).validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestSaveFlagsValidate(t *testing.T) {
	tests := []struct {
		name    string
		save    saveFlags
		base    baseFlags
		wantErr string
	}{
		{
			name: "save in place with base config",
			save: saveFlags{saveInPlace: true},
			base: baseFlags{baseConfig: "ncn-personalization"},
		},
		{
			name: "save to new CFS name",
			save: saveFlags{saveToCFS: "new-config"},
		},
		{
			name: "save suffix with base query",
			save: saveFlags{saveSuffix: "-new"},
			base: baseFlags{baseQuery: "role=Management"},
		},
		{
			name:    "no save option",
			wantErr: "exactly one of --save",
		},
		{
			name:    "two save options",
			save:    saveFlags{saveInPlace: true, saveToCFS: "new"},
			base:    baseFlags{baseConfig: "a"},
			wantErr: "exactly one of --save",
		},
		{
			name:    "save in place without base",
			save:    saveFlags{saveInPlace: true},
			wantErr: "--save requires a base",
		},
		{
			name:    "base query with save-to-cfs",
			save:    saveFlags{saveToCFS: "new"},
			base:    baseFlags{baseQuery: "role=Management"},
			wantErr: "--base-query selects multiple configurations",
		},
		{
			name:    "base query with save-to-file",
			save:    saveFlags{saveToFile: "out.json"},
			base:    baseFlags{baseQuery: "role=Management"},
			wantErr: "--base-query selects multiple configurations",
		},
		{
			name: "save suffix with base file",
			save: saveFlags{saveSuffix: "-new"},
			base: baseFlags{baseFile: "base.json"},
		},
		{
			name:    "save suffix without a base",
			save:    saveFlags{saveSuffix: "-new"},
			wantErr: "--save-suffix requires a base",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.save.validate(&tc.base)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBackupSuffix(t *testing.T) {
	assert.Empty(t, (&saveFlags{}).backupSuffix())

	suffix := (&saveFlags{createBackups: true}).backupSuffix()
	assert.Regexp(t, `^-backup-\d{8}T\d{6}$`, suffix)
}

func TestComponentFlagsValidate(t *testing.T) {
	assert.NoError(t, (&componentFlags{enable: true}).validate())

	err := (&componentFlags{enable: true, disable: true}).validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestComponentFlagsUpdate(t *testing.T) {
	flags := componentFlags{enable: true, clearState: true}
	update := flags.update("new-config")

	require.NotNil(t, update.DesiredConfig)
	assert.Equal(t, "new-config", *update.DesiredConfig)
	require.NotNil(t, update.Enabled)
	assert.True(t, *update.Enabled)
	assert.True(t, update.ClearState)
	assert.False(t, update.ClearError)

	assert.True(t, (&componentFlags{}).update("").IsEmpty())

	disabled := (&componentFlags{disable: true}).update("")
	require.NotNil(t, disabled.Enabled)
	assert.False(t, *disabled.Enabled)
}

func TestAssignFlagsValidate(t *testing.T) {
	flags := assignFlags{xnames: []string{"x3000c0s1b0n0"}}
	assert.NoError(t, flags.validate(&baseFlags{baseConfig: "a"}))

	err := flags.validate(&baseFlags{baseQuery: "role=Management"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assignment")
}

func TestUpdateConfigsValidate(t *testing.T) {
	valid := updateConfigsOptions{
		layer: layerFlags{product: "sat"},
		base:  baseFlags{baseConfig: "ncn-personalization"},
		save:  saveFlags{saveInPlace: true},
	}
	assert.NoError(t, valid.validate())

	assignWithoutCFSSave := updateConfigsOptions{
		layer:  layerFlags{product: "sat"},
		base:   baseFlags{baseFile: "base.json"},
		save:   saveFlags{saveInPlace: true},
		assign: assignFlags{xnames: []string{"x3000c0s1b0n0"}},
	}
	err := assignWithoutCFSSave.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saved to CFS")

	waitWithoutCFSSave := updateConfigsOptions{
		layer: layerFlags{product: "sat"},
		base:  baseFlags{baseFile: "base.json"},
		save:  saveFlags{saveInPlace: true},
		wait:  waitFlags{wait: true},
	}
	err = waitWithoutCFSSave.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--wait")
}

func TestUpdateComponentsValidate(t *testing.T) {
	valid := updateComponentsOptions{
		xnames:        []string{"x3000c0s1b0n0"},
		desiredConfig: "new-config",
	}
	assert.NoError(t, valid.validate())

	noTarget := updateComponentsOptions{desiredConfig: "new-config"}
	err := noTarget.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--xnames")

	noUpdate := updateComponentsOptions{xnames: []string{"x3000c0s1b0n0"}}
	err = noUpdate.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no update requested")
}

func TestParseQueryParams(t *testing.T) {
	params, err := parseQueryParams("role=Management,subrole=Storage")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"role": "Management", "subrole": "Storage"}, params)

	for _, query := range []string{"", "role", "role=", "=Management", "role=Management,"} {
		_, err := parseQueryParams(query)
		assert.Error(t, err, "query %q should be rejected", query)
	}
}

func TestLayerStateDefault(t *testing.T) {
	var flags layerFlags
	cmd := newTestCommand()
	flags.register(cmd)

	assert.Equal(t, cfs.LayerStatePresent, flags.state)
	assert.Equal(t, cfs.DuplicatesUpdateAll, flags.duplicatePolicy)
}
