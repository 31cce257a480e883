package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cfsutil/internal/cfs"
)

// ValidationError indicates an invalid flag combination. Validation runs
// before any network call, so a ValidationError guarantees no side effects
// occurred.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// layerFlags select the candidate layer content.
type layerFlags struct {
	product           string
	cloneURL          string
	layerName         string
	playbooks         []string
	state             cfs.LayerState
	gitBranch         string
	gitCommit         string
	noResolveBranches bool
	duplicatePolicy   cfs.DuplicatePolicy
}

func (f *layerFlags) register(cmd *cobra.Command) {
	f.state = cfs.LayerStatePresent
	f.duplicatePolicy = cfs.DuplicatesUpdateAll

	cmd.Flags().StringVar(&f.product, "product", "",
		"Product providing the configuration layer, as NAME or NAME:VERSION")
	cmd.Flags().StringVar(&f.cloneURL, "clone-url", "",
		"Clone URL of the configuration repository")
	cmd.Flags().StringVar(&f.layerName, "layer-name", "",
		"Name for the layer (default: derived from repository, playbook, and revision)")
	cmd.Flags().StringArrayVar(&f.playbooks, "playbook", nil,
		"Playbook for the layer; repeat for one layer per playbook")
	cmd.Flags().Var(&f.state, "state",
		"Desired state of the layer (present or absent)")
	cmd.Flags().StringVar(&f.gitBranch, "git-branch", "",
		"Branch providing the layer's revision")
	cmd.Flags().StringVar(&f.gitCommit, "git-commit", "",
		"Commit hash providing the layer's revision")
	cmd.Flags().BoolVar(&f.noResolveBranches, "no-resolve-branches", false,
		"Store branch names in layers instead of resolving them to commit hashes")
	cmd.Flags().Var(&f.duplicatePolicy, "duplicate-layers",
		"How to treat multiple existing layers matching the same repository and playbook (update-all or error)")
}

func (f *layerFlags) validate() error {
	if (f.product == "") == (f.cloneURL == "") {
		return validationErrorf("exactly one of --product and --clone-url must be specified")
	}
	if f.gitBranch != "" && f.gitCommit != "" {
		return validationErrorf("--git-branch and --git-commit are mutually exclusive")
	}
	if f.cloneURL != "" && f.gitBranch == "" && f.gitCommit == "" {
		return validationErrorf("--clone-url requires either --git-branch or --git-commit")
	}
	return nil
}

// productNameVersion splits the --product value into name and optional
// version.
func (f *layerFlags) productNameVersion() (name, version string) {
	name, version, _ = strings.Cut(f.product, ":")
	return name, version
}

// baseFlags select the configurations to reconcile against.
type baseFlags struct {
	baseConfig string
	baseFile   string
	baseQuery  string
}

func (f *baseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.baseConfig, "base-config", "",
		"Name of the CFS configuration to use as the base")
	cmd.Flags().StringVar(&f.baseFile, "base-file", "",
		"Path of a JSON file containing the base configuration")
	cmd.Flags().StringVar(&f.baseQuery, "base-query", "",
		"HSM component query (K=V[,K=V...]) selecting components whose desired configurations are the base")
}

func (f *baseFlags) validate() error {
	count := 0
	for _, value := range []string{f.baseConfig, f.baseFile, f.baseQuery} {
		if value != "" {
			count++
		}
	}
	if count > 1 {
		return validationErrorf("--base-config, --base-file, and --base-query are mutually exclusive")
	}
	return nil
}

// saveFlags select where reconciled configurations are written.
type saveFlags struct {
	saveInPlace   bool
	saveToCFS     string
	saveToFile    string
	saveSuffix    string
	createBackups bool
}

func (f *saveFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.saveInPlace, "save", false,
		"Save each modified configuration back to where it came from")
	cmd.Flags().StringVar(&f.saveToCFS, "save-to-cfs", "",
		"Save the modified configuration to CFS under this name")
	cmd.Flags().StringVar(&f.saveToFile, "save-to-file", "",
		"Save the modified configuration to this JSON file")
	cmd.Flags().StringVar(&f.saveSuffix, "save-suffix", "",
		"Save each modified configuration under its base name plus this suffix")
	cmd.Flags().BoolVar(&f.createBackups, "create-backups", false,
		"Back up configurations before overwriting them")
}

func (f *saveFlags) validate(base *baseFlags) error {
	count := 0
	if f.saveInPlace {
		count++
	}
	for _, value := range []string{f.saveToCFS, f.saveToFile, f.saveSuffix} {
		if value != "" {
			count++
		}
	}
	if count != 1 {
		return validationErrorf("exactly one of --save, --save-to-cfs, --save-to-file, and --save-suffix must be specified")
	}

	if f.saveInPlace && base.baseConfig == "" && base.baseFile == "" && base.baseQuery == "" {
		return validationErrorf("--save requires a base configuration to save back to")
	}
	if base.baseQuery != "" && (f.saveToCFS != "" || f.saveToFile != "") {
		return validationErrorf("--base-query selects multiple configurations and cannot be combined with --save-to-cfs or --save-to-file")
	}
	if f.saveSuffix != "" && base.baseConfig == "" && base.baseQuery == "" && base.baseFile == "" {
		return validationErrorf("--save-suffix requires a base configuration to derive the save target from")
	}
	return nil
}

// backupSuffix returns the timestamped suffix for configuration backups, or
// an empty string when backups are disabled.
func (f *saveFlags) backupSuffix() string {
	if !f.createBackups {
		return ""
	}
	return "-backup-" + time.Now().UTC().Format("20060102T150405")
}

// componentFlags are the component state options applied after a save.
type componentFlags struct {
	enable     bool
	disable    bool
	clearState bool
	clearError bool
}

func (f *componentFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.enable, "enable", false, "Enable the affected components")
	cmd.Flags().BoolVar(&f.disable, "disable", false, "Disable the affected components")
	cmd.Flags().BoolVar(&f.clearState, "clear-state", false,
		"Clear the affected components' state, forcing reconfiguration")
	cmd.Flags().BoolVar(&f.clearError, "clear-error", false,
		"Reset the affected components' error counters")
}

func (f *componentFlags) validate() error {
	if f.enable && f.disable {
		return validationErrorf("--enable and --disable are mutually exclusive")
	}
	return nil
}

// update builds the component update carrying the selected options.
// desiredConfig may be empty to leave the desired configuration untouched.
func (f *componentFlags) update(desiredConfig string) cfs.ComponentUpdate {
	update := cfs.ComponentUpdate{
		ClearState: f.clearState,
		ClearError: f.clearError,
	}
	if desiredConfig != "" {
		update.DesiredConfig = &desiredConfig
	}
	if f.enable {
		enabled := true
		update.Enabled = &enabled
	}
	if f.disable {
		enabled := false
		update.Enabled = &enabled
	}
	return update
}

// assignFlags select components to point at a saved configuration.
type assignFlags struct {
	xnames []string
	query  string
}

func (f *assignFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.xnames, "assign-to-xnames", nil,
		"Comma-separated xnames of components to assign the saved configuration to")
	cmd.Flags().StringVar(&f.query, "assign-to-query", "",
		"HSM component query (K=V[,K=V...]) selecting components to assign the saved configuration to")
}

func (f *assignFlags) empty() bool {
	return len(f.xnames) == 0 && f.query == ""
}

func (f *assignFlags) validate(base *baseFlags) error {
	if base.baseQuery != "" && !f.empty() {
		return validationErrorf("--base-query cannot be combined with assignment options")
	}
	return nil
}

// waitFlags control waiting for component convergence.
type waitFlags struct {
	wait          bool
	checkInterval time.Duration
	timeout       time.Duration
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.wait, "wait", false,
		"Wait for affected components to finish configuring")
	cmd.Flags().DurationVar(&f.checkInterval, "check-interval", 10*time.Second,
		"Interval between component status checks while waiting")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0,
		"Maximum time to wait for components to configure (0 waits forever)")
}

// parseQueryParams parses a K=V[,K=V...] component query into HSM query
// parameters.
func parseQueryParams(query string) (map[string]string, error) {
	params := make(map[string]string)
	for _, pair := range strings.Split(query, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" || value == "" {
			return nil, validationErrorf("invalid component query %q: expected K=V[,K=V...]", query)
		}
		params[key] = value
	}
	return params, nil
}
