package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"

	"cfsutil/internal/catalog"
	"cfsutil/internal/cfs"
	"cfsutil/internal/gateway"
	"cfsutil/internal/vcs"
	"cfsutil/internal/wait"
	"cfsutil/pkg/logging"
)

const cmdSubsystem = "CLI"

// updateConfigsOptions collects every flag group of the update-configs verb.
type updateConfigsOptions struct {
	layer      layerFlags
	base       baseFlags
	save       saveFlags
	component  componentFlags
	assign     assignFlags
	wait       waitFlags
	cfsVersion string
}

var updateConfigsOpts updateConfigsOptions

var updateConfigsCmd = &cobra.Command{
	Use:   "update-configs",
	Short: "Ensure a configuration layer is present in or absent from CFS configurations",
	Long: `Ensures a layer built from an installed product or an explicit clone URL
is present in (or absent from) one or more CFS configurations.

The base configurations come from CFS by name, from a JSON file, or from
the desired configurations of components matching an HSM query. Layers are
matched by repository path and playbook; a matching layer is updated in
place, and a missing layer is appended. Modified configurations are saved
back in place, under a new name or suffix, or to a file.

Saved configurations can then be assigned to components, and the command
can wait for those components to finish configuring.`,
	Args: cobra.NoArgs,
	RunE: runUpdateConfigs,
}

// configTarget pairs a base configuration with where its reconciled result
// should be written.
type configTarget struct {
	cfg *cfs.Configuration
	// saveName is the CFS configuration name to save under, or empty when
	// saving to a file instead.
	saveName string
	// savePath is the file path to save to, or empty when saving to CFS.
	savePath string
}

func (t *configTarget) describe() string {
	if t.savePath != "" {
		return t.savePath
	}
	if t.saveName != "" {
		return t.saveName
	}
	return "(unnamed)"
}

func runUpdateConfigs(cmd *cobra.Command, args []string) error {
	opts := &updateConfigsOpts
	if err := opts.validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	kubeClient, err := newKubeClient()
	if err != nil {
		return err
	}

	candidates, err := buildCandidateLayers(ctx, opts, kubeClient)
	if err != nil {
		return err
	}

	var clients *apiClients
	if opts.needsGateway() {
		clients, err = newAPIClients(ctx, opts.cfsVersion)
		if err != nil {
			return err
		}
	}

	targets, err := loadConfigTargets(ctx, opts, clients)
	if err != nil {
		return err
	}

	var failures []string
	var savedNames []string
	for _, target := range targets {
		saved, err := reconcileAndSave(ctx, opts, clients, target, candidates)
		if err != nil {
			logging.Error(cmdSubsystem, err, "Failed to update configuration %s", target.describe())
			failures = append(failures, target.describe())
			continue
		}
		if saved != "" {
			savedNames = append(savedNames, saved)
		}
	}

	affectedIDs, componentFailures := updateAffectedComponents(ctx, opts, clients, savedNames)
	failures = append(failures, componentFailures...)

	if opts.wait.wait && len(affectedIDs) > 0 {
		if err := waitForComponents(ctx, cmd, &opts.wait, clients.cfs, affectedIDs); err != nil {
			return err
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to update: %v", failures)
	}
	return nil
}

func (opts *updateConfigsOptions) validate() error {
	for _, validate := range []func() error{
		opts.layer.validate,
		opts.base.validate,
		func() error { return opts.save.validate(&opts.base) },
		opts.component.validate,
		func() error { return opts.assign.validate(&opts.base) },
	} {
		if err := validate(); err != nil {
			return err
		}
	}

	if !opts.assign.empty() && !opts.savesToCFS() {
		return validationErrorf("assignment options require the configuration to be saved to CFS")
	}
	if opts.wait.wait && !opts.savesToCFS() {
		return validationErrorf("--wait requires the configuration to be saved to CFS")
	}
	return nil
}

// savesToCFS reports whether the invocation writes at least one configuration
// to CFS, which assignment and waiting both depend on. A suffix save only
// targets CFS when the base itself is a CFS configuration; with --base-file
// the suffix names a file instead.
func (opts *updateConfigsOptions) savesToCFS() bool {
	cfsBase := opts.base.baseConfig != "" || opts.base.baseQuery != ""
	return opts.save.saveToCFS != "" ||
		((opts.save.saveSuffix != "" || opts.save.saveInPlace) && cfsBase)
}

// needsGateway reports whether the invocation touches CFS or HSM at all. A
// pure file-to-file reconciliation does not need an authenticated session.
func (opts *updateConfigsOptions) needsGateway() bool {
	return opts.base.baseConfig != "" || opts.base.baseQuery != "" ||
		opts.savesToCFS() || !opts.assign.empty() || opts.wait.wait
}

// buildCandidateLayers constructs one candidate layer per requested playbook,
// resolving the product catalog entry and branch names as needed.
func buildCandidateLayers(ctx context.Context, opts *updateConfigsOptions, kubeClient kubernetes.Interface) ([]cfs.Layer, error) {
	playbooks := opts.layer.playbooks
	if len(playbooks) == 0 {
		playbooks = []string{""}
	}

	var candidates []cfs.Layer
	for _, playbook := range playbooks {
		layerOpts := cfs.LayerOptions{
			Name:     opts.layer.layerName,
			Playbook: playbook,
			Branch:   opts.layer.gitBranch,
			Commit:   opts.layer.gitCommit,
		}

		if opts.layer.cloneURL != "" {
			candidates = append(candidates, cfs.NewLayerFromCloneURL(opts.layer.cloneURL, layerOpts))
			continue
		}

		name, version := opts.layer.productNameVersion()
		product, err := catalog.GetProduct(ctx, kubeClient, name, version)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, cfs.NewLayerFromProduct(product.Name, product.CloneURL, product.Commit, layerOpts))
	}

	if opts.layer.noResolveBranches {
		return candidates, nil
	}
	return resolveCandidateBranches(ctx, kubeClient, candidates)
}

// resolveCandidateBranches pins branch-based candidates to commit hashes by
// querying the VCS. Candidates already pinned to commits pass through.
func resolveCandidateBranches(ctx context.Context, kubeClient kubernetes.Interface, candidates []cfs.Layer) ([]cfs.Layer, error) {
	repos := make(map[string]*vcs.Repo)
	var creds *vcs.Credentials

	resolved := make([]cfs.Layer, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Branch == "" {
			resolved = append(resolved, candidate)
			continue
		}

		if creds == nil {
			loaded, err := vcs.LoadCredentials(ctx, kubeClient, settings)
			if err != nil {
				return nil, err
			}
			creds = &loaded
		}

		repo, ok := repos[candidate.CloneURL]
		if !ok {
			repo = vcs.NewRepo(candidate.CloneURL, creds, settings.CertVerify)
			repos[candidate.CloneURL] = repo
		}

		pinned, err := candidate.ResolveBranch(ctx, repo)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, pinned)
	}
	return resolved, nil
}

// loadConfigTargets builds the list of base configurations and their save
// destinations from the base and save flag groups.
func loadConfigTargets(ctx context.Context, opts *updateConfigsOptions, clients *apiClients) ([]*configTarget, error) {
	switch {
	case opts.base.baseFile != "":
		cfg, err := cfs.LoadConfigurationFromFile(opts.base.baseFile)
		if err != nil {
			return nil, err
		}
		target := &configTarget{cfg: cfg}
		if opts.save.saveInPlace {
			target.savePath = opts.base.baseFile
		}
		if opts.save.saveSuffix != "" {
			target.savePath = opts.base.baseFile + opts.save.saveSuffix
		}
		applySaveTarget(target, &opts.save)
		return []*configTarget{target}, nil

	case opts.base.baseConfig != "":
		cfg, err := clients.cfs.GetConfiguration(ctx, opts.base.baseConfig)
		if err != nil {
			var apiErr *gateway.APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
				return nil, err
			}
			logging.Info(cmdSubsystem, "Configuration %q does not exist; starting from an empty configuration",
				opts.base.baseConfig)
			cfg = cfs.NewConfiguration(opts.base.baseConfig, nil)
		}
		target := &configTarget{cfg: cfg}
		if opts.save.saveInPlace {
			target.saveName = opts.base.baseConfig
		}
		if opts.save.saveSuffix != "" {
			target.saveName = opts.base.baseConfig + opts.save.saveSuffix
		}
		applySaveTarget(target, &opts.save)
		return []*configTarget{target}, nil

	case opts.base.baseQuery != "":
		params, err := parseQueryParams(opts.base.baseQuery)
		if err != nil {
			return nil, err
		}
		configs, err := cfs.GetConfigurationsForComponents(ctx, clients.cfs, clients.hsm, params)
		if err != nil {
			return nil, err
		}
		targets := make([]*configTarget, 0, len(configs))
		for _, cfg := range configs {
			targets = append(targets, &configTarget{cfg: cfg, saveName: cfg.Name() + opts.save.saveSuffix})
		}
		return targets, nil

	default:
		target := &configTarget{cfg: cfs.EmptyConfiguration()}
		applySaveTarget(target, &opts.save)
		return []*configTarget{target}, nil
	}
}

// applySaveTarget fills in explicit save destinations, which apply the same
// way regardless of where the base configuration came from.
func applySaveTarget(target *configTarget, save *saveFlags) {
	if save.saveToCFS != "" {
		target.saveName = save.saveToCFS
	}
	if save.saveToFile != "" {
		target.savePath = save.saveToFile
	}
}

// reconcileAndSave applies every candidate layer to one configuration and
// writes the result to its destination. It returns the CFS name the
// configuration was saved under, or an empty string for file saves.
func reconcileAndSave(ctx context.Context, opts *updateConfigsOptions, clients *apiClients, target *configTarget, candidates []cfs.Layer) (string, error) {
	for _, candidate := range candidates {
		if err := target.cfg.EnsureLayer(candidate, opts.layer.state, opts.layer.duplicatePolicy); err != nil {
			return "", err
		}
	}

	if !target.cfg.Changed() {
		logging.Info(cmdSubsystem, "Configuration %s is unchanged; nothing to save", target.describe())
		// Unchanged configurations are not written anywhere, but still count
		// as affected for assignment and waiting.
		return target.saveName, nil
	}

	backupSuffix := opts.save.backupSuffix()
	if target.savePath != "" {
		overwrite := opts.save.saveInPlace || opts.save.saveToFile != "" || opts.save.saveSuffix != ""
		return "", target.cfg.SaveToFile(target.savePath, overwrite, backupSuffix)
	}

	if _, err := cfs.SaveToCFS(ctx, clients.cfs, target.cfg, target.saveName, true, backupSuffix); err != nil {
		return "", err
	}
	return target.saveName, nil
}

// updateAffectedComponents resolves the components affected by the saved
// configurations and applies assignment and component state options to them.
// It returns the affected component IDs and the IDs that failed to update.
func updateAffectedComponents(ctx context.Context, opts *updateConfigsOptions, clients *apiClients, savedNames []string) (affected []string, failures []string) {
	if len(savedNames) == 0 {
		return nil, nil
	}

	assigning := !opts.assign.empty()
	optionsSet := !opts.component.update("").IsEmpty()
	if !assigning && !optionsSet && !opts.wait.wait {
		return nil, nil
	}

	if assigning {
		// Validation guarantees a single saved CFS configuration here.
		desiredConfig := savedNames[0]
		ids := append([]string(nil), opts.assign.xnames...)
		if opts.assign.query != "" {
			params, err := parseQueryParams(opts.assign.query)
			if err != nil {
				return nil, []string{opts.assign.query}
			}
			queried, err := clients.hsm.GetComponentIDs(ctx, params)
			if err != nil {
				logging.Error(cmdSubsystem, err, "Failed to query components to assign configuration %q to", desiredConfig)
				return nil, []string{opts.assign.query}
			}
			ids = append(ids, queried...)
		}

		for _, id := range ids {
			if err := clients.cfs.UpdateComponent(ctx, id, opts.component.update(desiredConfig)); err != nil {
				logging.Error(cmdSubsystem, err, "Failed to update component %s", id)
				failures = append(failures, id)
				continue
			}
			logging.Info(cmdSubsystem, "Assigned configuration %q to component %s", desiredConfig, id)
			affected = append(affected, id)
		}
		return affected, failures
	}

	// Without explicit assignment, the affected components are those already
	// using the saved configurations.
	for _, name := range savedNames {
		ids, err := clients.cfs.GetComponentIDsUsingConfig(ctx, name)
		if err != nil {
			logging.Error(cmdSubsystem, err, "Failed to find components using configuration %q", name)
			failures = append(failures, name)
			continue
		}
		for _, id := range ids {
			if optionsSet {
				if err := clients.cfs.UpdateComponent(ctx, id, opts.component.update("")); err != nil {
					logging.Error(cmdSubsystem, err, "Failed to update component %s", id)
					failures = append(failures, id)
					continue
				}
			}
			affected = append(affected, id)
		}
	}
	return affected, failures
}

// waitForComponents waits for the affected components to converge, showing a
// spinner and printing a summary table when done.
func waitForComponents(ctx context.Context, cmd *cobra.Command, flags *waitFlags, cfsClient cfs.Client, ids []string) error {
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	progress := spinner.New(spinner.CharSets[11], 100*time.Millisecond,
		spinner.WithWriter(cmd.ErrOrStderr()))
	progress.Suffix = fmt.Sprintf(" Waiting for %d components to be configured", len(ids))
	progress.Start()

	summary, err := wait.NewWaiter(cfsClient, flags.checkInterval).Wait(ctx, ids)
	progress.Stop()

	fmt.Fprintln(cmd.OutOrStdout(), summary.Table())
	if err != nil {
		return err
	}
	if !summary.Success() {
		return fmt.Errorf("%d of %d components were not successfully configured",
			len(ids)-len(summary.Configured), len(ids))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(updateConfigsCmd)

	updateConfigsOpts.layer.register(updateConfigsCmd)
	updateConfigsOpts.base.register(updateConfigsCmd)
	updateConfigsOpts.save.register(updateConfigsCmd)
	updateConfigsOpts.component.register(updateConfigsCmd)
	updateConfigsOpts.assign.register(updateConfigsCmd)
	updateConfigsOpts.wait.register(updateConfigsCmd)
	updateConfigsCmd.Flags().StringVar(&updateConfigsOpts.cfsVersion, "cfs-version", "v2",
		"CFS API version to use (v2 or v3)")
}
