package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cfsutil/pkg/logging"
)

// updateComponentsOptions collects the flags of the update-components verb.
type updateComponentsOptions struct {
	xnames        []string
	query         string
	desiredConfig string
	component     componentFlags
	wait          waitFlags
	cfsVersion    string
}

var updateComponentsOpts updateComponentsOptions

var updateComponentsCmd = &cobra.Command{
	Use:   "update-components",
	Short: "Update the CFS state of components",
	Long: `Updates CFS components selected by xname or by HSM query: sets their
desired configuration, enables or disables them, clears their state to
force reconfiguration, or resets their error counters. The command can
wait for the updated components to finish configuring.`,
	Args: cobra.NoArgs,
	RunE: runUpdateComponents,
}

func (opts *updateComponentsOptions) validate() error {
	if len(opts.xnames) == 0 && opts.query == "" {
		return validationErrorf("at least one of --xnames and --query must be specified")
	}
	if err := opts.component.validate(); err != nil {
		return err
	}
	if opts.component.update(opts.desiredConfig).IsEmpty() {
		return validationErrorf("no update requested: specify --desired-config, --enable, --disable, --clear-state, or --clear-error")
	}
	return nil
}

func runUpdateComponents(cmd *cobra.Command, args []string) error {
	opts := &updateComponentsOpts
	if err := opts.validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	clients, err := newAPIClients(ctx, opts.cfsVersion)
	if err != nil {
		return err
	}

	ids := append([]string(nil), opts.xnames...)
	if opts.query != "" {
		params, err := parseQueryParams(opts.query)
		if err != nil {
			return err
		}
		queried, err := clients.hsm.GetComponentIDs(ctx, params)
		if err != nil {
			return err
		}
		ids = append(ids, queried...)
	}
	if len(ids) == 0 {
		logging.Warn(cmdSubsystem, "No components matched; nothing to update")
		return nil
	}

	var updated, failures []string
	for _, id := range ids {
		if err := clients.cfs.UpdateComponent(ctx, id, opts.component.update(opts.desiredConfig)); err != nil {
			logging.Error(cmdSubsystem, err, "Failed to update component %s", id)
			failures = append(failures, id)
			continue
		}
		logging.Info(cmdSubsystem, "Updated component %s", id)
		updated = append(updated, id)
	}

	if opts.wait.wait && len(updated) > 0 {
		if err := waitForComponents(ctx, cmd, &opts.wait, clients.cfs, updated); err != nil {
			return err
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to update %d of %d components: %v", len(failures), len(ids), failures)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(updateComponentsCmd)

	updateComponentsCmd.Flags().StringSliceVar(&updateComponentsOpts.xnames, "xnames", nil,
		"Comma-separated xnames of the components to update")
	updateComponentsCmd.Flags().StringVar(&updateComponentsOpts.query, "query", "",
		"HSM component query (K=V[,K=V...]) selecting the components to update")
	updateComponentsCmd.Flags().StringVar(&updateComponentsOpts.desiredConfig, "desired-config", "",
		"Name of the CFS configuration to set as the components' desired configuration")
	updateComponentsOpts.component.register(updateComponentsCmd)
	updateComponentsOpts.wait.register(updateComponentsCmd)
	updateComponentsCmd.Flags().StringVar(&updateComponentsOpts.cfsVersion, "cfs-version", "v2",
		"CFS API version to use (v2 or v3)")
}
