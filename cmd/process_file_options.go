package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cfsutil/internal/filemount"
)

// mountOutput is the JSON document printed for the container launcher.
type mountOutput struct {
	MountOpts      string `json:"mount_opts"`
	TranslatedArgs string `json:"translated_args"`
}

var processFileOptionsCmd = &cobra.Command{
	Use:   "process-file-options [ARGS...]",
	Short: "Compute container bind mounts for file arguments",
	Long: `Scans a cfs-config-util argument list for file path options and prints a
JSON document with the podman mount options needed to make those paths
reachable inside the container, along with the argument list rewritten to
use the in-container paths. This runs on the host before the container is
launched, so the arguments are processed verbatim rather than parsed.`,
	// The arguments are another invocation's flags; they must reach RunE
	// untouched.
	DisableFlagParsing: true,
	RunE:               runProcessFileOptions,
}

func runProcessFileOptions(cmd *cobra.Command, args []string) error {
	result, err := filemount.ProcessFileOptions(args)
	if err != nil {
		return err
	}

	output, err := json.Marshal(mountOutput{
		MountOpts:      result.MountOpts(),
		TranslatedArgs: strings.Join(result.TranslatedArgs, " "),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}

func init() {
	rootCmd.AddCommand(processFileOptionsCmd)
}
