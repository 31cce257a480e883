package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cfsutil/internal/vcs"
)

var vcsCredsHelperCmd = &cobra.Command{
	Use:   "vcs-creds-helper",
	Short: "Print the VCS password",
	Long: `Prints the password for the VCS git server from its Kubernetes secret.
Intended for use as a GIT_ASKPASS helper by installers that invoke git
directly.`,
	Args: cobra.NoArgs,
	RunE: runVCSCredsHelper,
}

func runVCSCredsHelper(cmd *cobra.Command, args []string) error {
	kubeClient, err := newKubeClient()
	if err != nil {
		return err
	}

	creds, err := vcs.LoadCredentials(cmd.Context(), kubeClient, settings)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), creds.Password)
	return nil
}

func init() {
	rootCmd.AddCommand(vcsCredsHelperCmd)
}
