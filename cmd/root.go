package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"cfsutil/internal/config"
	"cfsutil/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error: a validation failure, a failed
	// save, or a failed component update.
	ExitCodeError = 1
)

var logLevelName string

// settings holds the effective service settings for the current invocation.
// It is populated before any subcommand runs.
var settings config.Settings

// rootCmd represents the base command for the cfs-config-util application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cfs-config-util",
	Short: "Update CFS configurations and components",
	Long: `cfs-config-util reconciles configuration layers in the Configuration
Framework Service (CFS). It can ensure a layer built from an installed
product or an explicit clone URL is present in (or absent from) CFS
configurations, assign the resulting configurations to components, and
wait for those components to finish configuring.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.InitForCLI(logging.ParseLevel(logLevelName), cmd.ErrOrStderr())

		var err error
		settings, err = config.Load(config.DefaultConfigPath)
		return err
	},
}

// SetVersion sets the version for the root command. This is called from the
// main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application. It initializes
// and executes the root command, which in turn handles subcommands and flags.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "cfs-config-util version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelName, "log-level", "info",
		"Log level (debug, info, warning, error)")

	rootCmd.AddCommand(newVersionCmd())
}
