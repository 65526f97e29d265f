package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "addonsync",
		Short: "Install and update addons released on GitHub and GitLab",
		Long: `Addonsync installs addons from GitHub and GitLab repositories into an
addon directory and keeps them current.

Releases are discovered in order from release assets, release source
archives, tags and finally the default branch head. When the platform API
rate-limits requests the public release pages are used instead.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default "+defaultConfigHint()+")")

	// Add subcommands
	rootCmd.AddCommand(
		NewAddCmd(&configPath),
		NewCheckCmd(&configPath),
		NewUpdateCmd(&configPath),
		NewScanCmd(&configPath),
		NewImportCmd(&configPath),
		NewListCmd(&configPath),
		NewRemoveCmd(&configPath),
		NewAllowUpdatesCmd(&configPath),
		NewVerifyCmd(&configPath),
		NewConfigCmd(&configPath),
	)

	return rootCmd
}
