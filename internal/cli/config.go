package cli

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/ralt/addonsync/internal/config"
)

// NewConfigCmd creates the config command
func NewConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			redacted := cfg.Redacted()
			data, err := toml.Marshal(&redacted)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printNote(w, "# %s", path)
			fmt.Fprint(w, string(data))
			if cfg.GitHubToken != "" {
				printNote(w, "# GitHub token: %s", redacted.GitHubToken)
			}
			if cfg.GitLabToken != "" {
				printNote(w, "# GitLab token: %s", redacted.GitLabToken)
			}
			return nil
		},
	}

	cmd.AddCommand(newConfigInitCmd(configPath))
	return cmd
}

func newConfigInitCmd(configPath *string) *cobra.Command {
	var installRoot string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			cfg.InstallRoot = installRoot
			if err := cfg.Write(path); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&installRoot, "install-root", "", "Addon directory to manage")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}
