package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ralt/addonsync/internal/models"
	"github.com/ralt/addonsync/internal/orchestrator"
)

// NewAddCmd creates the add command
func NewAddCmd(configPath *string) *cobra.Command {
	var req orchestrator.AddRequest
	var priority string

	cmd := &cobra.Command{
		Use:   "add <repository-url>",
		Short: "Install an addon from a GitHub or GitLab repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = args[0]
			if err := req.Priority.UnmarshalText([]byte(priority)); err != nil {
				return err
			}

			return withApp(cmd.Context(), *configPath, func(a *app) error {
				pkg, err := a.orch.Add(cmd.Context(), req)
				if err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "Installed %s %s", pkg.DisplayName, versionOrDash(pkg.CurrentVersionID))
				printNote(cmd.OutOrStdout(), "folders: %s", strings.Join(pkg.InstalledFolderNames, ", "))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.CustomFolderName, "folder", "", "Install a single-folder addon under this folder name")
	cmd.Flags().StringVar(&req.AssetName, "asset", "", "Release asset file name to download")
	cmd.Flags().StringVar(&priority, "priority", "releases", "Download priority: releases or code")

	return cmd
}

// NewCheckCmd creates the check command
func NewCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check [addon]",
		Short: "Check managed addons for updates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				var results []orchestrator.CheckResult
				if len(args) == 1 {
					res, err := a.orch.Check(cmd.Context(), args[0])
					if err != nil && res.Package.ID == "" {
						return err
					}
					results = append(results, res)
				} else {
					results = a.orch.CheckAll(cmd.Context())
				}

				w := cmd.OutOrStdout()
				failed := 0
				for _, res := range results {
					switch {
					case res.Err != nil:
						failed++
						printFail(w, "%s: %v", res.Package.DisplayName, res.Err)
					case res.UpdateAvailable:
						printUpdate(w, "%s %s -> %s", res.Package.DisplayName, versionOrDash(res.Package.CurrentVersionID), res.Artifact.VersionID)
					default:
						printOK(w, "%s %s", res.Package.DisplayName, versionOrDash(res.Package.CurrentVersionID))
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d checks failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

// NewUpdateCmd creates the update command
func NewUpdateCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "update [addon]",
		Short: "Update one addon, or every addon that allows updates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				var results []orchestrator.UpdateResult
				if len(args) == 1 {
					res, err := a.orch.Update(cmd.Context(), args[0], force)
					if err != nil && res.Package.ID == "" {
						return err
					}
					results = append(results, res)
				} else {
					var err error
					if results, err = a.orch.UpdateAll(cmd.Context()); err != nil {
						return err
					}
				}

				w := cmd.OutOrStdout()
				failed := 0
				for _, res := range results {
					switch {
					case res.Err != nil:
						failed++
						printFail(w, "%s: %v", res.Package.DisplayName, res.Err)
					case res.Updated:
						printUpdate(w, "%s %s -> %s", res.Package.DisplayName, versionOrDash(res.PreviousVersion), res.Package.CurrentVersionID)
					default:
						printOK(w, "%s %s (%s)", res.Package.DisplayName, versionOrDash(res.Package.CurrentVersionID), res.Skipped)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d updates failed", failed, len(results))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reinstall even when up to date or when updates are disabled")

	return cmd
}

// NewScanCmd creates the scan command
func NewScanCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List addons in the install root that are not managed yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				entries, err := a.orch.Scan(cmd.Context())
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if len(entries) == 0 {
					printOK(w, "No unmanaged addons")
					return nil
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %s\n", e.DisplayTitle(), versionOrDash(e.Manifest.Version))
					printNote(w, "folders: %s", strings.Join(e.Folders(), ", "))
					for _, ref := range e.SuggestedReferences {
						printNote(w, "source?  %s", ref)
					}
				}
				return nil
			})
		},
	}
}

// NewImportCmd creates the import command
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <folder> [repository-url]",
		Short: "Start managing an addon that is already installed",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := ""
			if len(args) == 2 {
				url = args[1]
			}
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				pkg, err := a.orch.Import(cmd.Context(), args[0], url)
				if err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "Imported %s from %s", pkg.DisplayName, pkg.Reference)
				return nil
			})
		},
	}
}

// NewListCmd creates the list command
func NewListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List managed addons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				packages := a.registry.List()
				if len(packages) == 0 {
					logrus.Info("No managed addons")
					return nil
				}
				for _, p := range packages {
					printPackage(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}
}

// NewRemoveCmd creates the remove command
func NewRemoveCmd(configPath *string) *cobra.Command {
	var keepFiles bool

	cmd := &cobra.Command{
		Use:   "remove <addon>",
		Short: "Delete a managed addon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				pkg, err := a.orch.Remove(cmd.Context(), args[0], keepFiles)
				if err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "Removed %s", pkg.DisplayName)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&keepFiles, "keep-files", false, "Stop managing the addon but leave its folders in place")

	return cmd
}

// NewAllowUpdatesCmd creates the allow-updates command
func NewAllowUpdatesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "allow-updates <addon> <on|off>",
		Short:     "Enable or disable updates for an addon",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var allow bool
			switch strings.ToLower(args[1]) {
			case "on", "true", "yes":
				allow = true
			case "off", "false", "no":
				allow = false
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}

			return withApp(cmd.Context(), *configPath, func(a *app) error {
				pkg, err := a.orch.SetAllowUpdates(cmd.Context(), args[0], allow)
				if err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "%s: updates %s", pkg.DisplayName, map[bool]string{true: "on", false: "off"}[allow])
				return nil
			})
		},
	}
}

// NewVerifyCmd creates the verify command
func NewVerifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Report managed addons whose folders are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				results, err := a.orch.Verify(cmd.Context())
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				broken := 0
				for _, res := range results {
					if len(res.MissingFolders) == 0 {
						printOK(w, "%s", res.Package.DisplayName)
						continue
					}
					broken++
					printFail(w, "%s: missing %s", res.Package.DisplayName, strings.Join(res.MissingFolders, ", "))
				}
				if broken > 0 {
					return models.NewError(models.ErrFilesystemConflict, "", fmt.Errorf("%d addons have missing folders", broken))
				}
				return nil
			})
		},
	}
}
