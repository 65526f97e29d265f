package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ralt/addonsync/internal/models"
)

var (
	okColor     = color.New(color.FgGreen)
	updateColor = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

func printOK(w io.Writer, format string, args ...any) {
	okColor.Fprintf(w, "✓ "+format+"\n", args...)
}

func printUpdate(w io.Writer, format string, args ...any) {
	updateColor.Fprintf(w, "↑ "+format+"\n", args...)
}

func printFail(w io.Writer, format string, args ...any) {
	failColor.Fprintf(w, "✗ "+format+"\n", args...)
}

func printNote(w io.Writer, format string, args ...any) {
	dimColor.Fprintf(w, "  "+format+"\n", args...)
}

func versionOrDash(v string) string {
	if v == "" || v == models.Unknown {
		return "-"
	}
	return v
}

func printPackage(w io.Writer, p models.ManagedPackage) {
	status := "updates on"
	if !p.AllowUpdates {
		status = "updates off"
	}
	fmt.Fprintf(w, "%s  %s  (%s)\n", p.DisplayName, versionOrDash(p.CurrentVersionID), status)
	printNote(w, "source:  %s", p.Reference)
	printNote(w, "folders: %s", strings.Join(p.InstalledFolderNames, ", "))
	if primary := p.PrimaryFolder(); primary != "" && len(p.InstalledFolderNames) > 1 {
		printNote(w, "primary: %s", primary)
	}
	if p.LatestVersionID != "" && p.LatestVersionID != p.CurrentVersionID {
		printNote(w, "latest:  %s", p.LatestVersionID)
	}
	if p.DiscoveryTier != "" {
		printNote(w, "found via %s", p.DiscoveryTier)
	}
}
