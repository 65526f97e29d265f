package installer

import (
	"path/filepath"
	"strings"

	"github.com/ralt/addonsync/internal/manifest"
)

// excludedMarkers flag manifests that describe a secondary component
var excludedMarkers = []string{"options", "config", "locale", "locales"}

// NormalizeFolderName strips the suffixes source archives add to the root
// folder: "-main", "-master" and "-<version>", repeatedly and
// case-insensitively.
func NormalizeFolderName(name, versionID string) string {
	suffixes := []string{"-main", "-master"}
	v := versionID
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') {
		v = v[1:]
	}
	if v != "" {
		suffixes = append(suffixes, "-"+v, "-v"+v)
	}

	for {
		stripped := false
		lower := strings.ToLower(name)
		for _, suffix := range suffixes {
			suffix = strings.ToLower(suffix)
			if len(name) > len(suffix) && strings.HasSuffix(lower, suffix) {
				name = name[:len(name)-len(suffix)]
				stripped = true
				break
			}
		}
		if !stripped {
			return name
		}
	}
}

// chooseFolderName picks the installed name of one addon folder.
// physical is the folder's name inside the archive, manifests the manifest
// file names it contains.
func chooseFolderName(physical string, manifests []string, repoName, versionID, custom string, single bool) string {
	if single && custom != "" {
		return custom
	}

	normalized := NormalizeFolderName(physical, versionID)
	switch len(manifests) {
	case 0:
		return normalized
	case 1:
		return manifest.BaseName(manifests[0])
	}

	bases := make([]string, len(manifests))
	for i, m := range manifests {
		bases[i] = manifest.BaseName(m)
	}
	for _, base := range bases {
		if base == normalized {
			return base
		}
	}
	for _, base := range bases {
		if strings.EqualFold(base, repoName) {
			return base
		}
	}
	for _, base := range bases {
		if !hasExcludedMarker(base) {
			return base
		}
	}
	return bases[0]
}

func hasExcludedMarker(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range excludedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// validFolderName reports whether name is a single, usable path element
func validFolderName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// scratchName derives the deterministic scratch file stem for an install
func scratchName(platform, owner, name, versionID string) string {
	raw := strings.Join([]string{platform, owner, name, versionID}, "-")
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
