package installer

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ralt/addonsync/internal/manifest"
	"github.com/ralt/addonsync/internal/models"
)

// installedManifest is the manifest read back from an installed folder
type installedManifest struct {
	folder string
	meta   models.ManifestMetadata
	found  bool
}

// readFolderManifest parses the manifest whose base name matches the folder,
// or the first manifest found
func readFolderManifest(dir string) (models.ManifestMetadata, bool) {
	names, err := manifest.List(dir)
	if err != nil || len(names) == 0 {
		return models.NewManifestMetadata(), false
	}

	chosen := names[0]
	folder := filepath.Base(dir)
	for _, name := range names {
		if manifest.BaseName(name) == folder {
			chosen = name
			break
		}
	}

	meta, err := manifest.ParseFile(filepath.Join(dir, chosen))
	if err != nil {
		return models.NewManifestMetadata(), false
	}
	return meta, true
}

// normalizeTitle lowercases and drops everything but letters and digits
func normalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// selectPrimary returns the index of the manifest that best represents the
// repository, or -1 when no folder has a manifest
func selectPrimary(manifests []installedManifest, ref models.RepositoryReference) int {
	slug := strings.ToLower(ref.Slug())
	for i, m := range manifests {
		if !m.found {
			continue
		}
		for _, u := range []string{m.meta.RepositoryURL, m.meta.WebsiteURL} {
			if u != models.Unknown && strings.Contains(strings.ToLower(u), slug) {
				return i
			}
		}
	}

	repo := normalizeTitle(ref.Name)
	token := repo
	if words := strings.FieldsFunc(ref.Name, func(r rune) bool {
		return r == '-' || r == '_'
	}); len(words) > 0 {
		token = normalizeTitle(words[0])
	}
	for i, m := range manifests {
		if !m.found || m.meta.Title == models.Unknown {
			continue
		}
		title := normalizeTitle(m.meta.Title)
		if title != "" && (title == repo || title == token) {
			return i
		}
	}

	for i, m := range manifests {
		if m.found {
			return i
		}
	}
	return -1
}

// promote moves folders[i] to the front, keeping the order of the rest
func promote(folders []string, i int) []string {
	if i <= 0 || i >= len(folders) {
		return folders
	}
	out := make([]string, 0, len(folders))
	out = append(out, folders[i])
	out = append(out, folders[:i]...)
	return append(out, folders[i+1:]...)
}
