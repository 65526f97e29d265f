// Package manifest reads addon manifest (.toc) files.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ralt/addonsync/internal/models"
)

// Extension is the file extension of a manifest
const Extension = ".toc"

// flavorSuffixes identify per-client manifests of the same addon,
// e.g. Foo_Mainline.toc and Foo-Classic.toc both describe Foo.
var flavorSuffixes = []string{
	"mainline", "retail", "classic", "vanilla", "era",
	"tbc", "bcc", "wrath", "wotlk", "wotlkc", "cata", "mists", "mop",
}

// IsManifest reports whether a file name is a manifest
func IsManifest(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension)
}

// BaseName returns the addon identity declared by a manifest file name:
// the name without extension and without a client flavor suffix.
func BaseName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	lower := strings.ToLower(base)
	for _, flavor := range flavorSuffixes {
		for _, sep := range []string{"_", "-"} {
			suffix := sep + flavor
			if strings.HasSuffix(lower, suffix) && len(base) > len(suffix) {
				return base[:len(base)-len(suffix)]
			}
		}
	}
	return base
}

// List returns the manifest files directly inside dir, sorted by name
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var manifests []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && IsManifest(entry.Name()) {
			manifests = append(manifests, entry.Name())
		}
	}
	sort.Strings(manifests)
	return manifests, nil
}

// ParseFile parses the manifest at path
func ParseFile(path string) (models.ManifestMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.NewManifestMetadata(), err
	}
	defer f.Close()

	meta, err := Parse(f)
	if err != nil {
		return meta, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return meta, nil
}

// Parse reads "## Key: Value" directives. Unrecognized keys are ignored and
// undeclared fields stay Unknown.
func Parse(r io.Reader) (models.ManifestMetadata, error) {
	meta := models.NewManifestMetadata()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		line = strings.TrimSpace(line)

		if !strings.HasPrefix(line, "##") {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "title":
			if title := SanitizeTitle(value); title != "" {
				meta.Title = title
			}
		case "version":
			meta.Version = value
		case "author":
			meta.Author = value
		case "interface":
			meta.Interface = value
		case "notes":
			if notes := SanitizeTitle(value); notes != "" {
				meta.Notes = notes
			}
		case "x-website":
			meta.WebsiteURL = value
		case "x-repository":
			meta.RepositoryURL = value
		}
	}
	if err := scanner.Err(); err != nil {
		return meta, err
	}

	return meta, nil
}
