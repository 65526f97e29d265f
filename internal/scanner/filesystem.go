package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/ralt/addonsync/internal/manifest"
	"github.com/ralt/addonsync/internal/models"
)

// DefaultReserved are folder patterns owned by the game client or the OS
var DefaultReserved = []string{"Blizzard_*", "__MACOSX", ".*"}

var repositoryURL = regexp.MustCompile(`(?i)https?://(?:www\.)?(?:github|gitlab)\.com/[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+`)

// FileSystemScanner implements Scanner interface for filesystem scanning
type FileSystemScanner struct {
	reserved []string
}

// NewFileSystemScanner creates a new filesystem scanner. Folders matching
// any of the reserved glob patterns are ignored.
func NewFileSystemScanner(reserved ...string) *FileSystemScanner {
	if len(reserved) == 0 {
		reserved = DefaultReserved
	}
	return &FileSystemScanner{reserved: reserved}
}

func (s *FileSystemScanner) isReserved(name string) bool {
	for _, pattern := range s.reserved {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Scan lists the immediate subdirectories of root that hold a manifest
func (s *FileSystemScanner) Scan(ctx context.Context, root string) ([]models.ExistingEntry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	var entries []models.ExistingEntry
	for _, d := range dirEntries {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !d.IsDir() || s.isReserved(d.Name()) {
			continue
		}

		entry, ok, err := scanFolder(filepath.Join(root, d.Name()))
		if err != nil {
			logrus.Warnf("Failed to scan %s: %v", d.Name(), err)
			continue
		}
		if !ok {
			continue
		}

		logrus.Debugf("Found addon %s (%s)", entry.FolderName, entry.Manifest.Version)
		entries = append(entries, entry)
	}

	logrus.Infof("Found %d addons in %s", len(entries), root)
	return entries, nil
}

func scanFolder(dir string) (models.ExistingEntry, bool, error) {
	folder := filepath.Base(dir)

	manifests, err := manifest.List(dir)
	if err != nil {
		return models.ExistingEntry{}, false, err
	}
	if len(manifests) == 0 {
		return models.ExistingEntry{}, false, nil
	}

	chosen := manifests[0]
	for _, name := range manifests {
		if manifest.BaseName(name) == folder {
			chosen = name
			break
		}
	}

	meta, err := manifest.ParseFile(filepath.Join(dir, chosen))
	if err != nil {
		return models.ExistingEntry{}, false, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return models.ExistingEntry{}, false, err
	}

	return models.ExistingEntry{
		FolderName:          folder,
		Manifest:            meta,
		ModTime:             info.ModTime(),
		SuggestedReferences: SuggestReferences(meta),
	}, true, nil
}

// SuggestReferences extracts repository references from the manifest's
// free-text fields
func SuggestReferences(meta models.ManifestMetadata) []models.RepositoryReference {
	var refs []models.RepositoryReference
	seen := make(map[models.RepositoryReference]bool)

	for _, field := range []string{meta.RepositoryURL, meta.WebsiteURL, meta.Notes, meta.Author, meta.Title} {
		if field == models.Unknown {
			continue
		}
		for _, match := range repositoryURL.FindAllString(field, -1) {
			ref, err := models.ParseReference(strings.TrimRight(match, "."))
			if err != nil || seen[ref] {
				continue
			}
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}
