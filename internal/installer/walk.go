package installer

import (
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/ralt/addonsync/internal/manifest"
)

// metadataDirs are directories written by archive tools and operating
// systems. They are never descended into.
var metadataDirs = []string{"__MACOSX", ".*"}

// optionalDirs are addon folders shipped for development only
var optionalDirs = []string{"tests", "*_tests", "*-tests", "test", "examples", "*_example", "*_examples"}

func matchesAny(patterns []string, name string) bool {
	name = strings.ToLower(name)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(strings.ToLower(pattern), name); ok {
			return true
		}
	}
	return false
}

// AddonFolders lazily yields the paths, relative to root, of every directory
// holding at least one manifest. Recursion stops at an addon folder, and
// metadata directories are filtered out before being read.
func AddonFolders(root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		walkDir(root, ".", yield)
	}
}

// walkDir returns false once the consumer has stopped
func walkDir(root, rel string, yield func(string) bool) bool {
	entries, err := os.ReadDir(filepath.Join(root, rel))
	if err != nil {
		logrus.Debugf("Skipping unreadable directory %s: %v", rel, err)
		return true
	}

	var subdirs []string
	hasManifest := false
	for _, entry := range entries {
		switch {
		case entry.IsDir():
			if !matchesAny(metadataDirs, entry.Name()) {
				subdirs = append(subdirs, entry.Name())
			}
		case entry.Type().IsRegular() && manifest.IsManifest(entry.Name()):
			hasManifest = true
		}
	}

	if hasManifest {
		if rel != "." && matchesAny(optionalDirs, filepath.Base(rel)) {
			logrus.Debugf("Skipping optional folder %s", rel)
			return true
		}
		return yield(rel)
	}

	for _, name := range subdirs {
		if !walkDir(root, filepath.Join(rel, name), yield) {
			return false
		}
	}
	return true
}
