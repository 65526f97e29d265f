// Package registry persists the managed packages as one schema-versioned
// JSON document stored under a fixed key.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ralt/addonsync/internal/models"
)

const (
	// Key is the store key holding the registry document
	Key = "managed-packages"

	// SchemaVersion is the document version written by this build. Version
	// 0 is the legacy bare JSON array.
	SchemaVersion = 1
)

// Document is the persisted form of the registry
type Document struct {
	SchemaVersion int                     `json:"schemaVersion"`
	Packages      []models.ManagedPackage `json:"packages"`
}

// Decode parses a registry document, accepting the legacy array form
func Decode(data []byte) (*Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &Document{SchemaVersion: SchemaVersion}, nil
	}

	if data[0] == '[' {
		var packages []models.ManagedPackage
		if err := json.Unmarshal(data, &packages); err != nil {
			return nil, fmt.Errorf("failed to decode legacy registry: %w", err)
		}
		return &Document{SchemaVersion: 0, Packages: packages}, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	if doc.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("registry schema version %d is newer than supported version %d", doc.SchemaVersion, SchemaVersion)
	}
	return &doc, nil
}

// Encode serializes packages as a current-version document
func Encode(packages []models.ManagedPackage) ([]byte, error) {
	if packages == nil {
		packages = []models.ManagedPackage{}
	}
	return json.MarshalIndent(Document{SchemaVersion: SchemaVersion, Packages: packages}, "", "  ")
}

func sortPackages(packages []models.ManagedPackage) {
	sort.SliceStable(packages, func(i, j int) bool {
		a, b := strings.ToLower(packages[i].DisplayName), strings.ToLower(packages[j].DisplayName)
		if a != b {
			return a < b
		}
		return packages[i].ID < packages[j].ID
	})
}

// Registry is the in-memory view of the managed packages. Every mutation is
// written through to the store.
type Registry struct {
	store    Store
	mu       sync.Mutex
	packages []models.ManagedPackage
}

// New creates a registry backed by store
func New(store Store) *Registry {
	return &Registry{store: store}
}

// Load reads the registry from the store
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok, err := r.store.Get(ctx, Key)
	if err != nil {
		return models.NewError(models.ErrRegistry, "", fmt.Errorf("failed to read registry: %w", err))
	}
	if !ok {
		r.packages = nil
		return nil
	}

	doc, err := Decode(data)
	if err != nil {
		return models.NewError(models.ErrRegistry, "", err)
	}
	if doc.SchemaVersion < SchemaVersion {
		logrus.Infof("Registry uses schema version %d; it will be rewritten as version %d on the next save", doc.SchemaVersion, SchemaVersion)
	}

	sortPackages(doc.Packages)
	r.packages = doc.Packages
	logrus.Debugf("Loaded %d managed packages", len(r.packages))
	return nil
}

// commit writes next to the store and only then makes it the in-memory view
func (r *Registry) commit(ctx context.Context, next []models.ManagedPackage) error {
	sortPackages(next)
	data, err := Encode(next)
	if err != nil {
		return models.NewError(models.ErrRegistry, "", err)
	}
	if err := r.store.Put(ctx, Key, data); err != nil {
		return models.NewError(models.ErrRegistry, "", fmt.Errorf("failed to write registry: %w", err))
	}
	r.packages = next
	return nil
}

func (r *Registry) snapshot() []models.ManagedPackage {
	out := make([]models.ManagedPackage, len(r.packages), len(r.packages)+1)
	copy(out, r.packages)
	return out
}

// List returns a copy of all packages sorted by display name
func (r *Registry) List() []models.ManagedPackage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ManagedPackage, len(r.packages))
	copy(out, r.packages)
	return out
}

// Get returns the package with the given id
func (r *Registry) Get(id string) (models.ManagedPackage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.packages {
		if p.ID == id {
			return p, true
		}
	}
	return models.ManagedPackage{}, false
}

// Find returns the first package matching query: an id, a display name or
// an installed folder name (case-insensitive), or a repository URL
func (r *Registry) Find(query string) (models.ManagedPackage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, refErr := models.ParseReference(query)
	for _, p := range r.packages {
		if p.ID == query || strings.EqualFold(p.DisplayName, query) {
			return p, true
		}
		if refErr == nil && p.Reference == ref {
			return p, true
		}
		for _, folder := range p.InstalledFolderNames {
			if strings.EqualFold(folder, query) {
				return p, true
			}
		}
	}
	return models.ManagedPackage{}, false
}

// FindByReference returns the package installed from ref
func (r *Registry) FindByReference(ref models.RepositoryReference) (models.ManagedPackage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.packages {
		if p.Reference == ref {
			return p, true
		}
	}
	return models.ManagedPackage{}, false
}

// ManagedFolders maps every installed folder name (lowercased) to the id of
// the package owning it
func (r *Registry) ManagedFolders() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	folders := make(map[string]string)
	for _, p := range r.packages {
		for _, folder := range p.InstalledFolderNames {
			folders[strings.ToLower(folder)] = p.ID
		}
	}
	return folders
}

// Upsert inserts pkg or replaces the package with the same id
func (r *Registry) Upsert(ctx context.Context, pkg models.ManagedPackage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snapshot()
	replaced := false
	for i := range next {
		if next[i].ID == pkg.ID {
			next[i] = pkg
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, pkg)
	}
	return r.commit(ctx, next)
}

// Remove drops the package with the given id
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.packages {
		if r.packages[i].ID == id {
			next := r.snapshot()
			return r.commit(ctx, append(next[:i], next[i+1:]...))
		}
	}
	return models.NewError(models.ErrNotFound, id, fmt.Errorf("package %s is not managed", id))
}

// Close closes the underlying store
func (r *Registry) Close() error {
	return r.store.Close()
}
