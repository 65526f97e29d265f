package registry

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/addonsync/internal/models"
)

func samplePackage(id, name string) models.ManagedPackage {
	installed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	checked := installed.Add(time.Hour)
	return models.ManagedPackage{
		ID:                   id,
		DisplayName:          name,
		Reference:            models.RepositoryReference{Platform: models.PlatformGitLab, Owner: "group", Name: name},
		CurrentVersionID:     "2025-03-14-abc1234",
		LatestVersionID:      "v1.0.0",
		InstalledFolderNames: []string{name, name + "_Options"},
		AllowUpdates:         true,
		CustomFolderName:     "Custom",
		AssetNamePreference:  name + "-retail.zip",
		DownloadPriority:     models.PreferCode,
		Imported:             true,
		DiscoveryTier:        "branch-head",
		ArchiveSHA256:        "deadbeef",
		SizeBytes:            4096,
		InstalledAt:          &installed,
		LastCheckedAt:        &checked,
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := Open(BackendSQLite, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	file, err := Open(BackendFile, t.TempDir())
	require.NoError(t, err)
	return map[string]Store{BackendFile: file, BackendSQLite: sqlite}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			pkg := samplePackage("id-1", "Details")

			r := New(store)
			require.NoError(t, r.Load(ctx))
			assert.Empty(t, r.List())
			require.NoError(t, r.Upsert(ctx, pkg))

			reloaded := New(store)
			require.NoError(t, reloaded.Load(ctx))
			require.Len(t, reloaded.List(), 1)
			assert.Equal(t, pkg, reloaded.List()[0])
		})
	}
}

func TestSortedOnMutationAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	r := New(store)

	require.NoError(t, r.Upsert(ctx, samplePackage("3", "zed")))
	require.NoError(t, r.Upsert(ctx, samplePackage("1", "Bagnon")))
	require.NoError(t, r.Upsert(ctx, samplePackage("2", "auctionator")))

	names := func(pkgs []models.ManagedPackage) []string {
		var out []string
		for _, p := range pkgs {
			out = append(out, p.DisplayName)
		}
		return out
	}
	assert.Equal(t, []string{"auctionator", "Bagnon", "zed"}, names(r.List()))

	// Unsorted document on disk is sorted on load
	doc, err := json.Marshal(Document{SchemaVersion: 1, Packages: []models.ManagedPackage{
		samplePackage("b", "Beta"), samplePackage("a", "alpha"),
	}})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, Key, doc))
	require.NoError(t, r.Load(ctx))
	assert.Equal(t, []string{"alpha", "Beta"}, names(r.List()))
}

func TestLegacyArrayIsUpgraded(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	legacy, err := json.Marshal([]models.ManagedPackage{samplePackage("1", "Old")})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, Key, legacy))

	r := New(store)
	require.NoError(t, r.Load(ctx))
	require.Len(t, r.List(), 1)

	pkg := r.List()[0]
	pkg.AllowUpdates = false
	require.NoError(t, r.Upsert(ctx, pkg))

	data, ok, err := store.Get(ctx, Key)
	require.NoError(t, err)
	require.True(t, ok)
	doc, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, doc.SchemaVersion)
	assert.False(t, doc.Packages[0].AllowUpdates)
}

func TestDecodeRejectsNewerSchema(t *testing.T) {
	_, err := Decode([]byte(`{"schemaVersion": 99, "packages": []}`))
	assert.Error(t, err)

	store := NewFileStore(t.TempDir())
	require.NoError(t, store.Put(context.Background(), Key, []byte(`{"schemaVersion": 99}`)))
	err = New(store).Load(context.Background())
	assert.True(t, models.IsType(err, models.ErrRegistry))
}

func TestFindAndRemove(t *testing.T) {
	ctx := context.Background()
	r := New(NewFileStore(t.TempDir()))
	pkg := samplePackage("id-1", "Details")
	require.NoError(t, r.Upsert(ctx, pkg))

	for _, query := range []string{"id-1", "details", "details_options", "https://gitlab.com/group/Details"} {
		got, ok := r.Find(query)
		assert.True(t, ok, query)
		assert.Equal(t, "id-1", got.ID)
	}
	_, ok := r.Find("nothing")
	assert.False(t, ok)

	got, ok := r.FindByReference(pkg.Reference)
	require.True(t, ok)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, map[string]string{"details": "id-1", "details_options": "id-1"}, r.ManagedFolders())

	require.NoError(t, r.Remove(ctx, "id-1"))
	assert.Empty(t, r.List())
	assert.True(t, models.IsType(r.Remove(ctx, "id-1"), models.ErrNotFound))
}

// brokenStore fails every write once broken is set
type brokenStore struct {
	Store
	broken bool
}

func (s *brokenStore) Put(ctx context.Context, key string, value []byte) error {
	if s.broken {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, key, value)
}

func TestFailedWriteLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{Store: NewFileStore(t.TempDir())}
	r := New(store)
	require.NoError(t, r.Upsert(ctx, samplePackage("id-1", "Details")))
	before := r.List()

	store.broken = true
	changed := samplePackage("id-1", "Details")
	changed.CurrentVersionID = "v9.9.9"
	err := r.Upsert(ctx, changed)
	assert.True(t, models.IsType(err, models.ErrRegistry))
	err = r.Upsert(ctx, samplePackage("id-2", "Bagnon"))
	assert.True(t, models.IsType(err, models.ErrRegistry))
	err = r.Remove(ctx, "id-1")
	assert.True(t, models.IsType(err, models.ErrRegistry))

	assert.Equal(t, before, r.List())

	reloaded := New(store)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, before, reloaded.List())
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}
