package installer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/addonsync/internal/models"
)

func TestNormalizeFolderName(t *testing.T) {
	tests := []struct {
		name, version, want string
	}{
		{"Repo-main", "", "Repo"},
		{"Repo-main-main", "", "Repo"},
		{"Repo-MASTER", "", "Repo"},
		{"Repo-1.2.3", "v1.2.3", "Repo"},
		{"Repo-v1.2.3", "v1.2.3", "Repo"},
		{"Repo-v1.2.3", "1.2.3", "Repo"},
		{"Repo-v1.2.3-main", "1.2.3", "Repo"},
		{"Repo-maintenance", "", "Repo-maintenance"},
		{"main", "", "main"},
		{"Repo", "Repo", "Repo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeFolderName(tt.name, tt.version), "NormalizeFolderName(%q, %q)", tt.name, tt.version)
	}
}

func TestChooseFolderName(t *testing.T) {
	tests := []struct {
		desc      string
		physical  string
		manifests []string
		custom    string
		single    bool
		want      string
	}{
		{"custom wins for single folder", "Pack-main", []string{"Pack.toc"}, "Mine", true, "Mine"},
		{"custom ignored for multi folder", "Pack-main", []string{"Pack.toc"}, "Mine", false, "Pack"},
		{"single manifest", "whatever", []string{"Real.toc"}, "", true, "Real"},
		{"match normalized folder", "Pack-main", []string{"Other.toc", "Pack.toc"}, "", true, "Pack"},
		{"match repository name", "src", []string{"Aaa.toc", "repo.toc"}, "", true, "repo"},
		{"skip options manifest", "src", []string{"Aaa_Options.toc", "Bbb.toc"}, "", true, "Bbb"},
		{"flavor manifests collapse", "src", []string{"Foo_Classic.toc", "Foo_Mainline.toc"}, "", true, "Foo"},
		{"fallback to first", "src", []string{"A_Config.toc", "B_Locale.toc"}, "", true, "A_Config"},
	}
	for _, tt := range tests {
		got := chooseFolderName(tt.physical, tt.manifests, "Repo", "1.0", tt.custom, tt.single)
		assert.Equal(t, tt.want, got, tt.desc)
	}
}

func TestAddonFolders(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{
		"outer/A/A.toc",
		"outer/A/nested/Nested.toc",
		"outer/B/B_Mainline.toc",
		"__MACOSX/outer/A/A.toc",
		".git/C/C.toc",
		"outer/Tests/Tests.toc",
		"outer/docs/readme.md",
	} {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	}

	var got []string
	for rel := range AddonFolders(root) {
		got = append(got, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"outer/A", "outer/B"}, got)

	var first []string
	for rel := range AddonFolders(root) {
		first = append(first, rel)
		break
	}
	assert.Len(t, first, 1)
}

func TestAddonFoldersRootManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Pack.toc"), []byte("x"), 0644))

	var got []string
	for rel := range AddonFolders(root) {
		got = append(got, rel)
	}
	assert.Equal(t, []string{"."}, got)
}

func TestSelectPrimary(t *testing.T) {
	ref := models.RepositoryReference{Platform: models.PlatformGitHub, Owner: "owner", Name: "Big-Wigs"}
	meta := func(title, repo string) models.ManifestMetadata {
		m := models.NewManifestMetadata()
		m.Title = title
		if repo != "" {
			m.RepositoryURL = repo
		}
		return m
	}

	manifests := []installedManifest{
		{folder: "None"},
		{folder: "Plugins", meta: meta("Plugins", ""), found: true},
		{folder: "Core", meta: meta("Big Wigs", ""), found: true},
	}
	assert.Equal(t, 2, selectPrimary(manifests, ref))

	manifests[1].meta.RepositoryURL = "https://github.com/Owner/Big-Wigs"
	assert.Equal(t, 1, selectPrimary(manifests, ref))

	token := []installedManifest{{folder: "X", meta: meta("Big", ""), found: true}}
	assert.Equal(t, 0, selectPrimary(token, ref))

	assert.Equal(t, -1, selectPrimary([]installedManifest{{folder: "None"}}, ref))
	assert.Equal(t, []string{"c", "a", "b"}, promote([]string{"a", "b", "c"}, 2))
	assert.Equal(t, []string{"a", "b"}, promote([]string{"a", "b"}, -1))
}

func TestFolderLocksOrdering(t *testing.T) {
	l := newFolderLocks()
	unlock := l.lock("b", "A", "a")
	assert.Len(t, l.locks, 2)
	unlock()

	done := make(chan struct{})
	go func() {
		u := l.lock("a")
		u()
		close(done)
	}()
	<-done
}

func TestScratchName(t *testing.T) {
	assert.Equal(t, "GitHub-owner-Pack-v1.0_beta", scratchName("GitHub", "owner", "Pack", "v1.0/beta"))
}
