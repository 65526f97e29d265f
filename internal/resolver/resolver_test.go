package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/addonsync/internal/models"
	"github.com/ralt/addonsync/internal/transport"
)

// fakeHost serves canned responses keyed by request path and counts hits
type fakeHost struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{t: t, routes: map[string]http.HandlerFunc{}, hits: map[string]int{}}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.hits[r.URL.Path]++
		handler, ok := h.routes[r.URL.Path]
		h.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHost) json(path string, status int, body string) {
	h.routes[path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (h *fakeHost) html(path string, body string) {
	h.routes[path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}
}

func (h *fakeHost) redirect(path, target string) {
	h.routes[path] = func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func (h *fakeHost) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func (h *fakeHost) resolver() *Resolver {
	return New(transport.NewClient(transport.Options{}), Options{
		Endpoints: Endpoints{
			GitHubAPI: h.srv.URL + "/gh-api",
			GitHubWeb: h.srv.URL + "/gh",
			GitLabAPI: h.srv.URL + "/gl-api",
			GitLabWeb: h.srv.URL + "/gl",
		},
		MetadataTimeout: 2 * time.Second,
		ScrapeTimeout:   2 * time.Second,
	})
}

var (
	ghRef = models.RepositoryReference{Platform: models.PlatformGitHub, Owner: "owner", Name: "repo"}
	glRef = models.RepositoryReference{Platform: models.PlatformGitLab, Owner: "group", Name: "proj"}
)

const (
	ghLatest  = "/gh-api/repos/owner/repo/releases/latest"
	ghTags    = "/gh-api/repos/owner/repo/tags"
	ghRepo    = "/gh-api/repos/owner/repo"
	ghCommit  = "/gh-api/repos/owner/repo/commits/main"
	ghWebLate = "/gh/owner/repo/releases/latest"
)

func TestResolveGitHubReleaseAsset(t *testing.T) {
	h := newFakeHost(t)
	h.json(ghLatest, 200, `{
		"tag_name": "v1.4.0",
		"published_at": "2025-03-01T10:00:00Z",
		"zipball_url": "https://example.invalid/zipball",
		"assets": [
			{"name": "notes.txt", "browser_download_url": "https://example.invalid/notes.txt", "size": 10},
			{"name": "Repo-v1.4.0-classic.zip", "browser_download_url": "https://example.invalid/classic.zip", "size": 200},
			{"name": "Repo-v1.4.0.zip", "browser_download_url": "https://example.invalid/retail.zip", "size": 300}
		]}`)
	r := h.resolver()

	art, err := r.Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", art.VersionID)
	assert.Equal(t, models.TierReleaseAsset, art.Tier)
	assert.Equal(t, "https://example.invalid/classic.zip", art.DownloadURL)
	require.NotNil(t, art.SizeBytes)
	assert.Equal(t, int64(200), *art.SizeBytes)
	require.NotNil(t, art.PublishedAt)

	art, err = r.Resolve(context.Background(), ghRef, "REPO-V1.4.0.ZIP", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, "https://example.invalid/retail.zip", art.DownloadURL)

	// Both resolutions are now cached
	_, err = r.Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, 2, h.count(ghLatest))
	assert.Equal(t, 2, r.Cache().Len())

	r.Forget(ghRef)
	assert.Zero(t, r.Cache().Len())
	_, err = r.Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, 3, h.count(ghLatest))
}

func TestResolveGitHubReleaseArchiveFallback(t *testing.T) {
	h := newFakeHost(t)
	h.json(ghLatest, 200, `{"tag_name": "2.0", "zipball_url": "https://example.invalid/zipball/2.0", "assets": []}`)

	art, err := h.resolver().Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierReleaseArchiveFallback, art.Tier)
	assert.Equal(t, "https://example.invalid/zipball/2.0", art.DownloadURL)
}

func TestResolveNoReleasesFallsBackToTag(t *testing.T) {
	h := newFakeHost(t)
	h.json(ghLatest, 404, `{"message": "Not Found"}`)
	h.json(ghTags, 200, `[{"name": "v0.9.1"}, {"name": "v0.9.0"}]`)

	art, err := h.resolver().Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierTag, art.Tier)
	assert.Equal(t, "v0.9.1", art.VersionID)
	assert.Equal(t, h.srv.URL+"/gh/owner/repo/archive/refs/tags/v0.9.1.zip", art.DownloadURL)
	assert.Zero(t, h.count(ghWebLate), "a 404 must not invoke the web-scrape tier")
}

func TestResolveFallsBackToBranchHead(t *testing.T) {
	h := newFakeHost(t)
	h.json(ghLatest, 404, `{}`)
	h.json(ghTags, 200, `[]`)
	h.json(ghRepo, 200, `{"default_branch": "main"}`)
	h.json(ghCommit, 200, `{"sha": "ABCDEF1234567890", "commit": {"committer": {"date": "2025-01-02T23:59:00Z"}}}`)

	art, err := h.resolver().Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierBranchHead, art.Tier)
	assert.Equal(t, "2025-01-02-abcdef1", art.VersionID)
	assert.Equal(t, h.srv.URL+"/gh/owner/repo/archive/refs/heads/main.zip", art.DownloadURL)
	assert.Zero(t, h.count(ghWebLate))
}

func TestResolvePreferCodeSkipsReleases(t *testing.T) {
	h := newFakeHost(t)
	h.json(ghLatest, 200, `{"tag_name": "v1.0.0", "assets": [{"name": "a.zip", "browser_download_url": "https://x/a.zip"}]}`)
	h.json(ghRepo, 200, `{"default_branch": "main"}`)
	h.json(ghCommit, 200, `{"sha": "0123456789", "commit": {"committer": {"date": "2025-05-05T00:00:00Z"}}}`)

	art, err := h.resolver().Resolve(context.Background(), ghRef, "", models.PreferCode)
	require.NoError(t, err)
	assert.Equal(t, models.TierBranchHead, art.Tier)
	assert.Equal(t, "2025-05-05-0123456", art.VersionID)
	assert.Zero(t, h.count(ghLatest))
}

func TestResolveRateLimitedUsesWebScrape(t *testing.T) {
	h := newFakeHost(t)
	h.routes[ghLatest] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}
	h.redirect(ghWebLate, "/gh/owner/repo/releases/tag/v3.1.0")
	h.html("/gh/owner/repo/releases/tag/v3.1.0", `<html><body>release</body></html>`)
	h.html("/gh/owner/repo/releases/expanded_assets/v3.1.0", `<ul>
		<li><a href="/owner/repo/releases/download/v3.1.0/Repo-3.1.0.zip">Repo-3.1.0.zip</a></li>
		<li><a href="/owner/repo/archive/refs/tags/v3.1.0.zip">Source code</a></li>
	</ul>`)

	art, err := h.resolver().Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierWebScrape, art.Tier)
	assert.Equal(t, "v3.1.0", art.VersionID)
	assert.Equal(t, h.srv.URL+"/owner/repo/releases/download/v3.1.0/Repo-3.1.0.zip", art.DownloadURL)
	assert.Zero(t, h.count(ghTags), "web scrape runs before falling back to tags")
}

func TestResolveSecondaryRateLimitUsesWebScrape(t *testing.T) {
	h := newFakeHost(t)
	secondary := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusForbidden)
	}
	h.routes[ghLatest] = secondary
	h.routes[ghTags] = secondary
	h.redirect(ghWebLate, "/gh/owner/repo/releases/tag/v3.1.0")
	h.html("/gh/owner/repo/releases/tag/v3.1.0", `<html><body>release</body></html>`)

	art, err := h.resolver().Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierWebScrape, art.Tier)
	assert.Equal(t, "v3.1.0", art.VersionID)
	assert.Equal(t, 1, h.count(ghWebLate))
}

func TestResolveScrapeParsesReleaseLinks(t *testing.T) {
	h := newFakeHost(t)
	h.json(ghLatest, 429, `{}`)
	h.html(ghWebLate, `<html><body>
		<a href="/owner/repo/releases">All</a>
		<a href="/owner/repo/releases/tag/v2.2.2">v2.2.2</a>
		<a href="/owner/repo/releases/tag/v2.2.1">v2.2.1</a>
	</body></html>`)

	art, err := h.resolver().Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierWebScrape, art.Tier)
	assert.Equal(t, "v2.2.2", art.VersionID)
	assert.Equal(t, h.srv.URL+"/gh/owner/repo/archive/refs/tags/v2.2.2.zip", art.DownloadURL)
}

func TestResolveNeverReturnsPlaceholder(t *testing.T) {
	h := newFakeHost(t)
	h.json(ghLatest, 429, `{}`)
	h.html(ghWebLate, `<html><body><a href="/owner/repo/releases/tag/latest">latest</a></body></html>`)
	h.json(ghTags, 429, `{}`)
	h.json(ghRepo, 429, `{}`)

	r := h.resolver()
	_, err := r.Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrResolutionExhausted))
	assert.Zero(t, r.Cache().Len())
	assert.Equal(t, 1, h.count(ghWebLate), "web scrape is attempted once per resolution")
}

func TestResolveTransportFailureExhausts(t *testing.T) {
	h := newFakeHost(t)
	r := h.resolver()
	h.srv.Close()

	_, err := r.Resolve(context.Background(), ghRef, "", models.PreferReleases)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrResolutionExhausted))
}

func TestResolveCancelledContextIsTierFailure(t *testing.T) {
	h := newFakeHost(t)
	h.json(ghLatest, 200, `{"tag_name": "v1", "zipball_url": "https://x/z"}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.resolver().Resolve(ctx, ghRef, "", models.PreferReleases)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrResolutionExhausted))
}

func TestResolveGitLabRelease(t *testing.T) {
	h := newFakeHost(t)
	h.json("/gl-api/projects/group/proj/releases/permalink/latest", 200, `{
		"tag_name": "v5.0",
		"released_at": "2025-02-02T00:00:00Z",
		"assets": {
			"links": [{"name": "proj-v5.0.zip", "url": "https://x/link", "direct_asset_url": "https://x/direct"}],
			"sources": [{"format": "zip", "url": "https://x/source.zip"}]
		}}`)

	art, err := h.resolver().Resolve(context.Background(), glRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierReleaseAsset, art.Tier)
	assert.Equal(t, "https://x/direct", art.DownloadURL)

	art, err = h.resolver().Resolve(context.Background(), glRef, "other.zip", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierReleaseArchiveFallback, art.Tier)
	assert.Equal(t, "https://x/source.zip", art.DownloadURL)
}

func TestResolveGitLabTagAndBranch(t *testing.T) {
	h := newFakeHost(t)
	h.json("/gl-api/projects/group/proj/repository/tags", 200, `[{"name": "1.2.0"}]`)

	art, err := h.resolver().Resolve(context.Background(), glRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierTag, art.Tier)
	assert.Equal(t, h.srv.URL+"/gl/group/proj/-/archive/1.2.0/proj-1.2.0.zip", art.DownloadURL)

	h.json("/gl-api/projects/group/proj", 200, `{"default_branch": "master"}`)
	h.json("/gl-api/projects/group/proj/repository/commits/master", 200, `{"id": "fedcba9876543210", "committed_date": "2024-12-31T12:00:00Z"}`)

	art, err = h.resolver().Resolve(context.Background(), glRef, "", models.PreferCode)
	require.NoError(t, err)
	assert.Equal(t, models.TierBranchHead, art.Tier)
	assert.Equal(t, "2024-12-31-fedcba9", art.VersionID)
	assert.Equal(t, h.srv.URL+"/gl/group/proj/-/archive/master/proj-master.zip", art.DownloadURL)
}

func TestResolveGitLabScrapeTagsPage(t *testing.T) {
	h := newFakeHost(t)
	h.json("/gl-api/projects/group/proj/releases/permalink/latest", 429, `{}`)
	h.html("/gl/group/proj/-/tags", `<a href="/group/proj/-/tags/v7.7">v7.7</a>`)

	art, err := h.resolver().Resolve(context.Background(), glRef, "", models.PreferReleases)
	require.NoError(t, err)
	assert.Equal(t, models.TierWebScrape, art.Tier)
	assert.Equal(t, "v7.7", art.VersionID)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	req := Request{Reference: ghRef}
	c.Put(req, models.ReleaseArtifact{VersionID: "1.0", DownloadURL: "https://x"})
	c.Put(Request{Reference: glRef}, models.ReleaseArtifact{VersionID: "latest", DownloadURL: "https://x"})

	_, ok := c.Get(req)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get(Request{Reference: ghRef, AssetName: "other.zip"})
	assert.False(t, ok, "asset preference is part of the key")

	now = now.Add(time.Minute)
	_, ok = c.Get(req)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := models.RepositoryReference{Platform: models.PlatformGitHub, Owner: "o", Name: fmt.Sprintf("r%d", i%4)}
			c.Put(Request{Reference: ref}, models.ReleaseArtifact{VersionID: "1", DownloadURL: "https://x"})
			c.Get(Request{Reference: ref})
			c.Invalidate(ref)
		}(i)
	}
	wg.Wait()
}

func TestPickAsset(t *testing.T) {
	assets := []asset{
		{name: "README.md", url: "u1"},
		{name: "Addon.ZIP", url: "u2"},
		{name: "Addon-nolib.zip", url: "u3"},
	}

	a, ok := pickAsset(assets, "")
	require.True(t, ok)
	assert.Equal(t, "u2", a.url)

	a, ok = pickAsset(assets, "addon-NOLIB.zip")
	require.True(t, ok)
	assert.Equal(t, "u3", a.url)

	_, ok = pickAsset(assets, "missing.zip")
	assert.False(t, ok)
}
