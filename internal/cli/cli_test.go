package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub serves a latest-release endpoint and its asset download
type fakeGitHub struct {
	mu  sync.Mutex
	tag string
	srv *httptest.Server
}

func newFakeGitHub(t *testing.T, tag string) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{tag: tag}
	mux := http.NewServeMux()
	mux.HandleFunc("/gh-api/repos/owner/Pack/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		tag := f.currentTag()
		body, _ := json.Marshal(map[string]any{
			"tag_name": tag,
			"assets": []map[string]any{{
				"name":                 "Pack-" + tag + ".zip",
				"browser_download_url": f.srv.URL + "/download/" + tag,
			}},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		tag := filepath.Base(r.URL.Path)
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for name, content := range map[string]string{
			"Pack/Pack.toc":                 fmt.Sprintf("## Title: Pack\n## Version: %s\n", tag),
			"Pack/Pack.lua":                 "-- " + tag,
			"Pack_Options/Pack_Options.toc": "## Title: Pack Options\n",
		} {
			fw, _ := zw.Create(name)
			_, _ = fw.Write([]byte(content))
		}
		_ = zw.Close()
		_, _ = w.Write(buf.Bytes())
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) currentTag() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tag
}

func (f *fakeGitHub) setTag(tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tag = tag
}

type cliHarness struct {
	configPath  string
	installRoot string
}

func newCLIHarness(t *testing.T, gh *fakeGitHub) *cliHarness {
	t.Helper()
	for _, env := range []string{"INSTALL_ROOT", "SCRATCH_DIR", "REGISTRY_BACKEND", "REGISTRY_PATH", "GITHUB_TOKEN", "GITLAB_TOKEN"} {
		t.Setenv("ADDONSYNC_"+env, "")
	}

	base := t.TempDir()
	h := &cliHarness{
		configPath:  filepath.Join(base, "config.toml"),
		installRoot: filepath.Join(base, "AddOns"),
	}
	content := fmt.Sprintf(`install_root = %q
scratch_dir = %q

[registry]
backend = "sqlite"
path = %q

[resolver]
requests_per_second = 100

[endpoints]
github_api = %q
github_web = %q
`, h.installRoot, filepath.Join(base, "scratch"), filepath.Join(base, "data"), gh.srv.URL+"/gh-api", gh.srv.URL+"/gh")
	require.NoError(t, os.WriteFile(h.configPath, []byte(content), 0644))
	return h
}

func (h *cliHarness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", h.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAddListUpdateRemove(t *testing.T) {
	gh := newFakeGitHub(t, "v1.0.0")
	h := newCLIHarness(t, gh)

	out, err := h.run(t, "add", "https://github.com/owner/Pack")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Installed Pack v1.0.0")
	assert.FileExists(t, filepath.Join(h.installRoot, "Pack", "Pack.lua"))
	assert.DirExists(t, filepath.Join(h.installRoot, "Pack_Options"))

	out, err = h.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Pack  v1.0.0")
	assert.Contains(t, out, "Pack, Pack_Options")
	assert.Contains(t, out, "primary: Pack")

	out, err = h.run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Pack v1.0.0")

	gh.setTag("v1.1.0")
	out, err = h.run(t, "update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Pack v1.0.0 -> v1.1.0")
	lua, err := os.ReadFile(filepath.Join(h.installRoot, "Pack", "Pack.lua"))
	require.NoError(t, err)
	assert.Equal(t, "-- v1.1.0", string(lua))

	out, err = h.run(t, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Pack")

	out, err = h.run(t, "allow-updates", "Pack", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "updates off")

	out, err = h.run(t, "remove", "Pack")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed Pack")
	assert.NoDirExists(t, filepath.Join(h.installRoot, "Pack"))
}

func TestScanAndImportCommands(t *testing.T) {
	gh := newFakeGitHub(t, "v2.0.0")
	h := newCLIHarness(t, gh)

	dir := filepath.Join(h.installRoot, "Loose")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Loose.toc"),
		[]byte("## Title: Loose Addon\n## Version: 0.9\n## X-Website: https://github.com/someone/Loose\n"), 0644))

	out, err := h.run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "Loose Addon  0.9")
	assert.Contains(t, out, "https://github.com/someone/Loose")

	out, err = h.run(t, "import", "Loose")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported Loose Addon")

	out, err = h.run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "No unmanaged addons")
}

func TestConfigCommands(t *testing.T) {
	gh := newFakeGitHub(t, "v1.0.0")
	h := newCLIHarness(t, gh)

	out, err := h.run(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "install_root")
	assert.Contains(t, out, h.installRoot)

	_, err = h.run(t, "config", "init")
	assert.Error(t, err)

	fresh := filepath.Join(t.TempDir(), "new.toml")
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", fresh, "config", "init", "--install-root", "/games/AddOns"})
	require.NoError(t, cmd.Execute())
	data, err := os.ReadFile(fresh)
	require.NoError(t, err)
	assert.Contains(t, string(data), "/games/AddOns")
}

func TestMissingInstallRoot(t *testing.T) {
	gh := newFakeGitHub(t, "v1.0.0")
	h := newCLIHarness(t, gh)
	require.NoError(t, os.WriteFile(h.configPath, []byte("[registry]\npath = \""+filepath.Join(t.TempDir(), "data")+"\"\n"), 0644))

	_, err := h.run(t, "add", "https://github.com/owner/Pack")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConfigurationMissing")
}
