package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

var fixture = map[string]string{
	"Addon-main/Addon.toc":       "## Title: Addon\n",
	"Addon-main/core/init.lua":   "print('hi')\n",
	"Addon-main/media/readme.md": "# readme\n",
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("Addon-main/")
	require.NoError(t, err)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func tarBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "Addon-main/", Typeflag: tar.TypeDir, Mode: 0755}))
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, format Format, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch format {
	case FormatTarGzip:
		w = gzip.NewWriter(&buf)
	case FormatTarXz:
		w, err = xz.NewWriter(&buf)
	case FormatTarZstd:
		w, err = zstd.NewWriter(&buf)
	default:
		return data
	}
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func assertExtracted(t *testing.T, dst string) {
	t.Helper()
	for name, content := range fixture {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, content, string(got))
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "addon.download")
	writeZip(t, src, fixture)

	format, err := Detect(src)
	require.NoError(t, err)
	assert.Equal(t, FormatZip, format)

	dst := filepath.Join(dir, "out")
	require.NoError(t, Extract(src, dst))
	assertExtracted(t, dst)
}

func TestExtractTarFormats(t *testing.T) {
	for _, format := range []Format{FormatTar, FormatTarGzip, FormatTarXz, FormatTarZstd} {
		t.Run(format.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "addon.download")
			require.NoError(t, os.WriteFile(src, compress(t, format, tarBytes(t, fixture)), 0644))

			detected, err := Detect(src)
			require.NoError(t, err)
			assert.Equal(t, format, detected)

			dst := filepath.Join(dir, "out")
			require.NoError(t, Extract(src, dst))
			assertExtracted(t, dst)
		})
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out")

	zipSrc := filepath.Join(dir, "evil.zip")
	writeZip(t, zipSrc, map[string]string{"../evil.txt": "x"})
	assert.Error(t, Extract(zipSrc, dst))

	tarSrc := filepath.Join(dir, "evil.tar")
	require.NoError(t, os.WriteFile(tarSrc, tarBytes(t, map[string]string{"../../evil.txt": "x"}), 0644))
	assert.Error(t, Extract(tarSrc, dst))

	_, err := os.Stat(filepath.Join(dir, "evil.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractUnsupported(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(src, []byte("<html><body>Not Found</body></html>"), 0644))

	err := Extract(src, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSafeJoin(t *testing.T) {
	dst := filepath.FromSlash("/tmp/out")

	got, err := safeJoin(dst, "a/b/c.lua")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "a", "b", "c.lua"), got)

	for _, bad := range []string{"../x", "a/../../x", "..", "..\\x"} {
		_, err := safeJoin(dst, bad)
		assert.Error(t, err, bad)
	}
}
