// Package archive extracts downloaded addon archives. The format is detected
// from the file content since download URLs rarely carry a useful extension.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// Format is a supported archive container
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGzip
	FormatTarXz
	FormatTarZstd
)

// String returns the string representation of Format
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarXz:
		return "tar.xz"
	case FormatTarZstd:
		return "tar.zst"
	default:
		return "unknown"
	}
}

// ErrUnsupportedFormat is returned for content that is not a known archive
var ErrUnsupportedFormat = errors.New("unsupported archive format")

var mimeFormats = []struct {
	mime   string
	format Format
}{
	{"application/zip", FormatZip},
	{"application/gzip", FormatTarGzip},
	{"application/x-xz", FormatTarXz},
	{"application/zstd", FormatTarZstd},
	{"application/x-tar", FormatTar},
}

// Detect sniffs the archive format of the file at path
func Detect(path string) (Format, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return FormatUnknown, err
	}
	for m := mtype; m != nil; m = m.Parent() {
		for _, mf := range mimeFormats {
			if m.Is(mf.mime) {
				return mf.format, nil
			}
		}
	}
	logrus.Debugf("Unrecognized archive content %s in %s", mtype.String(), path)
	return FormatUnknown, nil
}

// Extract unpacks the archive at src into the directory dst
func Extract(src, dst string) error {
	format, err := Detect(src)
	if err != nil {
		return fmt.Errorf("failed to detect archive format: %w", err)
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}

	logrus.Debugf("Extracting %s archive %s to %s", format, src, dst)

	switch format {
	case FormatZip:
		return extractZip(src, dst)
	case FormatTar, FormatTarGzip, FormatTarXz, FormatTarZstd:
		return extractTarFile(src, dst, format)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(src))
	}
}

// safeJoin resolves an archive member name below dst, rejecting names that
// would escape it
func safeJoin(dst, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return filepath.Join(dst, cleaned), nil
}

func extractZip(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(dst, f.Name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			logrus.Debugf("Skipping symlink %s", f.Name)
		default:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			err = writeFile(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func extractTarFile(src, dst string, format Format) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case FormatTarGzip:
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gr.Close()
		r = gr
	case FormatTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open xz stream: %w", err)
		}
		r = xr
	case FormatTarZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		r = f
	}

	return extractTar(tar.NewReader(r), dst)
}

func extractTar(tr *tar.Reader, dst string) error {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		target, err := safeJoin(dst, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		default:
			// Links, devices and pax metadata carry nothing an addon needs
			logrus.Debugf("Skipping tar entry %s (type %c)", header.Name, header.Typeflag)
		}
	}
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return out.Close()
}
