package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Checksum contains the digest and size of a file
type Checksum struct {
	SHA256 string
	Size   int64
}

// HashingWriter computes a SHA-256 digest of everything written through it
type HashingWriter struct {
	w    io.Writer
	h    hash.Hash
	size int64
}

// NewHashingWriter wraps w
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: sha256.New()}
}

func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	hw.h.Write(p[:n])
	hw.size += int64(n)
	return n, err
}

// Checksum returns the digest of the bytes written so far
func (hw *HashingWriter) Checksum() *Checksum {
	return &Checksum{
		SHA256: hex.EncodeToString(hw.h.Sum(nil)),
		Size:   hw.size,
	}
}
