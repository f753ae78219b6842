// Package integrity computes payload checksums between the download and
// upload stages.
package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Hashes carries the digests of one payload.
type Hashes struct {
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// StreamingHasher calculates both digests in one pass as data flows
// through it.
type StreamingHasher struct {
	md5Hash    hash.Hash
	sha256Hash hash.Hash
	size       int64
}

// NewStreamingHasher creates an empty hasher.
func NewStreamingHasher() *StreamingHasher {
	return &StreamingHasher{
		md5Hash:    md5.New(),
		sha256Hash: sha256.New(),
	}
}

// Write implements io.Writer, feeding every digest simultaneously.
func (sh *StreamingHasher) Write(p []byte) (int, error) {
	n, err := io.MultiWriter(sh.md5Hash, sh.sha256Hash).Write(p)
	sh.size += int64(n)
	return n, err
}

// Sum returns the digests of everything written so far.
func (sh *StreamingHasher) Sum() Hashes {
	return Hashes{
		MD5:    hex.EncodeToString(sh.md5Hash.Sum(nil)),
		SHA256: hex.EncodeToString(sh.sha256Hash.Sum(nil)),
		Size:   sh.size,
	}
}

// HashFile streams a file through the hasher and returns its digests.
func HashFile(path string) (Hashes, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hashes{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sh := NewStreamingHasher()
	if _, err := io.Copy(sh, f); err != nil {
		return Hashes{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return sh.Sum(), nil
}
