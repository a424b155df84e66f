// Package fingerprint computes content checksums used for equality and
// change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schaermu/toolsync/internal/apperr"
)

// Algorithm is the hash algorithm used for all fingerprints.
const Algorithm = "sha256"

// Fingerprint identifies the full byte content of a file.
type Fingerprint struct {
	Algorithm string
	Digest    string
}

// String renders the fingerprint as "algorithm:hexdigest".
func (f Fingerprint) String() string {
	if f.Digest == "" {
		return ""
	}
	return f.Algorithm + ":" + f.Digest
}

// IsZero reports whether f was never computed.
func (f Fingerprint) IsZero() bool {
	return f.Digest == ""
}

// Parse reads a fingerprint rendered by String.
func Parse(s string) (Fingerprint, error) {
	alg, digest, ok := strings.Cut(s, ":")
	if !ok || alg == "" || digest == "" {
		return Fingerprint{}, apperr.Parse("parse fingerprint", "", fmt.Errorf("malformed fingerprint %q", s))
	}
	return Fingerprint{Algorithm: alg, Digest: digest}, nil
}

// Reader fingerprints everything readable from r.
func Reader(r io.Reader) (Fingerprint, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Algorithm: Algorithm, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// Bytes fingerprints an in-memory buffer.
func Bytes(b []byte) Fingerprint {
	sum := sha256.Sum256(b)
	return Fingerprint{Algorithm: Algorithm, Digest: hex.EncodeToString(sum[:])}
}

// File computes the fingerprint of the file at path without loading it
// into memory.
func File(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, apperr.FromFS("fingerprint", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	fp, err := Reader(f)
	if err != nil {
		return Fingerprint{}, apperr.IO("fingerprint", path, err)
	}
	return fp, nil
}

// Metadata is the basic information recorded about a file.
type Metadata struct {
	Path        string
	Size        int64
	ModTime     time.Time
	Fingerprint Fingerprint
}

// Stat returns size, modification time and fingerprint for path.
func Stat(path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, apperr.FromFS("stat", path, err)
	}
	fp, err := File(path)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Fingerprint: fp,
	}, nil
}

// Identical reports whether two files have the same content. Sizes are
// compared first; missing or unreadable files are never identical.
func Identical(a, b string) bool {
	infoA, err := os.Stat(a)
	if err != nil || !infoA.Mode().IsRegular() {
		return false
	}
	infoB, err := os.Stat(b)
	if err != nil || !infoB.Mode().IsRegular() {
		return false
	}
	if infoA.Size() != infoB.Size() {
		return false
	}

	fpA, err := File(a)
	if err != nil {
		return false
	}
	fpB, err := File(b)
	if err != nil {
		return false
	}
	return fpA == fpB
}
