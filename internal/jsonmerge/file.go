package jsonmerge

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/schaermu/toolsync/internal/apperr"
)

// Rule selects the key paths of a document that are under sync control.
type Rule struct {
	Keys    []string
	Exclude []string
}

// ReadFile parses a JSON or JSONC file.
func ReadFile(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, apperr.FromFS("read", path, err)
	}
	v, err := Parse(data)
	if err != nil {
		return Value{}, apperr.Parse("parse", path, errors.Unwrap(err))
	}
	return v, nil
}

// ExtractFile reads path and extracts the rule's key paths.
func ExtractFile(path string, rule Rule) (Value, error) {
	v, err := ReadFile(path)
	if err != nil {
		return Value{}, err
	}
	return Extract(v, rule.Keys, rule.Exclude), nil
}

// CanonicalExtract returns the encoded extraction of path with members sorted
// by name. Two files under the same rule have equal canonical bytes when their
// managed key paths hold the same values, whatever the member order.
func CanonicalExtract(path string, rule Rule) ([]byte, error) {
	v, err := ExtractFile(path, rule)
	if err != nil {
		return nil, err
	}
	return Encode(Canonical(v))
}

// EqualFiles compares the managed key paths of two files, ignoring unrelated
// members and member order.
func EqualFiles(a, b string, rule Rule) (bool, error) {
	va, err := ExtractFile(a, rule)
	if err != nil {
		return false, err
	}
	vb, err := ExtractFile(b, rule)
	if err != nil {
		return false, err
	}
	return Equal(va, vb), nil
}

// MergeFile writes the rule's key paths from src into dst. A missing dst
// starts from an empty object. If either document fails to parse, dst is
// left untouched.
func MergeFile(src, dst string, rule Rule) error {
	extracted, err := ExtractFile(src, rule)
	if err != nil {
		return err
	}

	dest := Null()
	perm := fs.FileMode(0644)
	data, err := os.ReadFile(dst)
	switch {
	case err == nil:
		if info, statErr := os.Stat(dst); statErr == nil {
			perm = info.Mode().Perm()
		}
		if len(bytes.TrimSpace(data)) > 0 {
			dest, err = Parse(data)
			if err != nil {
				return apperr.Parse("parse", dst, errors.Unwrap(err))
			}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return apperr.IO("read", dst, err)
	}

	merged, err := MergeInto(dest, extracted, rule.Keys, rule.Exclude)
	if err != nil {
		return apperr.Parse("merge", dst, errors.Unwrap(err))
	}
	out, err := Encode(merged)
	if err != nil {
		return apperr.IO("encode", dst, err)
	}
	return writeAtomic(dst, out, perm)
}

func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperr.IO("create directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".toolsync-merge-*")
	if err != nil {
		return apperr.IO("write", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return apperr.IO("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return apperr.IO("write", path, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return apperr.IO("write", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return apperr.IO("write", path, err)
	}
	return nil
}
