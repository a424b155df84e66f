package sync

import (
	"io"
	"os"
	"path/filepath"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/jsonmerge"
)

// applyCopy writes one copy action to disk.
func applyCopy(c CopyAction) error {
	if c.Special != nil {
		return jsonmerge.MergeFile(c.SrcPath, c.DstPath, ruleFor(c.Special))
	}
	return copyFile(c.SrcPath, c.DstPath)
}

// copyFile copies src to dst with an atomic write, keeping mode and
// modification time.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apperr.IO("create directory", filepath.Dir(dst), err)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return apperr.FromFS("open", src, err)
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return apperr.IO("stat", src, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".toolsync-tmp-*")
	if err != nil {
		return apperr.IO("create temp", dst, err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return apperr.IO("copy", dst, err)
	}

	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return apperr.IO("chmod", dst, err)
	}

	if err := tmpFile.Close(); err != nil {
		return apperr.IO("close", dst, err)
	}

	if err := os.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return apperr.IO("chtimes", dst, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return apperr.IO("rename", dst, err)
	}

	return nil
}

// removeFile deletes path. A file that is already gone counts as deleted.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.FromFS("delete", path, err)
	}
	return nil
}
