// Package discovery finds the files managed under a tool root.
package discovery

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/schaermu/toolsync/internal/apperr"
)

// GitignoreFile is the per-directory ignore file honoured when
// Options.RespectGitignore is set.
const GitignoreFile = ".gitignore"

// Options controls which files FindManagedFiles returns.
type Options struct {
	// Include patterns; empty means every file.
	Include []string
	// Exclude patterns; matching a file or any parent directory excludes it.
	Exclude []string
	// FollowSymlinks includes symlinks that point at regular files.
	// Symlinked directories are never descended into.
	FollowSymlinks bool
	// RespectGitignore applies .gitignore files found under the root.
	RespectGitignore bool
}

// ignoreLayer is a compiled .gitignore and the directory it applies to,
// relative to the walk root.
type ignoreLayer struct {
	dir    string
	ignore *gitignore.GitIgnore
}

func (l ignoreLayer) matches(rel string, isDir bool) bool {
	p := rel
	if l.dir != "" {
		p = strings.TrimPrefix(rel, l.dir+"/")
	}
	if isDir {
		p += "/"
	}
	return l.ignore.MatchesPath(p)
}

// FindManagedFiles returns slash-separated paths relative to root of every
// regular file selected by opts. A missing root yields an empty set.
func FindManagedFiles(root string, opts Options) (mapset.Set[string], error) {
	files := mapset.NewSet[string]()

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return files, nil
		}
		return nil, apperr.IO("discover", root, err)
	}
	if !info.IsDir() {
		return nil, apperr.Validation("discover %s: not a directory", root)
	}

	layers := map[string][]ignoreLayer{}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				layers["."] = loadIgnoreLayers(nil, p, "", opts.RespectGitignore)
				return nil
			}
			parent := layers[path.Dir(rel)]
			if isExcluded(rel, opts.Exclude) || isIgnored(parent, rel, true) {
				return filepath.SkipDir
			}
			layers[rel] = loadIgnoreLayers(parent, p, rel, opts.RespectGitignore)
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			target, err := os.Stat(p)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		if !isIncluded(rel, opts.Include) {
			return nil
		}
		if isExcluded(rel, opts.Exclude) || isIgnored(layers[path.Dir(rel)], rel, false) {
			return nil
		}

		files.Add(rel)
		return nil
	})
	if err != nil {
		return nil, apperr.IO("discover", root, err)
	}

	return files, nil
}

// Matches reports whether the include and exclude patterns select rel.
// .gitignore files are not consulted.
func Matches(rel string, include, exclude []string) bool {
	return isIncluded(rel, include) && !isExcluded(rel, exclude)
}

func isIncluded(rel string, include []string) bool {
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// isExcluded reports whether rel or any of its parent directories matches
// an exclude pattern.
func isExcluded(rel string, exclude []string) bool {
	for p := rel; p != "." && p != "/"; p = path.Dir(p) {
		for _, pattern := range exclude {
			if ok, _ := doublestar.Match(pattern, p); ok {
				return true
			}
		}
	}
	return false
}

func isIgnored(layers []ignoreLayer, rel string, isDir bool) bool {
	for _, l := range layers {
		if l.matches(rel, isDir) {
			return true
		}
	}
	return false
}

func loadIgnoreLayers(parent []ignoreLayer, dir, rel string, enabled bool) []ignoreLayer {
	if !enabled {
		return parent
	}
	lines, err := readIgnoreLines(filepath.Join(dir, GitignoreFile))
	if err != nil || len(lines) == 0 {
		return parent
	}
	if rel == "." {
		rel = ""
	}
	out := make([]ignoreLayer, 0, len(parent)+1)
	out = append(out, parent...)
	return append(out, ignoreLayer{dir: rel, ignore: gitignore.CompileIgnoreLines(lines...)})
}

func readIgnoreLines(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
