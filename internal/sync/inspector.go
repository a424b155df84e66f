package sync

import (
	"log/slog"
	"os"
	"time"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/fingerprint"
	"github.com/schaermu/toolsync/internal/jsonmerge"
)

// Inspector answers the content questions the planner asks about a path.
type Inspector interface {
	// Equal reports whether source and target hold the same content. Files
	// under special handling compare only their managed key paths.
	Equal(rel string) (bool, error)
	// Fingerprint returns the content checksum recorded in state for rel.
	Fingerprint(side Side, rel string) (string, error)
	// ModTime returns the modification time of rel on side.
	ModTime(side Side, rel string) (time.Time, error)
}

type fsInspector struct {
	tool   *config.ToolConfig
	logger *slog.Logger
}

// NewInspector returns an Inspector reading the tool's roots from disk.
func NewInspector(tool *config.ToolConfig, logger *slog.Logger) Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &fsInspector{tool: tool, logger: logger}
}

func (i *fsInspector) path(side Side, rel string) string {
	return sidePath(i.tool, side, rel)
}

func (i *fsInspector) Equal(rel string) (bool, error) {
	src, dst := i.path(Source, rel), i.path(Target, rel)
	if sh, ok := i.tool.Special(rel); ok {
		eq, err := jsonmerge.EqualFiles(src, dst, ruleFor(sh))
		if err == nil {
			return eq, nil
		}
		if !apperr.IsCode(err, apperr.CodeParse) {
			return false, err
		}
		i.logger.Warn("comparing whole file, structured content unreadable", "tool", i.tool.Name, "path", rel, "error", err)
	}
	return fingerprint.Identical(src, dst), nil
}

func (i *fsInspector) Fingerprint(side Side, rel string) (string, error) {
	sh, _ := i.tool.Special(rel)
	return contentFingerprint(i.path(side, rel), sh)
}

func (i *fsInspector) ModTime(side Side, rel string) (time.Time, error) {
	p := i.path(side, rel)
	info, err := os.Stat(p)
	if err != nil {
		return time.Time{}, apperr.FromFS("stat", p, err)
	}
	return info.ModTime(), nil
}

// contentFingerprint is the checksum stored in FileState. Special files are
// fingerprinted on their canonical extracted value so both sides of a partial
// merge agree. Unparsable special files fall back to the raw bytes.
func contentFingerprint(path string, special *config.SpecialHandling) (string, error) {
	if special != nil {
		canon, err := jsonmerge.CanonicalExtract(path, ruleFor(special))
		if err == nil {
			return fingerprint.Bytes(canon).String(), nil
		}
		if !apperr.IsCode(err, apperr.CodeParse) {
			return "", err
		}
	}
	fp, err := fingerprint.File(path)
	if err != nil {
		return "", err
	}
	return fp.String(), nil
}

func ruleFor(sh *config.SpecialHandling) jsonmerge.Rule {
	return jsonmerge.Rule{Keys: sh.IncludeKeys, Exclude: sh.ExcludePatterns}
}
