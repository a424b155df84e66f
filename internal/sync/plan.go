package sync

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/schaermu/toolsync/internal/config"
)

// Direction selects which side of a tool is authoritative.
type Direction int

const (
	// Push copies source to target.
	Push Direction = iota
	// Pull copies target to source.
	Pull
	// Bidirectional reconciles both sides against the recorded state.
	Bidirectional
)

func (d Direction) String() string {
	switch d {
	case Push:
		return "push"
	case Pull:
		return "pull"
	case Bidirectional:
		return "bidirectional"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Arrow renders the direction for humans.
func (d Direction) Arrow() string {
	switch d {
	case Push:
		return "source → target"
	case Pull:
		return "target → source"
	}
	return d.String()
}

// ParseDirection parses "push", "pull" or "bidirectional".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "push", "":
		return Push, nil
	case "pull":
		return Pull, nil
	case "bidirectional", "sync", "both":
		return Bidirectional, nil
	}
	return Push, fmt.Errorf("unknown sync direction %q", s)
}

// Side is one of the two roots of a tool.
type Side int

const (
	Source Side = iota
	Target
)

func (s Side) String() string {
	if s == Source {
		return "source"
	}
	return "target"
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Source {
		return Target
	}
	return Source
}

// CopyAction copies Rel from the From side to the other side.
type CopyAction struct {
	Rel     string
	From    Side
	SrcPath string
	DstPath string
	Special *config.SpecialHandling

	// Confirmed is set when the copy came out of an explicit decision and
	// must not be confirmed again.
	Confirmed bool
}

// DeleteAction removes Rel from Side.
type DeleteAction struct {
	Rel       string
	Side      Side
	Path      string
	Confirmed bool

	// fingerprint taken when the deletion was confirmed
	checksum string
}

// Pair is a path present on both sides.
type Pair struct {
	Rel        string
	SourcePath string
	TargetPath string
	Special    *config.SpecialHandling
}

// Orphan is a target file that was never recorded as synchronized.
type Orphan struct {
	Rel  string
	Path string
}

// Plan is the set of actions computed for one tool. Every relative path
// appears in at most one bucket.
type Plan struct {
	Tool      string
	Direction Direction

	Copies             []CopyAction
	Deletes            []DeleteAction
	Conflicts          []Pair
	ReverseSuggestions []Pair
	Orphans            []Orphan
}

// IsEmpty reports whether the plan has nothing to do or ask.
func (p *Plan) IsEmpty() bool {
	return len(p.Copies) == 0 &&
		len(p.Deletes) == 0 &&
		len(p.Conflicts) == 0 &&
		len(p.ReverseSuggestions) == 0 &&
		len(p.Orphans) == 0
}

// Size returns the number of entries across all buckets.
func (p *Plan) Size() int {
	return len(p.Copies) + len(p.Deletes) + len(p.Conflicts) + len(p.ReverseSuggestions) + len(p.Orphans)
}

// toolPair locates rel under both roots of tool.
func toolPair(tool *config.ToolConfig, rel string) Pair {
	sh, _ := tool.Special(rel)
	return Pair{
		Rel:        rel,
		SourcePath: sidePath(tool, Source, rel),
		TargetPath: sidePath(tool, Target, rel),
		Special:    sh,
	}
}

func sidePath(tool *config.ToolConfig, side Side, rel string) string {
	root := tool.Source
	if side == Target {
		root = tool.Target
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}

func (p Pair) path(side Side) string {
	if side == Source {
		return p.SourcePath
	}
	return p.TargetPath
}

// copyFrom turns a pair into a copy from the given side.
func (p Pair) copyFrom(side Side) CopyAction {
	return CopyAction{
		Rel:     p.Rel,
		From:    side,
		SrcPath: p.path(side),
		DstPath: p.path(side.Other()),
		Special: p.Special,
	}
}
