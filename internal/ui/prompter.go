package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/sync"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("aborted by user")

const maxListedOrphans = 10

var _ sync.Decider = (*Prompter)(nil)

// Prompter asks the user on the terminal. It implements sync.Decider.
type Prompter struct {
	in      io.Reader
	console *Console
	ask     func(ctx context.Context, q question) (string, error)
}

// NewPrompter returns a Prompter reading keys from in and rendering to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: in, console: NewConsole(out)}
	p.ask = p.run
	return p
}

func (p *Prompter) run(ctx context.Context, q question) (string, error) {
	prog := tea.NewProgram(newChoiceModel(q),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.console.out),
	)
	final, err := prog.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	answer := final.(choiceModel).answer()
	if answer == "" {
		return "", ErrAborted
	}
	return answer, nil
}

// askWithDiff repeats q while the user picks "d" and shows the diff of a and
// b in between.
func (p *Prompter) askWithDiff(ctx context.Context, q question, rel, a, b string, special *config.SpecialHandling) (string, error) {
	for {
		answer, err := p.ask(ctx, q)
		if err != nil || answer != "d" {
			return answer, err
		}
		text, _, err := sync.DiffFiles(a, b, special, "source/"+rel, "target/"+rel)
		if err != nil {
			p.console.Warn("cannot diff %s: %v", rel, err)
			continue
		}
		p.console.Diff(text)
	}
}

func modified(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return fmt.Sprintf("modified %s (%s)", humanize.Time(info.ModTime()), info.ModTime().Format("2006-01-02 15:04:05"))
}

func (p *Prompter) ReverseSync(ctx context.Context, tool string, pair sync.Pair) (sync.ReverseDecision, error) {
	q := question{
		title: fmt.Sprintf("%s: %s is newer in target than in source", tool, pair.Rel),
		details: []string{
			"source " + modified(pair.SourcePath),
			"target " + modified(pair.TargetPath),
		},
		options: []option{
			{"p", "pull the target version into source"},
			{"u", "push source anyway"},
			{"d", "show diff"},
			{"s", "skip"},
		},
	}
	answer, err := p.askWithDiff(ctx, q, pair.Rel, pair.SourcePath, pair.TargetPath, pair.Special)
	if err != nil {
		return sync.ReverseSkip, err
	}
	switch answer {
	case "p":
		return sync.ReversePull, nil
	case "u":
		return sync.ReversePushAnyway, nil
	}
	return sync.ReverseSkip, nil
}

func (p *Prompter) Conflict(ctx context.Context, tool string, pair sync.Pair) (sync.ConflictDecision, error) {
	q := question{
		title: fmt.Sprintf("%s: %s changed on both sides", tool, pair.Rel),
		details: []string{
			"source " + modified(pair.SourcePath),
			"target " + modified(pair.TargetPath),
		},
		options: []option{
			{"k", "keep source"},
			{"t", "use target"},
			{"n", "keep whichever is newer"},
			{"d", "show diff"},
			{"s", "skip"},
		},
	}
	answer, err := p.askWithDiff(ctx, q, pair.Rel, pair.SourcePath, pair.TargetPath, pair.Special)
	if err != nil {
		return sync.ConflictSkip, err
	}
	switch answer {
	case "k":
		return sync.ConflictKeepSource, nil
	case "t":
		return sync.ConflictUseTarget, nil
	case "n":
		return sync.ConflictNewer, nil
	}
	return sync.ConflictSkip, nil
}

func (p *Prompter) Orphans(ctx context.Context, tool string, orphans []sync.Orphan) (sync.OrphansDecision, error) {
	var details []string
	for i, o := range orphans {
		if i == maxListedOrphans {
			details = append(details, fmt.Sprintf("... and %d more", len(orphans)-maxListedOrphans))
			break
		}
		details = append(details, o.Rel)
	}
	q := question{
		title:   fmt.Sprintf("%s: %d %s only in target and never synced", tool, len(orphans), plural(len(orphans), "file")),
		details: details,
		options: []option{
			{"s", "leave them alone"},
			{"c", "copy all back to source"},
			{"x", "delete all from target"},
			{"e", "decide for each file"},
		},
	}
	answer, err := p.ask(ctx, q)
	if err != nil {
		return sync.OrphansSkip, err
	}
	switch answer {
	case "c":
		return sync.OrphansCopyBackAll, nil
	case "x":
		return sync.OrphansDeleteAll, nil
	case "e":
		return sync.OrphansSelect, nil
	}
	return sync.OrphansSkip, nil
}

func (p *Prompter) Orphan(ctx context.Context, tool string, o sync.Orphan) (sync.OrphanDecision, error) {
	q := question{
		title:   fmt.Sprintf("%s: %s exists only in target", tool, o.Rel),
		details: []string{"target " + modified(o.Path)},
		options: []option{
			{"s", "skip"},
			{"c", "copy back to source"},
			{"x", "delete from target"},
		},
	}
	answer, err := p.ask(ctx, q)
	if err != nil {
		return sync.OrphanSkip, err
	}
	switch answer {
	case "c":
		return sync.OrphanCopyBack, nil
	case "x":
		return sync.OrphanDelete, nil
	}
	return sync.OrphanSkip, nil
}

func (p *Prompter) Deletion(ctx context.Context, tool string, d sync.DeleteAction) (sync.DeletionDecision, error) {
	q := question{
		title:   fmt.Sprintf("%s: delete %s from %s?", tool, d.Rel, d.Side),
		details: []string{fmt.Sprintf("it was removed from %s since the last sync", d.Side.Other())},
		options: []option{
			{"x", "delete"},
			{"c", "copy back to " + d.Side.Other().String()},
			{"s", "skip"},
		},
	}
	answer, err := p.ask(ctx, q)
	if err != nil {
		return sync.DeletionSkip, err
	}
	switch answer {
	case "x":
		return sync.DeletionDelete, nil
	case "c":
		return sync.DeletionCopyBack, nil
	}
	return sync.DeletionSkip, nil
}

func (p *Prompter) Overwrite(ctx context.Context, tool string, c sync.CopyAction) (bool, error) {
	q := question{
		title: fmt.Sprintf("%s: overwrite %s in source with the target version?", tool, c.Rel),
		details: []string{
			"source " + modified(c.DstPath),
			"target " + modified(c.SrcPath),
		},
		options: []option{
			{"y", "overwrite"},
			{"d", "show diff"},
			{"n", "keep source"},
		},
	}
	answer, err := p.askWithDiff(ctx, q, c.Rel, c.DstPath, c.SrcPath, c.Special)
	if err != nil {
		return false, err
	}
	return answer == "y", nil
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(ctx context.Context, title string, details ...string) (bool, error) {
	answer, err := p.ask(ctx, question{
		title:   title,
		details: details,
		options: []option{{"y", "yes"}, {"n", "no"}},
	})
	if err != nil {
		return false, err
	}
	return answer == "y", nil
}
