package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/schaermu/toolsync/internal/backup"
	"github.com/schaermu/toolsync/internal/propagate"
	"github.com/schaermu/toolsync/internal/sync"
)

// Console writes human-readable output. It implements sync.Reporter.
type Console struct {
	out io.Writer
	now func() time.Time
}

// NewConsole returns a console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, now: time.Now}
}

func (c *Console) line(style lipgloss.Style, mark, format string, args ...any) {
	fmt.Fprintf(c.out, "%s %s\n", style.Render(mark), fmt.Sprintf(format, args...))
}

// Info prints a neutral message.
func (c *Console) Info(format string, args ...any) { c.line(cyan, "•", format, args...) }

// Success prints a success message.
func (c *Console) Success(format string, args ...any) { c.line(green, "✓", format, args...) }

// Warn prints a warning.
func (c *Console) Warn(format string, args ...any) { c.line(yellow, "!", format, args...) }

// Error prints an error.
func (c *Console) Error(format string, args ...any) { c.line(red, "✗", format, args...) }

func kindStyle(k sync.ChangeKind) lipgloss.Style {
	switch k {
	case sync.ChangeNew:
		return green
	case sync.ChangeModified:
		return yellow
	case sync.ChangeDeleted:
		return red
	case sync.ChangeConflict:
		return magenta.Bold(true)
	}
	return gray
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(gray).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// PlanSummary prints every bucket of a plan.
func (c *Console) PlanSummary(s sync.Summary) {
	fmt.Fprintln(c.out, titleStyle.Render(fmt.Sprintf("%s (%s)", s.Tool, s.Direction.Arrow())))

	t := newTable("Change", "Path", "Side", "Lines", "Note")
	for _, ch := range s.Changes {
		lines := "-"
		if ch.Stats != nil {
			lines = ch.Stats.Summary()
		}
		t.Row(
			kindStyle(ch.Kind).Render(ch.Kind.String()),
			ch.Rel,
			ch.Side.String(),
			lines,
			ch.Warning,
		)
	}
	fmt.Fprintln(c.out, t.Render())

	var counts []string
	for _, k := range []sync.ChangeKind{sync.ChangeNew, sync.ChangeModified, sync.ChangeDeleted, sync.ChangeConflict, sync.ChangeOrphan} {
		if n := s.Count(k); n > 0 {
			counts = append(counts, fmt.Sprintf("%d %s", n, k))
		}
	}
	fmt.Fprintln(c.out, hintStyle.Render(strings.Join(counts, ", ")))
}

// ToolResult prints the outcome of one tool sync.
func (c *Console) ToolResult(r *sync.Result) {
	switch {
	case r.Failed():
		c.Error("%s: %v", r.Tool, r.Err)
	case r.Plan == nil || r.Plan.IsEmpty():
		c.Success("%s: no changes to sync", r.Tool)
	case r.DryRun:
		c.Info("%s: dry run, %d planned %s, nothing changed", r.Tool, r.Plan.Size(), plural(r.Plan.Size(), "change"))
	case r.Outcome != nil:
		o := r.Outcome
		c.Success("%s: %d copied, %d deleted, %d skipped", r.Tool, o.Copied, o.Deleted, o.Skipped)
		if o.FailedDeletes > 0 {
			c.Warn("%s: %d %s could not be deleted", r.Tool, o.FailedDeletes, plural(o.FailedDeletes, "file"))
		}
		if o.BackupID != "" {
			c.Info("backup %s", o.BackupID)
		}
	}
}

// Propagation prints every propagated file that changed or failed.
func (c *Console) Propagation(r *propagate.Report) {
	for _, ch := range r.Changes {
		switch ch.Action {
		case propagate.Written:
			c.Success("propagated %s → %s", ch.Source, ch.Dest)
		case propagate.WouldWrite:
			c.Info("would propagate %s → %s", ch.Source, ch.Dest)
		case propagate.Deleted:
			c.Success("deleted %s", ch.Dest)
		case propagate.CopiedBack:
			c.Success("copied %s back to %s", ch.Source, ch.Dest)
		case propagate.Orphaned:
			c.Warn("%s has no source counterpart", ch.Dest)
		case propagate.SourceMissing:
			c.Info("skipped propagation, %s does not exist", ch.Source)
		case propagate.Failed:
			target := ch.Dest
			if target == "" {
				target = ch.Source
			}
			c.Error("propagation of %s failed: %v", target, ch.Err)
		}
	}
	for _, id := range r.BackupIDs {
		c.Info("backup %s", id)
	}
}

// Diff prints a unified diff with added and removed lines coloured.
func (c *Console) Diff(text string) {
	if text == "" {
		c.Info("no differences in synced content")
		return
	}
	for _, l := range strings.SplitAfter(text, "\n") {
		if l == "" {
			continue
		}
		body := strings.TrimSuffix(l, "\n")
		switch {
		case strings.HasPrefix(body, "+++"), strings.HasPrefix(body, "---"):
			fmt.Fprintln(c.out, titleStyle.Render(body))
		case strings.HasPrefix(body, "@@"):
			fmt.Fprintln(c.out, cyan.Render(body))
		case strings.HasPrefix(body, "+"):
			fmt.Fprintln(c.out, green.Render(body))
		case strings.HasPrefix(body, "-"):
			fmt.Fprintln(c.out, red.Render(body))
		default:
			fmt.Fprintln(c.out, body)
		}
	}
}

// Machines prints the status of every known machine.
func (c *Console) Machines(ms []sync.MachineStatus) {
	if len(ms) == 0 {
		c.Info("no sync state recorded yet")
		return
	}
	t := newTable("", "Host", "Machine", "Last sync", "Files", "Deletions")
	for _, m := range ms {
		marker := ""
		if m.Current {
			marker = green.Render("*")
		}
		t.Row(
			marker,
			m.Hostname,
			m.MachineID,
			humanize.RelTime(m.LastSync, c.now(), "ago", "from now"),
			strconv.Itoa(m.Files),
			strconv.Itoa(m.Deletions),
		)
	}
	fmt.Fprintln(c.out, t.Render())
}

// Backups prints backup manifests.
func (c *Console) Backups(ms []backup.Manifest) {
	if len(ms) == 0 {
		c.Info("no backups found")
		return
	}
	t := newTable("ID", "Tool", "Operation", "Created", "Files", "Size")
	for _, m := range ms {
		var size uint64
		for _, ch := range m.Changes {
			if ch.SizeBefore != nil && *ch.SizeBefore > 0 {
				size += uint64(*ch.SizeBefore)
			}
		}
		t.Row(
			m.ID,
			m.Tool,
			m.Operation,
			humanize.RelTime(m.Timestamp, c.now(), "ago", "from now"),
			strconv.Itoa(len(m.Changes)),
			humanize.Bytes(size),
		)
	}
	fmt.Fprintln(c.out, t.Render())
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
