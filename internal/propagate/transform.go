package propagate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/config"
)

// Apply runs a single transform over content.
func Apply(content string, t config.Transform) (string, error) {
	switch t.Type {
	case config.TransformSed:
		if t.Pattern == "" {
			return "", apperr.Validation("sed transform requires a pattern")
		}
		return Sed(content, t.Pattern)
	case config.TransformRemoveXMLSections:
		if len(t.Sections) == 0 {
			return "", apperr.Validation("%s transform requires sections", t.Type)
		}
		return RemoveXMLSections(content, t.Sections), nil
	case config.TransformRemoveMarkdownSections:
		if len(t.Sections) == 0 {
			return "", apperr.Validation("%s transform requires sections", t.Type)
		}
		return RemoveMarkdownSections(content, t.Sections), nil
	}
	return "", apperr.Validation("unknown transform type %q", t.Type)
}

// ApplyAll runs transforms in order.
func ApplyAll(content string, transforms []config.Transform) (string, error) {
	for _, t := range transforms {
		var err error
		if content, err = Apply(content, t); err != nil {
			return "", fmt.Errorf("transform %s: %w", t.Type, err)
		}
	}
	return content, nil
}

// Sed applies a substitution written as s/search/replace/flags. The
// character after the leading s is the delimiter and may be escaped with a
// backslash. Flag g replaces every match, flag i ignores case. \1 to \9 in
// the replacement refer to capture groups.
func Sed(content, expr string) (string, error) {
	search, replace, flags, err := parseSed(expr)
	if err != nil {
		return "", err
	}
	if strings.ContainsRune(flags, 'i') {
		search = "(?i)" + search
	}
	re, err := regexp.Compile(search)
	if err != nil {
		return "", apperr.Validation("sed pattern %q: %v", expr, err)
	}
	tmpl := replacementTemplate(replace)

	if strings.ContainsRune(flags, 'g') {
		return re.ReplaceAllString(content, tmpl), nil
	}
	loc := re.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, nil
	}
	out := re.ExpandString(nil, tmpl, content, loc)
	return content[:loc[0]] + string(out) + content[loc[1]:], nil
}

func parseSed(expr string) (search, replace, flags string, err error) {
	if len(expr) < 2 || expr[0] != 's' {
		return "", "", "", apperr.Validation("invalid sed pattern %q", expr)
	}
	delim := expr[1]

	var parts []string
	var cur strings.Builder
	for i := 2; i < len(expr); i++ {
		c := expr[i]
		switch {
		case c == '\\' && i+1 < len(expr) && expr[i+1] == delim:
			cur.WriteByte(delim)
			i++
		case c == delim:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())

	if len(parts) < 2 || len(parts) > 3 {
		return "", "", "", apperr.Validation("invalid sed pattern %q", expr)
	}
	if len(parts) == 3 {
		flags = parts[2]
	}
	for _, f := range flags {
		if f != 'g' && f != 'i' {
			return "", "", "", apperr.Validation("sed pattern %q: unsupported flag %q", expr, f)
		}
	}
	return parts[0], parts[1], flags, nil
}

// replacementTemplate turns a sed replacement into a regexp.Expand template.
func replacementTemplate(replace string) string {
	var b strings.Builder
	for i := 0; i < len(replace); i++ {
		c := replace[i]
		switch {
		case c == '$':
			b.WriteString("$$")
		case c == '\\' && i+1 < len(replace):
			i++
			switch n := replace[i]; {
			case n >= '0' && n <= '9':
				fmt.Fprintf(&b, "${%c}", n)
			case n == 'n':
				b.WriteByte('\n')
			case n == 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(n)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// RemoveXMLSections deletes <NAME ...>...</NAME> blocks and <NAME/> tags for
// every section name. Blocks may span lines.
func RemoveXMLSections(content string, sections []string) string {
	for _, name := range sections {
		n := regexp.QuoteMeta(name)
		re := regexp.MustCompile(`(?s)<` + n + `\s*/>|<` + n + `(\s[^>]*)?>.*?</` + n + `\s*>`)
		content = re.ReplaceAllString(content, "")
	}
	return content
}

var fenceLine = regexp.MustCompile("^(```|~~~)")

// RemoveMarkdownSections deletes each section whose heading text equals one
// of the names. A section runs from its heading to the next heading of the
// same or a higher level, so nested sub-sections go with it. Headings inside
// fenced code blocks do not end a section.
func RemoveMarkdownSections(content string, sections []string) string {
	for _, name := range sections {
		heading := regexp.MustCompile(`(?m)^(#{1,6})[ \t]+` + regexp.QuoteMeta(name) + `[ \t]*$`)
		m := heading.FindStringSubmatchIndex(content)
		if m == nil {
			continue
		}
		level := m[3] - m[2]
		start, end := m[0], sectionEnd(content, m[1], level)

		before := strings.TrimRight(content[:start], "\n")
		after := strings.TrimLeft(content[end:], "\n")
		switch {
		case before == "":
			content = after
		case after == "":
			content = before + "\n"
		default:
			content = before + "\n\n" + after
		}
	}
	return content
}

// sectionEnd returns the offset of the first heading at or above level after
// from, or len(content).
func sectionEnd(content string, from, level int) int {
	next := regexp.MustCompile(fmt.Sprintf(`^#{1,%d}[ \t]+\S`, level))
	inFence := false
	offset := from
	for _, line := range strings.SplitAfter(content[from:], "\n") {
		text := strings.TrimRight(line, "\n")
		switch {
		case fenceLine.MatchString(text):
			inFence = !inFence
		case !inFence && next.MatchString(text):
			return offset
		}
		offset += len(line)
	}
	return len(content)
}
