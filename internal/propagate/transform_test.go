package propagate

import (
	"strings"
	"testing"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/config"
)

func TestSed(t *testing.T) {
	tests := []struct {
		name    string
		content string
		expr    string
		want    string
	}{
		{"first match only", "foo foo", "s/foo/bar/", "bar foo"},
		{"global", "foo foo", "s/foo/bar/g", "bar bar"},
		{"missing trailing delimiter", "foo foo", "s/foo/bar", "bar foo"},
		{"other delimiter", "/usr/local/bin", "s|/usr/local|/opt|g", "/opt/bin"},
		{"escaped delimiter", "a/b", `s/\//-/g`, "a-b"},
		{"capture groups", "name: claude", `s/name: (\w+)/tool=\1/`, "tool=claude"},
		{"literal dollar", "price", "s/price/$5/", "$5"},
		{"case insensitive", "Claude CLAUDE", "s/claude/agent/gi", "agent agent"},
		{"no match", "unchanged", "s/zzz/y/g", "unchanged"},
		{"newline escape", "a;b", `s/;/\n/`, "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sed(tt.content, tt.expr)
			if err != nil {
				t.Fatalf("Sed(%q) returned error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Sed(%q, %q) = %q, want %q", tt.content, tt.expr, got, tt.want)
			}
		})
	}
}

func TestSed_Invalid(t *testing.T) {
	for _, expr := range []string{"", "x/a/b/", "s/a", "s/a/b/c/d", "s/a/b/q", "s/(/x/"} {
		if _, err := Sed("content", expr); !apperr.IsCode(err, apperr.CodeValidation) {
			t.Errorf("Sed(%q) error = %v, want VALIDATION_ERROR", expr, err)
		}
	}
}

func TestRemoveXMLSections(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		sections []string
		want     string
	}{
		{
			name:     "paired tags",
			content:  "Before.\n<SECTION>Content.</SECTION>\nAfter.",
			sections: []string{"SECTION"},
			want:     "Before.\n\nAfter.",
		},
		{
			name:     "self closing",
			content:  "Before.\n<SECTION/>\nAfter.",
			sections: []string{"SECTION"},
			want:     "Before.\n\nAfter.",
		},
		{
			name:     "attributes and multiple lines",
			content:  "a<CLAUDE_ONLY scope=\"x\">\nline one\nline two\n</CLAUDE_ONLY>b",
			sections: []string{"CLAUDE_ONLY"},
			want:     "ab",
		},
		{
			name:     "every occurrence and no prefix match",
			content:  "<S>1</S><SX>keep</SX><S>2</S>",
			sections: []string{"S"},
			want:     "<SX>keep</SX>",
		},
		{
			name:     "several names",
			content:  "<A>a</A>-<B/>-c",
			sections: []string{"A", "B"},
			want:     "--c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemoveXMLSections(tt.content, tt.sections); got != tt.want {
				t.Errorf("RemoveXMLSections() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRemoveMarkdownSections(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		sections []string
		gone     []string
		kept     []string
	}{
		{
			name:     "h3 between peers",
			content:  "## Parent\n\n### Keep This\nKeep content.\n\n### Remove This\nRemove content.\n\n### Also Keep\nKept content.\n",
			sections: []string{"Remove This"},
			gone:     []string{"### Remove This", "Remove content."},
			kept:     []string{"### Keep This", "### Also Keep", "Kept content."},
		},
		{
			name:     "section at end of file",
			content:  "## Intro\nSome text.\n\n### Last Section\nThis is the end.\n",
			sections: []string{"Last Section"},
			gone:     []string{"### Last Section", "This is the end."},
			kept:     []string{"## Intro", "Some text."},
		},
		{
			name:     "nested children go with the parent",
			content:  "## Top\n\n### Parent Section\nParent text.\n\n#### Child Section\nChild text.\n\n### Next Peer\nPeer text.\n",
			sections: []string{"Parent Section"},
			gone:     []string{"### Parent Section", "Parent text.", "#### Child Section", "Child text."},
			kept:     []string{"### Next Peer", "Peer text."},
		},
		{
			name:     "child removed parent kept",
			content:  "### Parent\nParent text.\n\n#### Child to Remove\nChild text.\n\n#### Sibling Child\nSibling text.\n",
			sections: []string{"Child to Remove"},
			gone:     []string{"#### Child to Remove", "Child text."},
			kept:     []string{"### Parent", "Parent text.", "#### Sibling Child", "Sibling text."},
		},
		{
			name:     "multiple sections",
			content:  "### One\nText one.\n\n### Two\nText two.\n\n### Three\nText three.\n",
			sections: []string{"One", "Three"},
			gone:     []string{"### One", "Text one.", "### Three", "Text three."},
			kept:     []string{"### Two", "Text two."},
		},
		{
			name:     "higher level heading ends the section",
			content:  "## Top\n\n### Remove Me\nRemoved.\n\n## Another Top\nKept.\n",
			sections: []string{"Remove Me"},
			gone:     []string{"### Remove Me", "Removed."},
			kept:     []string{"## Top", "## Another Top", "Kept."},
		},
		{
			name: "realistic instructions file",
			content: "## Tool Usage\n\n### CLI Commands\nUse run_silent.\n\n### CLAUDE.md Features\n- Use relevant skills\n- Use tasks/TODOs\n\n" +
				"#### Sub-agent Coordination\n- Define clear boundaries\n\n## Diagramming\n\n### Mermaid\nMermaid instructions.\n",
			sections: []string{"CLAUDE.md Features", "Sub-agent Coordination"},
			gone:     []string{"### CLAUDE.md Features", "Use relevant skills", "#### Sub-agent Coordination", "Define clear boundaries"},
			kept:     []string{"## Tool Usage", "### CLI Commands", "Use run_silent.", "## Diagramming", "### Mermaid"},
		},
		{
			name:     "headings inside code fences do not end a section",
			content:  "### Keep\nKept.\n\n### Remove\nSome text.\n```sh\n# heading-like comment\necho hello\n```\n\n### After\nAfter text.\n",
			sections: []string{"Remove"},
			gone:     []string{"### Remove", "echo hello", "# heading-like comment"},
			kept:     []string{"### Keep", "### After", "After text."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemoveMarkdownSections(tt.content, tt.sections)
			for _, s := range tt.gone {
				if strings.Contains(got, s) {
					t.Errorf("%q should be removed:\n%s", s, got)
				}
			}
			for _, s := range tt.kept {
				if !strings.Contains(got, s) {
					t.Errorf("%q should be kept:\n%s", s, got)
				}
			}
		})
	}
}

func TestRemoveMarkdownSections_Unchanged(t *testing.T) {
	content := "### Existing\nContent.\n"
	if got := RemoveMarkdownSections(content, []string{"Nonexistent"}); got != content {
		t.Errorf("unmatched section changed content: %q", got)
	}
	if got := RemoveMarkdownSections(content, nil); got != content {
		t.Errorf("empty section list changed content: %q", got)
	}
}

func TestRemoveMarkdownSections_BlankLines(t *testing.T) {
	got := RemoveMarkdownSections("### A\nText A.\n\n### B\nText B.\n\n### C\nText C.\n", []string{"B"})
	want := "### A\nText A.\n\n### C\nText C.\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply(t *testing.T) {
	got, err := Apply("### Remove\nText.\n\n### Keep\nKept.\n", config.Transform{Type: config.TransformRemoveMarkdownSections, Sections: []string{"Remove"}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "### Remove") || !strings.Contains(got, "### Keep") {
		t.Errorf("unexpected result %q", got)
	}

	got, err = ApplyAll("<SECTION>x</SECTION>Claude", []config.Transform{
		{Type: config.TransformRemoveXMLSections, Sections: []string{"SECTION"}},
		{Type: config.TransformSed, Pattern: "s/Claude/Agent/"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Agent" {
		t.Errorf("ApplyAll() = %q, want %q", got, "Agent")
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []config.Transform{
		{Type: config.TransformRemoveMarkdownSections},
		{Type: config.TransformRemoveXMLSections},
		{Type: config.TransformSed},
		{Type: "bogus"},
	}
	for _, tr := range tests {
		if _, err := Apply("content", tr); !apperr.IsCode(err, apperr.CodeValidation) {
			t.Errorf("Apply(%+v) error = %v, want VALIDATION_ERROR", tr, err)
		}
	}
}
