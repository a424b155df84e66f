package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/toolsync/internal/apperr"
)

// ModeExtractKeys restricts synchronization of a structured file to a set of
// key paths.
const ModeExtractKeys = "extract_keys"

// DefaultFileName is the name of the configuration file in the home
// directory.
const DefaultFileName = ".toolsync.yaml"

//go:embed template.yaml
var template []byte

// Template returns the annotated starter configuration written by
// init-config.
func Template() []byte {
	out := make([]byte, len(template))
	copy(out, template)
	return out
}

// Config represents the complete toolsync configuration
type Config struct {
	Settings        Settings               `yaml:"settings"`
	ExcludeRulesets map[string][]string    `yaml:"exclude_rulesets"`
	Tools           map[string]*ToolConfig `yaml:"tools"`
	Propagate       []PropagationRule      `yaml:"propagate"`
}

// Settings holds options shared by all tools
type Settings struct {
	FollowSymlinks           bool   `yaml:"follow_symlinks"`
	RespectGitignore         *bool  `yaml:"respect_gitignore"`
	ConfirmDestructiveSource *bool  `yaml:"confirm_destructive_source"`
	ConfirmDestructiveTarget bool   `yaml:"confirm_destructive_target"`
	BackupDir                string `yaml:"backup_dir"`
	BackupRetentionDays      int    `yaml:"backup_retention_days"`
	BackupRetentionCount     int    `yaml:"backup_retention_count"`
	AutoCleanupBackups       *bool  `yaml:"auto_cleanup_backups"`
	CompressAfterDays        int    `yaml:"compress_after_days"`
}

// ToolConfig describes one synchronized tool
type ToolConfig struct {
	// Name is filled from the key under tools.
	Name            string                     `yaml:"-"`
	Enabled         *bool                      `yaml:"enabled"`
	Source          string                     `yaml:"source"`
	Target          string                     `yaml:"target"`
	Include         []string                   `yaml:"include"`
	Exclude         []string                   `yaml:"exclude"`
	ExcludeRulesets []string                   `yaml:"exclude_rulesets"`
	SpecialHandling map[string]SpecialHandling `yaml:"special_handling"`
}

// SpecialHandling restricts a structured file to specific key paths
type SpecialHandling struct {
	Mode            string   `yaml:"mode"`
	IncludeKeys     []string `yaml:"include_keys"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// Transform types understood by propagation rules.
const (
	TransformSed                    = "sed"
	TransformRemoveXMLSections      = "remove_xml_sections"
	TransformRemoveMarkdownSections = "remove_markdown_sections"
)

// PropagationRule copies a file or directory to other locations after a
// sync, rewriting the content on the way. The source is either SourcePath or
// SourceFile relative to the target directory of SourceTool.
type PropagationRule struct {
	SourceTool string              `yaml:"source_tool"`
	SourceFile string              `yaml:"source_file"`
	SourcePath string              `yaml:"source_path"`
	Exclude    []string            `yaml:"exclude"`
	Targets    []PropagationTarget `yaml:"targets"`
}

// PropagationTarget is one destination of a rule: DestPath, or TargetFile
// relative to the target directory of Tool.
type PropagationTarget struct {
	Tool       string      `yaml:"tool"`
	TargetFile string      `yaml:"target_file"`
	DestPath   string      `yaml:"dest_path"`
	Transforms []Transform `yaml:"transforms"`
}

// Transform rewrites propagated content. Pattern is used by sed, Sections
// by the section removers.
type Transform struct {
	Type     string   `yaml:"type"`
	Pattern  string   `yaml:"pattern"`
	Sections []string `yaml:"sections"`
}

// DefaultPath returns ~/.toolsync.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("read config", path, fmt.Errorf("create one with: toolsync init-config"))
		}
		return nil, apperr.IO("read config", path, err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML content.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Parse("parse config", "", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.mergeRulesets()
	return &cfg, nil
}

// expandEnv expands ~ and environment variables in all path fields
func (c *Config) expandEnv() {
	c.Settings.BackupDir = expandPath(c.Settings.BackupDir)
	for _, tool := range c.Tools {
		if tool == nil {
			continue
		}
		tool.Source = expandPath(tool.Source)
		tool.Target = expandPath(tool.Target)
	}
	for i := range c.Propagate {
		rule := &c.Propagate[i]
		rule.SourcePath = expandPath(rule.SourcePath)
		for j := range rule.Targets {
			rule.Targets[j].DestPath = expandPath(rule.Targets[j].DestPath)
		}
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	s := &c.Settings
	if s.RespectGitignore == nil {
		s.RespectGitignore = boolPtr(true)
	}
	if s.ConfirmDestructiveSource == nil {
		s.ConfirmDestructiveSource = boolPtr(true)
	}
	if s.AutoCleanupBackups == nil {
		s.AutoCleanupBackups = boolPtr(true)
	}
	if s.BackupDir == "" {
		s.BackupDir = expandPath("~/.toolsync/backups")
	}
	if s.BackupRetentionDays == 0 {
		s.BackupRetentionDays = 30
	}
	if s.BackupRetentionCount == 0 {
		s.BackupRetentionCount = 30
	}
	if s.CompressAfterDays == 0 {
		s.CompressAfterDays = 7
	}

	for name, tool := range c.Tools {
		if tool == nil {
			tool = &ToolConfig{}
			c.Tools[name] = tool
		}
		tool.Name = name
		if tool.Enabled == nil {
			tool.Enabled = boolPtr(true)
		}
		for file, sh := range tool.SpecialHandling {
			if sh.Mode == "" {
				sh.Mode = ModeExtractKeys
				tool.SpecialHandling[file] = sh
			}
		}
	}
}

// mergeRulesets prepends the patterns of every referenced exclude ruleset to
// the tool's own excludes.
func (c *Config) mergeRulesets() {
	for _, tool := range c.Tools {
		var merged []string
		for _, name := range tool.ExcludeRulesets {
			merged = append(merged, c.ExcludeRulesets[name]...)
		}
		tool.Exclude = append(merged, tool.Exclude...)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Tools) == 0 {
		return apperr.Validation("no tools configured")
	}

	enabled := 0
	for _, name := range c.ToolNames() {
		tool := c.Tools[name]
		if tool.IsEnabled() {
			enabled++
		}

		if tool.Source == "" {
			return apperr.Validation("tools.%s.source is required", name)
		}
		if tool.Target == "" {
			return apperr.Validation("tools.%s.target is required", name)
		}
		if !filepath.IsAbs(tool.Source) {
			return apperr.Validation("tools.%s.source must be an absolute path: %s", name, tool.Source)
		}
		if !filepath.IsAbs(tool.Target) {
			return apperr.Validation("tools.%s.target must be an absolute path: %s", name, tool.Target)
		}
		if filepath.Clean(tool.Source) == filepath.Clean(tool.Target) {
			return apperr.Validation("tools.%s: source and target must differ", name)
		}

		for _, rs := range tool.ExcludeRulesets {
			if _, ok := c.ExcludeRulesets[rs]; !ok {
				return apperr.Validation("tools.%s references unknown exclude ruleset %q", name, rs)
			}
		}

		for _, group := range [][]string{tool.Include, tool.Exclude} {
			for _, p := range group {
				if !doublestar.ValidatePattern(p) {
					return apperr.Validation("tools.%s: invalid pattern %q", name, p)
				}
			}
		}

		for file, sh := range tool.SpecialHandling {
			if sh.Mode != ModeExtractKeys {
				return apperr.Validation("tools.%s.special_handling.%s: unsupported mode %q (must be %s)", name, file, sh.Mode, ModeExtractKeys)
			}
			if len(sh.IncludeKeys) == 0 {
				return apperr.Validation("tools.%s.special_handling.%s: include_keys is required", name, file)
			}
			for _, k := range sh.IncludeKeys {
				if k == "" || strings.HasPrefix(k, ".") || strings.HasSuffix(k, ".") || strings.Contains(k, "..") {
					return apperr.Validation("tools.%s.special_handling.%s: invalid key path %q", name, file, k)
				}
			}
		}
	}

	if enabled == 0 {
		return apperr.Validation("no tools are enabled")
	}

	for name, patterns := range c.ExcludeRulesets {
		for _, p := range patterns {
			if !doublestar.ValidatePattern(p) {
				return apperr.Validation("exclude_rulesets.%s: invalid pattern %q", name, p)
			}
		}
	}

	for i, rule := range c.Propagate {
		if err := c.validateRule(i, rule); err != nil {
			return err
		}
	}

	if c.Settings.BackupRetentionDays < 0 || c.Settings.BackupRetentionCount < 0 || c.Settings.CompressAfterDays < 0 {
		return apperr.Validation("settings: backup retention and compression values must not be negative")
	}

	return nil
}

func (c *Config) validateRule(i int, rule PropagationRule) error {
	switch {
	case rule.SourcePath == "" && rule.SourceTool == "":
		return apperr.Validation("propagate[%d]: either source_tool or source_path is required", i)
	case rule.SourcePath == "" && rule.SourceFile == "":
		return apperr.Validation("propagate[%d]: source_tool requires source_file", i)
	}
	if rule.SourceTool != "" {
		if _, ok := c.Tools[rule.SourceTool]; !ok {
			return apperr.Validation("propagate[%d] references unknown source tool %q", i, rule.SourceTool)
		}
	}
	if len(rule.Targets) == 0 {
		return apperr.Validation("propagate[%d]: at least one target is required", i)
	}
	for _, p := range rule.Exclude {
		if !doublestar.ValidatePattern(p) {
			return apperr.Validation("propagate[%d]: invalid exclude pattern %q", i, p)
		}
	}

	for j, target := range rule.Targets {
		if target.Tool != "" && (strings.HasPrefix(target.TargetFile, "/") || strings.HasPrefix(target.TargetFile, "~")) {
			return apperr.Validation("propagate[%d].targets[%d]: target_file %q looks absolute, use dest_path instead of tool", i, j, target.TargetFile)
		}
		if target.DestPath == "" {
			if target.Tool == "" {
				return apperr.Validation("propagate[%d].targets[%d]: either dest_path or tool with target_file is required", i, j)
			}
			if target.TargetFile == "" {
				return apperr.Validation("propagate[%d].targets[%d]: tool %q requires target_file", i, j, target.Tool)
			}
		}
		if target.Tool != "" {
			if _, ok := c.Tools[target.Tool]; !ok {
				return apperr.Validation("propagate[%d].targets[%d] references unknown tool %q, define it under tools or use dest_path", i, j, target.Tool)
			}
		}
		for k, tr := range target.Transforms {
			switch tr.Type {
			case TransformSed:
				if tr.Pattern == "" {
					return apperr.Validation("propagate[%d].targets[%d].transforms[%d]: sed requires pattern", i, j, k)
				}
			case TransformRemoveXMLSections, TransformRemoveMarkdownSections:
				if len(tr.Sections) == 0 {
					return apperr.Validation("propagate[%d].targets[%d].transforms[%d]: %s requires sections", i, j, k, tr.Type)
				}
			default:
				return apperr.Validation("propagate[%d].targets[%d].transforms[%d]: unknown transform type %q", i, j, k, tr.Type)
			}
		}
	}
	return nil
}

// CheckPaths verifies that the source and target of every enabled tool
// exist.
func (c *Config) CheckPaths() error {
	for _, name := range c.ToolNames() {
		tool := c.Tools[name]
		if !tool.IsEnabled() {
			continue
		}
		for _, p := range []string{tool.Source, tool.Target} {
			if _, err := os.Stat(p); err != nil {
				return apperr.Validation("tools.%s: path does not exist: %s", name, p)
			}
		}
	}
	return nil
}

// ToolNames returns all configured tool names in sorted order.
func (c *Config) ToolNames() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledTools returns the enabled tools in name order.
func (c *Config) EnabledTools() []*ToolConfig {
	var tools []*ToolConfig
	for _, name := range c.ToolNames() {
		if tool := c.Tools[name]; tool.IsEnabled() {
			tools = append(tools, tool)
		}
	}
	return tools
}

// Tool looks up a tool by name.
func (c *Config) Tool(name string) (*ToolConfig, bool) {
	tool, ok := c.Tools[name]
	return tool, ok
}

// RespectsGitignore reports the effective respect_gitignore setting.
func (s Settings) RespectsGitignore() bool {
	return s.RespectGitignore == nil || *s.RespectGitignore
}

// ConfirmsSource reports the effective confirm_destructive_source setting.
func (s Settings) ConfirmsSource() bool {
	return s.ConfirmDestructiveSource == nil || *s.ConfirmDestructiveSource
}

// AutoCleanup reports the effective auto_cleanup_backups setting.
func (s Settings) AutoCleanup() bool {
	return s.AutoCleanupBackups == nil || *s.AutoCleanupBackups
}

// IsEnabled reports whether the tool takes part in synchronization.
func (t *ToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Special returns the special handling configured for a slash-separated
// relative path. Entries match the full relative path first, then the file
// name at any depth.
func (t *ToolConfig) Special(rel string) (*SpecialHandling, bool) {
	if sh, ok := t.SpecialHandling[rel]; ok {
		return &sh, true
	}
	if sh, ok := t.SpecialHandling[path.Base(rel)]; ok {
		return &sh, true
	}
	return nil, false
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func boolPtr(b bool) *bool {
	return &b
}
