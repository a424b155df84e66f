package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schaermu/toolsync/internal/backup"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/propagate"
	"github.com/schaermu/toolsync/internal/state"
	"github.com/schaermu/toolsync/internal/sync"
	"github.com/schaermu/toolsync/internal/ui"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Sync flags
	toolNames     []string
	pushFlag      bool
	pullFlag      bool
	bidirectional bool
	dryRun        bool
	autoResolve   bool
)

func main() {
	ctx, stop := setupSignalHandler()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "toolsync",
	Short: "Synchronize developer tool configuration with a dotfiles repository",
	Long: `toolsync keeps the configuration directories of developer tools (Claude, opencode,
...) in sync with a version-controlled source directory.

Running toolsync without a subcommand performs a sync. Files that changed on both
sides, files only present in the target and deletions are resolved interactively,
or from a fixed policy with --auto.`,
	SilenceUsage: true,
	RunE:         runSync,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync enabled tools between source and target",
	Long: `Sync compares the source and target directory of every enabled tool with the
state recorded at the last sync on this machine, prints a summary of planned
changes and applies them after taking a backup of every file it touches.`,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes and the last sync of every machine",
	Long: `Status plans a push for every enabled tool, or the tools named with --tool,
and prints the changes it would make without touching any file. It then lists
every machine that has synced into the configured targets.`,
	RunE: runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "toolsync %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/"+config.DefaultFileName+")")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
	viper.SetEnvPrefix("TOOLSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	addSyncFlags(rootCmd)
	addSyncFlags(syncCmd)
	statusCmd.Flags().StringSliceVarP(&toolNames, "tool", "t", nil, "show pending changes for the named tools only")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(listBackupsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(cleanBackupsCmd)
	rootCmd.AddCommand(versionCmd)
}

func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&toolNames, "tool", "t", nil, "sync only the named tools (default all enabled)")
	cmd.Flags().BoolVar(&pushFlag, "push", false, "copy source to target (default)")
	cmd.Flags().BoolVar(&pullFlag, "pull", false, "copy target back to source")
	cmd.Flags().BoolVar(&bidirectional, "bidirectional", false, "copy whichever side changed")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	cmd.Flags().BoolVar(&autoResolve, "auto", false, "never prompt, resolve conflicts by modification time")
	cmd.MarkFlagsMutuallyExclusive("push", "pull", "bidirectional")
}

// app bundles what every command needs after the configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	console *ui.Console
	backups *backup.Manager
}

func setup(cmd *cobra.Command) (*app, error) {
	logger := setupLogger(viper.GetString("log-level"), viper.GetString("log-format"), cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		console: ui.NewConsole(cmd.OutOrStdout()),
		backups: backup.NewManager(cfg.Settings.BackupDir, logger),
	}, nil
}

func selectedDirection() sync.Direction {
	switch {
	case pullFlag:
		return sync.Pull
	case bidirectional:
		return sync.Bidirectional
	}
	return sync.Push
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := a.cfg.CheckPaths(); err != nil {
		return err
	}

	identity, err := state.NewIdentity()
	if err != nil {
		return err
	}
	a.logger.Debug("machine identity", "machine_id", identity.MachineID, "hostname", identity.Hostname)

	var decider sync.Decider = sync.DefaultPolicy()
	if !autoResolve && isInteractive() {
		decider = ui.NewPrompter(os.Stdin, cmd.OutOrStdout())
	}

	engine := sync.NewEngine(a.cfg, identity, decider, a.backups, a.console, a.logger,
		sync.Options{DryRun: dryRun, AutoResolve: autoResolve})

	results := runTools(cmd.Context(), engine, selectedDirection())

	propErr := a.runPropagation(cmd.Context(), decider, identity.MachineID)

	if !dryRun && a.cfg.Settings.AutoCleanup() {
		a.maintainBackups()
	}

	if err := checkResults(results); err != nil {
		return err
	}
	return propErr
}

// runPropagation applies the propagation rules after a sync.
func (a *app) runPropagation(ctx context.Context, decider sync.Decider, machineID string) error {
	if len(a.cfg.Propagate) == 0 {
		return nil
	}
	a.warnPropagation()

	p := propagate.New(a.cfg, decider, a.backups, a.logger, propagate.Options{DryRun: dryRun, MachineID: machineID})
	report, err := p.Run(ctx)
	a.console.Propagation(report)
	if err != nil {
		return fmt.Errorf("propagation stopped: %w", err)
	}
	if n := report.Count(propagate.Failed); n > 0 {
		return fmt.Errorf("%d propagation %s failed", n, pluralize(n, "step"))
	}
	return nil
}

func (a *app) warnPropagation() {
	for _, w := range propagate.Warnings(a.cfg) {
		a.console.Warn("%s", w)
	}
}

func pluralize(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func runTools(ctx context.Context, engine *sync.Engine, direction sync.Direction) []*sync.Result {
	if len(toolNames) > 0 {
		return engine.SyncTools(ctx, toolNames, direction)
	}
	return engine.SyncAll(ctx, direction)
}

func checkResults(results []*sync.Result) error {
	var failed int
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tools failed to sync", failed, len(results))
	}
	return nil
}

// maintainBackups applies the configured retention. Failures only warn.
func (a *app) maintainBackups() {
	s := a.cfg.Settings
	if removed, err := a.backups.Cleanup(s.BackupRetentionDays, s.BackupRetentionCount); err != nil {
		a.logger.Warn("backup cleanup failed", "error", err)
	} else if removed > 0 {
		a.logger.Info("removed old backups", "count", removed)
	}
	if n, err := a.backups.Compress(s.CompressAfterDays); err != nil {
		a.logger.Warn("backup compression failed", "error", err)
	} else if n > 0 {
		a.logger.Info("compressed backups", "count", n)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	identity, err := state.NewIdentity()
	if err != nil {
		return err
	}

	a.warnPropagation()

	// pending changes are a dry-run push
	engine := sync.NewEngine(a.cfg, identity, nil, nil, a.console, a.logger, sync.Options{DryRun: true})
	results := runTools(cmd.Context(), engine, sync.Push)

	machines, err := engine.Status(cmd.Context())
	if err != nil {
		return err
	}
	a.console.Machines(machines)
	return checkResults(results)
}

func setupLogger(level, format string, w io.Writer) *slog.Logger {
	// Parse log level
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	}))
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := viper.GetString("config")
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"tools", len(cfg.EnabledTools()),
		"backup_dir", cfg.Settings.BackupDir)

	return cfg, nil
}

func isInteractive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
