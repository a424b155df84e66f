package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/backup"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/ui"
)

var (
	initOutput string
	initForce  bool

	backupTool string
	assumeYes  bool
	cleanDays  int
	cleanCount int
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a commented example configuration",
	Args:  cobra.NoArgs,
	RunE:  runInitConfig,
}

var listBackupsCmd = &cobra.Command{
	Use:   "list-backups",
	Short: "List backups taken before syncs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runListBackups,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore every file recorded in a backup",
	Long: `Restore puts every file of a backup back in place: modified and deleted files
get their previous content, files the sync created are removed again.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var cleanBackupsCmd = &cobra.Command{
	Use:   "clean-backups",
	Short: "Remove backups beyond the retention limits",
	Long: `Clean-backups removes backups older than --days that are not among the newest
--count backups, and compresses the remaining ones once they are old enough.
Both limits default to the configured retention settings.`,
	Args: cobra.NoArgs,
	RunE: runCleanBackups,
}

func init() {
	initConfigCmd.Flags().StringVarP(&initOutput, "output", "o", "", "where to write the config (default is $HOME/"+config.DefaultFileName+")")
	initConfigCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")

	listBackupsCmd.Flags().StringVarP(&backupTool, "tool", "t", "", "only list backups of this tool")

	restoreCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	cleanBackupsCmd.Flags().IntVar(&cleanDays, "days", 0, "remove backups older than this many days")
	cleanBackupsCmd.Flags().IntVar(&cleanCount, "count", 0, "always keep this many newest backups")
	cleanBackupsCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := initOutput
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return apperr.Validation("%s already exists, use --force to overwrite it", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.IO("init config", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperr.IO("init config", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, config.Template(), 0644); err != nil {
		return apperr.IO("init config", path, err)
	}

	console := ui.NewConsole(cmd.OutOrStdout())
	console.Success("wrote %s", path)
	console.Info("edit the tool paths, then run: toolsync --dry-run")
	return nil
}

func runListBackups(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	manifests, err := a.backups.List(backupTool)
	if err != nil {
		return err
	}
	a.console.Backups(manifests)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	id := args[0]

	manifests, err := a.backups.List("")
	if err != nil {
		return err
	}
	var details []string
	for _, m := range manifests {
		if m.ID == id {
			details = describeBackup(m)
			break
		}
	}
	if details == nil {
		return apperr.NotFound("restore", id, fmt.Errorf("no such backup, see: toolsync list-backups"))
	}

	ok, err := confirm(cmd, fmt.Sprintf("restore backup %s?", id), details...)
	if err != nil {
		return err
	}
	if !ok {
		a.console.Info("restore cancelled")
		return nil
	}

	manifest, err := a.backups.Restore(id)
	if err != nil {
		return err
	}
	a.console.Success("restored %d files from %s", len(manifest.Changes), manifest.ID)
	return nil
}

func describeBackup(m backup.Manifest) []string {
	details := []string{fmt.Sprintf("%s %s on %s, %s", m.Tool, m.Operation, m.MachineID, m.Timestamp.Format("2006-01-02 15:04:05"))}
	for _, c := range m.Changes {
		details = append(details, fmt.Sprintf("%-8s %s", c.Action, c.File))
	}
	return details
}

func runCleanBackups(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	days, count := a.cfg.Settings.BackupRetentionDays, a.cfg.Settings.BackupRetentionCount
	if cmd.Flags().Changed("days") {
		days = cleanDays
	}
	if cmd.Flags().Changed("count") {
		count = cleanCount
	}
	if days < 0 || count < 0 {
		return apperr.Validation("--days and --count must not be negative")
	}

	ok, err := confirm(cmd, fmt.Sprintf("remove backups older than %d days, keeping the newest %d?", days, count))
	if err != nil {
		return err
	}
	if !ok {
		a.console.Info("nothing removed")
		return nil
	}

	removed, err := a.backups.Cleanup(days, count)
	if err != nil {
		return err
	}
	compressed, err := a.backups.Compress(a.cfg.Settings.CompressAfterDays)
	if err != nil {
		return err
	}
	a.console.Success("removed %d, compressed %d backups", removed, compressed)
	return nil
}

// confirm asks on the terminal unless --yes was given.
func confirm(cmd *cobra.Command, title string, details ...string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !isInteractive() {
		return false, apperr.Validation("confirmation required but stdin is not a terminal, rerun with --yes")
	}
	return ui.NewPrompter(os.Stdin, cmd.OutOrStdout()).Confirm(cmd.Context(), title, details...)
}
