package cmd

import (
	"fmt"
	"io"

	"github.com/lupppig/sqlbackup/internal/backup"
	"github.com/lupppig/sqlbackup/internal/config"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/lupppig/sqlbackup/internal/storage"
	"github.com/spf13/cobra"
)

var pruneDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archives older than the retention window",
	Long: `Delete this client's archives older than a number of days.

Pruning is only available with retention enabled in retention mode. Without --days the
configured retention.local_days or retention.remote_days applies.`,
}

var pruneLocalCmd = &cobra.Command{
	Use:   "local",
	Short: "Prune the local work directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Snapshot()
		m := &backup.Manager{Logger: logger.FromContext(cmd.Context())}

		res, err := m.PruneLocal(cmd.Context(), retentionPolicy(cfg.Retention), cfg.WorkDir, pruneDays, cfg.ClientName)
		if err != nil {
			return err
		}
		return reportPrune(cmd.OutOrStdout(), cfg.WorkDir, res)
	},
}

var pruneRemoteCmd = &cobra.Command{
	Use:   "remote [target]",
	Short: "Prune one enabled target (ftp, sftp, s3 or network)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Snapshot()
		m := &backup.Manager{Logger: logger.FromContext(cmd.Context())}

		targets := storage.FromConfig(cfg.Targets)
		defer storage.CloseAll(targets)

		res, err := m.PruneRemote(cmd.Context(), retentionPolicy(cfg.Retention), targets, args[0], pruneDays, cfg.ClientName)
		if err != nil {
			return err
		}
		return reportPrune(cmd.OutOrStdout(), args[0], res)
	},
}

func reportPrune(w io.Writer, where string, res backup.PruneResult) error {
	fmt.Fprintf(w, "%s: removed %d archive(s), %d error(s)\n", where, res.Removed, res.Errors)
	for _, msg := range res.Messages {
		fmt.Fprintf(w, "  - %s\n", msg)
	}
	if res.Errors > 0 {
		return fmt.Errorf("prune of %s finished with %d error(s)", where, res.Errors)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.AddCommand(pruneLocalCmd)
	pruneCmd.AddCommand(pruneRemoteCmd)
	pruneCmd.PersistentFlags().IntVar(&pruneDays, "days", 0, "delete archives older than this many days (default from retention config)")
}
