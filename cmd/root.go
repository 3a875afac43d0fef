package cmd

import (
	"context"

	"github.com/lupppig/sqlbackup/internal/config"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/spf13/cobra"
)

const SQLBACKUP_VERSION = "0.1.0"

var (
	cfgFile string
	LogJSON bool
	NoColor bool
)

var rootCmd = &cobra.Command{
	Use:   "sqlbackup",
	Short: "sqlbackup dumps SQL Server databases, archives them and ships the archive to remote storage",
	Long: `sqlbackup is a self-hosted backup agent for SQL Server.
	Each run dumps the configured databases with BACKUP DATABASE, packs the dumps into one archive, copies it to FTP, SFTP, S3 or a network share, prunes old archives by age and records the outcome in a local history database.
	Runs can be started by hand or by the built-in scheduler.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(cfgFile); err != nil {
			return err
		}
		cfg := config.GetConfig()

		l := logger.New(logger.Config{
			Writer:  cmd.ErrOrStderr(),
			JSON:    LogJSON || cfg.LogJSON,
			NoColor: NoColor || cfg.NoColor,
			Level:   logger.ParseLevel(cfg.LogLevel),
		})

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cmd.SetContext(logger.WithContext(ctx, l))
		return nil
	},
}

func init() {
	rootCmd.Version = SQLBACKUP_VERSION
	rootCmd.SetVersionTemplate("sqlbackup version {{ .Version }}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./sqlbackup.yaml or ~/.sqlbackup/sqlbackup.yaml)")
	rootCmd.PersistentFlags().BoolVar(&LogJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "disable colored log output")
}

func Execute() error {
	return rootCmd.Execute()
}
