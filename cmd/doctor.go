package cmd

import (
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/lupppig/sqlbackup/internal/compress"
	"github.com/lupppig/sqlbackup/internal/config"
	"github.com/lupppig/sqlbackup/internal/db"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/lupppig/sqlbackup/internal/storage"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check tools, database connectivity and storage targets",
	Long: `Verify that sqlcmd (and 7z when compression is 7z) is on PATH, that SQL Server answers
with the configured credentials, and that every enabled target can be listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.Snapshot()
		w := cmd.OutOrStdout()
		l.Info("sqlbackup doctor - System Environment Check", "os", runtime.GOOS, "arch", runtime.GOARCH)

		failures := 0
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(w, "[ ] config: %v\n", err)
			failures++
		} else {
			fmt.Fprintln(w, "[x] config: OK")
		}

		binaries := []string{cfg.SQLServer.SqlcmdPath}
		if algo, err := compress.Parse(cfg.Compression); err == nil && algo == compress.SevenZip {
			binaries = append(binaries, cfg.SevenZipPath)
		}
		fmt.Fprintln(w, "\n[Tools]")
		for _, bin := range binaries {
			path, err := exec.LookPath(bin)
			if err != nil {
				fmt.Fprintf(w, "  [ ] %-12s: NOT FOUND\n", bin)
				failures++
			} else {
				fmt.Fprintf(w, "  [x] %-12s: %s\n", bin, path)
			}
		}

		fmt.Fprintln(w, "\n[SQL Server]")
		conn := connectionParams(cfg.SQLServer)
		if err := db.NewSQLServerAdapter(l).TestConnection(cmd.Context(), conn); err != nil {
			fmt.Fprintf(w, "  [ ] %s: FAILED (%v)\n", conn.Server(), err)
			failures++
		} else {
			fmt.Fprintf(w, "  [x] %s: OK\n", conn.Server())
		}

		targets := storage.FromConfig(cfg.Targets)
		defer storage.CloseAll(targets)
		if len(targets) > 0 {
			fmt.Fprintln(w, "\n[Storage Target Checks]")
		}
		for _, t := range targets {
			start := time.Now()
			files, err := t.List(cmd.Context())
			if err != nil {
				fmt.Fprintf(w, "  [ ] %-8s %s: FAILED (%v)\n", t.Name(), storage.Scrub(t.Location()), err)
				failures++
				continue
			}
			fmt.Fprintf(w, "  [x] %-8s %s: %d file(s), %s\n", t.Name(), storage.Scrub(t.Location()), len(files), time.Since(start).Truncate(time.Millisecond))
		}

		if failures > 0 {
			fmt.Fprintln(w, "\nResult: some checks failed.")
			return fmt.Errorf("%d check(s) failed", failures)
		}
		fmt.Fprintln(w, "\nResult: All systems go! Your environment is ready for sqlbackup.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
