package cmd

import (
	"fmt"

	"github.com/lupppig/sqlbackup/internal/backup"
	"github.com/lupppig/sqlbackup/internal/config"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/spf13/cobra"
)

var (
	slot       int
	noProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one backup now",
	Long: `Dump every configured database, build the archive, deliver it to the enabled targets
and record the outcome in the history database.

The slot number selects the schedule slot the run belongs to. In classic mode it names the
archive ({client}-{slot}.{ext}) that the run overwrites.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if slot < 1 {
			return fmt.Errorf("--slot must be >= 1")
		}
		l := logger.FromContext(cmd.Context())

		a, err := newApp(config.Snapshot(), l)
		if err != nil {
			return err
		}
		defer a.Close()

		if !noProgress && !LogJSON {
			p := backup.NewProgressContainer()
			a.manager.Progress = p
			defer p.Wait()
		}

		rec, err := a.runSlot(cmd.Context(), slot)
		if rec != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s archive=%s size_mb=%.2f duration_s=%.2f\n",
				rec.Status, rec.Archive, rec.FileSize, rec.Duration)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&slot, "slot", 1, "schedule slot (run number) this backup belongs to")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "hide upload progress bars")
}
