package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lupppig/sqlbackup/internal/config"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/lupppig/sqlbackup/internal/scheduler"
	"github.com/spf13/cobra"
)

var detach bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on the configured schedule",
	Long: `Slots come from schedule.times ("HH:MM", slot N is the Nth entry) followed by
schedule.cron entries. Slot state is kept in data_dir/schedules.json.`,
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler and block until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		if detach {
			return spawnDaemon(l)
		}

		cfg := config.Snapshot()
		if err := cfg.Validate(); err != nil {
			return err
		}
		a, err := newApp(cfg, l)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := scheduler.New(cfg.DataDir, func(ctx context.Context, runNumber int) error {
			_, err := a.runSlot(ctx, runNumber)
			return err
		}, l)
		if err != nil {
			return err
		}
		if err := s.Configure(cfg.Schedule); err != nil {
			return err
		}
		if err := s.Load(); err != nil {
			l.Warn("Ignoring saved schedule state", "error", err)
		}

		slots := s.ListSlots()
		if len(slots) == 0 {
			return fmt.Errorf("no schedule configured: set schedule.times or schedule.cron")
		}
		l.Info("Starting scheduler", "slot_count", len(slots))

		sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// runs must not see the signal, Stop waits for them instead
		s.Start(context.WithoutCancel(cmd.Context()))
		<-sigCtx.Done()

		l.Info("Shutting down scheduler, waiting for running backups")
		<-s.Stop().Done()
		return s.Save()
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedule slots with their last and next run",
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.Snapshot()

		s, err := scheduler.New(cfg.DataDir, nil, l)
		if err != nil {
			return err
		}
		if err := s.Configure(cfg.Schedule); err != nil {
			return err
		}
		if err := s.Load(); err != nil {
			return err
		}

		slots := s.ListSlots()
		w := cmd.OutOrStdout()
		if len(slots) == 0 {
			fmt.Fprintln(w, "No schedule slots configured")
			return nil
		}

		fmt.Fprintf(w, "%-5s %-16s %-8s %-20s %-20s %s\n", "SLOT", "SCHEDULE", "STATUS", "LAST RUN", "NEXT RUN", "LAST ERROR")
		for _, slot := range slots {
			last, next := "never", "N/A"
			if slot.LastRun != nil {
				last = slot.LastRun.Format("2006-01-02 15:04:05")
			}
			if slot.NextRun != nil {
				next = slot.NextRun.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%-5d %-16s %-8s %-20s %-20s %s\n", slot.RunNumber, slot.Label, slot.Status, last, next, slot.LastError)
		}
		return nil
	},
}

func spawnDaemon(l *logger.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"schedule", "start"}
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return err
		}
		args = append(args, "--config", abs)
	}

	cmd := exec.Command(exe, args...)
	cmd.Dir = filepath.Dir(exe)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // detach from the terminal
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	l.Info("Scheduler daemon started", "pid", cmd.Process.Pid)
	return nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
	scheduleCmd.AddCommand(scheduleListCmd)

	scheduleStartCmd.Flags().BoolVar(&detach, "detach", false, "start the scheduler in the background and return")
}
