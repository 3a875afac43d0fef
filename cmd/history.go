package cmd

import (
	"fmt"
	"strings"

	"github.com/lupppig/sqlbackup/internal/config"
	"github.com/lupppig/sqlbackup/internal/history"
	"github.com/spf13/cobra"
)

var (
	historyPage     int
	historyPageSize int
	historyStatus   string
	historySort     string
	historyOrder    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded backup runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Snapshot()
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		page, err := store.Query(cmd.Context(), history.QueryOptions{
			Page:      historyPage,
			PageSize:  historyPageSize,
			Status:    history.Status(historyStatus),
			SortField: historySort,
			SortOrder: historyOrder,
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-6s %-20s %-5s %-8s %-32s %10s %10s\n", "ID", "TIMESTAMP", "SLOT", "STATUS", "ARCHIVE", "SIZE (MB)", "TIME (S)")
		fmt.Fprintln(w, strings.Repeat("-", 99))
		for _, r := range page.Records {
			fmt.Fprintf(w, "%-6d %-20s %-5d %-8s %-32s %10.2f %10.2f\n",
				r.ID, r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.RunNumber, r.Status, r.Archive, r.FileSize, r.Duration)
			if msg := r.Error(); msg != "" {
				fmt.Fprintf(w, "       error: %s\n", msg)
			}
		}
		p := page.Pagination
		fmt.Fprintf(w, "\npage %d of %d (%d run(s))\n", p.Page, p.TotalPages, p.Total)
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show success rate, average duration and stored size",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Snapshot()
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		s, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "total runs:      %d\n", s.Total)
		fmt.Fprintf(w, "successful:      %d\n", s.SuccessCount)
		fmt.Fprintf(w, "failed:          %d\n", s.FailedCount)
		fmt.Fprintf(w, "avg duration:    %.2fs\n", s.AvgDuration)
		fmt.Fprintf(w, "total size:      %.2f MB\n", s.TotalSizeMB)
		if cfg.History.MaxRecords > 0 {
			fmt.Fprintf(w, "\nonly the newest %d runs are kept (history.max_records)\n", cfg.History.MaxRecords)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyStatsCmd)

	historyListCmd.Flags().IntVar(&historyPage, "page", 1, "page number")
	historyListCmd.Flags().IntVar(&historyPageSize, "page-size", 20, "runs per page (1-100)")
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (success or failed)")
	historyListCmd.Flags().StringVar(&historySort, "sort", "timestamp", "sort field: timestamp, id, status, fileSize or duration")
	historyListCmd.Flags().StringVar(&historyOrder, "order", "desc", "sort order: asc or desc")
}
