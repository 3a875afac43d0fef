package notify

import (
	"fmt"
	"strings"
	"time"
)

// Subject is the one-line summary used by e-mail and chat channels.
func Subject(stats Stats) string {
	if stats.Status == StatusError {
		return fmt.Sprintf("[%s] %s FAILED", stats.ClientName, stats.Operation)
	}
	return fmt.Sprintf("[%s] %s completed", stats.ClientName, stats.Operation)
}

// Body renders a plain-text report. The error message and stage list are copied verbatim.
func Body(stats Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s\n", stats.ClientName)
	if stats.RunNumber > 0 {
		fmt.Fprintf(&b, "Slot: %d\n", stats.RunNumber)
	}
	if !stats.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Started: %s\n", stats.Timestamp.Format(time.DateTime))
	}
	fmt.Fprintf(&b, "Databases: %s\n", strings.Join(stats.Databases, ", "))
	if stats.FileName != "" {
		fmt.Fprintf(&b, "Archive: %s\n", stats.FileName)
	}
	if stats.Size > 0 {
		fmt.Fprintf(&b, "Size: %s\n", formatSize(stats.Size))
	}
	fmt.Fprintf(&b, "Duration: %s\n", stats.Duration.Truncate(time.Second))

	if stats.Status == StatusError {
		fmt.Fprintf(&b, "\nError: %s\n", stats.Error)
		for _, s := range stats.Stages {
			fmt.Fprintf(&b, "  - [%s] %s\n", s.Stage, s.Message)
		}
	}
	return b.String()
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
