package notify

import (
	"context"
	"errors"
	"time"

	"github.com/lupppig/sqlbackup/internal/history"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Stats struct {
	Status     Status
	Operation  string
	ClientName string
	RunNumber  int
	Databases  []string
	FileName   string
	Size       int64
	Duration   time.Duration
	Timestamp  time.Time
	// Error is the run's error message rendered verbatim.
	Error  string
	Stages []history.StageError
}

// StatsFromRecord builds the notification payload of a finalized run.
func StatsFromRecord(r *history.Record) Stats {
	s := Stats{
		Status:     StatusSuccess,
		Operation:  "Backup",
		ClientName: r.ClientName,
		RunNumber:  r.RunNumber,
		Databases:  r.Databases,
		FileName:   r.Archive,
		Size:       int64(r.FileSize * 1024 * 1024),
		Duration:   time.Duration(r.Duration * float64(time.Second)),
		Timestamp:  r.Timestamp,
		Error:      r.Error(),
		Stages:     r.Stages,
	}
	if r.Status == history.StatusFailed {
		s.Status = StatusError
	}
	return s
}

type Notifier interface {
	Notify(ctx context.Context, stats Stats) error
}

type MultiNotifier struct {
	Notifiers []Notifier
}

// Notify calls every notifier and returns their joined errors.
func (m *MultiNotifier) Notify(ctx context.Context, stats Stats) error {
	var errs []error
	for _, n := range m.Notifiers {
		if err := n.Notify(ctx, stats); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// failureOnly drops notifications for successful runs.
type failureOnly struct {
	Notifier
}

func (f failureOnly) Notify(ctx context.Context, stats Stats) error {
	if stats.Status != StatusError {
		return nil
	}
	return f.Notifier.Notify(ctx, stats)
}
