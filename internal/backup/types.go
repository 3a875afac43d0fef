package backup

import (
	"context"
	"fmt"

	"github.com/lupppig/sqlbackup/internal/compress"
	"github.com/lupppig/sqlbackup/internal/db"
	apperrors "github.com/lupppig/sqlbackup/internal/errors"
	"github.com/lupppig/sqlbackup/internal/history"
	"github.com/lupppig/sqlbackup/internal/storage"
)

type Mode string

const (
	// ModeClassic overwrites a fixed archive name per schedule slot.
	ModeClassic Mode = "classic"
	// ModeRetention uses timestamped archive names and age-based pruning.
	ModeRetention Mode = "retention"
)

type RetentionPolicy struct {
	Enabled     bool
	Mode        Mode
	LocalDays   int
	RemoteDays  int
	AutoCleanup bool
}

// Timestamped reports whether runs use timestamped archive names.
func (p RetentionPolicy) Timestamped() bool {
	return p.Enabled && p.Mode == ModeRetention
}

// AutoPrune reports whether pruning follows every run.
func (p RetentionPolicy) AutoPrune() bool {
	return p.Timestamped() && p.AutoCleanup
}

// RunRequest is the immutable input of one run.
type RunRequest struct {
	Databases   []string
	RunNumber   int
	ClientName  string
	Conn        db.ConnectionParams
	WorkDir     string
	Compression compress.Algorithm
	Targets     []storage.Target
	Retention   RetentionPolicy
}

// ArtifactSet tracks the files a run creates locally.
type ArtifactSet struct {
	PerDatabase map[string]string
	Order       []string
	ArchivePath string
}

func (a *ArtifactSet) add(database, path string) {
	if a.PerDatabase == nil {
		a.PerDatabase = make(map[string]string)
	}
	a.PerDatabase[database] = path
	a.Order = append(a.Order, database)
}

// Files returns the raw dump paths in dump order.
func (a *ArtifactSet) Files() []string {
	files := make([]string, 0, len(a.Order))
	for _, name := range a.Order {
		files = append(files, a.PerDatabase[name])
	}
	return files
}

// HistoryAppender persists finalized run records.
type HistoryAppender interface {
	Append(ctx context.Context, r *history.Record) (int64, error)
}

// Archiver builds one archive from raw dump files.
type Archiver interface {
	Archive(ctx context.Context, files []string, dst string) error
}

var (
	ErrNoDatabases       = apperrors.New(apperrors.TypePolicy, "no databases configured", "Add at least one entry under databases.")
	ErrRunInProgress     = apperrors.New(apperrors.TypePolicy, "a run for this schedule slot is already in progress", "Wait for the current run to finish.")
	ErrPolicyConflict    = apperrors.New(apperrors.TypePolicy, "pruning requires retention enabled in retention mode", "Set retention.enabled: true and retention.mode: retention.")
	ErrTargetUnavailable = apperrors.New(apperrors.TypePolicy, "target is not enabled or not configured", "Enable the target under targets.")
)

// StageError is a failure attributed to a pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
