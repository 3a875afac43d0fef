package backup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lupppig/sqlbackup/internal/compress"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/lupppig/sqlbackup/internal/storage"
)

type PruneResult struct {
	Removed  int
	Errors   int
	Messages []string
}

func (r *PruneResult) fail(format string, args ...any) {
	r.Errors++
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

var archiveStampRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}-\d{6})`)

// PruneManager removes archives older than a cutoff from one storage location.
type PruneManager struct {
	Logger *logger.Logger
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

func NewPruneManager(l *logger.Logger) *PruneManager {
	return &PruneManager{Logger: l}
}

// Prune deletes the client's archives in store whose effective date is before now minus cutoffDays.
// Files with no resolvable date are skipped and counted as errors.
func (m *PruneManager) Prune(ctx context.Context, store storage.Lister, cutoffDays int, clientName string) PruneResult {
	log := m.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	var res PruneResult
	if cutoffDays < 1 {
		res.fail("invalid retention of %d days", cutoffDays)
		return res
	}
	cutoff := now().AddDate(0, 0, -cutoffDays)

	files, err := store.List(ctx)
	if err != nil {
		res.fail("failed to list %s: %v", storage.Scrub(store.Location()), err)
		return res
	}

	prefix := clientName + "-"
	for _, f := range files {
		if !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if _, ok := compress.DetectAlgorithm(f.Name); !ok {
			continue
		}

		date, ok := effectiveDate(f)
		if !ok {
			res.fail("%s: undetermined date, skipped", f.Name)
			continue
		}
		if !date.Before(cutoff) {
			continue
		}

		if err := store.Delete(ctx, f.Name); err != nil {
			log.Warn("Failed to prune archive", "file", f.Name, "error", err)
			res.fail("%s: %v", f.Name, err)
			continue
		}
		log.Info("Pruned old archive", "file", f.Name, "date", date.Format(time.DateTime))
		res.Removed++
	}
	return res
}

// effectiveDate prefers the timestamp in the name, then the listed modification time.
func effectiveDate(f storage.FileInfo) (time.Time, bool) {
	if m := archiveStampRe.FindString(f.Name); m != "" {
		if t, err := time.ParseInLocation(archiveTimeLayout, m, time.Local); err == nil {
			return t, true
		}
	}
	if !f.ModTime.IsZero() {
		return f.ModTime, true
	}
	return time.Time{}, false
}
