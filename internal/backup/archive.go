package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lupppig/sqlbackup/internal/db"
	"github.com/lupppig/sqlbackup/internal/history"
	"github.com/lupppig/sqlbackup/internal/logger"
)

type ArchiveOptions struct {
	WorkDir    string
	RunNumber  int
	ClientName string
	// Timestamped archives are never pre-deleted; fixed names are replaced.
	Timestamped bool
}

type ArchiveResult struct {
	Path string
	Size int64
	// CleanupErrors lists raw dumps that could not be removed after compression.
	CleanupErrors []string
}

// ArchiveBuilder packs a run's raw dumps into a single archive.
type ArchiveBuilder struct {
	Archiver Archiver
	Logger   *logger.Logger
}

func (b *ArchiveBuilder) log() *logger.Logger {
	if b.Logger == nil {
		return logger.Nop()
	}
	return b.Logger
}

// Build archives files into archivePath. Returned errors are *StageError and fatal for the run.
func (b *ArchiveBuilder) Build(ctx context.Context, files []string, archivePath string, opts ArchiveOptions) (*ArchiveResult, error) {
	if len(files) == 0 {
		return nil, &StageError{Stage: history.StageCompress, Err: errors.New("no dump files to archive")}
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(archivePath)
	}
	if err := b.removeOrphans(workDir, files, opts); err != nil {
		return nil, &StageError{Stage: history.StageArchive, Err: err}
	}

	if !opts.Timestamped {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			return nil, &StageError{Stage: history.StageArchive, Err: fmt.Errorf("failed to remove previous archive %s: %w", filepath.Base(archivePath), err)}
		} else if err == nil {
			b.log().Info("Removed previous archive", "archive", filepath.Base(archivePath))
		}
	}

	if err := b.Archiver.Archive(ctx, files, archivePath); err != nil {
		os.Remove(archivePath)
		return nil, &StageError{Stage: history.StageCompress, Err: fmt.Errorf("compression failed: %w", err)}
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, &StageError{Stage: history.StageCompress, Err: fmt.Errorf("archive missing after compression: %w", err)}
	}

	res := &ArchiveResult{Path: archivePath, Size: info.Size()}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			b.log().Warn("Failed to remove raw dump", "file", f, "error", err)
			res.CleanupErrors = append(res.CleanupErrors, fmt.Sprintf("%s: %v", filepath.Base(f), err))
		}
	}
	return res, nil
}

// removeOrphans deletes raw dumps left behind by earlier runs of this slot or client.
func (b *ArchiveBuilder) removeOrphans(dir string, current []string, opts ArchiveOptions) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to scan %s for orphaned dumps: %w", dir, err)
	}

	keep := make(map[string]struct{}, len(current))
	for _, f := range current {
		keep[filepath.Base(f)] = struct{}{}
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), "."+db.DumpExt) {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if !isOrphan(name, opts) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to remove orphaned dump %s: %w", name, err)
		}
		b.log().Info("Removed orphaned dump", "file", name)
	}
	return nil
}

var slotDumpRe = regexp.MustCompile(`-(\d+)\.(?i:` + db.DumpExt + `)$`)

// isOrphan reports whether a dump belongs to this slot, or to this client without a slot number.
// Dumps of other slots are left alone since those slots may be running.
func isOrphan(name string, opts ArchiveOptions) bool {
	if m := slotDumpRe.FindStringSubmatch(name); m != nil {
		n, err := strconv.Atoi(m[1])
		return err == nil && n == opts.RunNumber
	}
	return opts.ClientName != "" && strings.HasPrefix(name, opts.ClientName+"-")
}
