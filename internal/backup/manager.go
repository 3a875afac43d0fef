package backup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lupppig/sqlbackup/internal/compress"
	"github.com/lupppig/sqlbackup/internal/db"
	"github.com/lupppig/sqlbackup/internal/history"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/lupppig/sqlbackup/internal/storage"
	"github.com/vbauerster/mpb/v8"
)

// Manager runs the dump, compress, deliver and prune pipeline and records its outcome.
type Manager struct {
	Dumper  db.Dumper
	History HistoryAppender
	Logger  *logger.Logger
	// NewArchiver returns the archiver for an algorithm.
	NewArchiver func(algo compress.Algorithm) Archiver
	// Progress, when set, renders a bar per upload.
	Progress *mpb.Progress
	Now      func() time.Time

	mu      sync.Mutex
	running map[int]bool
	names   nameReserver
}

func NewManager(d db.Dumper, h HistoryAppender, l *logger.Logger, sevenZipPath string) *Manager {
	return &Manager{
		Dumper:  d,
		History: h,
		Logger:  l,
		NewArchiver: func(algo compress.Algorithm) Archiver {
			return &compress.Archiver{Algorithm: algo, SevenZipPath: sevenZipPath, Runner: &db.LocalRunner{}}
		},
	}
}

func (m *Manager) log() *logger.Logger {
	if m.Logger == nil {
		return logger.Nop()
	}
	return m.Logger
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) acquire(slot int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == nil {
		m.running = make(map[int]bool)
	}
	if m.running[slot] {
		return false
	}
	m.running[slot] = true
	return true
}

func (m *Manager) release(slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, slot)
}

// Running reports whether a run for slot is active.
func (m *Manager) Running(slot int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[slot]
}

// run carries the state of one pipeline execution.
type run struct {
	req       RunRequest
	log       *logger.Logger
	record    *history.Record
	artifacts ArtifactSet
	details   []string
	started   time.Time
	now       func() time.Time
}

func (r *run) step(format string, args ...any) {
	r.details = append(r.details, r.now().Format(time.TimeOnly)+" "+fmt.Sprintf(format, args...))
}

func (r *run) fail(stage, msg string) {
	r.record.AddStageError(stage, msg)
	r.step("[%s] %s", stage, msg)
}

// Run executes one backup. A non-nil error without a record means the run was rejected before
// any side effect. Failed runs return their persisted record and a nil error.
func (m *Manager) Run(ctx context.Context, req RunRequest) (*history.Record, error) {
	if len(req.Databases) == 0 {
		m.log().Warn("Backup skipped: no databases configured", "slot", req.RunNumber)
		return nil, ErrNoDatabases
	}
	if !m.acquire(req.RunNumber) {
		m.log().Warn("Backup skipped: slot already running", "slot", req.RunNumber)
		return nil, fmt.Errorf("slot %d: %w", req.RunNumber, ErrRunInProgress)
	}
	defer m.release(req.RunNumber)

	r := &run{
		req:     req,
		started: m.now(),
		now:     m.now,
		log:     m.log().With("run_id", uuid.NewString(), "slot", req.RunNumber, "client", req.ClientName),
	}
	r.record = &history.Record{
		Timestamp:  r.started,
		RunNumber:  req.RunNumber,
		ClientName: req.ClientName,
		Databases:  append([]string(nil), req.Databases...),
	}
	r.log.Info("Backup started", "databases", strings.Join(req.Databases, ","))
	r.step("backup started for %d database(s)", len(req.Databases))

	if m.dumpAll(ctx, r) && m.buildArchive(ctx, r) {
		m.deliver(ctx, r)
		if req.Retention.AutoPrune() {
			m.prune(ctx, r)
		}
	}
	return m.finalize(ctx, r)
}

func (m *Manager) dumpAll(ctx context.Context, r *run) bool {
	for _, name := range r.req.Databases {
		r.log.Info("Dumping database", "database", name)
		path, err := m.Dumper.Dump(ctx, name, r.req.RunNumber, r.req.WorkDir, r.req.Conn)
		if err != nil {
			r.log.Error("Dump failed", "database", name, "error", err)
			r.fail(history.StageDump, err.Error())
			return false
		}
		r.artifacts.add(name, path)
		r.step("dumped %s to %s", name, filepath.Base(path))
	}
	return true
}

func (m *Manager) buildArchive(ctx context.Context, r *run) bool {
	ext := compress.Extension(r.req.Compression)
	var name string
	if r.req.Retention.Timestamped() {
		name = m.names.reserve(r.req.ClientName, r.started, ext, func(n string) bool {
			_, err := os.Stat(filepath.Join(r.req.WorkDir, n))
			return err == nil
		})
	} else {
		name = ClassicArchiveName(r.req.ClientName, r.req.RunNumber, ext)
	}
	archivePath := filepath.Join(r.req.WorkDir, name)

	builder := &ArchiveBuilder{Archiver: m.NewArchiver(r.req.Compression), Logger: r.log}
	res, err := builder.Build(ctx, r.artifacts.Files(), archivePath, ArchiveOptions{
		WorkDir:     r.req.WorkDir,
		RunNumber:   r.req.RunNumber,
		ClientName:  r.req.ClientName,
		Timestamped: r.req.Retention.Timestamped(),
	})
	if err != nil {
		r.log.Error("Archive failed", "archive", name, "error", err)
		var se *StageError
		if errors.As(err, &se) {
			r.fail(se.Stage, se.Err.Error())
		} else {
			r.fail(history.StageCompress, err.Error())
		}
		return false
	}

	r.artifacts.ArchivePath = res.Path
	r.record.Archive = name
	r.step("created archive %s (%d bytes)", name, res.Size)
	r.log.Info("Archive created", "archive", name, "size", res.Size)
	for _, msg := range res.CleanupErrors {
		r.fail(history.StageBakCleanup, msg)
	}
	return true
}

func (m *Manager) deliver(ctx context.Context, r *run) {
	if len(r.req.Targets) == 0 {
		r.step("no delivery targets enabled")
		return
	}
	policy := Overwrite
	if r.req.Retention.Timestamped() {
		policy = Retain
	}

	dm := &DeliveryManager{Logger: r.log, Progress: m.Progress}
	for _, out := range dm.Deliver(ctx, r.artifacts.ArchivePath, r.req.Targets, policy) {
		if out.Err != nil {
			r.fail(out.Stage, out.Err.Error())
			continue
		}
		r.step("delivered to %s: %s", out.Target, storage.Scrub(out.Location))
	}
}

func (m *Manager) prune(ctx context.Context, r *run) {
	pm := &PruneManager{Logger: r.log, Now: m.Now}
	policy := r.req.Retention

	local := pm.Prune(ctx, storage.NewNetworkStorage(r.req.WorkDir), policy.LocalDays, r.req.ClientName)
	m.recordPrune(r, "local", local)

	for _, t := range r.req.Targets {
		if !t.Remote() {
			continue
		}
		res := pm.Prune(ctx, t, policy.RemoteDays, r.req.ClientName)
		m.recordPrune(r, t.Name(), res)
	}
}

func (m *Manager) recordPrune(r *run, where string, res PruneResult) {
	r.step("pruned %d archive(s) from %s, %d error(s)", res.Removed, where, res.Errors)
	for _, msg := range res.Messages {
		r.fail(history.StageCleanup, where+" "+msg)
	}
}

func (m *Manager) finalize(ctx context.Context, r *run) (*history.Record, error) {
	rec := r.record
	rec.Status = history.StatusSuccess
	if rec.Failed() {
		rec.Status = history.StatusFailed
	}
	rec.Duration = round2(m.now().Sub(r.started).Seconds())
	if r.artifacts.ArchivePath != "" {
		if info, err := os.Stat(r.artifacts.ArchivePath); err == nil {
			rec.FileSize = round2(float64(info.Size()) / (1024 * 1024))
		}
	}
	r.step("finished with status %s in %.2fs", rec.Status, rec.Duration)
	rec.Details = strings.Join(r.details, "\n")

	if m.History != nil {
		// the outcome is recorded even when the run was cancelled
		if _, err := m.History.Append(context.WithoutCancel(ctx), rec); err != nil {
			r.log.Error("Failed to record history", "error", err)
			return rec, fmt.Errorf("failed to record run history: %w", err)
		}
	}

	if rec.Status == history.StatusFailed {
		r.log.Error("Backup finished with errors", "error", rec.Error(), "duration", rec.Duration)
	} else {
		r.log.Info("Backup finished", "archive", rec.Archive, "size_mb", rec.FileSize, "duration", rec.Duration)
	}
	return rec, nil
}

// PruneLocal prunes the local work directory on demand.
func (m *Manager) PruneLocal(ctx context.Context, policy RetentionPolicy, workDir string, days int, clientName string) (PruneResult, error) {
	if !policy.Timestamped() {
		return PruneResult{}, ErrPolicyConflict
	}
	if days <= 0 {
		days = policy.LocalDays
	}
	pm := &PruneManager{Logger: m.log(), Now: m.Now}
	return pm.Prune(ctx, storage.NewNetworkStorage(workDir), days, clientName), nil
}

// PruneRemote prunes one enabled target on demand.
func (m *Manager) PruneRemote(ctx context.Context, policy RetentionPolicy, targets []storage.Target, target string, days int, clientName string) (PruneResult, error) {
	if !policy.Timestamped() {
		return PruneResult{}, ErrPolicyConflict
	}
	t, err := storage.Find(targets, target)
	if err != nil {
		return PruneResult{}, fmt.Errorf("%s: %w", target, ErrTargetUnavailable)
	}
	if days <= 0 {
		days = policy.RemoteDays
	}
	pm := &PruneManager{Logger: m.log().With("target", t.Name()), Now: m.Now}
	return pm.Prune(ctx, t, days, clientName), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
