package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lupppig/sqlbackup/internal/backup"
	"github.com/lupppig/sqlbackup/internal/compress"
	"github.com/lupppig/sqlbackup/internal/config"
	"github.com/lupppig/sqlbackup/internal/db"
	"github.com/lupppig/sqlbackup/internal/history"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/lupppig/sqlbackup/internal/notify"
	"github.com/lupppig/sqlbackup/internal/storage"
)

const historyFile = "history.db"

// app holds what outlives a single run: the history store and the manager's slot locks.
type app struct {
	log     *logger.Logger
	history *history.Store
	manager *backup.Manager
}

func newApp(cfg config.Config, l *logger.Logger) (*app, error) {
	store, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}
	return &app{
		log:     l,
		history: store,
		manager: backup.NewManager(db.NewSQLServerAdapter(l), store, l, cfg.SevenZipPath),
	}, nil
}

func openHistory(cfg config.Config) (*history.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return history.Open(filepath.Join(cfg.DataDir, historyFile), history.WithMaxRecords(cfg.History.MaxRecords))
}

func (a *app) Close() error {
	return a.history.Close()
}

// runSlot performs one backup on a fresh configuration snapshot and notifies the result.
// A run that finished with stage errors returns its record and an error.
func (a *app) runSlot(ctx context.Context, runNumber int) (*history.Record, error) {
	cfg := config.Snapshot()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	algo, err := compress.Parse(cfg.Compression)
	if err != nil {
		return nil, err
	}

	targets := storage.FromConfig(cfg.Targets)
	defer storage.CloseAll(targets)

	rec, err := a.manager.Run(ctx, backup.RunRequest{
		Databases:   cfg.Databases,
		RunNumber:   runNumber,
		ClientName:  cfg.ClientName,
		Conn:        connectionParams(cfg.SQLServer),
		WorkDir:     cfg.WorkDir,
		Compression: algo,
		Targets:     targets,
		Retention:   retentionPolicy(cfg.Retention),
	})
	if rec != nil {
		a.notify(ctx, cfg, rec)
	}
	if err != nil {
		return rec, err
	}
	if rec.Status == history.StatusFailed {
		return rec, errors.New(rec.Error())
	}
	return rec, nil
}

func (a *app) notify(ctx context.Context, cfg config.Config, rec *history.Record) {
	n := notify.BuildNotifier(&cfg)
	if n == nil {
		return
	}
	if err := n.Notify(ctx, notify.StatsFromRecord(rec)); err != nil {
		a.log.Warn("Notification failed", "error", err)
	}
}

func connectionParams(c config.SQLServerConfig) db.ConnectionParams {
	return db.ConnectionParams{
		Host:                   c.Host,
		Port:                   c.Port,
		Instance:               c.Instance,
		User:                   c.User,
		Password:               c.Password,
		TrustServerCertificate: c.TrustServerCertificate,
		QueryTimeoutSeconds:    int(c.Timeout.Seconds()),
		Tool:                   c.SqlcmdPath,
	}
}

func retentionPolicy(c config.RetentionConfig) backup.RetentionPolicy {
	return backup.RetentionPolicy{
		Enabled:     c.Enabled,
		Mode:        backup.Mode(c.Mode),
		LocalDays:   c.LocalDays,
		RemoteDays:  c.RemoteDays,
		AutoCleanup: c.AutoCleanup,
	}
}
