package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/lupppig/sqlbackup/internal/storage"
	"github.com/vbauerster/mpb/v8"
)

type OverwritePolicy int

const (
	// Overwrite replaces a prior remote file with the same name (classic mode).
	Overwrite OverwritePolicy = iota
	// Retain uploads alongside prior files; pruning removes them later.
	Retain
)

type DeliveryOutcome struct {
	Target   string
	Stage    string
	Location string
	Err      error
}

// DeliveryManager ships one archive to every enabled target.
type DeliveryManager struct {
	Logger   *logger.Logger
	Progress *mpb.Progress
}

// Deliver uploads archivePath to all targets concurrently and returns outcomes in target order.
func (d *DeliveryManager) Deliver(ctx context.Context, archivePath string, targets []storage.Target, policy OverwritePolicy) []DeliveryOutcome {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}

	outcomes := make([]DeliveryOutcome, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t storage.Target) {
			defer wg.Done()
			out := DeliveryOutcome{Target: t.Name(), Stage: t.Stage()}
			out.Location, out.Err = d.deliverOne(ctx, archivePath, t, policy)
			if out.Err != nil {
				log.Error("Delivery failed", "target", t.Name(), "error", out.Err)
			} else {
				log.Info("Archive delivered", "target", t.Name(), "location", storage.Scrub(out.Location))
			}
			outcomes[i] = out
		}(i, t)
	}
	wg.Wait()
	return outcomes
}

func (d *DeliveryManager) deliverOne(ctx context.Context, archivePath string, t storage.Target, policy OverwritePolicy) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}

	bar := AddUploadBar(d.Progress, t.Name(), info.Size())
	location, err := t.Save(ctx, filepath.Base(archivePath), NewProgressReader(f, bar), storage.SaveOptions{
		Size:      info.Size(),
		Overwrite: policy == Overwrite,
	})
	if bar != nil {
		if err != nil {
			bar.Abort(false)
		} else {
			bar.SetTotal(-1, true)
		}
	}
	return location, err
}
