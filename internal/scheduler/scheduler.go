package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lupppig/sqlbackup/internal/backup"
	"github.com/lupppig/sqlbackup/internal/config"
	"github.com/lupppig/sqlbackup/internal/logger"
	"github.com/robfig/cron/v3"
)

type SlotStatus string

const (
	StatusPending SlotStatus = "pending"
	StatusRunning SlotStatus = "running"
	StatusSuccess SlotStatus = "success"
	StatusFailed  SlotStatus = "failed"
)

const stateFile = "schedules.json"

// Slot is one recurring backup trigger. Its RunNumber names classic-mode archives.
type Slot struct {
	RunNumber int        `json:"run_number"`
	Schedule  string     `json:"schedule"`
	Label     string     `json:"label"`
	Status    SlotStatus `json:"status"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	cronID cron.EntryID
}

// RunFunc performs the backup for a slot.
type RunFunc func(ctx context.Context, runNumber int) error

type Scheduler struct {
	cron    *cron.Cron
	slots   map[int]*Slot
	mu      sync.RWMutex
	dataDir string
	run     RunFunc
	logger  *logger.Logger
	ctx     context.Context
}

func New(dataDir string, run RunFunc, l *logger.Logger) (*Scheduler, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Scheduler{
		cron:    cron.New(),
		slots:   make(map[int]*Slot),
		dataDir: dataDir,
		run:     run,
		logger:  l,
		ctx:     context.Background(),
	}, nil
}

// SlotsFromConfig numbers "HH:MM" times from 1 and continues the numbering with cron entries.
func SlotsFromConfig(cfg config.ScheduleConfig) ([]*Slot, error) {
	var slots []*Slot
	for _, hhmm := range cfg.Times {
		h, m, err := config.ParseClock(hhmm)
		if err != nil {
			return nil, err
		}
		slots = append(slots, &Slot{
			RunNumber: len(slots) + 1,
			Schedule:  fmt.Sprintf("%d %d * * *", m, h),
			Label:     fmt.Sprintf("%02d:%02d", h, m),
		})
	}
	for _, spec := range cfg.Cron {
		slots = append(slots, &Slot{
			RunNumber: len(slots) + 1,
			Schedule:  spec,
			Label:     spec,
		})
	}
	return slots, nil
}

// Configure registers every slot of cfg.
func (s *Scheduler) Configure(cfg config.ScheduleConfig) error {
	slots, err := SlotsFromConfig(cfg)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		if err := s.AddSlot(slot); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) AddSlot(slot *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[slot.RunNumber]; exists {
		return fmt.Errorf("slot %d already scheduled", slot.RunNumber)
	}

	n := slot.RunNumber
	id, err := s.cron.AddFunc(slot.Schedule, func() {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		s.Trigger(ctx, n)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", slot.Schedule, err)
	}

	slot.cronID = id
	if slot.Status == "" {
		slot.Status = StatusPending
	}
	s.slots[n] = slot
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// saveLocked saves slots without acquiring a lock (caller must hold mu)
func (s *Scheduler) saveLocked() error {
	state := make(map[string]*Slot, len(s.slots))
	for n, slot := range s.slots {
		state[strconv.Itoa(n)] = slot
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, stateFile), data, 0600)
}

// Load restores the last run state of registered slots. Persisted slots that are no
// longer scheduled are ignored.
func (s *Scheduler) Load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var state map[string]*Slot
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("corrupt %s: %w", stateFile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, saved := range state {
		slot, ok := s.slots[saved.RunNumber]
		if !ok || slot.Schedule != saved.Schedule {
			continue
		}
		slot.LastRun = saved.LastRun
		slot.LastError = saved.LastError
		slot.Status = saved.Status
		if slot.Status == StatusRunning {
			// the process stopped mid-run
			slot.Status = StatusFailed
			slot.LastError = "interrupted"
		}
	}
	return nil
}

// ListSlots returns a copy of the slots ordered by run number, with next fire times.
func (s *Scheduler) ListSlots() []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		cp := *slot
		if entry := s.cron.Entry(slot.cronID); !entry.Next.IsZero() {
			next := entry.Next
			cp.NextRun = &next
		} else if sched, err := cron.ParseStandard(slot.Schedule); err == nil {
			next := sched.Next(time.Now())
			cp.NextRun = &next
		}
		list = append(list, cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RunNumber < list[j].RunNumber })
	return list
}

// Trigger runs a slot now unless it is already running.
func (s *Scheduler) Trigger(ctx context.Context, runNumber int) {
	s.mu.Lock()
	slot, ok := s.slots[runNumber]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("Unknown schedule slot", "slot", runNumber)
		return
	}
	if slot.Status == StatusRunning {
		s.mu.Unlock()
		s.logger.Warn("Skipping slot: previous run still in progress", "slot", runNumber)
		return
	}
	slot.Status = StatusRunning
	now := time.Now()
	slot.LastRun = &now
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("Failed to persist schedule state", "error", err)
	}
	s.mu.Unlock()

	s.logger.Info("Scheduled backup starting", "slot", runNumber, "schedule", slot.Label)
	err := s.run(ctx, runNumber)

	s.mu.Lock()
	switch {
	case errors.Is(err, backup.ErrRunInProgress):
		s.logger.Warn("Skipping slot: run already in progress", "slot", runNumber)
		slot.Status = StatusPending
	case err != nil:
		slot.Status = StatusFailed
		slot.LastError = err.Error()
		s.logger.Error("Scheduled backup failed", "slot", runNumber, "error", err)
	default:
		slot.Status = StatusSuccess
		slot.LastError = ""
		s.logger.Info("Scheduled backup succeeded", "slot", runNumber)
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("Failed to persist schedule state", "error", err)
	}
	s.mu.Unlock()
}
