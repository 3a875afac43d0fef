// Package history persists run outcomes in an embedded SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/lupppig/sqlbackup/internal/errors"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const schema = `
CREATE TABLE IF NOT EXISTS backup_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TEXT    NOT NULL,
	run_number    INTEGER NOT NULL DEFAULT 0,
	client_name   TEXT    NOT NULL DEFAULT '',
	archive       TEXT    NOT NULL DEFAULT '',
	databases     TEXT    NOT NULL,
	status        TEXT    NOT NULL,
	file_size     REAL    NOT NULL DEFAULT 0,
	duration      REAL    NOT NULL DEFAULT 0,
	error_message TEXT,
	details       TEXT    NOT NULL DEFAULT '',
	stages        TEXT    NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_backup_history_timestamp ON backup_history(timestamp);
CREATE INDEX IF NOT EXISTS idx_backup_history_status ON backup_history(status);
`

// timestamps are stored in UTC with a fixed width so text ordering is chronological.
const timeLayout = "2006-01-02T15:04:05.000Z"

var sortColumns = map[string]string{
	"timestamp": "timestamp",
	"id":        "id",
	"status":    "status",
	"fileSize":  "file_size",
	"duration":  "duration",
}

type QueryOptions struct {
	Page      int
	PageSize  int
	Status    Status // empty means all
	SortField string
	SortOrder string
}

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type Page struct {
	Records    []*Record  `json:"records"`
	Pagination Pagination `json:"pagination"`
}

type Stats struct {
	Total        int64   `json:"total"`
	SuccessCount int64   `json:"successCount"`
	FailedCount  int64   `json:"failedCount"`
	AvgDuration  float64 `json:"avgDuration"`
	TotalSizeMB  float64 `json:"totalSizeMB"`
}

// Store is an append-only run log.
type Store struct {
	db         *sql.DB
	maxRecords int
	mu         sync.Mutex
}

type Option func(*Store)

// WithMaxRecords caps the log; the oldest rows are evicted after each append.
func WithMaxRecords(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRecords = n
		}
	}
}

// Open opens (and migrates) the history database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to create history directory", "Check data_dir permissions.")
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to open history database", "Verify the file path and permissions.")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to migrate history database", "Ensure the file is a valid SQLite database.")
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists r, sets r.ID and returns it.
func (s *Store) Append(ctx context.Context, r *Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	databases, err := json.Marshal(nonNil(r.Databases))
	if err != nil {
		return 0, err
	}
	stages := r.Stages
	if stages == nil {
		stages = []StageError{}
	}
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO backup_history
		(timestamp, run_number, client_name, archive, databases, status, file_size, duration, error_message, details, stages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.UTC().Format(timeLayout), r.RunNumber, r.ClientName, r.Archive,
		string(databases), string(r.Status), r.FileSize, r.Duration, r.ErrorMessage, r.Details, string(stagesJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to insert history record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if s.maxRecords > 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM backup_history WHERE id NOT IN
			(SELECT id FROM backup_history ORDER BY id DESC LIMIT ?)`, s.maxRecords)
		if err != nil {
			return 0, fmt.Errorf("failed to evict old history records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit history record: %w", err)
	}
	r.ID = id
	return id, nil
}

func (o QueryOptions) normalize() (QueryOptions, error) {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize < 1 || o.PageSize > MaxPageSize {
		return o, apperrors.New(apperrors.TypeConfig, fmt.Sprintf("page size %d out of range", o.PageSize), fmt.Sprintf("Use a page size between 1 and %d.", MaxPageSize))
	}
	if o.SortField == "" {
		o.SortField = "timestamp"
	}
	if _, ok := sortColumns[o.SortField]; !ok {
		return o, apperrors.New(apperrors.TypeConfig, "unknown sort field "+o.SortField, "Sort by timestamp, id, status, fileSize or duration.")
	}
	o.SortOrder = strings.ToLower(o.SortOrder)
	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return o, apperrors.New(apperrors.TypeConfig, "unknown sort order "+o.SortOrder, "Use asc or desc.")
	}
	if o.Status != "" && o.Status != StatusSuccess && o.Status != StatusFailed {
		return o, apperrors.New(apperrors.TypeConfig, "unknown status "+string(o.Status), "Filter by success or failed.")
	}
	return o, nil
}

func (s *Store) Query(ctx context.Context, opts QueryOptions) (*Page, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	where := ""
	var args []any
	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(opts.Status))
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM backup_history"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count history records: %w", err)
	}

	order := sortColumns[opts.SortField] + " " + strings.ToUpper(opts.SortOrder)
	if opts.SortField != "id" {
		order += ", id " + strings.ToUpper(opts.SortOrder)
	}
	query := `SELECT id, timestamp, run_number, client_name, archive, databases, status,
		file_size, duration, error_message, details, stages
		FROM backup_history` + where + " ORDER BY " + order + " LIMIT ? OFFSET ?"
	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history records: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Page{
		Records: records,
		Pagination: Pagination{
			Page:       opts.Page,
			PageSize:   opts.PageSize,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(opts.PageSize))),
		},
	}, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		r          Record
		ts         string
		status     string
		databases  string
		stages     string
		errMessage sql.NullString
	)
	if err := rows.Scan(&r.ID, &ts, &r.RunNumber, &r.ClientName, &r.Archive, &databases, &status,
		&r.FileSize, &r.Duration, &errMessage, &r.Details, &stages); err != nil {
		return nil, fmt.Errorf("failed to scan history record: %w", err)
	}

	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("record %d: bad timestamp %q: %w", r.ID, ts, err)
	}
	r.Timestamp = t
	r.Status = Status(status)
	if errMessage.Valid {
		msg := errMessage.String
		r.ErrorMessage = &msg
	}
	if err := json.Unmarshal([]byte(databases), &r.Databases); err != nil {
		return nil, fmt.Errorf("record %d: bad databases column: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(stages), &r.Stages); err != nil {
		return nil, fmt.Errorf("record %d: bad stages column: %w", r.ID, err)
	}
	return &r, nil
}

// Stats aggregates over all retained records. Averages and totals ignore non-positive values.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var avg, size sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		AVG(CASE WHEN duration > 0 THEN duration END),
		SUM(CASE WHEN file_size > 0 THEN file_size END)
		FROM backup_history`).Scan(&st.Total, &st.SuccessCount, &st.FailedCount, &avg, &size)
	if err != nil {
		return nil, fmt.Errorf("failed to compute history stats: %w", err)
	}
	st.AvgDuration = round2(avg.Float64)
	st.TotalSizeMB = round2(size.Float64)
	return &st, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
