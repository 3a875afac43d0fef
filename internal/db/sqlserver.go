package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	apperrors "github.com/lupppig/sqlbackup/internal/errors"
	"github.com/lupppig/sqlbackup/internal/logger"
	_ "github.com/microsoft/go-mssqldb"
)

// SQLServerAdapter dumps databases with sqlcmd and BACKUP DATABASE.
// Dumps are written by the SQL Server service itself, so targetDir must be reachable from the server.
type SQLServerAdapter struct {
	Runner Runner
	Logger *logger.Logger
}

func NewSQLServerAdapter(l *logger.Logger) *SQLServerAdapter {
	return &SQLServerAdapter{Runner: &LocalRunner{}, Logger: l}
}

func (a *SQLServerAdapter) Name() string {
	return "sqlserver"
}

func (a *SQLServerAdapter) SetLogger(l *logger.Logger) {
	a.Logger = l
}

func (a *SQLServerAdapter) Dump(ctx context.Context, database string, runNumber int, targetDir string, conn ConnectionParams) (string, error) {
	if database == "" {
		return "", &DumpError{Database: database, Message: "empty database name"}
	}

	dir, err := filepath.Abs(targetDir)
	if err != nil {
		return "", &DumpError{Database: database, Message: err.Error(), Err: err}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &DumpError{
			Database: database,
			Message:  fmt.Sprintf("cannot create backup directory %s: %v", dir, err),
			Err:      apperrors.Wrap(err, apperrors.TypeResource, "backup directory unavailable", "Check permissions on work_dir."),
		}
	}

	path := filepath.Join(dir, DumpFileName(database, runNumber))
	if a.Logger != nil {
		a.Logger.Info("Dumping database", "database", database, "file", path)
	}

	runner := a.Runner
	if runner == nil {
		runner = &LocalRunner{}
	}
	tool := conn.Tool
	if tool == "" {
		tool = "sqlcmd"
	}

	if err := runner.Run(ctx, tool, BuildDumpArgs(database, path, conn), nil); err != nil {
		return "", &DumpError{Database: database, Message: err.Error(), Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", &DumpError{
			Database: database,
			Message:  fmt.Sprintf("backup reported success but %s is not readable: %v", path, err),
			Err:      apperrors.Wrap(err, apperrors.TypeIntegrity, "dump file missing", "The server may be writing to a different filesystem than work_dir."),
		}
	}
	if a.Logger != nil {
		a.Logger.Debug("Database dumped", "database", database, "bytes", info.Size())
	}
	return path, nil
}

// BuildDumpArgs renders the sqlcmd argument list for one BACKUP DATABASE statement.
func BuildDumpArgs(database, path string, conn ConnectionParams) []string {
	query := fmt.Sprintf("SET NOCOUNT ON; BACKUP DATABASE %s TO DISK = %s WITH INIT, FORMAT, STATS = 10",
		quoteIdent(database), quoteLiteral(path))

	args := []string{"-S", conn.Server(), "-b"}
	if conn.User != "" {
		args = append(args, "-U", conn.User, "-P", conn.Password)
	} else {
		args = append(args, "-E")
	}
	if conn.TrustServerCertificate {
		args = append(args, "-C")
	}
	if conn.QueryTimeoutSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(conn.QueryTimeoutSeconds))
	}
	return append(args, "-Q", query)
}

func (a *SQLServerAdapter) BuildConnection(conn ConnectionParams) (string, error) {
	if conn.Host == "" {
		return "", apperrors.New(apperrors.TypeConfig, "missing SQL Server host", "Set sqlserver.host in the configuration.")
	}

	u := &url.URL{Scheme: "sqlserver", Host: conn.Host}
	if conn.Instance != "" {
		u.Path = conn.Instance
	} else if conn.Port != 0 {
		u.Host = fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	}
	if conn.User != "" {
		u.User = url.UserPassword(conn.User, conn.Password)
	}

	q := u.Query()
	q.Set("database", "master")
	q.Set("app name", "sqlbackup")
	if conn.User == "" {
		q.Set("integrated security", "true")
	}
	if conn.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *SQLServerAdapter) TestConnection(ctx context.Context, conn ConnectionParams) error {
	dsn, err := a.BuildConnection(conn)
	if err != nil {
		return err
	}

	sqlDB, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig, "failed to open SQL Server connection", "Check your connection settings.")
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to ping SQL Server", "Verify the server host, port, instance and credentials.")
	}
	if a.Logger != nil {
		a.Logger.Info("SQL Server connection successful", "server", conn.Server())
	}
	return nil
}
