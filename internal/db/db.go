package db

import (
	"context"
	"fmt"
	"strings"
)

// DumpExt is the extension of a raw per-database dump.
const DumpExt = "bak"

type ConnectionParams struct {
	Host                   string
	Port                   int
	Instance               string
	User                   string
	Password               string
	TrustServerCertificate bool
	// QueryTimeoutSeconds bounds a single dump; 0 waits forever.
	QueryTimeoutSeconds int
	// Tool is the sqlcmd executable (name on PATH or absolute path).
	Tool string
}

// Server renders the address the way sqlcmd expects it: host\instance or host,port.
func (c ConnectionParams) Server() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	if c.Instance != "" {
		return host + `\` + c.Instance
	}
	if c.Port != 0 && c.Port != 1433 {
		return fmt.Sprintf("%s,%d", host, c.Port)
	}
	return host
}

// DumpFileName is the deterministic raw dump name for a database in a schedule slot.
func DumpFileName(database string, runNumber int) string {
	return fmt.Sprintf("%s-%d.%s", database, runNumber, DumpExt)
}

// DumpError reports a failed dump of a single database.
type DumpError struct {
	Database string
	Message  string
	Err      error
}

func (e *DumpError) Error() string {
	return fmt.Sprintf("backup of database %s failed: %s", e.Database, e.Message)
}

func (e *DumpError) Unwrap() error {
	return e.Err
}

// Dumper produces one native backup file for one database.
type Dumper interface {
	Dump(ctx context.Context, database string, runNumber int, targetDir string, conn ConnectionParams) (string, error)
}

func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}
