package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lupppig/sqlbackup/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeArchiver concatenates its inputs into dst.
type fakeArchiver struct {
	err   error
	calls [][]string
}

func (f *fakeArchiver) Archive(ctx context.Context, files []string, dst string) error {
	f.calls = append(f.calls, append([]string(nil), files...))
	if f.err != nil {
		os.WriteFile(dst, []byte("partial"), 0644)
		return f.err
	}
	var out []byte
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		out = append(out, data...)
	}
	return os.WriteFile(dst, out, 0644)
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestArchiveBuilder_RemovesOrphansAndDumps(t *testing.T) {
	dir := t.TempDir()
	vendas := writeFile(t, filepath.Join(dir, "Vendas-1.bak"), "vendas")
	estoque := writeFile(t, filepath.Join(dir, "Estoque-1.bak"), "estoque")
	writeFile(t, filepath.Join(dir, "Antigo-1.bak"), "stale slot dump")
	writeFile(t, filepath.Join(dir, "Loja-extra.bak"), "stale client dump")
	writeFile(t, filepath.Join(dir, "Outro-2.bak"), "other slot")
	writeFile(t, filepath.Join(dir, "LojaVendas-2.bak"), "other slot, client-like name")
	writeFile(t, filepath.Join(dir, "Loja-3.bak"), "other slot, client name")
	writeFile(t, filepath.Join(dir, "Loja-1.7z"), "previous archive")

	arch := &fakeArchiver{}
	b := &ArchiveBuilder{Archiver: arch}
	archivePath := filepath.Join(dir, "Loja-1.7z")

	res, err := b.Build(context.Background(), []string{vendas, estoque}, archivePath, ArchiveOptions{
		WorkDir:    dir,
		RunNumber:  1,
		ClientName: "Loja",
	})
	require.NoError(t, err)
	assert.Empty(t, res.CleanupErrors)
	assert.Equal(t, int64(len("vendasestoque")), res.Size)

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	assert.Equal(t, "vendasestoque", string(data))

	assert.NoFileExists(t, vendas)
	assert.NoFileExists(t, estoque)
	assert.NoFileExists(t, filepath.Join(dir, "Antigo-1.bak"))
	assert.NoFileExists(t, filepath.Join(dir, "Loja-extra.bak"))
	assert.FileExists(t, filepath.Join(dir, "Outro-2.bak"))
	assert.FileExists(t, filepath.Join(dir, "LojaVendas-2.bak"))
	assert.FileExists(t, filepath.Join(dir, "Loja-3.bak"))
}

func TestArchiveBuilder_RemovalFailureIsFatal(t *testing.T) {
	tests := []struct {
		name    string
		blocker string
		wantMsg string
	}{
		{name: "Orphaned Dump", blocker: "Antigo-1.bak", wantMsg: "failed to remove orphaned dump Antigo-1.bak"},
		{name: "Previous Archive", blocker: "Loja-1.7z", wantMsg: "failed to remove previous archive Loja-1.7z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			dump := writeFile(t, filepath.Join(dir, "Vendas-1.bak"), "vendas")
			// A non-empty directory cannot be removed with os.Remove.
			writeFile(t, filepath.Join(dir, tt.blocker, "inner"), "x")

			arch := &fakeArchiver{}
			b := &ArchiveBuilder{Archiver: arch}
			_, err := b.Build(context.Background(), []string{dump}, filepath.Join(dir, "Loja-1.7z"), ArchiveOptions{
				WorkDir: dir, RunNumber: 1, ClientName: "Loja",
			})

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, history.StageArchive, se.Stage)
			assert.Contains(t, se.Err.Error(), tt.wantMsg)
			assert.Empty(t, arch.calls)
			assert.FileExists(t, dump)
		})
	}
}

func TestArchiveBuilder_CompressionFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	dump := writeFile(t, filepath.Join(dir, "Vendas-1.bak"), "vendas")
	archivePath := filepath.Join(dir, "Loja-1.7z")

	b := &ArchiveBuilder{Archiver: &fakeArchiver{err: errors.New("7z exited with code 2")}}
	_, err := b.Build(context.Background(), []string{dump}, archivePath, ArchiveOptions{WorkDir: dir, RunNumber: 1, ClientName: "Loja"})

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, history.StageCompress, se.Stage)
	assert.Contains(t, se.Err.Error(), "7z exited with code 2")
	assert.NoFileExists(t, archivePath)
	assert.FileExists(t, dump)
}

func TestArchiveBuilder_DumpCleanupFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	dump := writeFile(t, filepath.Join(dir, "Vendas-1.bak"), "vendas")
	// A non-empty directory cannot be removed with os.Remove.
	locked := filepath.Join(dir, "locked", "Estoque-1.bak")
	writeFile(t, filepath.Join(locked, "inner"), "x")

	arch := &fakeArchiver{}
	b := &ArchiveBuilder{Archiver: &dirTolerantArchiver{arch}}
	archivePath := filepath.Join(dir, "Loja-2024-01-01-020000.7z")

	res, err := b.Build(context.Background(), []string{dump, locked}, archivePath, ArchiveOptions{
		WorkDir: dir, RunNumber: 1, ClientName: "Loja", Timestamped: true,
	})
	require.NoError(t, err)
	require.Len(t, res.CleanupErrors, 1)
	assert.Contains(t, res.CleanupErrors[0], "Estoque-1.bak")
	assert.FileExists(t, archivePath)
	assert.NoFileExists(t, dump)
}

func TestArchiveBuilder_TimestampedKeepsExistingArchive(t *testing.T) {
	dir := t.TempDir()
	dump := writeFile(t, filepath.Join(dir, "Vendas-1.bak"), "vendas")
	older := writeFile(t, filepath.Join(dir, "Loja-2024-01-01-020000.7z"), "older")

	b := &ArchiveBuilder{Archiver: &fakeArchiver{}}
	_, err := b.Build(context.Background(), []string{dump}, filepath.Join(dir, "Loja-2024-01-02-020000.7z"), ArchiveOptions{
		WorkDir: dir, RunNumber: 1, ClientName: "Loja", Timestamped: true,
	})
	require.NoError(t, err)
	assert.FileExists(t, older)
}

func TestArchiveBuilder_NoFiles(t *testing.T) {
	b := &ArchiveBuilder{Archiver: &fakeArchiver{}}
	_, err := b.Build(context.Background(), nil, filepath.Join(t.TempDir(), "x.7z"), ArchiveOptions{})
	assert.Error(t, err)
}

// dirTolerantArchiver skips inputs that are directories.
type dirTolerantArchiver struct {
	inner *fakeArchiver
}

func (d *dirTolerantArchiver) Archive(ctx context.Context, files []string, dst string) error {
	var regular []string
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && !info.IsDir() {
			regular = append(regular, f)
		}
	}
	return d.inner.Archive(ctx, regular, dst)
}
