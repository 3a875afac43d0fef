package compress

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	apperrors "github.com/lupppig/sqlbackup/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAlgorithm(t *testing.T) {
	tests := []struct {
		filename string
		expected Algorithm
		ok       bool
	}{
		{"Loja-1.7z", SevenZip, true},
		{"Loja-2024-01-02-030405.tar.zst", Zstd, true},
		{"Loja-1.tar.gz", Gzip, true},
		{"Loja-1.TAR.LZ4", Lz4, true},
		{"ERP-1.bak", "", false},
		{"no_extension", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			algo, ok := DetectAlgorithm(tt.filename)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, algo)
		})
	}
}

func TestParse(t *testing.T) {
	algo, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, SevenZip, algo)

	algo, err = Parse("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, algo)

	_, err = Parse("rar")
	assert.Error(t, err)
}

func writeFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("contents of "+n), 0644))
		paths = append(paths, p)
	}
	return paths
}

func TestArchiver_NativeZstd(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, "ERP-1.bak", "Fiscal-1.bak")
	dst := filepath.Join(dir, "Loja-1.tar.zst")

	a := &Archiver{Algorithm: Zstd}
	require.NoError(t, a.Archive(context.Background(), files, dst))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	tr := tar.NewReader(zr)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"ERP-1.bak", "Fiscal-1.bak"}, names)

	_, err = os.Stat(dst + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestArchiver_MissingInput(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "Loja-1.tar.gz")

	a := &Archiver{Algorithm: Gzip}
	err := a.Archive(context.Background(), []string{filepath.Join(dir, "gone.bak")}, dst)
	require.Error(t, err)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

type recordingRunner struct {
	name string
	args []string
	err  error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args []string, w io.Writer) error {
	r.name, r.args = name, args
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(args[5], []byte("7z"), 0644)
}

func TestArchiver_SevenZip(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, "ERP-1.bak")
	dst := filepath.Join(dir, "Loja-1.7z")

	r := &recordingRunner{}
	a := &Archiver{Algorithm: SevenZip, Runner: r}
	require.NoError(t, a.Archive(context.Background(), files, dst))

	assert.Equal(t, "7z", r.name)
	assert.Equal(t, []string{"a", "-t7z", "-mx=9", "-y", "-bd", dst, files[0]}, r.args)
}

func TestArchiver_SevenZipMissing(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, "ERP-1.bak")

	r := &recordingRunner{err: apperrors.New(apperrors.TypeDependency, "7z not found", "Install p7zip.")}
	a := &Archiver{Algorithm: SevenZip, Runner: r}
	err := a.Archive(context.Background(), files, filepath.Join(dir, "Loja-1.7z"))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeDependency))
}
