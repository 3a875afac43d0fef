package compress

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/lupppig/sqlbackup/internal/errors"
)

type Algorithm string

const (
	SevenZip Algorithm = "7z"
	Zstd     Algorithm = "zstd"
	Gzip     Algorithm = "gzip"
	Lz4      Algorithm = "lz4"
)

// Algorithms lists every supported algorithm, external first.
var Algorithms = []Algorithm{SevenZip, Zstd, Gzip, Lz4}

// Extension returns the archive extension without the leading dot.
func Extension(algo Algorithm) string {
	switch algo {
	case SevenZip:
		return "7z"
	case Zstd:
		return "tar.zst"
	case Gzip:
		return "tar.gz"
	case Lz4:
		return "tar.lz4"
	}
	return ""
}

// DetectAlgorithm infers the algorithm from an archive file name.
func DetectAlgorithm(filename string) (Algorithm, bool) {
	name := strings.ToLower(filename)
	for _, algo := range Algorithms {
		if strings.HasSuffix(name, "."+Extension(algo)) {
			return algo, true
		}
	}
	return "", false
}

func Parse(s string) (Algorithm, error) {
	algo := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch algo {
	case "", "7zip", "sevenzip":
		return SevenZip, nil
	case "zst":
		return Zstd, nil
	case "gz":
		return Gzip, nil
	case SevenZip, Zstd, Gzip, Lz4:
		return algo, nil
	}
	return "", ErrUnsupportedAlgo(algo)
}

// Compressor writes a tar stream of files through a maximum-level codec.
type Compressor struct {
	Writer     io.Writer
	Tar        *tar.Writer
	compWriter io.Writer
	algo       Algorithm
	closer     io.Closer
	mu         sync.Mutex
}

func New(w io.Writer, algo Algorithm) (*Compressor, error) {
	c := &Compressor{
		algo:   algo,
		Writer: w,
	}

	switch algo {
	case Gzip:
		gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		c.compWriter = gz
		c.closer = gz
	case Lz4:
		l := lz4.NewWriter(w)
		if err := l.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, err
		}
		c.compWriter = l
		c.closer = l
	case Zstd:
		z, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, err
		}
		c.compWriter = z
		c.closer = z
	default:
		return nil, ErrUnsupportedAlgo(algo)
	}

	c.Tar = tar.NewWriter(c.compWriter)
	return c, nil
}

// AddFile appends one file to the archive under its base name.
func (c *Compressor) AddFile(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    0600,
		ModTime: info.ModTime(),
	}
	if err := c.Tar.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(c.Tar, &ctxReader{ctx: ctx, r: f})
	return err
}

func (c *Compressor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Tar.Close(); err != nil {
		return err
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Runner executes an external archiver. It is satisfied by db.LocalRunner.
type Runner interface {
	Run(ctx context.Context, name string, args []string, w io.Writer) error
}

// Archiver builds one archive from a list of files.
type Archiver struct {
	Algorithm Algorithm
	// SevenZipPath is the 7-Zip executable used for SevenZip archives.
	SevenZipPath string
	Runner       Runner
}

// Archive compresses files into dst. A partially written dst is removed on failure.
func (a *Archiver) Archive(ctx context.Context, files []string, dst string) error {
	if len(files) == 0 {
		return apperrors.New(apperrors.TypeInternal, "nothing to archive", "")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, "cannot create archive directory", "Check permissions on work_dir.")
	}

	if a.Algorithm == SevenZip {
		return a.sevenZip(ctx, files, dst)
	}
	return a.native(ctx, files, dst)
}

func (a *Archiver) sevenZip(ctx context.Context, files []string, dst string) error {
	if a.Runner == nil {
		return apperrors.New(apperrors.TypeInternal, "no runner configured for 7z", "")
	}
	tool := a.SevenZipPath
	if tool == "" {
		tool = "7z"
	}

	args := append([]string{"a", "-t7z", "-mx=9", "-y", "-bd", dst}, files...)
	if err := a.Runner.Run(ctx, tool, args, io.Discard); err != nil {
		os.Remove(dst)
		return err
	}
	if _, err := os.Stat(dst); err != nil {
		return apperrors.Wrap(err, apperrors.TypeIntegrity, "7z reported success but produced no archive", "")
	}
	return nil
}

func (a *Archiver) native(ctx context.Context, files []string, dst string) error {
	tmpPath := dst + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, "failed to create archive", "Check free space and permissions on work_dir.")
	}
	defer os.Remove(tmpPath) // Cleanup if we fail

	c, err := New(f, a.Algorithm)
	if err != nil {
		f.Close()
		return err
	}

	for _, file := range files {
		if err := c.AddFile(ctx, file); err != nil {
			c.Close()
			f.Close()
			return fmt.Errorf("failed to add %s: %w", filepath.Base(file), err)
		}
	}
	if err := c.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to finalize archive (rename): %w", err)
	}
	return nil
}

type ErrUnsupportedAlgo Algorithm

func (e ErrUnsupportedAlgo) Error() string {
	return "unsupported compression algorithm: " + string(e)
}
