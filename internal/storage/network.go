package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// NetworkStorage copies archives into a directory, typically a mounted share.
// It also serves as the lister for the local work directory.
type NetworkStorage struct {
	baseDir string
}

func NewNetworkStorage(baseDir string) *NetworkStorage {
	if baseDir == "" {
		baseDir = "./"
	}
	return &NetworkStorage{baseDir: baseDir}
}

func (s *NetworkStorage) Name() string  { return "network" }
func (s *NetworkStorage) Stage() string { return "copy" }
func (s *NetworkStorage) Remote() bool  { return false }

func (s *NetworkStorage) Save(ctx context.Context, name string, r io.Reader, opts SaveOptions) (string, error) {
	path := filepath.Join(s.baseDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpPath) // Cleanup if we fail

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to flush data: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to finalize file (rename): %w", err)
	}

	return path, nil
}

func (s *NetworkStorage) List(ctx context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi := FileInfo{Name: e.Name()}
		if info, err := e.Info(); err == nil {
			fi.Size = info.Size()
			fi.ModTime = info.ModTime()
		}
		files = append(files, fi)
	}
	return files, nil
}

func (s *NetworkStorage) Delete(ctx context.Context, name string) error {
	return os.Remove(filepath.Join(s.baseDir, name))
}

func (s *NetworkStorage) Location() string {
	return s.baseDir
}

func (s *NetworkStorage) Close() error {
	return nil
}
