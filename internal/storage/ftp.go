package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	apperrors "github.com/lupppig/sqlbackup/internal/errors"
)

// ftpConn is the subset of *ftp.ServerConn used here.
type ftpConn interface {
	Login(user, password string) error
	MakeDir(path string) error
	Delete(path string) error
	Stor(path string, r io.Reader) error
	List(path string) ([]*ftp.Entry, error)
	Quit() error
}

type FTPOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Dir      string
	TLS      bool
	Timeout  time.Duration
}

type FTPStorage struct {
	opts       FTPOptions
	remotePath string
	host       string

	mu     sync.Mutex
	client ftpConn
	dial   func(addr string, opts ...ftp.DialOption) (ftpConn, error)
}

func NewFTPStorage(opts FTPOptions) *FTPStorage {
	host := opts.Host
	if !strings.Contains(host, ":") {
		port := opts.Port
		if port == 0 {
			port = 21
		}
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	remotePath := "/" + strings.Trim(opts.Dir, "/")

	return &FTPStorage{
		opts:       opts,
		remotePath: remotePath,
		host:       host,
		dial: func(addr string, o ...ftp.DialOption) (ftpConn, error) {
			return ftp.Dial(addr, o...)
		},
	}
}

func (s *FTPStorage) Name() string  { return "ftp" }
func (s *FTPStorage) Stage() string { return "ftp" }
func (s *FTPStorage) Remote() bool  { return true }

func (s *FTPStorage) connect(ctx context.Context) (ftpConn, error) {
	if s.client != nil {
		return s.client, nil
	}

	dialOpts := []ftp.DialOption{
		ftp.DialWithTimeout(s.opts.Timeout),
		ftp.DialWithContext(ctx),
	}
	if s.opts.TLS {
		hostname, _, _ := net.SplitHostPort(s.host)
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: hostname,
			MinVersion: tls.VersionTLS12,
		}))
	}

	c, err := s.dial(s.host, dialOpts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConnection, "failed to connect to FTP server "+s.host, "Check targets.ftp.host/port and firewall rules.")
	}

	user := s.opts.User
	if user == "" {
		user = "anonymous"
	}
	if err := c.Login(user, s.opts.Password); err != nil {
		c.Quit()
		return nil, apperrors.Wrap(err, apperrors.TypeAuth, "FTP login failed", "Check targets.ftp.user and targets.ftp.password.")
	}

	s.client = c
	return c, nil
}

func (s *FTPStorage) Save(ctx context.Context, name string, r io.Reader, opts SaveOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.connect(ctx)
	if err != nil {
		return "", err
	}

	target := path.Join(s.remotePath, name)
	s.ensureDir(c, path.Dir(target))

	if opts.Overwrite {
		if err := c.Delete(target); err != nil && !isFTPNotFound(err) {
			return "", fmt.Errorf("failed to remove previous %s: %w", target, err)
		}
	}

	if err := c.Stor(target, r); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return "ftp://" + s.host + target, nil
}

func (s *FTPStorage) List(ctx context.Context) ([]FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := c.List(s.remotePath)
	if err != nil {
		if isFTPNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.remotePath, err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		files = append(files, FileInfo{
			Name:    path.Base(e.Name),
			Size:    int64(e.Size),
			ModTime: e.Time,
		})
	}
	return files, nil
}

func (s *FTPStorage) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	return c.Delete(path.Join(s.remotePath, name))
}

func (s *FTPStorage) Location() string {
	return "ftp://" + s.host + s.remotePath
}

func (s *FTPStorage) ensureDir(c ftpConn, dir string) {
	if dir == "." || dir == "/" {
		return
	}
	current := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current = current + "/" + part
		_ = c.MakeDir(current) // Ignore error if it already exists
	}
}

func (s *FTPStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Quit()
	s.client = nil
	return err
}

func isFTPNotFound(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusFileUnavailable
	}
	return false
}
