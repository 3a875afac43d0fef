package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"time"

	"github.com/lupppig/sqlbackup/internal/config"
)

type SaveOptions struct {
	// Size is the payload length, or -1 when unknown.
	Size int64
	// Overwrite removes a prior object with the same name before writing.
	Overwrite bool
}

type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time // zero when the backend could not report it
}

// Lister is the view of a storage location used for pruning.
type Lister interface {
	List(ctx context.Context) ([]FileInfo, error)
	Delete(ctx context.Context, name string) error
	Location() string
}

// Target is one delivery destination for an archive.
type Target interface {
	Lister
	// Name identifies the target in configuration and commands ("ftp", "sftp", "s3", "network").
	Name() string
	// Stage is the token prefixed to this target's failures in a run's error message.
	Stage() string
	// Remote reports whether the target is a remote-transfer destination subject to remote retention.
	Remote() bool
	Save(ctx context.Context, name string, r io.Reader, opts SaveOptions) (string, error)
	Close() error
}

// FromConfig builds the enabled targets. Disabled or unconfigured targets are left out.
func FromConfig(cfg config.TargetsConfig) []Target {
	var targets []Target
	if cfg.FTP.Enabled && cfg.FTP.Host != "" {
		targets = append(targets, NewFTPStorage(FTPOptions{
			Host:     cfg.FTP.Host,
			Port:     cfg.FTP.Port,
			User:     cfg.FTP.User,
			Password: cfg.FTP.Password,
			Dir:      cfg.FTP.Dir,
			TLS:      cfg.FTP.TLS,
			Timeout:  cfg.FTP.Timeout,
		}))
	}
	if cfg.SFTP.Enabled && cfg.SFTP.Host != "" {
		targets = append(targets, NewSSHStorage(SSHOptions{
			Host:           cfg.SFTP.Host,
			Port:           cfg.SFTP.Port,
			User:           cfg.SFTP.User,
			Password:       cfg.SFTP.Password,
			KeyFile:        cfg.SFTP.KeyFile,
			KnownHostsFile: cfg.SFTP.KnownHostsFile,
			Dir:            cfg.SFTP.Dir,
		}))
	}
	if cfg.S3.Enabled && cfg.S3.Endpoint != "" && cfg.S3.Bucket != "" {
		targets = append(targets, NewS3Storage(S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		}))
	}
	if cfg.Network.Enabled && cfg.Network.Path != "" {
		targets = append(targets, NewNetworkStorage(cfg.Network.Path))
	}
	return targets
}

// Find returns the enabled target with the given name.
func Find(targets []Target, name string) (Target, error) {
	for _, t := range targets {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("target %q is not enabled or not configured", name)
}

func CloseAll(targets []Target) {
	for _, t := range targets {
		_ = t.Close()
	}
}

var credentialRe = regexp.MustCompile(`^([a-z0-9+.-]+://[^:/@]+):[^@]*@`)

// Scrub masks the password of a URI-like location for logging.
func Scrub(location string) string {
	if u, err := url.Parse(location); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			return credentialRe.ReplaceAllString(location, "${1}:********@")
		}
	}
	return location
}
