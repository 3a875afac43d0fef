package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	apperrors "github.com/lupppig/sqlbackup/internal/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Options struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type S3Storage struct {
	opts       S3Options
	bucketName string
	prefix     string

	mu     sync.Mutex
	client *minio.Client
}

func NewS3Storage(opts S3Options) *S3Storage {
	return &S3Storage{
		opts:       opts,
		bucketName: opts.Bucket,
		prefix:     strings.Trim(opts.Prefix, "/"),
	}
}

func (s *S3Storage) Name() string  { return "s3" }
func (s *S3Storage) Stage() string { return "s3" }
func (s *S3Storage) Remote() bool  { return true }

func (s *S3Storage) connect() (*minio.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	c, err := minio.New(s.opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.opts.AccessKey, s.opts.SecretKey, ""),
		Secure: s.opts.UseSSL,
		Region: s.opts.Region,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "invalid S3 endpoint", "Check targets.s3.endpoint (host:port, no scheme).")
	}
	s.client = c
	return c, nil
}

func (s *S3Storage) getObjectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Storage) Save(ctx context.Context, name string, r io.Reader, opts SaveOptions) (string, error) {
	c, err := s.connect()
	if err != nil {
		return "", err
	}
	key := s.getObjectName(name)

	if opts.Overwrite {
		if err := c.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
			if minio.ToErrorResponse(err).Code != "NoSuchKey" {
				return "", fmt.Errorf("failed to remove previous %s: %w", key, err)
			}
		}
	}

	size := opts.Size
	if size == 0 {
		size = -1
	}
	_, err = c.PutObject(ctx, s.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return "s3://" + s.bucketName + "/" + key, nil
}

func (s *S3Storage) List(ctx context.Context) ([]FileInfo, error) {
	c, err := s.connect()
	if err != nil {
		return nil, err
	}

	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}

	var files []FileInfo
	for obj := range c.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucketName, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		files = append(files, FileInfo{
			Name:    strings.TrimPrefix(obj.Key, prefix),
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}
	return files, nil
}

func (s *S3Storage) Delete(ctx context.Context, name string) error {
	c, err := s.connect()
	if err != nil {
		return err
	}
	return c.RemoveObject(ctx, s.bucketName, s.getObjectName(name), minio.RemoveObjectOptions{})
}

func (s *S3Storage) Location() string {
	if s.prefix == "" {
		return "s3://" + s.bucketName
	}
	return "s3://" + s.bucketName + "/" + s.prefix
}

func (s *S3Storage) Close() error {
	return nil
}
