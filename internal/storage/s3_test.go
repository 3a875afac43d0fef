package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestS3Storage_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucketName := "testbucket"

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "minio/minio",
			Env: map[string]string{
				"MINIO_ACCESS_KEY": accessKey,
				"MINIO_SECRET_KEY": secretKey,
			},
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor:   wait.ForHTTP("/minio/health/ready").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	s := NewS3Storage(S3Options{
		Endpoint:  fmt.Sprintf("%s:%d", host, port.Int()),
		Bucket:    bucketName,
		Prefix:    "backups",
		AccessKey: accessKey,
		SecretKey: secretKey,
	})

	c, err := s.connect()
	require.NoError(t, err)
	require.NoError(t, c.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}))

	t.Run("SaveAndList", func(t *testing.T) {
		content := []byte("hello s3")
		location, err := s.Save(ctx, "Loja-1.tar.zst", bytes.NewReader(content), SaveOptions{Size: int64(len(content))})
		require.NoError(t, err)
		assert.Equal(t, "s3://testbucket/backups/Loja-1.tar.zst", location)

		files, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "Loja-1.tar.zst", files[0].Name)
		assert.False(t, files[0].ModTime.IsZero())
	})

	t.Run("Overwrite_UnknownSize", func(t *testing.T) {
		content := []byte("replacement with unknown size")
		wrappedReader := struct{ io.Reader }{bytes.NewReader(content)}
		_, err := s.Save(ctx, "Loja-1.tar.zst", wrappedReader, SaveOptions{Size: -1, Overwrite: true})
		require.NoError(t, err)

		obj, err := c.GetObject(ctx, bucketName, s.getObjectName("Loja-1.tar.zst"), minio.GetObjectOptions{})
		require.NoError(t, err)
		defer obj.Close()
		got, err := io.ReadAll(obj)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("OverwriteMissingIsNotAnError", func(t *testing.T) {
		_, err := s.Save(ctx, "fresh.tar.zst", bytes.NewReader([]byte("x")), SaveOptions{Size: 1, Overwrite: true})
		assert.NoError(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "fresh.tar.zst"))

		_, err = c.StatObject(ctx, s.bucketName, s.getObjectName("fresh.tar.zst"), minio.StatObjectOptions{})
		assert.Error(t, err)
	})
}
