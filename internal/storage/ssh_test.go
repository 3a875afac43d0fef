package storage

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSSHStorage_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// Format: user:pass:uid:gid:dir
	username := "testuser"
	password := "testpass"
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "atmoz/sftp",
			Env: map[string]string{
				"SFTP_USERS": fmt.Sprintf("%s:%s:::upload", username, password),
			},
			ExposedPorts: []string{"22/tcp"},
			WaitingFor:   wait.ForLog("Server listening on"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "22")
	require.NoError(t, err)

	s := NewSSHStorage(SSHOptions{
		Host:     host,
		Port:     port.Int(),
		User:     username,
		Password: password,
		Dir:      "upload/sql",
	})
	defer s.Close()

	t.Run("SaveAndList", func(t *testing.T) {
		location, err := s.Save(ctx, "Loja-1.7z", bytes.NewReader([]byte("v1")), SaveOptions{Size: 2})
		require.NoError(t, err)
		assert.Contains(t, location, "Loja-1.7z")

		files, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "Loja-1.7z", files[0].Name)
		assert.False(t, files[0].ModTime.IsZero())
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := s.Save(ctx, "Loja-1.7z", bytes.NewReader([]byte("second")), SaveOptions{Size: 6, Overwrite: true})
		require.NoError(t, err)

		files, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, int64(6), files[0].Size)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "Loja-1.7z"))

		files, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, files)
	})
}
