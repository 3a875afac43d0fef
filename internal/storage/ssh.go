package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/lupppig/sqlbackup/internal/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyFile  string
	// KnownHostsFile enables host key verification; empty accepts any host key.
	KnownHostsFile string
	Dir            string
}

type SSHStorage struct {
	opts       SSHOptions
	remotePath string
	host       string

	mu         sync.Mutex
	client     *ssh.Client
	sftpClient *sftp.Client
}

func NewSSHStorage(opts SSHOptions) *SSHStorage {
	host := opts.Host
	if !strings.Contains(host, ":") {
		port := opts.Port
		if port == 0 {
			port = 22
		}
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}

	remotePath := strings.TrimPrefix(opts.Dir, "./")
	if remotePath == "" {
		remotePath = "."
	}

	return &SSHStorage{
		opts:       opts,
		remotePath: remotePath,
		host:       host,
	}
}

func (s *SSHStorage) Name() string  { return "sftp" }
func (s *SSHStorage) Stage() string { return "sftp" }
func (s *SSHStorage) Remote() bool  { return true }

func (s *SSHStorage) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if s.opts.Password != "" {
		methods = append(methods, ssh.Password(s.opts.Password))
	}

	if s.opts.KeyFile != "" {
		if key, err := os.ReadFile(s.opts.KeyFile); err == nil {
			if signer, err := ssh.ParsePrivateKey(key); err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			}
		}
	}

	if len(methods) > 0 {
		return methods
	}

	// 1. Try SSH Agent
	if authSock := os.Getenv("SSH_AUTH_SOCK"); authSock != "" {
		if conn, err := net.Dial("unix", authSock); err == nil {
			ag := agent.NewClient(conn)
			if signers, err := ag.Signers(); err == nil && len(signers) > 0 {
				methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
			}
		}
	}

	// 2. Try common private keys
	if home, err := os.UserHomeDir(); err == nil {
		for _, k := range []string{"id_rsa", "id_ed25519", "id_ecdsa"} {
			key, err := os.ReadFile(filepath.Join(home, ".ssh", k))
			if err != nil {
				continue
			}
			if signer, err := ssh.ParsePrivateKey(key); err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			}
		}
	}
	return methods
}

func (s *SSHStorage) connect() error {
	if s.sftpClient != nil {
		return nil
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if s.opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.opts.KnownHostsFile)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeSecurity, "failed to load known_hosts", "Check targets.sftp.known_hosts_file.")
		}
		hostKeyCallback = cb
	}

	config := &ssh.ClientConfig{
		User:            s.opts.User,
		Auth:            s.authMethods(),
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	if len(config.Auth) == 0 {
		return apperrors.New(apperrors.TypeAuth, "no supported SSH authentication methods found", "Set targets.sftp.password or targets.sftp.key_file, or run an SSH agent.")
	}

	client, err := ssh.Dial("tcp", s.host, config)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to connect via SSH", "Check host reachability, SSH port, and credentials.")
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return apperrors.Wrap(err, apperrors.TypeInternal, "failed to create SFTP client", "Verify the SFTP subsystem is enabled on the remote host.")
	}

	s.client = client
	s.sftpClient = sftpClient
	return nil
}

func (s *SSHStorage) Save(ctx context.Context, name string, r io.Reader, opts SaveOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(); err != nil {
		return "", err
	}
	target := path.Join(s.remotePath, name)
	if err := s.sftpClient.MkdirAll(path.Dir(target)); err != nil {
		return "", fmt.Errorf("failed to create remote directory %s: %w", path.Dir(target), err)
	}

	if opts.Overwrite {
		if err := s.sftpClient.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to remove previous %s: %w", target, err)
		}
	}

	f, err := s.sftpClient.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create remote file %s: %w", target, err)
	}

	if _, err := f.ReadFrom(r); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return "sftp://" + s.host + "/" + strings.TrimPrefix(target, "/"), nil
}

func (s *SSHStorage) List(ctx context.Context) ([]FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(); err != nil {
		return nil, err
	}

	entries, err := s.sftpClient.ReadDir(s.remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.remotePath, err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
	}
	return files, nil
}

func (s *SSHStorage) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(); err != nil {
		return err
	}
	return s.sftpClient.Remove(path.Join(s.remotePath, name))
}

func (s *SSHStorage) Location() string {
	return "sftp://" + s.host + "/" + strings.TrimPrefix(s.remotePath, "/")
}

func (s *SSHStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftpClient != nil {
		s.sftpClient.Close()
		s.sftpClient = nil
	}
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}
