package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport runs commands on the target over one shared SSH connection.
type SSHTransport struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

func (t *SSHTransport) Describe() string {
	addr, err := t.address()
	if err != nil {
		return t.Host
	}
	return t.User + "@" + addr
}

func (t *SSHTransport) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	out, code, err := t.exec(ctx, joinCommand(cmd, args), nil)
	if err != nil {
		return string(out), &CommandError{Command: joinCommand(cmd, args), ExitCode: code, Output: string(out), Err: err}
	}
	return string(out), nil
}

func (t *SSHTransport) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	script := writeScript(path, mode)
	out, code, err := t.exec(ctx, joinCommand("sh", []string{"-c", script}), data)
	if err != nil {
		return &CommandError{Command: "write " + path, ExitCode: code, Output: string(out), Err: err}
	}
	return nil
}

func (t *SSHTransport) ReadFile(ctx context.Context, path string) ([]byte, error) {
	out, code, err := t.exec(ctx, joinCommand("sh", []string{"-c", readScript(path)}), nil)
	if code == missingFileExit {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, &CommandError{Command: "read " + path, ExitCode: code, Output: string(out), Err: err}
	}
	return out, nil
}

// Close drops the cached connection.
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *SSHTransport) exec(ctx context.Context, command string, stdin []byte) ([]byte, int, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return nil, -1, err
	}

	session, err := client.NewSession()
	if err != nil {
		// connection went stale; redial once
		t.reset(client)
		if client, err = t.connect(ctx); err != nil {
			return nil, -1, err
		}
		if session, err = client.NewSession(); err != nil {
			return nil, -1, err
		}
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		// Run still owns out until it returns
		<-done
		return out.Bytes(), -1, ctx.Err()
	}

	if err == nil {
		return out.Bytes(), 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), exitErr.ExitStatus(), err
	}
	return out.Bytes(), -1, err
}

func (t *SSHTransport) connect(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	client, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	t.client = client
	return client, nil
}

func (t *SSHTransport) reset(stale *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == stale {
		t.client.Close()
		t.client = nil
	}
}

func (t *SSHTransport) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := t.address()
	if err != nil {
		return nil, err
	}

	config, err := t.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", address, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", address, err)
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (t *SSHTransport) address() (string, error) {
	host := strings.TrimSpace(t.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if t.Port != "" {
		return net.JoinHostPort(host, t.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (t *SSHTransport) clientConfig() (*ssh.ClientConfig, error) {
	if t.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := t.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if t.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := t.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.Timeout,
	}, nil
}

func (t *SSHTransport) signer() (ssh.Signer, error) {
	path := t.KeyPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("ssh key path is required")
		}
		path = filepath.Join(home, ".ssh", "id_ed25519")
	}

	privateKey, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}

	if len(t.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, t.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (t *SSHTransport) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(t.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}

// PortString formats a port for SSHTransport.Port; zero means default.
func PortString(port int) string {
	if port == 0 {
		return ""
	}
	return strconv.Itoa(port)
}
