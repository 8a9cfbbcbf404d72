package execute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cuemby/forge/pkg/forgeerr"
)

// SSHConfig is the shared credential used to reach every host. Per spec
// §4.B the channel is authenticated and encrypted and connections are
// reused across calls.
type SSHConfig struct {
	Signer        ssh.Signer
	Port          int
	HostKeyPolicy ssh.HostKeyCallback
}

// SSHExecutor implements Executor for remote hosts, dialing over SSH and
// keeping one connection per (host, user) pair alive for reuse.
type SSHExecutor struct {
	cfg SSHConfig

	mu    sync.Mutex
	conns map[string]*ssh.Client
}

// NewSSHExecutor creates an SSHExecutor that authenticates with cfg.Signer.
func NewSSHExecutor(cfg SSHConfig) *SSHExecutor {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.HostKeyPolicy == nil {
		cfg.HostKeyPolicy = ssh.InsecureIgnoreHostKey()
	}
	return &SSHExecutor{cfg: cfg, conns: make(map[string]*ssh.Client)}
}

func connKey(host, user string) string { return user + "@" + host }

func (e *SSHExecutor) dial(host, user string) (*ssh.Client, error) {
	key := connKey(host, user)

	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.conns[key]; ok {
		// A cheap liveness probe: NewSession fails fast on a dead
		// connection instead of hanging the caller's real command.
		if sess, err := client.NewSession(); err == nil {
			sess.Close()
			return client, nil
		}
		client.Close()
		delete(e.conns, key)
	}

	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.cfg.Signer)},
		HostKeyCallback: e.cfg.HostKeyPolicy,
		Timeout:         10 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", host, e.cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.TransportError, "ssh dial "+addr, err).OnHost(host)
	}

	e.conns[key] = client
	return client, nil
}

// Close closes every pooled connection. Intended for clean process
// shutdown; individual calls re-dial lazily afterward.
func (e *SSHExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, client := range e.conns {
		client.Close()
		delete(e.conns, key)
	}
}

func (e *SSHExecutor) Run(ctx context.Context, host, user, cmd string, stdin io.Reader, timeout time.Duration) (*Result, error) {
	var result *Result
	err := withTransportRetry(ctx, func() error {
		client, err := e.dial(host, user)
		if err != nil {
			return err
		}

		session, err := client.NewSession()
		if err != nil {
			return forgeerr.Wrap(forgeerr.TransportError, "open ssh session", err).OnHost(host)
		}
		defer session.Close()

		if stdin != nil {
			session.Stdin = stdin
		}

		var stdout, stderr bytes.Buffer
		session.Stdout = &stdout
		session.Stderr = &stderr

		done := make(chan error, 1)
		go func() { done <- session.Run(cmd) }()

		select {
		case runErr := <-done:
			result = &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
			if runErr == nil {
				result.ExitCode = 0
				return nil
			}
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				result.ExitCode = exitErr.ExitStatus()
				return nil
			}
			result = nil
			return forgeerr.Wrap(forgeerr.TransportError, "ssh command failed to run", runErr).OnHost(host)
		case <-time.After(timeout):
			session.Signal(ssh.SIGKILL)
			return forgeerr.New(forgeerr.TransportError, "ssh command timed out").OnHost(host)
		case <-ctx.Done():
			session.Signal(ssh.SIGKILL)
			return ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Upload streams data to path on host via a remote shell pipeline
// ("mkdir -p $(dirname path) && cat > path && chmod mode path"), avoiding
// a dependency on SFTP for what is, in this system, an infrequent
// config/secret push rather than a bulk transfer.
func (e *SSHExecutor) Upload(ctx context.Context, host, user, remotePath string, data io.Reader, mode uint32) error {
	dir := path.Dir(remotePath)
	cmd := fmt.Sprintf("mkdir -p %q && cat > %q && chmod %o %q", dir, remotePath, mode, remotePath)

	_, err := e.Run(ctx, host, user, cmd, data, 30*time.Second)
	return err
}

func (e *SSHExecutor) Download(ctx context.Context, host, user, remotePath string) ([]byte, error) {
	result, err := e.Run(ctx, host, user, fmt.Sprintf("cat %q", remotePath), nil, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, forgeerr.New(forgeerr.TransportError, fmt.Sprintf("download %s: remote cat exited %d: %s", remotePath, result.ExitCode, result.Stderr)).OnHost(host)
	}
	return result.Stdout, nil
}

func (e *SSHExecutor) ExecInContainer(ctx context.Context, host, user, container, cmd string, timeout time.Duration) (*Result, error) {
	// The per-host forge-agent owns the containerd socket; exec is
	// routed through its local runtime via "ctr", which every template
	// snapshot installs alongside the agent (spec §4.D).
	remoteCmd := fmt.Sprintf("ctr -n %s t exec --exec-id forge-exec-%d %q sh -c %q", Namespace, time.Now().UnixNano(), container, cmd)
	return e.Run(ctx, host, user, remoteCmd, nil, timeout)
}
