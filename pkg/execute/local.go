package execute

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuemby/forge/pkg/forgeerr"
)

// LocalExecutor runs commands in-process via the shell and containers via
// the host's containerd socket. It is used whenever a caller passes
// LocalHost, and also backs the SSH executor's "local leg" of a multi-hop
// operation on the control process's own machine.
type LocalExecutor struct {
	runtime ContainerRuntime
}

// NewLocalExecutor creates a LocalExecutor backed by the given container
// runtime. runtime may be nil if ExecInContainer will never be called
// (e.g. in tests that only exercise Run/Upload/Download).
func NewLocalExecutor(runtime ContainerRuntime) *LocalExecutor {
	return &LocalExecutor{runtime: runtime}
}

func (e *LocalExecutor) Run(ctx context.Context, host, user, cmd string, stdin io.Reader, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := exec.CommandContext(ctx, "sh", "-c", cmd)
	if stdin != nil {
		command.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	case ctx.Err() != nil:
		return nil, forgeerr.Wrap(forgeerr.TransportError, "local command timed out", ctx.Err()).OnHost(host)
	default:
		return nil, forgeerr.Wrap(forgeerr.TransportError, "local command failed to start", err).OnHost(host)
	}
}

func (e *LocalExecutor) Upload(ctx context.Context, host, user, path string, data io.Reader, mode uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "create parent directory", err).OnHost(host)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "open file for upload", err).OnHost(host)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "write uploaded file", err).OnHost(host)
	}
	return nil
}

func (e *LocalExecutor) Download(ctx context.Context, host, user, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.TransportError, "read file for download", err).OnHost(host)
	}
	return data, nil
}

func (e *LocalExecutor) ExecInContainer(ctx context.Context, host, user, container, cmd string, timeout time.Duration) (*Result, error) {
	if e.runtime == nil {
		return nil, forgeerr.New(forgeerr.TransportError, "local executor has no container runtime configured").OnHost(host)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exitCode, stdout, stderr, err := e.runtime.Exec(ctx, container, []string{"sh", "-c", cmd})
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.TransportError, "exec in container", err).OnHost(host)
	}
	return &Result{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}
