package execute

import (
	"context"
	"io"
	"time"
)

// Dispatcher is the Executor every caller actually holds: it routes
// LocalHost to an in-process executor and everything else over SSH,
// so calling code never has to special-case "local vs remote" itself.
type Dispatcher struct {
	local *LocalExecutor
	ssh   *SSHExecutor
}

// NewDispatcher builds a Dispatcher. ssh may be nil in single-host setups
// or tests that never address a remote host.
func NewDispatcher(local *LocalExecutor, ssh *SSHExecutor) *Dispatcher {
	return &Dispatcher{local: local, ssh: ssh}
}

func (d *Dispatcher) pick(host string) Executor {
	if host == LocalHost || host == "" {
		return d.local
	}
	return d.ssh
}

func (d *Dispatcher) Run(ctx context.Context, host, user, cmd string, stdin io.Reader, timeout time.Duration) (*Result, error) {
	return d.pick(host).Run(ctx, host, user, cmd, stdin, timeout)
}

func (d *Dispatcher) Upload(ctx context.Context, host, user, path string, data io.Reader, mode uint32) error {
	return d.pick(host).Upload(ctx, host, user, path, data, mode)
}

func (d *Dispatcher) Download(ctx context.Context, host, user, path string) ([]byte, error) {
	return d.pick(host).Download(ctx, host, user, path)
}

func (d *Dispatcher) ExecInContainer(ctx context.Context, host, user, container, cmd string, timeout time.Duration) (*Result, error) {
	return d.pick(host).ExecInContainer(ctx, host, user, container, cmd, timeout)
}

var _ Executor = (*Dispatcher)(nil)
var _ Executor = (*LocalExecutor)(nil)
var _ Executor = (*SSHExecutor)(nil)
