package deploy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/types"
)

// GateKind selects how HealthGate probes a freshly started container
// (spec §4.G step 5).
type GateKind string

const (
	GateHTTP   GateKind = "http"
	GateTCP    GateKind = "tcp"
	GateWorker GateKind = "worker"
)

const (
	defaultGateTimeout = 60 * time.Second
	workerDwell        = 10 * time.Second
	pollInterval       = time.Second
)

// GateSpec is what HealthGate needs to probe one container.
type GateSpec struct {
	Kind          GateKind
	Host          string // private or public IP to dial for HTTP/TCP
	Port          int    // host_port chosen by DetermineToggle
	Path          string // HTTP only; "/" if empty
	Timeout       time.Duration
	ContainerName string
	Executor      execute.Executor
	SSHUser       string
}

func (g GateSpec) timeout() time.Duration {
	if g.Timeout <= 0 {
		return defaultGateTimeout
	}
	return g.Timeout
}

// HealthGate blocks until the container passes its kind-appropriate probe
// or the timeout elapses, returning a taxonomised HealthGateFailure on
// failure (spec §7). The container must remain in state "running"
// throughout the poll; a restart loop (state flips to "restarting" or
// "exited") fails the gate immediately rather than waiting out the clock.
func HealthGate(ctx context.Context, spec GateSpec) error {
	ctx, cancel := context.WithTimeout(ctx, spec.timeout())
	defer cancel()

	if spec.Kind == GateWorker {
		return workerDwellGate(ctx, spec)
	}

	deadline := time.Now().Add(spec.timeout())
	for {
		state, err := containerStatus(ctx, spec.Executor, spec.Host, spec.SSHUser, spec.ContainerName)
		if err != nil {
			return err
		}
		switch state {
		case types.ContainerStateExited:
			return forgeerr.New(forgeerr.HealthGateCrash, spec.ContainerName+" exited before passing health gate").OnHost(spec.Host)
		case types.ContainerStateMissing:
			return forgeerr.New(forgeerr.HealthGateCrash, spec.ContainerName+" disappeared before passing health gate").OnHost(spec.Host)
		case types.ContainerStateRunning:
			ok, probeErr := probe(ctx, spec)
			if probeErr == nil && ok {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return forgeerr.New(forgeerr.HealthGateTimedOut, spec.ContainerName+" did not become healthy within "+spec.timeout().String()).OnHost(spec.Host)
		}
		select {
		case <-ctx.Done():
			return forgeerr.New(forgeerr.HealthGateTimedOut, spec.ContainerName+" health gate cancelled").OnHost(spec.Host)
		case <-time.After(pollInterval):
		}
	}
}

func probe(ctx context.Context, spec GateSpec) (bool, error) {
	switch spec.Kind {
	case GateHTTP:
		return probeHTTP(ctx, spec)
	case GateTCP:
		return probeTCP(ctx, spec)
	default:
		return true, nil
	}
}

func probeHTTP(ctx context.Context, spec GateSpec) (bool, error) {
	path := spec.Path
	if path == "" {
		path = "/"
	}
	url := fmt.Sprintf("http://%s:%d%s", spec.Host, spec.Port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, nil
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400, nil
}

func probeTCP(ctx context.Context, spec GateSpec) (bool, error) {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", spec.Host+":"+strconv.Itoa(spec.Port))
	if err != nil {
		return false, nil
	}
	conn.Close()
	return true, nil
}

// workerDwellGate implements the non-networked worker rule: the
// container must still be running, with no restart, after a 10s dwell.
func workerDwellGate(ctx context.Context, spec GateSpec) error {
	deadline := time.Now().Add(workerDwell)
	for {
		state, err := containerStatus(ctx, spec.Executor, spec.Host, spec.SSHUser, spec.ContainerName)
		if err != nil {
			return err
		}
		if state != types.ContainerStateRunning {
			return forgeerr.New(forgeerr.HealthGateCrash, spec.ContainerName+" left running state during dwell").OnHost(spec.Host)
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return forgeerr.New(forgeerr.HealthGateTimedOut, spec.ContainerName+" worker dwell cancelled").OnHost(spec.Host)
		case <-time.After(pollInterval):
		}
	}
}

// ScheduledGate runs the configured smoke command (or a dry-run --help)
// as a one-shot task and treats a zero exit as healthy, replacing the
// running-container gate for scheduled services (spec §4.G "Scheduled
// services").
func ScheduledGate(ctx context.Context, executor execute.Executor, host, user string, spec execute.ContainerSpec, smokeCmd string, timeout time.Duration) error {
	args := smokeCmd
	if args == "" {
		args = "--help"
	}
	result, err := runOneShot(ctx, executor, host, user, spec, args, timeout)
	if err != nil {
		return forgeerr.Wrap(forgeerr.HealthGateCrash, "smoke test for "+spec.Name+" on "+host, err).OnHost(host)
	}
	if result.ExitCode != 0 {
		return forgeerr.New(forgeerr.HealthGateUnhealthy,
			fmt.Sprintf("smoke test for %s on %s exited %d: %s", spec.Name, host, result.ExitCode, string(result.Stderr))).OnHost(host)
	}
	return nil
}
