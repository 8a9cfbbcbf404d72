package deploy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/types"
)

// runtimeTimeout bounds every ctr invocation issued through the Remote
// Executor; container creation can be slow on a cold image cache, stop/list
// are cheap.
const (
	createTimeout = 2 * time.Minute
	stopTimeout   = 30 * time.Second
	queryTimeout  = 10 * time.Second
)

// listLiveContainers asks the Remote Executor which containers named
// container_name(T) or its _secondary variant currently exist on host,
// mirroring the reverse query spec §4.A describes and §4.G step 3 drives.
// It shells "ctr -n forge c list -q" rather than going through
// execute.ContainerRuntime, which is local-only; any host (local or SSH)
// answers the same way since every template-provisioned host runs
// containerd under the forge namespace.
func listLiveContainers(ctx context.Context, executor execute.Executor, host, user string, names ...string) (map[string]bool, error) {
	result, err := executor.Run(ctx, host, user, fmt.Sprintf("ctr -n %s c list -q", execute.Namespace), nil, queryTimeout)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.TransportError, "list containers on "+host, err).OnHost(host)
	}
	if result.ExitCode != 0 {
		return nil, forgeerr.New(forgeerr.TransportError, "ctr c list exited "+strconv.Itoa(result.ExitCode)+": "+string(result.Stderr)).OnHost(host)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = false
	}
	for _, line := range strings.Split(string(result.Stdout), "\n") {
		id := strings.TrimSpace(line)
		if _, ok := wanted[id]; ok {
			wanted[id] = true
		}
	}
	return wanted, nil
}

// containerStartedAt reads the started_at label ctr attaches at create
// time (see createAndStart), used by DetermineToggle to break a "both are
// live" tie in favour of removing the older container.
func containerStartedAt(ctx context.Context, executor execute.Executor, host, user, name string) (time.Time, error) {
	result, err := executor.Run(ctx, host, user,
		fmt.Sprintf("ctr -n %s c info %s | grep -o '\"started_at\":\"[^\"]*\"' | cut -d'\"' -f4", execute.Namespace, name),
		nil, queryTimeout)
	if err != nil {
		return time.Time{}, forgeerr.Wrap(forgeerr.TransportError, "inspect container "+name+" on "+host, err).OnHost(host)
	}
	ts := strings.TrimSpace(string(result.Stdout))
	if ts == "" {
		return time.Time{}, nil
	}
	parsed, parseErr := time.Parse(time.RFC3339, ts)
	if parseErr != nil {
		return time.Time{}, nil
	}
	return parsed, nil
}

// containerStatus reports whether name is currently running, exited, or
// absent, by reading ctr's task list.
func containerStatus(ctx context.Context, executor execute.Executor, host, user, name string) (types.ContainerState, error) {
	live, err := listLiveContainers(ctx, executor, host, user, name)
	if err != nil {
		return "", err
	}
	if !live[name] {
		return types.ContainerStateMissing, nil
	}

	result, err := executor.Run(ctx, host, user, fmt.Sprintf("ctr -n %s t list | awk -v c=%s '$1==c{print $3}'", execute.Namespace, name), nil, queryTimeout)
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.TransportError, "inspect task status for "+name+" on "+host, err).OnHost(host)
	}
	switch strings.TrimSpace(string(result.Stdout)) {
	case "RUNNING":
		return types.ContainerStateRunning, nil
	case "STOPPED", "":
		return types.ContainerStateExited, nil
	default:
		return types.ContainerStateRestarting, nil
	}
}

// createAndStart pulls spec.Image if needed and runs it detached under
// ctr, attaching the labels step 4 requires (T, version, host_port,
// started_at). Host-port publishing only applies in multi-host sidecar
// mode; spec.HostPort is 0 when the container is reached by name over the
// container network instead.
func createAndStart(ctx context.Context, executor execute.Executor, host, user string, spec execute.ContainerSpec, tuple types.Tuple, version string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "ctr -n %s run -d", execute.Namespace)

	for _, e := range spec.Env {
		fmt.Fprintf(&b, " --env %q", e)
	}
	for _, m := range spec.Mounts {
		opts := "rbind,rw"
		if m.ReadOnly {
			opts = "rbind,ro"
		}
		fmt.Fprintf(&b, " --mount type=bind,src=%s,dst=%s,options=%s", m.Source, m.Destination, opts)
	}
	if spec.CPU > 0 {
		fmt.Fprintf(&b, " --cpus %.2f", spec.CPU)
	}
	if spec.Memory > 0 {
		fmt.Fprintf(&b, " --memory-limit %d", spec.Memory)
	}
	if spec.HostPort > 0 && spec.ContainerPort > 0 {
		fmt.Fprintf(&b, " --net-host --env FORGE_HOST_PORT=%d", spec.HostPort)
	} else {
		b.WriteString(" --net-host")
	}
	fmt.Fprintf(&b, " --label forge.tuple=%s --label forge.version=%s --label forge.host_port=%d --label forge.started_at=%s",
		tuple.String(), version, spec.HostPort, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, " %s %s", spec.Image, spec.Name)

	result, err := executor.Run(ctx, host, user, b.String(), nil, createTimeout)
	if err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "ctr run "+spec.Name+" on "+host, err).OnHost(host)
	}
	if result.ExitCode != 0 {
		return forgeerr.New(forgeerr.HealthGateCrash, "ctr run "+spec.Name+" on "+host+" exited "+strconv.Itoa(result.ExitCode)+": "+string(result.Stderr)).OnHost(host)
	}
	return nil
}

// runOneShot runs spec as a one-off task for a scheduled service's cron
// invocation or smoke test, waiting for it to exit rather than leaving it
// detached (spec §4.G "Scheduled services").
func runOneShot(ctx context.Context, executor execute.Executor, host, user string, spec execute.ContainerSpec, args string, timeout time.Duration) (*execute.Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "ctr -n %s run --rm", execute.Namespace)
	for _, e := range spec.Env {
		fmt.Fprintf(&b, " --env %q", e)
	}
	fmt.Fprintf(&b, " %s %s-oneshot-%d", spec.Image, spec.Name, time.Now().UnixNano())
	if args != "" {
		fmt.Fprintf(&b, " %s", args)
	}

	return executor.Run(ctx, host, user, b.String(), nil, timeout)
}

// stopAndRemove kills the named task (SIGTERM, grace period implied by ctr
// task kill semantics) and deletes the container, tolerating an already-gone
// container so rollback paths can call it idempotently.
func stopAndRemove(ctx context.Context, executor execute.Executor, host, user, name string) error {
	cmd := fmt.Sprintf("ctr -n %s t kill %s 2>/dev/null; ctr -n %s t rm %s 2>/dev/null; ctr -n %s c rm %s",
		execute.Namespace, name, execute.Namespace, name, execute.Namespace, name)
	result, err := executor.Run(ctx, host, user, cmd, nil, stopTimeout)
	if err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "stop and remove "+name+" on "+host, err).OnHost(host)
	}
	// A missing container is a success from the caller's point of view;
	// only surface genuinely unexpected exits.
	if result.ExitCode != 0 && result.ExitCode != 1 {
		return forgeerr.New(forgeerr.TransportError, "remove "+name+" on "+host+" exited "+strconv.Itoa(result.ExitCode)+": "+string(result.Stderr)).OnHost(host)
	}
	return nil
}
