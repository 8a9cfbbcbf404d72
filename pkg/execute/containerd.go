package execute

import (
	"bytes"
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/forge/pkg/types"
)

const (
	// Namespace is the containerd namespace every forge container lives in.
	Namespace = "forge"

	// DefaultSocketPath is the default containerd socket on a host
	// provisioned from the template snapshot (spec §4.D).
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements ContainerRuntime over a local containerd
// socket. One instance runs per host, driven either directly (when the
// control process itself is the host) or via a forge-agent process
// reached through the Remote Executor's SSH leg.
type ContainerdRuntime struct {
	client *containerd.Client
}

// NewContainerdRuntime connects to the containerd socket at socketPath
// (DefaultSocketPath if empty).
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &ContainerdRuntime{client: client}, nil
}

// Close closes the underlying containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}
	return nil
}

func (r *ContainerdRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return fmt.Errorf("get image %s: %w", spec.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}

	if spec.CPU > 0 {
		shares := uint64(spec.CPU * 1024)
		quota := int64(spec.CPU * 100000)
		const period = uint64(100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if spec.Memory > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.Memory)))
	}

	var mounts []specs.Mount
	for _, m := range spec.Mounts {
		options := []string{"rbind"}
		if m.ReadOnly {
			options = append(options, "ro")
		} else {
			options = append(options, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        "bind",
			Options:     options,
		})
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	_, err = r.client.NewContainer(
		ctx,
		spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return nil
}

func (r *ContainerdRuntime) StartContainer(ctx context.Context, name string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("load container %s: %w", name, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("create task for %s: %w", name, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task for %s: %w", name, err)
	}
	return nil
}

func (r *ContainerdRuntime) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("load container %s: %w", name, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means it's already stopped.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal task for %s: %w", name, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("wait on task for %s: %w", name, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force kill task for %s: %w", name, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("delete task for %s: %w", name, err)
	}
	return nil
}

func (r *ContainerdRuntime) DeleteContainer(ctx context.Context, name string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		// Already gone.
		return nil
	}

	if err := r.StopContainer(ctx, name, 10*time.Second); err != nil {
		return fmt.Errorf("stop before delete %s: %w", name, err)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container %s: %w", name, err)
	}
	return nil
}

func (r *ContainerdRuntime) Status(ctx context.Context, name string) (types.ContainerInfo, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return types.ContainerInfo{Name: name, State: types.ContainerStateMissing}, nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.ContainerInfo{Name: name, State: types.ContainerStateExited}, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.ContainerInfo{}, fmt.Errorf("task status for %s: %w", name, err)
	}

	info := types.ContainerInfo{Name: name}
	switch status.Status {
	case containerd.Running, containerd.Paused:
		info.State = types.ContainerStateRunning
	case containerd.Stopped:
		info.State = types.ContainerStateExited
		info.ExitCode = int(status.ExitStatus)
	default:
		info.State = types.ContainerStateRestarting
	}
	return info, nil
}

func (r *ContainerdRuntime) ListContainers(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}

// Exec runs argv inside the named container's running task, using a fresh
// exec process that shares the task's namespaces. Used by the Remote
// Executor's ExecInContainer for the local leg, and by the Health Agent's
// POST /restart path to probe process liveness without a full restart.
func (r *ContainerdRuntime) Exec(ctx context.Context, name string, argv []string) (int, []byte, []byte, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return -1, nil, nil, fmt.Errorf("load container %s: %w", name, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return -1, nil, nil, fmt.Errorf("load task for %s: %w", name, err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return -1, nil, nil, fmt.Errorf("load spec for %s: %w", name, err)
	}

	procSpec := *spec.Process
	procSpec.Args = argv
	procSpec.Terminal = false

	var stdout, stderr bytes.Buffer
	execID := fmt.Sprintf("exec-%d", time.Now().UnixNano())
	process, err := task.Exec(ctx, execID, &procSpec, cio.NewCreator(cio.WithStreams(bytes.NewReader(nil), &stdout, &stderr)))
	if err != nil {
		return -1, nil, nil, fmt.Errorf("create exec process in %s: %w", name, err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return -1, nil, nil, fmt.Errorf("wait on exec process in %s: %w", name, err)
	}
	if err := process.Start(ctx); err != nil {
		return -1, nil, nil, fmt.Errorf("start exec process in %s: %w", name, err)
	}

	status := <-statusC
	code, _, err := status.Result()
	if err != nil {
		return -1, stdout.Bytes(), stderr.Bytes(), fmt.Errorf("exec result in %s: %w", name, err)
	}
	return int(code), stdout.Bytes(), stderr.Bytes(), nil
}
