package agent

import (
	"context"
	"time"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/types"
)

// fakeRuntime is an in-memory execute.ContainerRuntime double, mirroring
// the fakeExecutor pattern pkg/deploy's tests use.
type fakeRuntime struct {
	containers map[string]types.ContainerInfo
	pulled     []string
	listErr    error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: map[string]types.ContainerInfo{}}
}

func (f *fakeRuntime) PullImage(ctx context.Context, imageRef string) error {
	f.pulled = append(f.pulled, imageRef)
	return nil
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, spec execute.ContainerSpec) error {
	f.containers[spec.Name] = types.ContainerInfo{Name: spec.Name, State: types.ContainerStateExited}
	return nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, name string) error {
	info := f.containers[name]
	info.Name = name
	info.State = types.ContainerStateRunning
	f.containers[name] = info
	return nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	info := f.containers[name]
	info.State = types.ContainerStateExited
	f.containers[name] = info
	return nil
}

func (f *fakeRuntime) DeleteContainer(ctx context.Context, name string) error {
	delete(f.containers, name)
	return nil
}

func (f *fakeRuntime) Status(ctx context.Context, name string) (types.ContainerInfo, error) {
	info, ok := f.containers[name]
	if !ok {
		return types.ContainerInfo{Name: name, State: types.ContainerStateMissing}, nil
	}
	return info, nil
}

func (f *fakeRuntime) ListContainers(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.containers))
	for name := range f.containers {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, name string, argv []string) (int, []byte, []byte, error) {
	return 0, nil, nil, nil
}

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(ctx context.Context) error {
	f.calls++
	return f.err
}
