package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/types"
)

func TestListLiveContainersParsesLines(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte("web\nworker\n")}, nil)

	live, err := listLiveContainers(context.Background(), exec, "10.0.0.1", "forge", "web", "missing")
	require.NoError(t, err)
	assert.True(t, live["web"])
	assert.False(t, live["missing"])
}

func TestListLiveContainersFailsOnNonZeroExit(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 1, Stderr: []byte("containerd unreachable")}, nil)

	_, err := listLiveContainers(context.Background(), exec, "10.0.0.1", "forge", "web")
	require.Error(t, err)
}

func TestContainerStatusRunning(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte("web\n")}, nil)
	exec.on("t list", &execute.Result{ExitCode: 0, Stdout: []byte("web  1  RUNNING\n")}, nil)

	state, err := containerStatus(context.Background(), exec, "10.0.0.1", "forge", "web")
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStateRunning, state)
}

func TestContainerStatusMissing(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte("")}, nil)

	state, err := containerStatus(context.Background(), exec, "10.0.0.1", "forge", "web")
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStateMissing, state)
}

func TestCreateAndStartBuildsExpectedInvocation(t *testing.T) {
	exec := newFakeExecutor()
	spec := execute.ContainerSpec{
		Name:          "acme_shop_prod_web",
		Image:         "acme/web:v3",
		ContainerPort: 8080,
		HostPort:      8123,
		CPU:           1.5,
		Memory:        512 * 1024 * 1024,
		Mounts: []execute.Mount{
			{Source: "/var/lib/forge/secrets/web", Destination: "/run/secrets", ReadOnly: true},
		},
	}

	err := createAndStart(context.Background(), exec, "10.0.0.1", "forge", spec, testTuple(), "v3")
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)
	cmd := exec.calls[0]
	assert.Contains(t, cmd, "ctr -n forge run -d")
	assert.Contains(t, cmd, "--cpus 1.50")
	assert.Contains(t, cmd, "--memory-limit 536870912")
	assert.Contains(t, cmd, "--mount type=bind,src=/var/lib/forge/secrets/web,dst=/run/secrets,options=rbind,ro")
	assert.Contains(t, cmd, "acme/web:v3 acme_shop_prod_web")
}

func TestCreateAndStartFailsOnNonZeroExit(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("ctr -n forge run -d", &execute.Result{ExitCode: 1, Stderr: []byte("image pull failed")}, nil)

	err := createAndStart(context.Background(), exec, "10.0.0.1", "forge", execute.ContainerSpec{Name: "web", Image: "acme/web:v3"}, testTuple(), "v3")
	require.Error(t, err)
}

func TestStopAndRemoveToleratesAlreadyGone(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("c rm", &execute.Result{ExitCode: 1}, nil)

	err := stopAndRemove(context.Background(), exec, "10.0.0.1", "forge", "web")
	assert.NoError(t, err)
}

func TestStopAndRemoveSurfacesUnexpectedExit(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("c rm", &execute.Result{ExitCode: 2, Stderr: []byte("permission denied")}, nil)

	err := stopAndRemove(context.Background(), exec, "10.0.0.1", "forge", "web")
	require.Error(t, err)
}
