package sidecar

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/types"
)

func tuple() types.Tuple {
	return types.Tuple{Tenant: "u1", Project: "myapp", Env: "prod", Service: "postgres"}
}

func TestDetermineModeSingleHost(t *testing.T) {
	backends := []Backend{
		{HostID: "host-a", ContainerName: "u1_myapp_prod_postgres"},
	}
	assert.Equal(t, ModeSingleHost, DetermineMode(backends))
}

func TestDetermineModeMultiHostWhenHostsDiffer(t *testing.T) {
	backends := []Backend{
		{HostID: "host-a", PrivateIP: "10.0.0.1", HostPort: 8001},
		{HostID: "host-b", PrivateIP: "10.0.0.2", HostPort: 8001},
	}
	assert.Equal(t, ModeMultiHost, DetermineMode(backends))
}

func TestBuildBlockSingleHostUsesContainerNameTarget(t *testing.T) {
	block := BuildBlock(tuple(), 5432, []Backend{
		{HostID: "host-a", ContainerName: "u1_myapp_prod_postgres"},
	}, time.Second, 30*time.Second, false, "")

	require.Len(t, block.Upstreams, 1)
	assert.Equal(t, "u1_myapp_prod_postgres:5432", block.Upstreams[0].Target)
	assert.False(t, block.HTTP)
}

func TestBuildBlockMultiHostUsesPrivateIPTarget(t *testing.T) {
	block := BuildBlock(tuple(), 5432, []Backend{
		{HostID: "host-a", PrivateIP: "10.0.0.1", HostPort: 8123},
		{HostID: "host-b", PrivateIP: "10.0.0.2", HostPort: 8124},
	}, time.Second, 30*time.Second, false, "")

	require.Len(t, block.Upstreams, 2)
	assert.Equal(t, "10.0.0.1:8123", block.Upstreams[0].Target)
	assert.Equal(t, "10.0.0.2:8124", block.Upstreams[1].Target)
}

func TestRenderStreamBlockContainsUpstreamAndListen(t *testing.T) {
	block := BuildBlock(tuple(), 5432, []Backend{
		{HostID: "host-a", ContainerName: "u1_myapp_prod_postgres"},
	}, time.Second, 30*time.Second, false, "")

	text, err := Render(block)
	require.NoError(t, err)
	assert.Contains(t, text, "upstream u1_myapp_prod_postgres {")
	assert.Contains(t, text, "server u1_myapp_prod_postgres:5432;")
	assert.Contains(t, text, "listen ")
}

func TestRenderHTTPBlockUsesServerName(t *testing.T) {
	block := BuildBlock(types.Tuple{Tenant: "u1", Project: "myapp", Env: "prod", Service: "api"}, 8080,
		[]Backend{{HostID: "host-a", ContainerName: "u1_myapp_prod_api"}},
		time.Second, 30*time.Second, true, "api.example.com")

	text, err := Render(block)
	require.NoError(t, err)
	assert.Contains(t, text, "server_name api.example.com;")
	assert.Contains(t, text, "proxy_pass http://u1_myapp_prod_api;")
}

type fakeExecutor struct {
	uploaded    map[string][]byte
	reloadFails bool
	reloadCalls int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{uploaded: map[string][]byte{}}
}

func (f *fakeExecutor) Run(ctx context.Context, host, user, cmd string, stdin io.Reader, timeout time.Duration) (*execute.Result, error) {
	if cmd == "forge-sidecar reload" {
		f.reloadCalls++
		if f.reloadFails {
			return &execute.Result{ExitCode: 1, Stderr: []byte("reload failed")}, nil
		}
		return &execute.Result{ExitCode: 0}, nil
	}
	return &execute.Result{ExitCode: 0}, nil
}

func (f *fakeExecutor) Upload(ctx context.Context, host, user, path string, data io.Reader, mode uint32) error {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	f.uploaded[path] = buf.Bytes()
	return nil
}

func (f *fakeExecutor) Download(ctx context.Context, host, user, path string) ([]byte, error) {
	data, ok := f.uploaded[path]
	if !ok {
		return nil, assertNotFound{path}
	}
	return data, nil
}

type assertNotFound struct{ path string }

func (e assertNotFound) Error() string { return "not found: " + e.path }

func (f *fakeExecutor) ExecInContainer(ctx context.Context, host, user, container, cmd string, timeout time.Duration) (*execute.Result, error) {
	return &execute.Result{}, nil
}

func TestConfiguratorPushWritesFileAndReloads(t *testing.T) {
	exec := newFakeExecutor()
	c := New(exec, "root")
	block := BuildBlock(tuple(), 5432, []Backend{{HostID: "h", ContainerName: "u1_myapp_prod_postgres"}}, time.Second, 30*time.Second, false, "")

	err := c.Push(context.Background(), "10.0.0.1", block)
	require.NoError(t, err)
	assert.Equal(t, 1, exec.reloadCalls)
	assert.Contains(t, string(exec.uploaded[StreamDir+"/u1_myapp_prod_postgres.conf"]), "upstream u1_myapp_prod_postgres")
}

func TestConfiguratorPushRestoresOldConfigOnReloadFailure(t *testing.T) {
	exec := newFakeExecutor()
	c := New(exec, "root")
	block := BuildBlock(tuple(), 5432, []Backend{{HostID: "h", ContainerName: "u1_myapp_prod_postgres"}}, time.Second, 30*time.Second, false, "")

	// Seed an existing config as if from a prior successful push.
	path := StreamDir + "/u1_myapp_prod_postgres.conf"
	exec.uploaded[path] = []byte("old-config")

	exec.reloadFails = true
	err := c.Push(context.Background(), "10.0.0.1", block)
	require.Error(t, err)
	assert.Equal(t, "old-config", string(exec.uploaded[path]))
}

func TestConfiguratorRemoveDeletesAndReloads(t *testing.T) {
	exec := newFakeExecutor()
	c := New(exec, "root")

	err := c.Remove(context.Background(), "10.0.0.1", tuple(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, exec.reloadCalls)
}
