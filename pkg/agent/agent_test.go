package agent

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/types"
)

func TestHealthRejectsMissingSecret(t *testing.T) {
	srv := New(newFakeRuntime(), &fakeReloader{}, "sekrit", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient("wrong")
	_, err := client.Health(context.Background(), ts.Listener.Addr().String())
	require.Error(t, err)
}

func TestHealthReportsContainers(t *testing.T) {
	rt := newFakeRuntime()
	rt.containers["acme_web_prod_api"] = types.ContainerInfo{Name: "acme_web_prod_api", State: types.ContainerStateRunning}

	srv := New(rt, &fakeReloader{}, "sekrit", "/tmp")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient("sekrit")
	resp, err := client.Health(context.Background(), ts.Listener.Addr().String())
	require.NoError(t, err)
	assert.True(t, resp.DockerOK)
	require.Len(t, resp.Containers, 1)
	assert.Equal(t, "running", resp.Containers[0].State)
}

func TestRestartTransitionsBackToRunning(t *testing.T) {
	rt := newFakeRuntime()
	rt.containers["acme_web_prod_api"] = types.ContainerInfo{Name: "acme_web_prod_api", State: types.ContainerStateRunning}

	srv := New(rt, &fakeReloader{}, "sekrit", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient("sekrit")
	err := client.Restart(context.Background(), ts.Listener.Addr().String(), "acme_web_prod_api")
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStateRunning, rt.containers["acme_web_prod_api"].State)
}

func TestDeployIsIdempotentByName(t *testing.T) {
	rt := newFakeRuntime()
	rt.containers["acme_web_prod_api"] = types.ContainerInfo{Name: "acme_web_prod_api", State: types.ContainerStateRunning}

	srv := New(rt, &fakeReloader{}, "sekrit", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient("sekrit")
	err := client.Deploy(context.Background(), ts.Listener.Addr().String(), ContainerSpecDTO{
		Name: "acme_web_prod_api", Image: "acme/web:v2",
	})
	require.NoError(t, err)
	assert.Empty(t, rt.pulled, "existing container should not trigger a pull")
}

func TestDeployCreatesMissingContainer(t *testing.T) {
	rt := newFakeRuntime()
	srv := New(rt, &fakeReloader{}, "sekrit", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient("sekrit")
	err := client.Deploy(context.Background(), ts.Listener.Addr().String(), ContainerSpecDTO{
		Name: "acme_web_prod_api", Image: "acme/web:v2",
	})
	require.NoError(t, err)
	assert.Contains(t, rt.pulled, "acme/web:v2")
	assert.Equal(t, types.ContainerStateRunning, rt.containers["acme_web_prod_api"].State)
}

func TestReloadSidecarInvokesReloader(t *testing.T) {
	reloader := &fakeReloader{}
	srv := New(newFakeRuntime(), reloader, "sekrit", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient("sekrit")
	err := client.ReloadSidecar(context.Background(), ts.Listener.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, 1, reloader.calls)
}

var _ execute.ContainerRuntime = (*fakeRuntime)(nil)
