package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/inventory"
	"github.com/cuemby/forge/pkg/sidecar"
	"github.com/cuemby/forge/pkg/types"
)

func scopeTagsFor(t types.Tuple, zone string) []string {
	return []string{
		types.TagOwner + ":" + t.Tenant,
		types.TagProject + ":" + t.Project,
		types.TagEnv + ":" + t.Env,
		types.TagZone + ":" + zone,
	}
}

func TestAllocateHostsReusesExisting(t *testing.T) {
	tuple := testTuple()
	tags := append([]string{types.TagStatus + ":active"}, scopeTagsFor(tuple, "nyc1")...)

	provider := newFakeProvider(
		types.Server{ID: "srv-1", PrivateIP: "10.0.0.1", Tags: tags},
		types.Server{ID: "srv-2", PrivateIP: "10.0.0.2", Tags: tags},
	)
	inv := inventory.New(provider)
	e := &Engine{inv: inv}

	hosts, err := e.allocateHosts(context.Background(), tuple, "nyc1", "c1-m1024", 2)
	require.NoError(t, err)
	assert.Len(t, hosts, 2)
}

func TestAllocateHostsReclaimsReserve(t *testing.T) {
	tuple := testTuple()
	activeTags := append([]string{types.TagStatus + ":active"}, scopeTagsFor(tuple, "nyc1")...)
	reserveTags := []string{types.TagStatus + ":reserve", types.TagZone + ":nyc1"}

	provider := newFakeProvider(
		types.Server{ID: "srv-1", PrivateIP: "10.0.0.1", Tags: activeTags},
		types.Server{ID: "srv-reserve", PrivateIP: "10.0.0.9", Tags: reserveTags},
	)
	inv := inventory.New(provider)
	e := &Engine{inv: inv}

	hosts, err := e.allocateHosts(context.Background(), tuple, "nyc1", "c1-m1024", 2)
	require.NoError(t, err)
	assert.Len(t, hosts, 2)

	found := false
	for _, h := range hosts {
		if h.ID == "srv-reserve" {
			found = true
		}
	}
	assert.True(t, found, "expected the reserve host to be reclaimed into the result")
}

func TestReclaimHostsRetagsIdleHost(t *testing.T) {
	tuple := testTuple()
	tags := append([]string{types.TagStatus + ":active"}, scopeTagsFor(tuple, "nyc1")...)
	provider := newFakeProvider(types.Server{ID: "srv-1", PrivateIP: "10.0.0.1", Tags: tags})
	inv := inventory.New(provider)

	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte("")}, nil)

	e := &Engine{inv: inv, executor: exec, sshUser: "forge"}
	err := e.reclaimHosts(context.Background(), tuple, "nyc1")
	require.NoError(t, err)

	listed, err := inv.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Contains(t, listed[0].Tags, types.TagStatus+":reserve")
}

func TestReclaimHostsLeavesLiveHostAlone(t *testing.T) {
	tuple := testTuple()
	tags := append([]string{types.TagStatus + ":active"}, scopeTagsFor(tuple, "nyc1")...)
	provider := newFakeProvider(types.Server{ID: "srv-1", PrivateIP: "10.0.0.1", Tags: tags})
	inv := inventory.New(provider)

	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte(tuple.String() + "\n")}, nil)

	e := &Engine{inv: inv, executor: exec, sshUser: "forge"}
	err := e.reclaimHosts(context.Background(), tuple, "nyc1")
	require.NoError(t, err)

	listed, err := inv.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Contains(t, listed[0].Tags, types.TagStatus+":active")
}

func TestUpdateSidecarsAllHostsPushesBlock(t *testing.T) {
	tuple := testTuple()
	exec := newFakeExecutor()
	exec.on("reload", &execute.Result{ExitCode: 0}, nil)

	e := &Engine{
		executor: exec,
		sidecars: sidecar.New(exec, "forge"),
		sshUser:  "forge",
	}

	hosts := []types.Server{{ID: "srv-1", PrivateIP: "10.0.0.1"}}
	toggles := map[string]types.Toggle{"10.0.0.1": types.ToggleBase}
	svc := config.ServiceSpec{ContainerPort: 8080}

	err := e.updateSidecarsAllHosts(context.Background(), tuple, svc, hosts, toggles)
	require.NoError(t, err)
	assert.Greater(t, exec.callCount("forge-sidecar reload"), 0)
	assert.Contains(t, exec.uploads, "/etc/forge/stream.d/"+tuple.String()+".conf")
}
