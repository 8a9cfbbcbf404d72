package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/deploy"
	"github.com/cuemby/forge/pkg/events"
	"github.com/cuemby/forge/pkg/inventory"
	"github.com/cuemby/forge/pkg/secrets"
	"github.com/cuemby/forge/pkg/sidecar"
	"github.com/cuemby/forge/pkg/template"
	"github.com/cuemby/forge/pkg/types"
)

func testScope() Scope {
	return Scope{Tenant: "acme", Project: "web", Env: "prod", Zone: "nyc1"}
}

func activeTagsFor(s Scope) []string {
	return []string{
		types.TagStatus + ":" + string(types.ServerStatusActive),
		types.TagOwner + ":" + s.Tenant,
		types.TagProject + ":" + s.Project,
		types.TagEnv + ":" + s.Env,
		types.TagZone + ":" + s.Zone,
	}
}

func newTestEngine(provider *fakeProvider) *deploy.Engine {
	inv := inventory.New(provider)
	exec := fakeExecutor{}
	templates := template.New(inv, exec, template.Config{})
	sidecars := sidecar.New(exec, "forge")
	mgr, _ := secrets.New(make([]byte, 32), exec, "forge")
	store := secrets.NewStore(mgr)
	return deploy.New(inv, exec, templates, sidecars, store, "forge")
}

func TestElectLeaderPicksLowestIP(t *testing.T) {
	leader := electLeader(map[string]bool{
		"10.0.0.5": true,
		"10.0.0.2": true,
		"10.0.0.9": false,
	})
	assert.Equal(t, "10.0.0.2", leader)
}

func TestElectLeaderIgnoresUnhealthy(t *testing.T) {
	leader := electLeader(map[string]bool{"10.0.0.1": false})
	assert.Equal(t, "", leader)
}

func TestTickNonLeaderOnlyReports(t *testing.T) {
	scope := testScope()
	tags := activeTagsFor(scope)
	provider := newFakeProviderMonitor(
		types.Server{ID: "self", PrivateIP: "10.0.0.9", Tags: tags},
		types.Server{ID: "peer", PrivateIP: "10.0.0.1", Tags: tags},
	)
	inv := inventory.New(provider)
	ag := newFakeAgent()
	ag.setHealthy("10.0.0.9:7780")
	ag.setHealthy("10.0.0.1:7780")

	m := New(scope, "10.0.0.9", ag, inv, nil, nil, nil, nil, nil)
	err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ag.restarts, "non-leader must never attempt recovery")
}

func TestTickLeaderRunsStage1OnBrokenContainer(t *testing.T) {
	scope := testScope()
	tags := activeTagsFor(scope)
	provider := newFakeProviderMonitor(
		types.Server{ID: "self", PrivateIP: "10.0.0.1", Tags: tags},
		types.Server{ID: "peer", PrivateIP: "10.0.0.9", Tags: tags},
	)
	inv := inventory.New(provider)
	ag := newFakeAgent()
	ag.setHealthy("10.0.0.1:7780")
	ag.setBrokenContainer("10.0.0.9:7780", "acme_web_prod_api")

	broker := events.NewBroker()
	m := New(scope, "10.0.0.1", ag, inv, nil, nil, nil, nil, broker)

	for i := 0; i < failureThreshold; i++ {
		require.NoError(t, m.Tick(context.Background()))
	}

	require.Len(t, ag.restarts, 1)
	assert.Equal(t, "10.0.0.9:7780/acme_web_prod_api", ag.restarts[0])
}

func TestTickLeaderRunsStage2WhenPeerUnreachable(t *testing.T) {
	scope := testScope()
	tags := activeTagsFor(scope)
	provider := newFakeProviderMonitor(
		types.Server{ID: "self", PrivateIP: "10.0.0.1", Tags: tags},
		types.Server{ID: "peer", PrivateIP: "10.0.0.9", CPU: 1, MemoryMB: 1024, Tags: tags},
	)
	inv := inventory.New(provider)
	ag := newFakeAgent()
	ag.setHealthy("10.0.0.1:7780")
	ag.setUnreachable("10.0.0.9:7780", errors.New("dial timeout"))

	engine := newTestEngine(provider)
	m := New(scope, "10.0.0.1", ag, inv, engine, template.New(inv, fakeExecutor{}, template.Config{}), []config.ServiceSpec{}, func() string { return "v1" }, nil)

	for i := 0; i < failureThreshold; i++ {
		require.NoError(t, m.Tick(context.Background()))
	}

	listed, err := inv.List(context.Background(), nil)
	require.NoError(t, err)

	var sawReplacement bool
	for _, s := range listed {
		if s.ID == "peer" {
			t.Fatalf("failed host should have been destroyed")
		}
		if s.ID != "self" {
			sawReplacement = true
		}
	}
	assert.True(t, sawReplacement, "expected a replacement host to exist")
}

func TestAcquireRecoveryLockRefusesUnexpiredOtherLeader(t *testing.T) {
	scope := testScope()
	server := types.Server{ID: "peer", PrivateIP: "10.0.0.9", Tags: []string{
		types.TagRecoveryOwner + ":10.0.0.2:9999999999",
	}}
	provider := newFakeProviderMonitor(server)
	inv := inventory.New(provider)
	m := New(scope, "10.0.0.1", newFakeAgent(), inv, nil, nil, nil, nil, nil)

	acquired, err := m.acquireRecoveryLock(context.Background(), server)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestCancelRecoveryRemovesLockTag(t *testing.T) {
	scope := testScope()
	server := types.Server{ID: "peer", PrivateIP: "10.0.0.9", Tags: []string{
		types.TagZone + ":nyc1",
		types.TagRecoveryOwner + ":10.0.0.2:123",
	}}
	provider := newFakeProviderMonitor(server)
	inv := inventory.New(provider)
	m := New(scope, "10.0.0.1", newFakeAgent(), inv, nil, nil, nil, nil, nil)

	require.NoError(t, m.CancelRecovery(context.Background(), server))

	listed, err := inv.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.NotContains(t, listed[0].Tags, types.TagRecoveryOwner+":10.0.0.2:123")
}
