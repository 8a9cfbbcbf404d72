package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/types"
)

func testTuple() types.Tuple {
	return types.Tuple{Tenant: "acme", Project: "shop", Env: "prod", Service: "web"}
}

func TestDetermineToggleNeitherLive(t *testing.T) {
	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte("")}, nil)

	probe, err := DetermineToggle(context.Background(), exec, "10.0.0.1", "forge", testTuple(), 8080)
	require.NoError(t, err)
	assert.Equal(t, types.ToggleBase, probe.Toggle)
	assert.Equal(t, "acme_shop_prod_web", probe.Name)
}

func TestDetermineToggleBaseLivePicksSecondary(t *testing.T) {
	tuple := testTuple()
	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte(tuple.String() + "\n")}, nil)

	probe, err := DetermineToggle(context.Background(), exec, "10.0.0.1", "forge", tuple, 8080)
	require.NoError(t, err)
	assert.Equal(t, types.ToggleSecondary, probe.Toggle)
	assert.Equal(t, tuple.String()+"_secondary", probe.Name)
}

func TestDetermineToggleSecondaryLivePicksBase(t *testing.T) {
	tuple := testTuple()
	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte(tuple.String() + "_secondary\n")}, nil)

	probe, err := DetermineToggle(context.Background(), exec, "10.0.0.1", "forge", tuple, 8080)
	require.NoError(t, err)
	assert.Equal(t, types.ToggleBase, probe.Toggle)
	assert.Equal(t, tuple.String(), probe.Name)
}

func TestDetermineToggleBothLiveStopsOlder(t *testing.T) {
	tuple := testTuple()
	base := tuple.String()
	secondary := tuple.String() + "_secondary"

	exec := newFakeExecutor()
	exec.on("c list -q", &execute.Result{ExitCode: 0, Stdout: []byte(base + "\n" + secondary + "\n")}, nil)

	older := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	newer := time.Now().UTC().Format(time.RFC3339)
	exec.on("c info "+secondary+" |", &execute.Result{ExitCode: 0, Stdout: []byte(`{"started_at":"` + newer + `"}`)}, nil)
	exec.on("c info "+base+" |", &execute.Result{ExitCode: 0, Stdout: []byte(`{"started_at":"` + older + `"}`)}, nil)

	probe, err := DetermineToggle(context.Background(), exec, "10.0.0.1", "forge", tuple, 8080)
	require.NoError(t, err)
	// base is older, so it gets stopped and its slot reused.
	assert.Equal(t, types.ToggleBase, probe.Toggle)
	assert.Equal(t, base, probe.Name)
	assert.Equal(t, 1, exec.callCount("t kill "+base))
}
