package deploy

import (
	"context"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/naming"
	"github.com/cuemby/forge/pkg/types"
)

// DetermineToggle implements spec §4.G step 3: ask the Remote Executor
// which of container_name(T)/container_name_alt(T) is currently live on
// host, and pick the other one for the new rollout. If both are somehow
// live (crash recovery left a stale container behind) the older one is
// stopped and removed so its slot can be reused.
func DetermineToggle(ctx context.Context, executor execute.Executor, host, user string, t types.Tuple, containerPort int) (naming.LiveProbe, error) {
	base := naming.ContainerName(t)
	secondary := naming.ContainerNameAlt(t)

	live, err := listLiveContainers(ctx, executor, host, user, base, secondary)
	if err != nil {
		return naming.LiveProbe{}, err
	}

	baseLive, secondaryLive := live[base], live[secondary]

	switch {
	case !baseLive && !secondaryLive:
		return naming.LiveProbe{
			Name:   base,
			Port:   naming.HostPortBaseFor(t, containerPort),
			Toggle: types.ToggleBase,
		}, nil

	case baseLive && !secondaryLive:
		return naming.LiveProbe{
			Name:   secondary,
			Port:   naming.HostPortAltFor(t, containerPort),
			Toggle: types.ToggleSecondary,
		}, nil

	case !baseLive && secondaryLive:
		return naming.LiveProbe{
			Name:   base,
			Port:   naming.HostPortBaseFor(t, containerPort),
			Toggle: types.ToggleBase,
		}, nil

	default:
		// Both live: crash recovery. Stop the older one and reuse its
		// slot for the new rollout.
		baseStarted, err := containerStartedAt(ctx, executor, host, user, base)
		if err != nil {
			return naming.LiveProbe{}, err
		}
		secondaryStarted, err := containerStartedAt(ctx, executor, host, user, secondary)
		if err != nil {
			return naming.LiveProbe{}, err
		}

		older, olderToggle := base, types.ToggleBase
		if secondaryStarted.Before(baseStarted) {
			older, olderToggle = secondary, types.ToggleSecondary
		}
		if err := stopAndRemove(ctx, executor, host, user, older); err != nil {
			return naming.LiveProbe{}, err
		}

		return naming.LiveProbe{
			Name:   naming.ContainerNameForToggle(t, olderToggle),
			Port:   naming.HostPortForToggle(t, containerPort, olderToggle),
			Toggle: olderToggle,
		}, nil
	}
}
