package deploy

import (
	"context"
	"time"

	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/naming"
	"github.com/cuemby/forge/pkg/sidecar"
	"github.com/cuemby/forge/pkg/types"
)

const bakeRetryBudget = 10 * time.Minute

// allocateHosts implements spec §4.G steps 1-2: reuse hosts already
// tagged for this (tenant, project, env, zone), reclaim matching-size
// reserve hosts for any shortfall, and provision the remainder fresh from
// the zone's template snapshot.
func (e *Engine) allocateHosts(ctx context.Context, t types.Tuple, zone, size string, desiredCount int) ([]types.Server, error) {
	scopeTags := []string{
		types.TagOwner + ":" + t.Tenant,
		types.TagProject + ":" + t.Project,
		types.TagEnv + ":" + t.Env,
		types.TagZone + ":" + zone,
	}

	existing, err := e.inv.List(ctx, scopeTags)
	if err != nil {
		return nil, err
	}

	hosts := existing
	shortfall := desiredCount - len(hosts)
	if shortfall <= 0 {
		return hosts[:desiredCount], nil
	}

	reserve, err := e.inv.List(ctx, []string{types.TagStatus + ":" + string(types.ServerStatusReserve), types.TagZone + ":" + zone})
	if err != nil {
		return nil, err
	}

	ownedTags := append([]string{types.TagStatus + ":" + string(types.ServerStatusActive)}, scopeTags...)

	for i := 0; i < len(reserve) && shortfall > 0; i++ {
		server := reserve[i]
		if err := e.inv.SetTags(ctx, server.ID, ownedTags); err != nil {
			return nil, err
		}
		server.Tags = ownedTags
		hosts = append(hosts, server)
		shortfall--
	}

	for ; shortfall > 0; shortfall-- {
		snapshotID, err := e.templates.EnsureTemplate(ctx, zone)
		if err != nil {
			return nil, err
		}
		server, err := e.inv.CloneFromSnapshot(ctx, snapshotID, size, zone, ownedTags)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, server)
	}

	return hosts, nil
}

// updateSidecarsAllHosts implements spec §4.G step 7: compute the backend
// set for t across every host in the zone and push the new config to
// every host in the zone (not just the hosts this rollout touched —
// peers outside the rollout still need the updated upstream list).
func (e *Engine) updateSidecarsAllHosts(ctx context.Context, t types.Tuple, svc config.ServiceSpec, rolledOutHosts []types.Server, toggles map[string]types.Toggle) error {
	backends := make([]sidecar.Backend, 0, len(rolledOutHosts))
	for _, server := range rolledOutHosts {
		host := hostAddress(server)
		toggle, ok := toggles[host]
		if !ok {
			continue
		}
		backends = append(backends, sidecar.Backend{
			HostID:        server.ID,
			PrivateIP:     server.PrivateIP,
			ContainerName: naming.ContainerNameForToggle(t, toggle),
			HostPort:      naming.HostPortForToggle(t, svc.ContainerPort, toggle),
		})
	}

	block := sidecar.BuildBlock(t, svc.ContainerPort, backends, 2*time.Second, 60*time.Second, svc.Domain != "", svc.Domain)

	pushed := make([]string, 0, len(rolledOutHosts))
	for _, server := range rolledOutHosts {
		host := hostAddress(server)
		if err := e.sidecars.Push(ctx, host, block); err != nil {
			// Partial failure: revert the file on whichever hosts
			// already got the new config, matching the successful
			// subset rollback spec §4.G's "Rollback policy" requires.
			for _, done := range pushed {
				_ = e.sidecars.Remove(ctx, done, t, svc.Domain != "")
			}
			return err
		}
		pushed = append(pushed, host)
	}
	return nil
}

// reclaimHosts implements spec §4.G step 9: any host left with no active
// deployment for this tuple's (tenant, project, env) scope goes back to
// reserve. A tenant-configured "over budget" destroy path exists in the
// full system but is out of scope for this pass — reclaimed hosts are
// always retagged reserve here, never destroyed.
func (e *Engine) reclaimHosts(ctx context.Context, t types.Tuple, zone string) error {
	scopeTags := []string{
		types.TagOwner + ":" + t.Tenant,
		types.TagProject + ":" + t.Project,
		types.TagEnv + ":" + t.Env,
		types.TagZone + ":" + zone,
	}
	hosts, err := e.inv.List(ctx, scopeTags)
	if err != nil {
		return err
	}
	base := naming.ContainerName(t)
	secondary := naming.ContainerNameAlt(t)
	for _, server := range hosts {
		live, err := listLiveContainers(ctx, e.executor, hostAddress(server), e.sshUser, base, secondary)
		if err != nil {
			continue
		}
		if !live[base] && !live[secondary] {
			if err := e.inv.Reserve(ctx, server.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// deployScheduled implements spec §4.G "Scheduled services": no
// long-running container, a cron entry runs the image as a one-shot, and
// the health gate is a dry-run smoke command instead of a running probe.
func (e *Engine) deployScheduled(ctx context.Context, t types.Tuple, svc config.ServiceSpec, version string, hosts []types.Server) error {
	if svc.Schedule == nil {
		return forgeerr.Config(t.String() + ": scheduled service missing schedule")
	}

	spec := executeSpecFor(t, svc)
	for _, server := range hosts {
		host := hostAddress(server)
		if err := ScheduledGate(ctx, e.executor, host, e.sshUser, spec, svc.Schedule.SmokeCmd, scheduledSmokeTimeout(svc)); err != nil {
			return err
		}
		if err := installCronEntry(ctx, e.executor, host, e.sshUser, t, svc.Schedule.Cron, spec.Image); err != nil {
			return err
		}
	}
	return nil
}

func scheduledSmokeTimeout(svc config.ServiceSpec) time.Duration {
	if svc.Schedule.HealthGate > 0 {
		return svc.Schedule.HealthGate
	}
	return 30 * time.Second
}
