// Package template is the Template Provisioner (spec §4.D): per-region
// it lazily bakes a snapshot containing the container runtime, sidecar
// binary, health agent, and health-monitor cron entry, then clones new
// hosts from that snapshot instead of installing software on every
// boot. Reprovisioning a template is a deliberate, manual act — old
// servers are never re-imaged in place.
package template

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/inventory"
	"github.com/cuemby/forge/pkg/log"
	"github.com/cuemby/forge/pkg/types"
)

// InstallStep is one provisioning command run on the transient VM
// before it is snapshotted. Steps run in order; the first failure
// aborts provisioning and the transient VM is still destroyed.
type InstallStep struct {
	Name string
	Cmd  string
}

// DefaultInstallSteps mirrors spec §4.D's snapshot contents: container
// runtime, sidecar binary plus an empty stream.d, the health agent
// binary and its systemd unit, and the health-monitor cron entry.
func DefaultInstallSteps() []InstallStep {
	return []InstallStep{
		{Name: "container-runtime", Cmd: "curl -fsSL https://get.forge.invalid/containerd.sh | sh"},
		{Name: "sidecar-binary", Cmd: "mkdir -p /etc/forge/stream.d /etc/forge/http.d && curl -fsSL https://get.forge.invalid/sidecar -o /usr/local/bin/forge-sidecar && chmod +x /usr/local/bin/forge-sidecar"},
		{Name: "health-agent", Cmd: "curl -fsSL https://get.forge.invalid/forge-agent -o /usr/local/bin/forge-agent && chmod +x /usr/local/bin/forge-agent"},
		{Name: "health-agent-unit", Cmd: "systemctl enable --now forge-agent.service"},
		{Name: "health-monitor-cron", Cmd: `(crontab -l 2>/dev/null; echo "* * * * * /usr/local/bin/forge-agent monitor-tick") | crontab -`},
		{Name: "backup-cron", Cmd: `(crontab -l 2>/dev/null; echo "0 3 * * * /usr/local/bin/forge-agent backup-tick") | crontab -`},
	}
}

// Config parameterises what kind of transient VM a region's template
// is baked on, before it's handed to InstallSteps.
type Config struct {
	BaseImage    string // e.g. a stock distro image slug
	BakeSize     string // instance size used only during bake
	InstallSteps []InstallStep
	BakeTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.InstallSteps == nil {
		c.InstallSteps = DefaultInstallSteps()
	}
	if c.BakeTimeout == 0 {
		c.BakeTimeout = 10 * time.Minute
	}
	return c
}

// Provisioner owns one versioned snapshot per region and serialises
// bake operations so two concurrent AllocateHosts calls for the same
// region never race to bake the same template twice.
type Provisioner struct {
	inv      *inventory.Inventory
	executor execute.Executor
	cfg      Config

	mu        sync.Mutex
	snapshots map[string]snapshotInfo // region -> current template
	version   int
}

type snapshotInfo struct {
	ID      string
	Version int
}

func New(inv *inventory.Inventory, executor execute.Executor, cfg Config) *Provisioner {
	return &Provisioner{
		inv:       inv,
		executor:  executor,
		cfg:       cfg.withDefaults(),
		snapshots: map[string]snapshotInfo{},
	}
}

// EnsureTemplate returns the current template snapshot ID for region,
// baking one if none exists yet. Safe for concurrent use; only one
// bake per region runs at a time, and a concurrent caller observes the
// winner's result rather than baking its own.
func (p *Provisioner) EnsureTemplate(ctx context.Context, region string) (string, error) {
	p.mu.Lock()
	if existing, ok := p.snapshots[region]; ok {
		p.mu.Unlock()
		return existing.ID, nil
	}
	p.mu.Unlock()

	snapshotID, err := p.bake(ctx, region)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.snapshots[region]; ok {
		// Lost the race to a concurrent bake; prefer whichever was
		// recorded first and discard ours.
		if existing.ID != snapshotID {
			_ = p.inv.DeleteSnapshot(context.Background(), snapshotID)
		}
		return existing.ID, nil
	}
	p.version++
	p.snapshots[region] = snapshotInfo{ID: snapshotID, Version: p.version}
	return snapshotID, nil
}

// Reprovision forces a new template version for region regardless of
// whether one already exists (spec §4.D: "reprovisioning ... is
// manual"). Existing servers are left on their current image.
func (p *Provisioner) Reprovision(ctx context.Context, region string) (string, error) {
	snapshotID, err := p.bake(ctx, region)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.version++
	p.snapshots[region] = snapshotInfo{ID: snapshotID, Version: p.version}
	p.mu.Unlock()
	return snapshotID, nil
}

func (p *Provisioner) bake(ctx context.Context, region string) (string, error) {
	logger := log.WithComponent("template")
	bakeCtx, cancel := context.WithTimeout(ctx, p.cfg.BakeTimeout)
	defer cancel()

	server, err := p.inv.Create(bakeCtx, region, p.cfg.BakeSize, p.cfg.BaseImage, []string{
		types.TagStatus + ":" + string(types.ServerStatusBaking),
	})
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.ProviderErrorTransient, "provision transient bake VM", err)
	}

	// Always attempt to destroy the transient VM, bake succeeded or not.
	defer func() {
		if destroyErr := p.inv.Destroy(context.Background(), server.ID); destroyErr != nil {
			logger.Warn().Err(destroyErr).Str("server_id", server.ID).Msg("failed to destroy transient bake VM")
		}
	}()

	if err := p.waitForSSH(bakeCtx, server); err != nil {
		return "", err
	}

	for _, step := range p.cfg.InstallSteps {
		logger.Info().Str("region", region).Str("step", step.Name).Msg("running install step")
		result, err := p.executor.Run(bakeCtx, server.PublicIP, "root", step.Cmd, nil, 2*time.Minute)
		if err != nil {
			return "", forgeerr.Wrap(forgeerr.ProviderErrorTransient, "install step "+step.Name+" failed to run", err)
		}
		if result.ExitCode != 0 {
			return "", forgeerr.New(forgeerr.ProviderErrorPermanent,
				fmt.Sprintf("install step %s exited %d: %s", step.Name, result.ExitCode, string(result.Stderr)))
		}
	}

	name := fmt.Sprintf("template-%s-%d", region, time.Now().Unix())
	snapshotID, err := p.inv.Snapshot(bakeCtx, server.ID, name)
	if err != nil {
		return "", err
	}

	logger.Info().Str("region", region).Str("snapshot_id", snapshotID).Msg("baked new template snapshot")
	return snapshotID, nil
}

// waitForSSH polls until the bake VM accepts a trivial command,
// bounding boot time separately from the install steps that follow.
func (p *Provisioner) waitForSSH(ctx context.Context, server types.Server) error {
	deadline := time.Now().Add(90 * time.Second)
	for {
		_, err := p.executor.Run(ctx, server.PublicIP, "root", "true", nil, 5*time.Second)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return forgeerr.Wrap(forgeerr.ProviderErrorTransient, "bake VM never became reachable over SSH", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// CurrentVersion reports the template version currently in force for
// region, or 0 if none has been baked.
func (p *Provisioner) CurrentVersion(region string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots[region].Version
}
