package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/inventory"
	"github.com/cuemby/forge/pkg/log"
	"github.com/cuemby/forge/pkg/naming"
	"github.com/cuemby/forge/pkg/secrets"
	"github.com/cuemby/forge/pkg/sidecar"
	"github.com/cuemby/forge/pkg/template"
	"github.com/cuemby/forge/pkg/types"
)

// deploymentsDir mirrors pkg/secrets.BasePath's layout convention (spec §9
// directory layout): deployment records sit alongside secrets, under the
// same per-tuple tree.
const deploymentsDir = "/var/lib/deploy"

// Engine drives the Deployment Engine state machine (spec §4.G):
// Plan -> AllocateHosts -> ForEachHost{DetermineToggle -> Start ->
// HealthGate -> RecordDeployment} -> UpdateSidecarsAllHosts ->
// StopOldContainers -> ReclaimHosts, with rollback on any per-host
// failure between Start and UpdateSidecars.
type Engine struct {
	inv       *inventory.Inventory
	executor  execute.Executor
	templates *template.Provisioner
	sidecars  *sidecar.Configurator
	secretsSt *secrets.Store
	sshUser   string

	mu      sync.Mutex
	windows map[types.Tuple]*Window
}

// New builds an Engine over the already-constructed Naming/Remote
// Executor/Server Inventory/Template Provisioner/Sidecar Configurator/
// Secrets Store layers.
func New(inv *inventory.Inventory, executor execute.Executor, templates *template.Provisioner, sidecars *sidecar.Configurator, secretsSt *secrets.Store, sshUser string) *Engine {
	return &Engine{
		inv:       inv,
		executor:  executor,
		templates: templates,
		sidecars:  sidecars,
		secretsSt: secretsSt,
		sshUser:   sshUser,
		windows:   map[types.Tuple]*Window{},
	}
}

// Result is what one service's rollout produced, returned to the caller
// of Deploy for reporting.
type Result struct {
	Tuple  types.Tuple
	Toggle map[string]types.Toggle // host -> toggle chosen on that host
	Err    error
}

// Deploy converges the whole project to the desired state: services
// deploy wave by wave (spec §4.G "Ordering" — services at the same
// startup_order run in parallel, later waves wait for earlier ones), and
// a failure in one wave aborts every later wave since later services may
// depend on the failed one.
func (e *Engine) Deploy(ctx context.Context, version string, tenant, project, env string, services []config.ServiceSpec) ([]Result, error) {
	rolloutID := uuid.New().String()
	log.WithRollout(rolloutID).Info().
		Str("tenant", tenant).Str("project", project).Str("env", env).
		Str("version", version).Int("services", len(services)).
		Msg("rollout started")

	waves := config.Waves(services)
	byName := make(map[string]config.ServiceSpec, len(services))
	for _, svc := range services {
		byName[svc.Name] = svc
	}

	var all []Result
	for _, wave := range waves {
		type outcome struct {
			idx int
			res Result
		}
		outcomes := make(chan outcome, len(wave))
		var wg sync.WaitGroup

		for i, name := range wave {
			svc := byName[name]
			t := types.Tuple{Tenant: tenant, Project: project, Env: env, Service: svc.Name}
			wg.Add(1)
			go func(idx int, t types.Tuple, svc config.ServiceSpec) {
				defer wg.Done()
				res := e.deployService(ctx, t, svc, version, rolloutID)
				outcomes <- outcome{idx: idx, res: res}
			}(i, t, svc)
		}

		go func() {
			wg.Wait()
			close(outcomes)
		}()

		var waveErr error
		for o := range outcomes {
			all = append(all, o.res)
			if o.res.Err != nil && waveErr == nil {
				waveErr = o.res.Err
			}
		}
		if waveErr != nil {
			return all, waveErr
		}
	}
	return all, nil
}

// deployService runs the full per-service state machine: Plan,
// AllocateHosts, then the per-host ForEachHost steps fanned out
// concurrently (grounded on the fan-out-with-error-channel shape used
// elsewhere in this system for per-host operations), then the three
// global barrier steps.
func (e *Engine) deployService(ctx context.Context, t types.Tuple, svc config.ServiceSpec, version, rolloutID string) Result {
	logger := log.WithRollout(rolloutID).With().Str("component", "deploy").Logger()
	result := Result{Tuple: t, Toggle: map[string]types.Toggle{}}

	desiredCount := svc.ServersCount
	if desiredCount == 0 {
		desiredCount = 1
	}
	size := sizeSlug(svc.ServerCPU, svc.ServerMemory)

	hosts, err := e.allocateHosts(ctx, t, svc.ServerZone, size, desiredCount)
	if err != nil {
		result.Err = err
		return result
	}

	if svc.Kind == config.KindScheduled {
		result.Err = e.deployScheduled(ctx, t, svc, version, hosts)
		return result
	}

	type hostOutcome struct {
		host   string
		toggle types.Toggle
		oldName string
		err    error
	}
	outcomes := make(chan hostOutcome, len(hosts))
	var wg sync.WaitGroup
	multiHost := len(hosts) > 1

	for _, server := range hosts {
		host := hostAddress(server)
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			toggle, oldName, err := e.rolloutOneHost(ctx, host, server.ID, t, svc, version, multiHost)
			outcomes <- hostOutcome{host: host, toggle: toggle, oldName: oldName, err: err}
		}(host)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var succeeded []hostOutcome
	var failErr error
	for o := range outcomes {
		if o.err != nil {
			if failErr == nil {
				failErr = o.err
			}
			continue
		}
		succeeded = append(succeeded, o)
		result.Toggle[o.host] = o.toggle
	}

	if failErr != nil {
		// Rollback policy: stop and remove every new container this
		// rollout created, across every host that had succeeded so
		// far, and leave the old set serving (spec §4.G "Rollback
		// policy").
		for _, o := range succeeded {
			name := naming.ContainerNameForToggle(t, o.toggle)
			if err := stopAndRemove(ctx, e.executor, o.host, e.sshUser, name); err != nil {
				logger.Warn().Err(err).Str("host", o.host).Msg("rollback: failed to remove new container")
			}
		}
		result.Err = failErr
		return result
	}

	if err := e.updateSidecarsAllHosts(ctx, t, svc, hosts, result.Toggle); err != nil {
		// Sidecars never update to a failing backend set: undo the new
		// containers exactly as above, since UpdateSidecars failing
		// means this rollout never went live.
		for _, o := range succeeded {
			name := naming.ContainerNameForToggle(t, o.toggle)
			_ = stopAndRemove(ctx, e.executor, o.host, e.sshUser, name)
		}
		result.Err = err
		return result
	}

	for _, o := range succeeded {
		if o.oldName == "" {
			continue
		}
		if err := stopAndRemove(ctx, e.executor, o.host, e.sshUser, o.oldName); err != nil {
			logger.Warn().Err(err).Str("host", o.host).Str("container", o.oldName).Msg("failed to stop old container")
		}
	}

	if err := e.reclaimHosts(ctx, t, svc.ServerZone); err != nil {
		logger.Warn().Err(err).Str("tuple", t.String()).Msg("reclaim hosts step failed")
	}

	return result
}

// rolloutOneHost runs DetermineToggle, Start, HealthGate, and
// RecordDeployment on a single host (spec §4.G steps 3-6). It returns the
// toggle chosen and the name of the container that was live before this
// rollout (for StopOldContainers), or an error if any step failed.
func (e *Engine) rolloutOneHost(ctx context.Context, host, hostID string, t types.Tuple, svc config.ServiceSpec, version string, multiHost bool) (types.Toggle, string, error) {
	probe, err := DetermineToggle(ctx, e.executor, host, e.sshUser, t, svc.ContainerPort)
	if err != nil {
		return "", "", err
	}

	oldToggle := naming.OppositeToggle(probe.Toggle)
	oldName := naming.ContainerNameForToggle(t, oldToggle)

	if svc.StatefulBuiltin() {
		if err := e.pushStatefulSecret(ctx, host, t); err != nil {
			return "", "", err
		}
	}

	spec := e.containerSpec(t, svc, probe, multiHost)
	if err := createAndStart(ctx, e.executor, host, e.sshUser, spec, t, version); err != nil {
		return "", "", err
	}

	gate := GateSpec{
		Kind:          gateKindFor(svc),
		Host:          host,
		Port:          probe.Port,
		Timeout:       gateTimeout(svc),
		ContainerName: probe.Name,
		Executor:      e.executor,
		SSHUser:       e.sshUser,
	}
	if err := HealthGate(ctx, gate); err != nil {
		_ = stopAndRemove(ctx, e.executor, host, e.sshUser, probe.Name)
		return "", "", err
	}

	if err := e.recordDeployment(ctx, host, hostID, t, probe, version); err != nil {
		return "", "", err
	}

	return probe.Toggle, oldName, nil
}

func (e *Engine) containerSpec(t types.Tuple, svc config.ServiceSpec, probe naming.LiveProbe, multiHost bool) execute.ContainerSpec {
	spec := execute.ContainerSpec{
		Name:          probe.Name,
		Image:         svc.Image,
		ContainerPort: svc.ContainerPort,
		CPU:           float64(svc.ServerCPU),
		Memory:        int64(svc.ServerMemory) * 1024 * 1024,
		Mounts: []execute.Mount{
			{Source: secrets.BasePath + "/" + t.Tenant + "/" + t.Project + "/" + t.Env + "/secrets/" + t.Service, Destination: "/run/secrets", ReadOnly: true},
			{Source: deploymentsDir + "/" + t.Tenant + "/" + t.Project + "/" + t.Env + "/data/" + t.Service, Destination: "/data", ReadOnly: false},
			{Source: deploymentsDir + "/" + t.Tenant + "/" + t.Project + "/" + t.Env + "/logs/" + t.Service, Destination: "/logs", ReadOnly: false},
		},
	}
	if svc.StatefulBuiltin() {
		// The Backup Orchestrator (spec §4.J) execs its dump/verify
		// tooling inside this same running container, writing into the
		// same host directory it then prunes from directly.
		spec.Mounts = append(spec.Mounts, execute.Mount{
			Source:      deploymentsDir + "/" + t.Tenant + "/" + t.Project + "/" + t.Env + "/backups/" + t.Service,
			Destination: "/backups",
			ReadOnly:    false,
		})
	}
	// Host-port publishing only matters in multi-host sidecar mode
	// (spec §4.E); single-host services are reached by container name
	// over the container network instead.
	if multiHost {
		spec.HostPort = probe.Port
	}
	return spec
}

func gateKindFor(svc config.ServiceSpec) GateKind {
	switch {
	case svc.Domain != "":
		return GateHTTP
	case svc.ContainerPort > 0:
		return GateTCP
	default:
		return GateWorker
	}
}

func gateTimeout(svc config.ServiceSpec) time.Duration {
	if svc.Kind.StatefulBuiltin() {
		return 5 * time.Minute
	}
	return defaultGateTimeout
}

// pushStatefulSecret ensures a stateful service's generated password
// exists (generating it on first deploy) and pushes it to host's
// secrets directory so the container mount rolloutOneHost is about to
// create already has it in place by the time the container starts.
func (e *Engine) pushStatefulSecret(ctx context.Context, host string, t types.Tuple) error {
	if e.secretsSt == nil {
		return nil
	}
	if _, err := e.secretsSt.EnsureGenerated(t, secrets.PasswordKey); err != nil {
		return err
	}
	return e.secretsSt.Push(ctx, host, t)
}

// recordDeployment writes the per-(tuple, host) deployment file (spec §4.G
// step 6); the container labels written by createAndStart are the
// authoritative record, this file only serves quick inspection and
// `forge history`.
func (e *Engine) recordDeployment(ctx context.Context, host, hostID string, t types.Tuple, probe naming.LiveProbe, version string) error {
	record := types.DeploymentRecord{
		Tuple:         t,
		Toggle:        probe.Toggle,
		Version:       version,
		ContainerName: probe.Name,
		HostPort:      probe.Port,
		StartedAt:     time.Now().UTC(),
		HostID:        hostID,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return forgeerr.Wrap(forgeerr.ConfigError, "marshal deployment record for "+t.String(), err)
	}

	path := fmt.Sprintf("%s/%s/%s/%s/deployments/%s.json", deploymentsDir, t.Tenant, t.Project, t.Env, t.Service)
	if err := e.executor.Upload(ctx, host, e.sshUser, path, bytes.NewReader(data), 0o644); err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "write deployment record on "+host, err).OnHost(host)
	}
	return nil
}

// sizeSlug is a placeholder instance-size identifier derived from raw
// CPU core/memory MB counts. Mapping this to a real provider flavor
// (e.g. DigitalOcean's "s-2vcpu-4gb") is a CloudProvider-specific lookup
// outside this engine's scope; callers that need exact flavor names
// should resolve size before invoking AllocateHosts in a future revision.
func sizeSlug(cpu, memoryMB int) string {
	if cpu == 0 {
		cpu = 1
	}
	if memoryMB == 0 {
		memoryMB = 1024
	}
	return fmt.Sprintf("c%d-m%d", cpu, memoryMB)
}

// windowFor returns the rolling sample window for t, creating one on
// first use. Called by whatever drives the per-host 60s sampler (the
// Health Monitor leader, spec §4.G "Auto-scaling") and by the 5-minute
// evaluation cycle that reads it back.
func (e *Engine) windowFor(t types.Tuple) *Window {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[t]
	if !ok {
		w = NewWindow()
		e.windows[t] = w
	}
	return w
}

// RecordSample feeds one 60s resource reading into t's rolling window.
func (e *Engine) RecordSample(t types.Tuple, s Sample) {
	e.windowFor(t).Add(s)
}

// EvaluateAutoScale runs one 5-minute evaluation cycle for t against its
// current rolling window, returning the scaling action to apply (if any).
// Callers that get back a non-vertical-capable Decision because the
// service is already at its shape ceiling/floor should fall back to
// EvaluateHorizontal.
func (e *Engine) EvaluateAutoScale(as config.AutoScaleSpec, t types.Tuple, tracker *CooldownTracker, currentCPU, currentMemory, currentServers int) Decision {
	return Evaluate(as, e.windowFor(t), tracker, time.Now(), currentCPU, currentMemory, currentServers)
}

// hostAddress picks the address the Remote Executor should dial:
// private IP when the host has one (production multi-host mode),
// otherwise public IP (single-host/dev setups).
func hostAddress(s types.Server) string {
	if s.PrivateIP != "" {
		return s.PrivateIP
	}
	return s.PublicIP
}
