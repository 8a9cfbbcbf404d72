// Package monitor is the Health Monitor (spec §4.I): it runs on every
// host, once per tick, probing itself and every peer in its
// (tenant, project, env, zone) scope through the Health Agent's HTTP
// surface, electing a leader deterministically by lowest healthy
// private IP, and — only on the elected leader — driving two-stage
// recovery of any peer that has failed three consecutive probes.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/forge/pkg/agent"
	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/deploy"
	"github.com/cuemby/forge/pkg/events"
	"github.com/cuemby/forge/pkg/inventory"
	"github.com/cuemby/forge/pkg/log"
	"github.com/cuemby/forge/pkg/template"
	"github.com/cuemby/forge/pkg/types"
)

const (
	// AgentPort is the fixed port the Health Agent binds on every host
	// (spec §4.H "HTTP service on each host ... a fixed port").
	AgentPort = 7780

	failureThreshold        = 3
	maxReplacementAttempts  = 3
	recoveryLockTTL         = 10 * time.Minute
	defaultHeartbeatInterval = 15 * time.Minute
	peerProbeTimeout        = 5 * time.Second
)

// AgentClient is the subset of *agent.Client the Monitor drives,
// narrowed to an interface so tests can substitute a fake without
// standing up real HTTP servers for every peer.
type AgentClient interface {
	Health(ctx context.Context, addr string) (agent.HealthResponse, error)
	Restart(ctx context.Context, addr, containerName string) error
}

// Scope is the (tenant, project, env, zone) a Monitor instance watches;
// every active host tagged into it is a peer (spec §4.I step 2).
type Scope struct {
	Tenant  string
	Project string
	Env     string
	Zone    string
}

func (s Scope) tags() []string {
	return []string{
		types.TagStatus + ":" + string(types.ServerStatusActive),
		types.TagOwner + ":" + s.Tenant,
		types.TagProject + ":" + s.Project,
		types.TagEnv + ":" + s.Env,
		types.TagZone + ":" + s.Zone,
	}
}

// Monitor runs one tick at a time; the caller (a cron entry invoking
// `forge monitor tick`, typically once per minute) drives the schedule.
type Monitor struct {
	scope     Scope
	selfIP    string
	agent     AgentClient
	inv       *inventory.Inventory
	engine    *deploy.Engine
	templates *template.Provisioner
	services  []config.ServiceSpec
	version   func() string
	broker    *events.Broker

	heartbeatInterval time.Duration

	mu              sync.Mutex
	records         map[string]*types.HealthRecord
	stage1Tries     map[string]int
	stage2Tries     map[string]int
	lastHeartbeatAt time.Time
	lastAllOK       bool
	isLeader        bool
	peerCount       int
}

// IsLeader reports whether this node elected itself leader on its most
// recent Tick (metrics.MonitorSource).
func (m *Monitor) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLeader
}

// PeerCount reports how many hosts (including self) were in scope on
// this node's most recent Tick (metrics.MonitorSource).
func (m *Monitor) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerCount
}

// New builds a Monitor for one scope. version is called fresh each time
// Stage 2 needs to redeploy, so it can return whatever version tag the
// project config currently targets.
func New(scope Scope, selfIP string, agentClient AgentClient, inv *inventory.Inventory, engine *deploy.Engine, templates *template.Provisioner, services []config.ServiceSpec, version func() string, broker *events.Broker) *Monitor {
	return &Monitor{
		scope:             scope,
		selfIP:            selfIP,
		agent:             agentClient,
		inv:               inv,
		engine:            engine,
		templates:         templates,
		services:          services,
		version:           version,
		broker:            broker,
		heartbeatInterval: defaultHeartbeatInterval,
		records:           map[string]*types.HealthRecord{},
		stage1Tries:       map[string]int{},
		stage2Tries:       map[string]int{},
	}
}

// SetHeartbeatInterval overrides the default 15-minute heartbeat cadence.
func (m *Monitor) SetHeartbeatInterval(d time.Duration) { m.heartbeatInterval = d }

func addr(ip string) string { return fmt.Sprintf("%s:%d", ip, AgentPort) }

// Tick runs one monitor cycle (spec §4.I steps 1-6). A peer probe
// failure is recorded, never returned as an error from Tick; only
// Inventory.List failures (the scope itself couldn't be read) abort
// the tick.
func (m *Monitor) Tick(ctx context.Context) error {
	peers, err := m.inv.List(ctx, m.scope.tags())
	if err != nil {
		return err
	}

	healthy := map[string]bool{}
	byIP := map[string]types.Server{}

	selfHealth, selfErr := m.agent.Health(ctx, addr(m.selfIP))
	m.recordResult(m.selfIP, selfErr)
	healthy[m.selfIP] = selfErr == nil && selfHealth.DockerOK

	for _, p := range peers {
		byIP[p.PrivateIP] = p
		if p.PrivateIP == m.selfIP {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, peerProbeTimeout)
		h, perr := m.agent.Health(pctx, addr(p.PrivateIP))
		cancel()
		m.recordResult(p.PrivateIP, perr)
		healthy[p.PrivateIP] = perr == nil && h.DockerOK
	}

	// Leader selection is this node's own view of who looks healthy
	// (spec §4.I step 4: "among peers that look healthy to this node").
	leader := electLeader(healthy)

	m.mu.Lock()
	m.isLeader = leader == m.selfIP
	m.peerCount = len(byIP)
	m.mu.Unlock()

	if leader != m.selfIP {
		return nil
	}

	logger := log.WithComponent("monitor")
	allOK := true
	for ip, server := range byIP {
		rec := m.recordFor(ip)
		if rec.ConsecutiveFailures >= failureThreshold {
			allOK = false
			if err := m.recover(ctx, server, rec); err != nil {
				logger.Error().Err(err).Str("host", ip).Msg("recovery attempt failed")
			}
		}
	}

	m.heartbeat(allOK)
	return nil
}

func (m *Monitor) recordResult(ip string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ip]
	if !ok {
		rec = &types.HealthRecord{}
		m.records[ip] = rec
	}
	if err == nil {
		rec.ConsecutiveFailures = 0
		rec.LastOKAt = time.Now()
		rec.LastError = ""
	} else {
		rec.ConsecutiveFailures++
		rec.LastError = err.Error()
	}
}

// recordFor returns a snapshot copy of a peer's current record.
func (m *Monitor) recordFor(ip string) types.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[ip]; ok {
		return *rec
	}
	return types.HealthRecord{}
}

func (m *Monitor) heartbeat(allOK bool) {
	m.mu.Lock()
	due := time.Since(m.lastHeartbeatAt) >= m.heartbeatInterval
	changed := allOK != m.lastAllOK
	if !due && !changed {
		m.mu.Unlock()
		return
	}
	m.lastHeartbeatAt = time.Now()
	m.lastAllOK = allOK
	m.mu.Unlock()

	if m.broker == nil {
		return
	}
	msg := "all-OK"
	if !allOK {
		msg = "recovery in progress"
	}
	m.broker.Publish(&events.Event{
		Type:     events.EventMonitorHeartbeat,
		Message:  msg,
		Metadata: map[string]string{"zone": m.scope.Zone, "leader": m.selfIP},
	})
}

func (m *Monitor) publish(t events.EventType, ip, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{Type: t, Message: msg, Metadata: map[string]string{"host": ip, "zone": m.scope.Zone}})
}
