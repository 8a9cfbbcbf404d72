// Package config loads and validates the project configuration file
// (spec §4.G "project config"): tenant/project/env metadata and a
// closed, tagged-union set of service specs. Validation happens once,
// at load time, so every later stage (Deployment Engine, Sidecar
// Configurator, Backup Orchestrator) can trust the result without
// re-checking it.
package config

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/forge/pkg/forgeerr"
)

// ServiceKind is the closed set of service variants a project can
// declare. Deliberately a tagged union rather than one struct with
// every field optional: a worker has no ports, a scheduled service has
// no servers_count in the usual sense, and a stateful service always
// carries a generated password.
type ServiceKind string

const (
	KindWeb            ServiceKind = "web"
	KindWorker         ServiceKind = "worker"
	KindScheduled      ServiceKind = "scheduled"
	KindStatefulDB     ServiceKind = "stateful_db"
	KindStatefulCache  ServiceKind = "stateful_cache"
	KindStatefulSearch ServiceKind = "stateful_search"
)

func (k ServiceKind) valid() bool {
	switch k {
	case KindWeb, KindWorker, KindScheduled, KindStatefulDB, KindStatefulCache, KindStatefulSearch:
		return true
	}
	return false
}

func (k ServiceKind) stateful() bool {
	switch k {
	case KindStatefulDB, KindStatefulCache, KindStatefulSearch:
		return true
	}
	return false
}

// ScheduleSpec configures a KindScheduled service: no long-running
// container, a cron entry runs the image as a one-shot (spec §4.G
// "Scheduled services").
type ScheduleSpec struct {
	Cron        string `yaml:"cron"`
	SmokeCmd    string `yaml:"smoke_cmd,omitempty"`
	HealthGate  time.Duration `yaml:"health_gate,omitempty"`
}

// AutoScaleSpec configures vertical/horizontal scaling for a service
// (spec §4.G "Auto-scaling"). Zero values fall back to the spec's
// documented defaults in Validate.
type AutoScaleSpec struct {
	CPUUpPct     int           `yaml:"cpu_up_pct,omitempty"`
	CPUDownPct   int           `yaml:"cpu_down_pct,omitempty"`
	MemUpPct     int           `yaml:"mem_up_pct,omitempty"`
	MemDownPct   int           `yaml:"mem_down_pct,omitempty"`
	RPSUp        int           `yaml:"rps_up,omitempty"`
	RPSDown      int           `yaml:"rps_down,omitempty"`
	CooldownUp   time.Duration `yaml:"cooldown_up,omitempty"`
	CooldownDown time.Duration `yaml:"cooldown_down,omitempty"`
	MinServers   int           `yaml:"min_servers,omitempty"`
	MaxServers   int           `yaml:"max_servers,omitempty"`
}

// defaults per spec §4.G: "CPU up 75/down 20, memory up 80/down 30,
// RPS up 500/down 50 ... Cooldowns: 5 min up, 10 min down. Bounds:
// min 1, max 20."
func (a *AutoScaleSpec) withDefaults() AutoScaleSpec {
	out := *a
	if out.CPUUpPct == 0 {
		out.CPUUpPct = 75
	}
	if out.CPUDownPct == 0 {
		out.CPUDownPct = 20
	}
	if out.MemUpPct == 0 {
		out.MemUpPct = 80
	}
	if out.MemDownPct == 0 {
		out.MemDownPct = 30
	}
	if out.RPSUp == 0 {
		out.RPSUp = 500
	}
	if out.RPSDown == 0 {
		out.RPSDown = 50
	}
	if out.CooldownUp == 0 {
		out.CooldownUp = 5 * time.Minute
	}
	if out.CooldownDown == 0 {
		out.CooldownDown = 10 * time.Minute
	}
	if out.MinServers == 0 {
		out.MinServers = 1
	}
	if out.MaxServers == 0 {
		out.MaxServers = 20
	}
	return out
}

// BackupSpec overrides the default dump cadence/retention for a
// stateful service (spec §4.J). Every stateful service is backed up
// automatically by a sibling scheduled container; this only lets a
// project tighten or loosen the documented defaults.
type BackupSpec struct {
	Cron   string `yaml:"cron,omitempty"`
	Retain int    `yaml:"retain,omitempty"`
}

const (
	defaultBackupCron   = "0 3 * * *"
	defaultBackupRetain = 7
)

func (b *BackupSpec) withDefaults() BackupSpec {
	out := *b
	if out.Cron == "" {
		out.Cron = defaultBackupCron
	}
	if out.Retain == 0 {
		out.Retain = defaultBackupRetain
	}
	return out
}

// ServiceSpec is one service entry in the project config. Fields
// common to every kind sit at the top level; kind-specific fields are
// the three optional pointers, enforced mutually exclusive with Kind by
// Validate.
type ServiceSpec struct {
	Name          string   `yaml:"name"`
	Kind          ServiceKind `yaml:"kind"`
	Image         string   `yaml:"image"`
	ContainerPort int      `yaml:"container_port,omitempty"`
	Domain        string   `yaml:"domain,omitempty"`
	DependsOn     []string `yaml:"depends_on,omitempty"`

	ServersCount int    `yaml:"servers_count,omitempty"`
	ServerZone   string `yaml:"server_zone"`
	ServerCPU    int    `yaml:"server_cpu,omitempty"`
	ServerMemory int    `yaml:"server_memory,omitempty"`

	Schedule     *ScheduleSpec  `yaml:"schedule,omitempty"`
	AutoScale    *AutoScaleSpec `yaml:"auto_scaling,omitempty"`
	Backup       *BackupSpec    `yaml:"backup,omitempty"`
}

// EffectiveBackup returns the resolved backup schedule for a stateful
// service: the project's override if it declared one, otherwise the
// documented defaults. Returns nil for a non-stateful kind, which the
// Backup Orchestrator takes as "nothing to schedule here".
func (s ServiceSpec) EffectiveBackup() *BackupSpec {
	if !s.Kind.stateful() {
		return nil
	}
	if s.Backup != nil {
		resolved := s.Backup.withDefaults()
		return &resolved
	}
	resolved := (&BackupSpec{}).withDefaults()
	return &resolved
}

// Project is the full project configuration file (spec §4.G "project
// config").
type Project struct {
	Tenant   string        `yaml:"tenant"`
	Project  string        `yaml:"project"`
	Env      string        `yaml:"env"`
	Services []ServiceSpec `yaml:"services"`
}

// tupleToken matches the "bad tuple characters" pre-flight check
// (SPEC_FULL §1): tenant/project/env/service names must be
// [a-z0-9_]+, since they are embedded directly into container names,
// DNS-safe identifiers, and file paths.
var tupleToken = regexp.MustCompile(`^[a-z0-9_]+$`)

// Load reads and validates a project config file's raw YAML bytes.
func Load(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "parse project config", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate runs every pre-flight check spec.md and SPEC_FULL.md
// require before a config is accepted: tuple character validity,
// unknown depends_on targets, kind/field consistency, and a
// derived-port collision check (SPEC_FULL §1).
func (p *Project) Validate() error {
	if !tupleToken.MatchString(p.Tenant) {
		return forgeerr.Config(fmt.Sprintf("invalid tenant name %q: must match [a-z0-9_]+", p.Tenant))
	}
	if !tupleToken.MatchString(p.Project) {
		return forgeerr.Config(fmt.Sprintf("invalid project name %q: must match [a-z0-9_]+", p.Project))
	}
	if !tupleToken.MatchString(p.Env) {
		return forgeerr.Config(fmt.Sprintf("invalid env name %q: must match [a-z0-9_]+", p.Env))
	}
	if len(p.Services) == 0 {
		return forgeerr.Config("project config declares no services")
	}

	byName := make(map[string]*ServiceSpec, len(p.Services))
	for i := range p.Services {
		svc := &p.Services[i]
		if !tupleToken.MatchString(svc.Name) {
			return forgeerr.Config(fmt.Sprintf("invalid service name %q: must match [a-z0-9_]+", svc.Name))
		}
		if _, dup := byName[svc.Name]; dup {
			return forgeerr.Config(fmt.Sprintf("duplicate service name %q", svc.Name))
		}
		if !svc.Kind.valid() {
			return forgeerr.Config(fmt.Sprintf("service %q: unknown kind %q", svc.Name, svc.Kind))
		}
		if svc.Image == "" {
			return forgeerr.Config(fmt.Sprintf("service %q: image is required", svc.Name))
		}
		if svc.Schedule != nil && svc.Kind != KindScheduled {
			return forgeerr.Config(fmt.Sprintf("service %q: schedule is only valid on kind=scheduled", svc.Name))
		}
		if svc.Kind == KindScheduled && svc.Schedule == nil {
			return forgeerr.Config(fmt.Sprintf("service %q: kind=scheduled requires schedule", svc.Name))
		}
		if svc.AutoScale != nil && svc.Kind == KindScheduled {
			return forgeerr.Config(fmt.Sprintf("service %q: auto_scaling is not valid on kind=scheduled", svc.Name))
		}
		if svc.Backup != nil && !svc.Kind.stateful() {
			return forgeerr.Config(fmt.Sprintf("service %q: backup is only valid on a stateful kind", svc.Name))
		}
		if svc.AutoScale != nil {
			resolved := svc.AutoScale.withDefaults()
			svc.AutoScale = &resolved
			if svc.AutoScale.MinServers > svc.AutoScale.MaxServers {
				return forgeerr.Config(fmt.Sprintf("service %q: auto_scaling min_servers > max_servers", svc.Name))
			}
		}
		if svc.ServersCount == 0 && svc.Kind != KindScheduled {
			svc.ServersCount = 1
		}
		byName[svc.Name] = svc
	}

	for _, svc := range p.Services {
		for _, dep := range svc.DependsOn {
			if _, ok := byName[dep]; !ok {
				return forgeerr.Config(fmt.Sprintf("service %q: depends_on references unknown service %q", svc.Name, dep))
			}
			if dep == svc.Name {
				return forgeerr.Config(fmt.Sprintf("service %q: depends_on cannot reference itself", svc.Name))
			}
		}
	}

	if cycle := findCycle(p.Services); cycle != "" {
		return forgeerr.Config("depends_on graph has a cycle at " + cycle)
	}

	return nil
}

// findCycle does a simple DFS over the depends_on graph and returns
// the name of a service that participates in a cycle, or "" if the
// graph is acyclic. A cyclic depends_on graph has no longest-path
// startup_order (spec §4.G "Ordering"), so this must be rejected
// before StartupOrder is ever computed.
func findCycle(services []ServiceSpec) string {
	byName := make(map[string]ServiceSpec, len(services))
	for _, svc := range services {
		byName[svc.Name] = svc
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(services))

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return true
		case done:
			return false
		}
		state[name] = visiting
		for _, dep := range byName[name].DependsOn {
			if visit(dep) {
				return true
			}
		}
		state[name] = done
		return false
	}

	for _, svc := range services {
		if visit(svc.Name) {
			return svc.Name
		}
	}
	return ""
}

// StatefulBuiltin reports whether a service kind is a built-in
// stateful service whose password is generated on first deploy
// (spec §4.F).
func (s ServiceSpec) StatefulBuiltin() bool {
	return s.Kind.stateful()
}
