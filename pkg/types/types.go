// Package types holds the data model shared across forge's packages:
// the tenant/project/env/service tuple, servers, deployment records,
// sidecar config blocks, secret objects and health records (spec §3).
package types

import "time"

// Tuple identifies a single deployment unit: (tenant, project, env, service).
// Strings are validated at config-load time to match [a-z0-9_]+; Tuple
// itself performs no validation — it is a plain value type.
type Tuple struct {
	Tenant  string
	Project string
	Env     string
	Service string
}

// String renders the tuple the way every derived name embeds it:
// "{tenant}_{project}_{env}_{service}".
func (t Tuple) String() string {
	return t.Tenant + "_" + t.Project + "_" + t.Env + "_" + t.Service
}

// ServerStatus is the mutable lifecycle tag carried by a Server (spec §3).
type ServerStatus string

const (
	ServerStatusReserve       ServerStatus = "reserve"
	ServerStatusActive        ServerStatus = "active"
	ServerStatusDestroying    ServerStatus = "destroying"
	ServerStatusDestroyManual ServerStatus = "destroying-manual"

	// ServerStatusBaking marks a transient VM mid-Template Provisioner
	// bake (spec §4.D); it is never reused and is always destroyed once
	// the bake finishes, succeeding or not.
	ServerStatusBaking ServerStatus = "baking"
)

// Server is the essential attributes of a cloud VM plus the tag set that
// carries all of its mutable state (spec §3 "Server").
type Server struct {
	ID        string
	PrivateIP string
	PublicIP  string
	Region    string
	CPU       int
	MemoryMB  int
	CreatedAt time.Time
	Tags      []string

	// Status is derived from the "status:" tag at construction time
	// (StatusFromTags); the tag remains the source of truth, this
	// field exists so callers don't all re-parse Tags themselves.
	Status ServerStatus
}

// Tag key prefixes used on Server.Tags. A tag is always "key:value".
const (
	TagStatus   = "status"
	TagOwner    = "owner"
	TagProject  = "project"
	TagEnv      = "env"
	TagZone     = "zone"
	TagTemplate = "template"

	// TagDeployLock guards concurrent rollouts of the same tuple (spec §5c).
	TagDeployLock = "deploy_lock"

	// TagRecoveryOwner is the advisory lock a leader holds while it
	// performs Stage 2 recovery on a given host (spec §4.I).
	TagRecoveryOwner = "recovery_owner"
)

// StatusFromTags extracts the "status:" tag's value, or "" if the tag
// set carries none. Provider adapters call this when translating a
// raw cloud VM into a Server.
func StatusFromTags(tags []string) ServerStatus {
	prefix := TagStatus + ":"
	for _, tag := range tags {
		if len(tag) > len(prefix) && tag[:len(prefix)] == prefix {
			return ServerStatus(tag[len(prefix):])
		}
	}
	return ""
}

// Toggle names which of the base/secondary container slots is live.
type Toggle string

const (
	ToggleBase      Toggle = "base"
	ToggleSecondary Toggle = "secondary"
)

// DeploymentRecord is the per-(tuple, host) record of what is currently
// deployed (spec §3 "Deployment record"). The container label copy is
// authoritative; the on-host file is a hint used for quick inspection
// and for `forge history`.
type DeploymentRecord struct {
	Tuple         Tuple
	Toggle        Toggle
	Version       string
	ContainerName string
	HostPort      int
	StartedAt     time.Time
	ImageDigest   string
	HostID        string

	// Metrics is a best-effort snapshot recorded alongside the
	// deployment (restart count / last exit code), consumed by the
	// next health gate and by `forge status`.
	Metrics DeploymentMetrics
}

// DeploymentMetrics is a small operational snapshot captured at
// RecordDeployment time (SPEC_FULL §3 "Deployment metrics snapshot").
type DeploymentMetrics struct {
	RestartCount int
	LastExitCode int
	RecordedAt   time.Time
}

// SidecarUpstream is one target line inside a sidecar stream/http block.
type SidecarUpstream struct {
	// Target is either "container_name:container_port" (single-host
	// mode) or "private_ip:host_port" (multi-host mode).
	Target string
	Port   int
}

// SidecarBlock is the per-tuple configuration the Sidecar Configurator
// writes to stream.d/ or http.d/ (spec §3 "Sidecar stream block").
type SidecarBlock struct {
	Tuple          Tuple
	Listen         int
	Upstreams      []SidecarUpstream
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	HTTP           bool   // true => http.d, with server_name matching
	ServerName     string // only set when HTTP is true
}

// Secret is one named value under a tuple's secrets directory (spec §3
// "Secret object"). Value is plaintext in memory; at rest it is a
// file-per-key under /var/lib/deploy/.../secrets/{service}/{key}.
type Secret struct {
	Tuple Tuple
	Key   string
	Value string
}

// HealthRecord is what a Monitor keeps, in memory only, about one peer
// (spec §3 "Health record"). It never survives a process restart.
type HealthRecord struct {
	LastOKAt            time.Time
	ConsecutiveFailures int
	LastError           string
}

// ContainerState mirrors the states a Remote Executor/Agent reports for
// a running container.
type ContainerState string

const (
	ContainerStateRunning    ContainerState = "running"
	ContainerStateRestarting ContainerState = "restarting"
	ContainerStateExited     ContainerState = "exited"
	ContainerStateMissing    ContainerState = "missing"
)

// ContainerInfo is what the Remote Executor/Agent reports about a
// single container on a host.
type ContainerInfo struct {
	Name      string
	State     ContainerState
	Restarts  int
	ExitCode  int
	StartedAt time.Time
}
