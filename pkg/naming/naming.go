// Package naming is the Naming & Port Resolver (spec §4.A): a pure,
// side-effect-free derivation of every name, port, database identifier
// and image tag from a deployment tuple. Every function here is total
// and has no I/O — callers validate tuple syntax at config-load time,
// not here.
package naming

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/forge/pkg/types"
)

const (
	// HostPortBase is the start of the base host-port range [8000,9000).
	HostPortBase = 8000
	hostPortSpan = 1000

	// HostPortAltOffset shifts the base range into the secondary
	// range [18000,19000), kept disjoint from the base range.
	HostPortAltOffset = 10000

	// InternalPortBase is the start of the sidecar-listen range
	// [5000,6000), never bound by app containers on the host.
	InternalPortBase = 5000
	internalPortSpan = 1000
)

// hash32 is the stable 32-bit hash H(s) referenced throughout spec §3.
// xxhash is used rather than hash/fnv because it is already part of
// the dependency closure (pulled in transitively by containerd) and
// gives a better-distributed, well-tested hash than hand-rolling one.
func hash32(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}

// ContainerName returns container_name(T).
func ContainerName(t types.Tuple) string {
	return t.String()
}

// ContainerNameAlt returns container_name_alt(T).
func ContainerNameAlt(t types.Tuple) string {
	return ContainerName(t) + "_secondary"
}

// ContainerNameForToggle returns whichever of base/secondary the given
// toggle names.
func ContainerNameForToggle(t types.Tuple, toggle types.Toggle) string {
	if toggle == types.ToggleSecondary {
		return ContainerNameAlt(t)
	}
	return ContainerName(t)
}

// HostPortBaseFor returns host_port_base(T, p).
func HostPortBaseFor(t types.Tuple, containerPort int) int {
	key := fmt.Sprintf("%s_%d", t.String(), containerPort)
	return HostPortBase + int(hash32(key)%hostPortSpan)
}

// HostPortAltFor returns host_port_alt(T, p).
func HostPortAltFor(t types.Tuple, containerPort int) int {
	return HostPortBaseFor(t, containerPort) + HostPortAltOffset
}

// HostPortForToggle returns the host port that corresponds to the
// given toggle for (T, containerPort).
func HostPortForToggle(t types.Tuple, containerPort int, toggle types.Toggle) int {
	if toggle == types.ToggleSecondary {
		return HostPortAltFor(t, containerPort)
	}
	return HostPortBaseFor(t, containerPort)
}

// InternalPort returns internal_port(T): the sidecar's stable listen
// port, constant across toggles.
func InternalPort(t types.Tuple) int {
	key := t.String() + "_internal"
	return InternalPortBase + int(hash32(key)%internalPortSpan)
}

// DBName returns db_name(T) = "{project}_" + hex8(H(T)).
func DBName(t types.Tuple) string {
	return fmt.Sprintf("%s_%08x", t.Project, hash32(t.String()))
}

// DBUser returns db_user(T).
func DBUser(t types.Tuple) string {
	return t.Project + "_user"
}

// ImageTag returns image_tag(T, version).
func ImageTag(dockerHubUser string, t types.Tuple, version string) string {
	return fmt.Sprintf("%s/%s:%s", dockerHubUser, t.String(), version)
}

// OppositeToggle returns the toggle the next rollout should use given
// the one currently live (the "toggle law" in spec §8).
func OppositeToggle(current types.Toggle) types.Toggle {
	if current == types.ToggleSecondary {
		return types.ToggleBase
	}
	return types.ToggleSecondary
}

// LiveProbe is what the reverse query in spec §4.A ("which of the two
// names/ports is currently live on host h") returns. The query itself
// needs the Remote Executor to inspect running containers, so it is
// implemented in pkg/deploy (DetermineToggle) rather than here —
// naming stays pure and I/O-free.
type LiveProbe struct {
	Name   string
	Port   int
	Toggle types.Toggle
}
