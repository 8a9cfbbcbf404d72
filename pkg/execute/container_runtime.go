package execute

import (
	"context"
	"time"

	"github.com/cuemby/forge/pkg/types"
)

// ContainerSpec describes everything needed to create a container for one
// deployment target. It is the execute-package-local counterpart of
// types.DeploymentRecord — that type records what was deployed, this one
// describes what to deploy.
type ContainerSpec struct {
	Name    string
	Image   string
	Env     []string
	Mounts  []Mount
	CPU     float64 // cores; 0 = unlimited
	Memory  int64   // bytes; 0 = unlimited
	// HostPort is the host-side port to publish, 0 if the container
	// does not bind a host port (single-host sidecar mode).
	HostPort      int
	ContainerPort int
}

// Mount is a single bind mount into the container.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// ContainerRuntime is the container-lifecycle contract the Deployment
// Engine and Health Agent drive through the Remote Executor. A single
// implementation, ContainerdRuntime, backs it on every host; the interface
// exists so deploy/agent code can be tested against a fake.
type ContainerRuntime interface {
	PullImage(ctx context.Context, imageRef string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) error
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string, timeout time.Duration) error
	DeleteContainer(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (types.ContainerInfo, error)
	ListContainers(ctx context.Context) ([]string, error)
	// Exec runs argv inside the named running container and returns its
	// exit code and captured stdout/stderr.
	Exec(ctx context.Context, name string, argv []string) (exitCode int, stdout, stderr []byte, err error)
}
