package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/clusterconfig"
	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
)

func loadCluster(cmd *cobra.Command) (*clusterconfig.Config, error) {
	path, _ := cmd.Flags().GetString("cluster-config")
	return clusterconfig.Load(path)
}

func loadProject(cmd *cobra.Command) (*config.Project, error) {
	path, _ := cmd.Flags().GetString("project-config")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "read project config "+path, err)
	}
	return config.Load(raw)
}

func localRuntime(cmd *cobra.Command) (*execute.ContainerdRuntime, error) {
	socket, _ := cmd.Flags().GetString("containerd-socket")
	return execute.NewContainerdRuntime(socket)
}

const sidecarReloadTimeout = 15 * time.Second

// sidecarReloader runs "forge-sidecar reload" on this host, the same
// command sidecar.Configurator.reload issues over the Remote Executor,
// reused here since the Agent runs in-process on the host it reloads
// (agent.SidecarReloader).
type sidecarReloader struct {
	executor execute.Executor
}

func (r sidecarReloader) Reload(ctx context.Context) error {
	result, err := r.executor.Run(ctx, execute.LocalHost, "root", "forge-sidecar reload", nil, sidecarReloadTimeout)
	if err != nil {
		return forgeerr.Wrap(forgeerr.SidecarReloadFailure, "reload sidecar", err)
	}
	if result.ExitCode != 0 {
		return forgeerr.New(forgeerr.SidecarReloadFailure, "sidecar reload exited non-zero")
	}
	return nil
}
