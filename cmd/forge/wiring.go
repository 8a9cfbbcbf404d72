package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/clusterconfig"
	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/deploy"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/inventory"
	"github.com/cuemby/forge/pkg/secrets"
	"github.com/cuemby/forge/pkg/sidecar"
	"github.com/cuemby/forge/pkg/store"
	"github.com/cuemby/forge/pkg/template"
)

// stack is every long-lived collaborator a CLI invocation needs, built
// once per command run from the cluster and project config files.
type stack struct {
	cluster   *clusterconfig.Config
	project   *config.Project
	inv       *inventory.Inventory
	executor  execute.Executor
	templates *template.Provisioner
	engine    *deploy.Engine
	store     *store.Store
}

func loadStack(cmd *cobra.Command) (*stack, error) {
	clusterPath, _ := cmd.Flags().GetString("cluster-config")
	projectPath, _ := cmd.Flags().GetString("project-config")

	cluster, err := clusterconfig.Load(clusterPath)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(projectPath)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "read project config "+projectPath, err)
	}
	project, err := config.Load(raw)
	if err != nil {
		return nil, err
	}

	provider, err := cluster.CloudProvider()
	if err != nil {
		return nil, err
	}
	inv := inventory.New(provider)

	executor, err := cluster.Executor()
	if err != nil {
		return nil, err
	}

	templates := cluster.Templates(inv, executor)
	sidecars := sidecar.New(executor, cluster.SSH.User)

	key, err := cluster.SecretsKey()
	if err != nil {
		return nil, err
	}
	secretsManager, err := secrets.New(key, executor, cluster.SSH.User)
	if err != nil {
		return nil, err
	}
	secretsStore := secrets.NewStore(secretsManager)

	engine := deploy.New(inv, executor, templates, sidecars, secretsStore, cluster.SSH.User)

	hist, err := store.New(cluster.DataDir)
	if err != nil {
		return nil, err
	}

	return &stack{cluster: cluster, project: project, inv: inv, executor: executor, templates: templates, engine: engine, store: hist}, nil
}

func (s *stack) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func tupleFlag(cmd *cobra.Command, project *config.Project, service string) []config.ServiceSpec {
	if service == "" {
		return project.Services
	}
	for _, svc := range project.Services {
		if svc.Name == service {
			return []config.ServiceSpec{svc}
		}
	}
	return nil
}
