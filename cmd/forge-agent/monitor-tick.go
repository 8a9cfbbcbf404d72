package main

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/agent"
	"github.com/cuemby/forge/pkg/deploy"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/inventory"
	"github.com/cuemby/forge/pkg/monitor"
	"github.com/cuemby/forge/pkg/secrets"
	"github.com/cuemby/forge/pkg/sidecar"
)

var monitorTickCmd = &cobra.Command{
	Use:   "monitor-tick",
	Short: "Run one Health Monitor cycle (cron entry installed by the Template Provisioner)",
	RunE:  runMonitorTick,
}

func init() {
	monitorTickCmd.Flags().String("zone", "", "Server zone this host belongs to (required)")
	monitorTickCmd.Flags().String("self-ip", "", "This host's private IP (default: detected from the default route interface)")
	_ = monitorTickCmd.MarkFlagRequired("zone")
}

func runMonitorTick(cmd *cobra.Command, _ []string) error {
	zone, _ := cmd.Flags().GetString("zone")
	selfIP, _ := cmd.Flags().GetString("self-ip")

	cluster, err := loadCluster(cmd)
	if err != nil {
		return err
	}
	project, err := loadProject(cmd)
	if err != nil {
		return err
	}

	if selfIP == "" {
		selfIP, err = detectPrivateIP()
		if err != nil {
			return err
		}
	}

	provider, err := cluster.CloudProvider()
	if err != nil {
		return err
	}
	inv := inventory.New(provider)

	executor, err := cluster.Executor()
	if err != nil {
		return err
	}
	templates := cluster.Templates(inv, executor)
	sidecars := sidecar.New(executor, cluster.SSH.User)

	key, err := cluster.SecretsKey()
	if err != nil {
		return err
	}
	secretsManager, err := secrets.New(key, executor, cluster.SSH.User)
	if err != nil {
		return err
	}
	engine := deploy.New(inv, executor, templates, sidecars, secrets.NewStore(secretsManager), cluster.SSH.User)

	scope := monitor.Scope{Tenant: project.Tenant, Project: project.Project, Env: project.Env, Zone: zone}
	agentClient := agent.NewClient(cluster.AgentSharedSecret)
	version := func() string { return "" }

	mon := monitor.New(scope, selfIP, agentClient, inv, engine, templates, project.Services, version, nil)
	return mon.Tick(cmd.Context())
}

// detectPrivateIP finds this host's own non-loopback IPv4 address, used
// when monitor-tick runs unattended from cron without an explicit
// --self-ip (clusterconfig has no per-host notion of "which host am I").
func detectPrivateIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.ConfigError, "detect private IP", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", forgeerr.Config("no non-loopback IPv4 address found on this host")
}
