package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/agent"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/log"
	"github.com/cuemby/forge/pkg/monitor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bind the Health Agent's HTTP surface on this host's private interface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("bind", "", "Address to bind (default: 0.0.0.0:7780)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cluster, err := loadCluster(cmd)
	if err != nil {
		return err
	}
	runtime, err := localRuntime(cmd)
	if err != nil {
		return err
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")

	localExec := execute.NewLocalExecutor(runtime)
	reloader := sidecarReloader{executor: localExec}

	server := agent.New(runtime, reloader, cluster.AgentSharedSecret, dataDir)

	bind, _ := cmd.Flags().GetString("bind")
	if bind == "" {
		bind = fmt.Sprintf("0.0.0.0:%d", monitor.AgentPort)
	}

	log.WithComponent("forge-agent").Info().Str("bind", bind).Msg("health agent listening")
	return server.ListenAndServe(bind)
}
