// Command forge-agent is the per-host binary baked into every template
// (spec §4.D): it serves the Health Agent's HTTP surface (spec §4.H)
// and backs the two cron entries the Template Provisioner installs,
// "monitor-tick" and "backup-tick", driving one Health Monitor pass or
// one Backup Orchestrator pass respectively.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "forge-agent",
	Short:   "forge-agent - per-host Health Agent, Health Monitor, and Backup Orchestrator driver",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("forge-agent version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("cluster-config", "/etc/forge/cluster.yaml", "Path to the cluster wiring config")
	rootCmd.PersistentFlags().String("project-config", "/etc/forge/project.yaml", "Path to the project config this host serves")
	rootCmd.PersistentFlags().String("containerd-socket", "/run/containerd/containerd.sock", "Local containerd socket path")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/deploy", "On-host state tree root (spec §6)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(monitorTickCmd)
	rootCmd.AddCommand(backupTickCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
