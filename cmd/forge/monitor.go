package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/agent"
	"github.com/cuemby/forge/pkg/events"
	"github.com/cuemby/forge/pkg/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run one Health Monitor tick against a zone from the operator's machine",
	Long: `monitor drives a single pass of the Health Monitor (spec §4.I) for a
zone: probing every peer's Health Agent, electing a leader by lowest
private IP, and — if this invocation is elected — driving recovery of
any peer that looks down. On a real host this same cycle runs every
minute from forge-agent's monitor-tick cron entry; this command exists
to exercise the component on demand.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().String("zone", "", "Server zone to watch (required)")
	monitorCmd.Flags().String("self-ip", "", "This invocation's private IP, for leader election (required)")
	monitorCmd.Flags().String("service", "", "Limit recovery redeploys to a single service (default: every service)")
	_ = monitorCmd.MarkFlagRequired("zone")
	_ = monitorCmd.MarkFlagRequired("self-ip")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	zone, _ := cmd.Flags().GetString("zone")
	selfIP, _ := cmd.Flags().GetString("self-ip")
	service, _ := cmd.Flags().GetString("service")

	s, err := loadStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	services := tupleFlag(cmd, s.project, service)
	scope := monitor.Scope{Tenant: s.project.Tenant, Project: s.project.Project, Env: s.project.Env, Zone: zone}

	agentClient := agent.NewClient(s.cluster.AgentSharedSecret)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	version := func() string { return "" }
	mon := monitor.New(scope, selfIP, agentClient, s.inv, s.engine, s.templates, services, version, broker)

	if err := mon.Tick(cmd.Context()); err != nil {
		return err
	}
	leader := "no"
	if mon.IsLeader() {
		leader = "yes"
	}
	fmt.Printf("tick complete  zone=%s  peers=%d  leader=%s\n", zone, mon.PeerCount(), leader)
	return nil
}
