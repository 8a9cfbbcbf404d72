package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent rollouts for a service",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().String("service", "", "Service name (required)")
	_ = historyCmd.MarkFlagRequired("service")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	service, _ := cmd.Flags().GetString("service")

	s, err := loadStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	tuple := types.Tuple{Tenant: s.project.Tenant, Project: s.project.Project, Env: s.project.Env, Service: service}
	records, err := s.store.History(tuple)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("no recorded rollouts for %s\n", tuple.String())
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s  version=%-20s  host=%-15s  toggle=%-5s  restarts=%d\n",
			r.StartedAt.Format("2006-01-02T15:04:05Z07:00"), r.Version, r.HostID, r.Toggle, r.Metrics.RestartCount)
	}
	return nil
}
