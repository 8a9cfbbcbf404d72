package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the hosts currently tagged into this project's scope",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("zone", "", "Limit to a single server zone")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := loadStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	zone, _ := cmd.Flags().GetString("zone")
	tags := []string{
		types.TagOwner + ":" + s.project.Tenant,
		types.TagProject + ":" + s.project.Project,
		types.TagEnv + ":" + s.project.Env,
	}
	if zone != "" {
		tags = append(tags, types.TagZone+":"+zone)
	}

	servers, err := s.inv.List(cmd.Context(), tags)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("no servers tagged into this project's scope")
		return nil
	}
	for _, srv := range servers {
		fmt.Printf("%-20s  %-10s  %-15s  %-15s  %s\n", srv.ID, srv.Status, srv.PrivateIP, srv.PublicIP, srv.Region)
	}
	return nil
}
