package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/log"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Converge a project's services to a version (spec §4.G Deployment Engine)",
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().String("version", "", "Image tag/digest to deploy")
	deployCmd.Flags().String("service", "", "Limit to a single service (default: every service, wave by wave)")
	_ = deployCmd.MarkFlagRequired("version")
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	version, _ := cmd.Flags().GetString("version")
	service, _ := cmd.Flags().GetString("service")

	s, err := loadStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	services := tupleFlag(cmd, s.project, service)
	if len(services) == 0 {
		return fmt.Errorf("no matching service %q in project config", service)
	}

	logger := log.WithComponent("forge-deploy")
	results, err := s.engine.Deploy(cmd.Context(), version, s.project.Tenant, s.project.Project, s.project.Env, services)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Error().Err(r.Err).Str("tuple", r.Tuple.String()).Msg("deploy failed")
			fmt.Printf("FAIL  %s: %v\n", r.Tuple.String(), r.Err)
			continue
		}
		fmt.Printf("OK    %s  hosts=%d\n", r.Tuple.String(), len(r.Toggle))
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d services failed to deploy", failed, len(results))
	}
	return nil
}
