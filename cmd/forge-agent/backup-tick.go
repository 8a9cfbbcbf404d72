package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/forge/pkg/backup"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/log"
	"github.com/cuemby/forge/pkg/naming"
	"github.com/cuemby/forge/pkg/secrets"
	"github.com/cuemby/forge/pkg/types"
)

var backupTickCmd = &cobra.Command{
	Use:   "backup-tick",
	Short: "Run one dump+verify+retain cycle for every stateful service live on this host",
	RunE:  runBackupTick,
}

func runBackupTick(cmd *cobra.Command, _ []string) error {
	project, err := loadProject(cmd)
	if err != nil {
		return err
	}
	runtime, err := localRuntime(cmd)
	if err != nil {
		return err
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")

	orch := backup.New(runtime, dataDir)
	logger := log.WithComponent("backup-tick")

	var failures int
	for _, svc := range project.Services {
		backupSpec := svc.EffectiveBackup()
		if backupSpec == nil {
			continue // not a stateful kind
		}

		tuple := types.Tuple{Tenant: project.Tenant, Project: project.Project, Env: project.Env, Service: svc.Name}
		containerName, err := liveContainer(cmd.Context(), runtime, tuple)
		if err != nil {
			logger.Warn().Err(err).Str("tuple", tuple.String()).Msg("no live container, skipping backup")
			continue
		}

		creds, err := readCredentials(dataDir, tuple)
		if err != nil {
			logger.Error().Err(err).Str("tuple", tuple.String()).Msg("failed to read backup credentials")
			failures++
			continue
		}

		if err := orch.Tick(cmd.Context(), tuple, svc.Kind, containerName, creds, backupSpec.Retain); err != nil {
			logger.Error().Err(err).Str("tuple", tuple.String()).Msg("backup tick failed")
			failures++
			continue
		}
		logger.Info().Str("tuple", tuple.String()).Msg("backup tick succeeded")
	}

	if failures > 0 {
		return forgeerr.New(forgeerr.BackupIntegrityFailure, "one or more stateful services failed their backup tick")
	}
	return nil
}

// liveContainer returns whichever of container_name(T)/container_name_alt(T)
// is currently running on this host, the same toggle convention
// deploy.DetermineToggle derives from, reimplemented here as a pure
// read since backup-tick runs locally against the host's own runtime
// rather than over the Remote Executor.
func liveContainer(ctx context.Context, runtime execute.ContainerRuntime, t types.Tuple) (string, error) {
	for _, name := range []string{naming.ContainerName(t), naming.ContainerNameAlt(t)} {
		info, err := runtime.Status(ctx, name)
		if err != nil {
			continue
		}
		if info.State == types.ContainerStateRunning {
			return name, nil
		}
	}
	return "", forgeerr.New(forgeerr.ConfigError, "neither container_name nor container_name_alt is running for "+t.String())
}

// readCredentials reads the already-pushed secret file directly from
// this host's own secrets directory (spec §6 "On-host filesystem
// layout": secrets/{service}/...), rather than through pkg/secrets.Store
// — that type is the control-plane-side ledger and always reaches a
// host over the Remote Executor, which backup-tick has no need of when
// it already is the host.
func readCredentials(dataDir string, t types.Tuple) (backup.Credentials, error) {
	path := filepath.Join(dataDir, t.Tenant, t.Project, t.Env, "secrets", t.Service, secrets.PasswordKey)
	raw, err := os.ReadFile(path)
	if err != nil {
		return backup.Credentials{}, forgeerr.Wrap(forgeerr.ConfigError, "read secret "+path, err)
	}
	return backup.Credentials{
		DBName:   naming.DBName(t),
		DBUser:   naming.DBUser(t),
		Password: string(raw),
	}, nil
}
