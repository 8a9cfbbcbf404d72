// Package backup is the Backup Orchestrator (spec §4.J): for each
// stateful service, a dump/verify/retain cycle runs co-located with the
// service container on its own host, invoked by forge-agent's
// backup-tick subcommand off the same cron entry convention the
// Template Provisioner already bakes in for monitor-tick (spec §4.D).
// It execs the engine-native dump/verify tooling the stateful image
// already ships rather than standing up a second container image, and
// prunes the dump directory directly since it runs on the same host
// the files live on.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/log"
	"github.com/cuemby/forge/pkg/types"
)

// BaseDir mirrors pkg/secrets.BasePath / pkg/deploy's deploymentsDir
// layout convention (spec §6 on-host filesystem layout).
const BaseDir = "/var/lib/deploy"

const execTimeout = 5 * time.Minute

// Orchestrator drives one host's backup cycle for whichever stateful
// services are deployed on it.
type Orchestrator struct {
	runtime execute.ContainerRuntime
	baseDir string
}

// New builds an Orchestrator over the host's own container runtime,
// the same one forge-agent's Server drives (spec §4.H/§4.J share a
// host-local execution model). baseDir defaults to BaseDir.
func New(runtime execute.ContainerRuntime, baseDir string) *Orchestrator {
	if baseDir == "" {
		baseDir = BaseDir
	}
	return &Orchestrator{runtime: runtime, baseDir: baseDir}
}

// dir returns the host directory a tuple's dumps live under:
// {baseDir}/{tenant}/{project}/{env}/backups/{service}/
func (o *Orchestrator) dir(t types.Tuple) string {
	return filepath.Join(o.baseDir, t.Tenant, t.Project, t.Env, "backups", t.Service)
}

// Tick runs one dump+verify+retain cycle for t, whose currently live
// container is containerName, of the given built-in stateful kind
// (spec §4.J). It is the unit forge-agent's cron-driven backup-tick
// invokes once per service per schedule firing.
func (o *Orchestrator) Tick(ctx context.Context, t types.Tuple, kind config.ServiceKind, containerName string, creds Credentials, retain int) error {
	eng, ok := enginesByKind[kind]
	if !ok {
		return forgeerr.New(forgeerr.ConfigError, "no backup engine for kind "+string(kind))
	}

	dumpDir := o.dir(t)
	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		return forgeerr.Wrap(forgeerr.BackupIntegrityFailure, "create backup directory for "+t.String(), err)
	}

	now := time.Now().UTC()
	filename := fmt.Sprintf("%s-%s-%019d.dump", t.String(), now.Format("20060102T150405Z"), now.UnixNano())
	hostPath := filepath.Join(dumpDir, filename)
	containerPath := filepath.Join("/backups", filename)

	logger := log.WithComponent("backup")

	if err := o.run(ctx, containerName, eng.dumpCmd(creds, containerPath)); err != nil {
		return forgeerr.Wrap(forgeerr.BackupIntegrityFailure, "dump "+t.String(), err)
	}

	if err := o.run(ctx, containerName, eng.verifyCmd(creds, containerPath)); err != nil {
		// A dump that fails its own engine's integrity check is worse
		// than no dump at all; never retain a corrupt file.
		_ = os.Remove(hostPath)
		return forgeerr.Wrap(forgeerr.BackupIntegrityFailure, "verify "+t.String(), err)
	}

	logger.Info().Str("tuple", t.String()).Str("file", filename).Msg("backup dump verified")

	return o.prune(dumpDir, retain)
}

func (o *Orchestrator) run(ctx context.Context, containerName string, argv []string) error {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	exitCode, _, stderr, err := o.runtime.Exec(ctx, containerName, argv)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("exited %d: %s", exitCode, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// prune deletes the oldest dumps in dir beyond the newest retain count
// (spec §4.J "prunes older than retention"). Filenames embed a
// lexicographically-sortable UTC timestamp, so a plain string sort
// orders oldest-first without parsing anything back out.
func (o *Orchestrator) prune(dir string, retain int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return forgeerr.Wrap(forgeerr.BackupIntegrityFailure, "list backups in "+dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) <= retain {
		return nil
	}
	for _, name := range names[:len(names)-retain] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return forgeerr.Wrap(forgeerr.BackupIntegrityFailure, "prune "+name, err)
		}
	}
	return nil
}

// Restore implements the manual restore path (spec §4.J: "stop the
// service, replace the data directory, restart; explicitly
// downtime-incurring"). It does not restart the service itself — that
// is a deploy.Engine concern — it only stages the chosen dump back
// into the data directory the container mounts.
func Restore(dumpPath, dataDir string) error {
	data, err := os.ReadFile(dumpPath)
	if err != nil {
		return forgeerr.Wrap(forgeerr.BackupIntegrityFailure, "read dump "+dumpPath, err)
	}
	restorePath := filepath.Join(dataDir, "restore.dump")
	if err := os.WriteFile(restorePath, data, 0o600); err != nil {
		return forgeerr.Wrap(forgeerr.BackupIntegrityFailure, "stage restore into "+dataDir, err)
	}
	return nil
}
