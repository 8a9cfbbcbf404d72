package deploy

import (
	"context"
	"fmt"

	"github.com/cuemby/forge/pkg/config"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/naming"
	"github.com/cuemby/forge/pkg/secrets"
	"github.com/cuemby/forge/pkg/types"
)

// executeSpecFor builds the execute.ContainerSpec a scheduled service's
// one-shot run uses; it never binds a host port since nothing else
// addresses it between invocations.
func executeSpecFor(t types.Tuple, svc config.ServiceSpec) execute.ContainerSpec {
	return execute.ContainerSpec{
		Name:  naming.ContainerName(t),
		Image: svc.Image,
		Mounts: []execute.Mount{
			{Source: secrets.BasePath + "/" + t.Tenant + "/" + t.Project + "/" + t.Env + "/secrets/" + t.Service, Destination: "/run/secrets", ReadOnly: true},
		},
	}
}

// installCronEntry writes the crontab line that runs image as a one-shot
// on schedule, replacing any prior entry for this tuple (idempotent:
// deploying the same scheduled service twice leaves one cron line, not
// two). It follows the same "read crontab, filter, append, reinstall"
// shape the template snapshot's own bootstrap cron entry uses.
func installCronEntry(ctx context.Context, executor execute.Executor, host, user string, t types.Tuple, cron, image string) error {
	name := naming.ContainerName(t)
	marker := "# forge-scheduled:" + name
	runCmd := fmt.Sprintf("ctr -n %s run --rm %s %s-tick-$(date +%%s)", execute.Namespace, image, name)
	entry := fmt.Sprintf("%s %s %s", cron, runCmd, marker)

	cmd := fmt.Sprintf(
		`(crontab -l 2>/dev/null | grep -v %q; echo %q) | crontab -`,
		marker, entry,
	)
	result, err := executor.Run(ctx, host, user, cmd, nil, queryTimeout)
	if err != nil {
		return forgeerr.Wrap(forgeerr.TransportError, "install cron entry for "+name+" on "+host, err).OnHost(host)
	}
	if result.ExitCode != 0 {
		return forgeerr.New(forgeerr.TransportError, "crontab update for "+name+" on "+host+" failed: "+string(result.Stderr)).OnHost(host)
	}
	return nil
}
