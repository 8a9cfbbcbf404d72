package backup

import (
	"fmt"
	"strings"

	"github.com/cuemby/forge/pkg/config"
)

// Credentials carries whatever a built-in stateful engine's dump/verify
// commands need to reach the service already running in the container.
// Passwords here are always secrets.GeneratePassword output — plain
// alphanumeric — so no shell-escaping is required to inline them.
type Credentials struct {
	DBName   string
	DBUser   string
	Password string
}

// engine pairs one stateful kind's dump command with its "engine-native
// integrity check" (spec §4.J), both run via ContainerRuntime.Exec
// against the already-running service container.
type engine struct {
	dumpCmd   func(c Credentials, path string) []string
	verifyCmd func(c Credentials, path string) []string
}

var enginesByKind = map[config.ServiceKind]engine{
	config.KindStatefulDB: {
		dumpCmd: func(c Credentials, path string) []string {
			return []string{"sh", "-c", fmt.Sprintf(
				"PGPASSWORD=%s pg_dump -U %s -d %s -Fc -f %s", c.Password, c.DBUser, c.DBName, path,
			)}
		},
		verifyCmd: func(c Credentials, path string) []string {
			return []string{"pg_restore", "--list", path}
		},
	},
	config.KindStatefulCache: {
		dumpCmd: func(c Credentials, path string) []string {
			args := []string{"redis-cli"}
			if c.Password != "" {
				args = append(args, "-a", c.Password)
			}
			args = append(args, "--rdb", path)
			return args
		},
		verifyCmd: func(c Credentials, path string) []string {
			return []string{"redis-check-rdb", path}
		},
	},
	config.KindStatefulSearch: {
		dumpCmd: func(c Credentials, path string) []string {
			snap := snapshotName(path)
			return []string{"sh", "-c", fmt.Sprintf(
				"curl -sf -X PUT localhost:9200/_snapshot/forge/%s?wait_for_completion=true", snap,
			)}
		},
		verifyCmd: func(c Credentials, path string) []string {
			snap := snapshotName(path)
			return []string{"sh", "-c", fmt.Sprintf(
				"curl -sf localhost:9200/_snapshot/forge/%s/_status | grep -q '\"state\":\"SUCCESS\"'", snap,
			)}
		},
	},
}

// snapshotName derives a search-engine snapshot identifier from a dump
// file path, since Elasticsearch/OpenSearch snapshots are named, not
// file-based like the other two engines.
func snapshotName(path string) string {
	base := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		base = path[i+1:]
	}
	base = strings.TrimSuffix(base, ".dump")
	return strings.ToLower(base)
}
