// Package sidecar is the Sidecar Configurator (spec §4.E): it renders
// the stream.d/ (and http.d/) config block for one tuple's backend
// set, pushes it to every host in the zone over the Remote Executor,
// and triggers a graceful reload — never updating a sidecar to a
// backend set that hasn't passed its health gate.
package sidecar

import (
	"bytes"
	"context"
	"strconv"
	"text/template"
	"time"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/naming"
	"github.com/cuemby/forge/pkg/types"
)

const (
	StreamDir = "/etc/forge/stream.d"
	HTTPDir   = "/etc/forge/http.d"

	reloadTimeout = 15 * time.Second
)

// Mode is which addressing scheme a tuple's upstreams use.
type Mode string

const (
	// ModeSingleHost addresses upstreams by container name over the
	// local container-network DNS; the app container binds no host port.
	ModeSingleHost Mode = "single-host"
	// ModeMultiHost addresses upstreams by private IP + host port.
	ModeMultiHost Mode = "multi-host"
)

// Backend is one place a tuple is currently served from.
type Backend struct {
	HostID        string
	PrivateIP     string
	ContainerName string
	HostPort      int
}

// DetermineMode picks single-host addressing iff every backend lives
// on the same host (spec §4.E): "iff the service runs only on a
// single host in the zone".
func DetermineMode(backends []Backend) Mode {
	if len(backends) == 0 {
		return ModeSingleHost
	}
	first := backends[0].HostID
	for _, b := range backends[1:] {
		if b.HostID != first {
			return ModeMultiHost
		}
	}
	return ModeSingleHost
}

var streamTemplate = template.Must(template.New("stream").Parse(
	`upstream {{.Tuple}} {
    least_conn;
{{- range .Upstreams}}
    server {{.Target}};
{{- end}}
}
server {
    listen {{.Listen}};
    proxy_pass {{.Tuple}};
    proxy_connect_timeout {{.ConnectTimeout}};
    proxy_timeout {{.IdleTimeout}};
}
`))

var httpTemplate = template.Must(template.New("http").Parse(
	`upstream {{.Tuple}} {
    least_conn;
{{- range .Upstreams}}
    server {{.Target}};
{{- end}}
}
server {
    listen {{.Listen}};
    server_name {{.ServerName}};
    location / {
        proxy_pass http://{{.Tuple}};
        proxy_connect_timeout {{.ConnectTimeout}};
        proxy_read_timeout {{.IdleTimeout}};
    }
}
`))

type renderVars struct {
	Tuple          string
	Listen         int
	Upstreams      []types.SidecarUpstream
	ConnectTimeout string
	IdleTimeout    string
	ServerName     string
}

// Render builds the text of a stream.d/ or http.d/ config file for
// one tuple from its SidecarBlock (spec §3 "Sidecar stream block").
func Render(block types.SidecarBlock) (string, error) {
	vars := renderVars{
		Tuple:          block.Tuple.String(),
		Listen:         block.Listen,
		Upstreams:      block.Upstreams,
		ConnectTimeout: formatDuration(block.ConnectTimeout),
		IdleTimeout:    formatDuration(block.IdleTimeout),
		ServerName:     block.ServerName,
	}

	tmpl := streamTemplate
	if block.HTTP {
		tmpl = httpTemplate
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", forgeerr.Wrap(forgeerr.ConfigError, "render sidecar block for "+vars.Tuple, err)
	}
	return buf.String(), nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		d = time.Second
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// BuildBlock assembles a SidecarBlock from a tuple's current backend
// set, choosing the addressing scheme per DetermineMode.
func BuildBlock(t types.Tuple, containerPort int, backends []Backend, connectTimeout, idleTimeout time.Duration, http bool, serverName string) types.SidecarBlock {
	mode := DetermineMode(backends)
	upstreams := make([]types.SidecarUpstream, 0, len(backends))
	for _, b := range backends {
		var target string
		if mode == ModeSingleHost {
			target = b.ContainerName + ":" + strconv.Itoa(containerPort)
		} else {
			target = b.PrivateIP + ":" + strconv.Itoa(b.HostPort)
		}
		upstreams = append(upstreams, types.SidecarUpstream{Target: target, Port: containerPort})
	}

	return types.SidecarBlock{
		Tuple:          t,
		Listen:         naming.InternalPort(t),
		Upstreams:      upstreams,
		ConnectTimeout: connectTimeout,
		IdleTimeout:    idleTimeout,
		HTTP:           http,
		ServerName:     serverName,
	}
}

// Configurator pushes rendered blocks to hosts and triggers the
// sidecar's graceful reload over the Remote Executor.
type Configurator struct {
	executor execute.Executor
	sshUser  string
}

func New(executor execute.Executor, sshUser string) *Configurator {
	return &Configurator{executor: executor, sshUser: sshUser}
}

func dirFor(block types.SidecarBlock) string {
	if block.HTTP {
		return HTTPDir
	}
	return StreamDir
}

func filePath(block types.SidecarBlock) string {
	return dirFor(block) + "/" + block.Tuple.String() + ".conf"
}

// Push writes the rendered block to one host and reloads the sidecar.
// On reload failure the old file is restored and the error is
// returned so the caller can abort the rollout (spec §4.E reload
// policy: "on reload failure, the old configuration remains in
// force").
func (c *Configurator) Push(ctx context.Context, host string, block types.SidecarBlock) error {
	rendered, err := Render(block)
	if err != nil {
		return err
	}
	path := filePath(block)

	previous, readErr := c.executor.Download(ctx, host, c.sshUser, path)
	hadPrevious := readErr == nil

	if err := c.executor.Upload(ctx, host, c.sshUser, path, bytes.NewBufferString(rendered), 0o644); err != nil {
		return forgeerr.Wrap(forgeerr.SidecarReloadFailure, "write sidecar config on "+host, err)
	}

	if err := c.reload(ctx, host); err != nil {
		if hadPrevious {
			_ = c.executor.Upload(ctx, host, c.sshUser, path, bytes.NewReader(previous), 0o644)
		}
		return err
	}
	return nil
}

// Remove deletes a tuple's config file on a host and reloads.
func (c *Configurator) Remove(ctx context.Context, host string, t types.Tuple, http bool) error {
	dir := StreamDir
	if http {
		dir = HTTPDir
	}
	path := dir + "/" + t.String() + ".conf"
	_, err := c.executor.Run(ctx, host, c.sshUser, "rm -f "+path, nil, 10*time.Second)
	if err != nil {
		return forgeerr.Wrap(forgeerr.SidecarReloadFailure, "remove sidecar config on "+host, err)
	}
	return c.reload(ctx, host)
}

func (c *Configurator) reload(ctx context.Context, host string) error {
	result, err := c.executor.Run(ctx, host, c.sshUser, "forge-sidecar reload", nil, reloadTimeout)
	if err != nil {
		return forgeerr.Wrap(forgeerr.SidecarReloadFailure, "reload sidecar on "+host, err)
	}
	if result.ExitCode != 0 {
		return forgeerr.New(forgeerr.SidecarReloadFailure, "sidecar reload on "+host+" exited "+strconv.Itoa(result.ExitCode)+": "+string(result.Stderr))
	}
	return nil
}
