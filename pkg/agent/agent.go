// Package agent is the Health Agent (spec §4.H): an HTTP service bound to
// a host's private-network interface that lets the Health Monitor leader
// inspect and repair this host's containers without an outbound call of
// its own. It drives the same execute.ContainerRuntime interface the
// Deployment Engine's createAndStart/stopAndRemove helpers target over
// SSH — the Agent is the "forge-agent process" execute.ContainerdRuntime's
// doc comment anticipates, running ContainerdRuntime in-process against
// its own host's containerd socket.
package agent

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"syscall"
	"time"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/log"
	"github.com/cuemby/forge/pkg/types"
)

// AuthHeader carries the per-cluster shared secret (spec §6 "Agent HTTP
// surface"): "X-Deploy-Auth: <shared_secret>".
const AuthHeader = "X-Deploy-Auth"

const restartTimeout = 20 * time.Second

// SidecarReloader triggers a host's sidecar graceful reload; the
// production wiring is sidecar.Configurator.Push's reload step run
// against execute.LocalHost, kept behind an interface here so the
// handler can be tested without a real sidecar binary.
type SidecarReloader interface {
	Reload(ctx context.Context) error
}

// Server is the Agent's HTTP surface, private-network only (spec §4.H).
type Server struct {
	runtime   execute.ContainerRuntime
	reloader  SidecarReloader
	secret    string
	startedAt time.Time
	diskPath  string
	mux       *http.ServeMux
}

// New builds an Agent Server over the host's container runtime. diskPath
// is the filesystem to report disk_free_mb for; it defaults to
// /var/lib/deploy, the root of the on-host state tree (spec §6 "On-host
// filesystem layout").
func New(runtime execute.ContainerRuntime, reloader SidecarReloader, sharedSecret, diskPath string) *Server {
	if diskPath == "" {
		diskPath = "/var/lib/deploy"
	}
	s := &Server{
		runtime:   runtime,
		reloader:  reloader,
		secret:    sharedSecret,
		startedAt: time.Now(),
		diskPath:  diskPath,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.authenticated(s.handleHealth))
	mux.HandleFunc("/restart", s.authenticated(s.handleRestart))
	mux.HandleFunc("/deploy", s.authenticated(s.handleDeploy))
	mux.HandleFunc("/reload_sidecar", s.authenticated(s.handleReloadSidecar))
	s.mux = mux
	return s
}

// Handler exposes the Agent's mux for ListenAndServe callers and tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe binds addr (the host's private-network interface) and
// serves until the process stops or addr fails to bind.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: restartTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger := log.WithComponent("agent")
	logger.Info().Str("addr", addr).Msg("health agent listening")
	return srv.ListenAndServe()
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get(AuthHeader)), []byte(s.secret)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// ContainerStatus is one entry in HealthResponse.Containers (spec §4.H
// "GET /health").
type ContainerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Restarts int    `json:"restarts"`
	ExitCode int    `json:"exit_code"`
}

// HealthResponse is the body GET /health returns.
type HealthResponse struct {
	DockerOK   bool              `json:"docker_ok"`
	DiskFreeMB int64             `json:"disk_free_mb"`
	UptimeS    int64             `json:"uptime_s"`
	Containers []ContainerStatus `json:"containers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	names, err := s.runtime.ListContainers(ctx)
	resp := HealthResponse{
		DockerOK:   err == nil,
		DiskFreeMB: diskFreeMB(s.diskPath),
		UptimeS:    int64(time.Since(s.startedAt).Seconds()),
	}
	for _, name := range names {
		info, infoErr := s.runtime.Status(ctx, name)
		if infoErr != nil {
			continue
		}
		resp.Containers = append(resp.Containers, ContainerStatus{
			Name:     info.Name,
			State:    string(info.State),
			Restarts: info.Restarts,
			ExitCode: info.ExitCode,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func diskFreeMB(path string) int64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0
	}
	return int64(stat.Bavail) * int64(stat.Bsize) / (1024 * 1024)
}

// RestartRequest is the body POST /restart expects.
type RestartRequest struct {
	ContainerName string `json:"container_name"`
}

// handleRestart restarts a container with its existing image/args and
// blocks until it transitions back to running or 20s elapses (spec §4.H).
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req RestartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContainerName == "" {
		http.Error(w, "container_name required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), restartTimeout)
	defer cancel()

	if err := s.runtime.StopContainer(ctx, req.ContainerName, 10*time.Second); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.runtime.StartContainer(ctx, req.ContainerName); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	deadline := time.Now().Add(restartTimeout)
	for time.Now().Before(deadline) {
		info, err := s.runtime.Status(ctx, req.ContainerName)
		if err == nil && info.State == types.ContainerStateRunning {
			writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	http.Error(w, "restart did not converge within 20s", http.StatusGatewayTimeout)
}

// ContainerSpecDTO is the wire shape of POST /deploy's container_spec.
type ContainerSpecDTO struct {
	Name          string   `json:"name"`
	Image         string   `json:"image"`
	Env           []string `json:"env,omitempty"`
	HostPort      int      `json:"host_port,omitempty"`
	ContainerPort int      `json:"container_port,omitempty"`
	CPU           float64  `json:"cpu,omitempty"`
	Memory        int64    `json:"memory,omitempty"`
}

// DeployRequest is the body POST /deploy expects.
type DeployRequest struct {
	ContainerSpec ContainerSpecDTO `json:"container_spec"`
}

// handleDeploy runs a container matching spec, idempotent by name (spec
// §4.H): a container already present under the requested name is left
// running rather than recreated.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContainerSpec.Name == "" {
		http.Error(w, "container_spec.name required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	spec := execute.ContainerSpec{
		Name:          req.ContainerSpec.Name,
		Image:         req.ContainerSpec.Image,
		Env:           req.ContainerSpec.Env,
		HostPort:      req.ContainerSpec.HostPort,
		ContainerPort: req.ContainerSpec.ContainerPort,
		CPU:           req.ContainerSpec.CPU,
		Memory:        req.ContainerSpec.Memory,
	}

	if existing, err := s.runtime.Status(ctx, spec.Name); err == nil && existing.State != types.ContainerStateMissing {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already-deployed"})
		return
	}

	if err := s.runtime.PullImage(ctx, spec.Image); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.runtime.CreateContainer(ctx, spec); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.runtime.StartContainer(ctx, spec.Name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deployed"})
}

func (s *Server) handleReloadSidecar(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if s.reloader == nil {
		http.Error(w, "no sidecar reloader configured", http.StatusNotImplemented)
		return
	}
	if err := s.reloader.Reload(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
