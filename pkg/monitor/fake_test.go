package monitor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/forge/pkg/agent"
	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/types"
)

// fakeAgent is an in-memory AgentClient double keyed by "ip:port" addr.
type fakeAgent struct {
	mu        sync.Mutex
	responses map[string]agent.HealthResponse
	errs      map[string]error
	restarts  []string
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{responses: map[string]agent.HealthResponse{}, errs: map[string]error{}}
}

func (f *fakeAgent) setHealthy(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[addr] = agent.HealthResponse{DockerOK: true}
	delete(f.errs, addr)
}

func (f *fakeAgent) setBrokenContainer(addr, containerName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[addr] = agent.HealthResponse{
		DockerOK:   true,
		Containers: []agent.ContainerStatus{{Name: containerName, State: "restarting"}},
	}
	delete(f.errs, addr)
}

func (f *fakeAgent) setUnreachable(addr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[addr] = err
}

func (f *fakeAgent) Health(ctx context.Context, addr string) (agent.HealthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[addr]; ok {
		return agent.HealthResponse{}, err
	}
	return f.responses[addr], nil
}

func (f *fakeAgent) Restart(ctx context.Context, addr, containerName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, addr+"/"+containerName)
	return nil
}

// fakeProvider is an in-memory inventory.CloudProvider double (mirrors
// pkg/deploy's test fakeProvider, local here since that one is
// unexported to its own package).
type fakeProvider struct {
	mu      sync.Mutex
	servers map[string]types.Server
	nextID  int
}

func newFakeProviderMonitor(servers ...types.Server) *fakeProvider {
	p := &fakeProvider{servers: map[string]types.Server{}}
	for _, s := range servers {
		p.servers[s.ID] = s
	}
	return p
}

func hasAllTags(server types.Server, filter []string) bool {
	set := map[string]bool{}
	for _, t := range server.Tags {
		set[t] = true
	}
	for _, want := range filter {
		if !set[want] {
			return false
		}
	}
	return true
}

func (p *fakeProvider) ListVMs(ctx context.Context, filter []string) ([]types.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Server
	for _, s := range p.servers {
		if hasAllTags(s, filter) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *fakeProvider) CreateVM(ctx context.Context, region, size, imageOrSnapshot string, tags []string) (types.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	s := types.Server{ID: fmt.Sprintf("created-%d", p.nextID), Region: region, Tags: tags}
	p.servers[s.ID] = s
	return s, nil
}

func (p *fakeProvider) DestroyVM(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.servers, id)
	return nil
}

func (p *fakeProvider) SetTags(ctx context.Context, id string, tags []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.servers[id]
	s.Tags = tags
	p.servers[id] = s
	return nil
}

func (p *fakeProvider) Snapshot(ctx context.Context, id, name string) (string, error) {
	return "snap-" + id, nil
}

func (p *fakeProvider) DeleteSnapshot(ctx context.Context, snapshotID string) error { return nil }

func (p *fakeProvider) CloneFromSnapshot(ctx context.Context, snapshotID, size, region string, tags []string) (types.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	s := types.Server{ID: fmt.Sprintf("clone-%d", p.nextID), PrivateIP: "10.0.0.100", Region: region, Tags: tags}
	p.servers[s.ID] = s
	return s, nil
}

// fakeExecutor is a minimal execute.Executor double. Stage 2 tests in
// this package deploy an empty service list, so none of these are
// actually invoked; they exist only to satisfy the interface.
type fakeExecutor struct{}

func (fakeExecutor) Run(ctx context.Context, host, user, cmd string, stdin io.Reader, timeout time.Duration) (*execute.Result, error) {
	return &execute.Result{ExitCode: 0}, nil
}

func (fakeExecutor) Upload(ctx context.Context, host, user, path string, data io.Reader, mode uint32) error {
	return nil
}

func (fakeExecutor) Download(ctx context.Context, host, user, path string) ([]byte, error) {
	return nil, nil
}

func (fakeExecutor) ExecInContainer(ctx context.Context, host, user, container, cmd string, timeout time.Duration) (*execute.Result, error) {
	return &execute.Result{ExitCode: 0}, nil
}
