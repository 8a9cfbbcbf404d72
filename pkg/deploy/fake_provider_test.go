package deploy

import (
	"context"
	"sync"

	"github.com/cuemby/forge/pkg/types"
)

// fakeProvider is a minimal in-memory inventory.CloudProvider used to
// exercise allocateHosts/reclaimHosts without a real cloud SDK.
type fakeProvider struct {
	mu      sync.Mutex
	servers map[string]types.Server
}

func newFakeProvider(servers ...types.Server) *fakeProvider {
	p := &fakeProvider{servers: map[string]types.Server{}}
	for _, s := range servers {
		p.servers[s.ID] = s
	}
	return p
}

func hasAllTags(server types.Server, filter []string) bool {
	set := make(map[string]bool, len(server.Tags))
	for _, t := range server.Tags {
		set[t] = true
	}
	for _, f := range filter {
		if !set[f] {
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
	return types.Server{}, nil
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
	return "", nil
}

func (p *fakeProvider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	return nil
}

func (p *fakeProvider) CloneFromSnapshot(ctx context.Context, snapshotID, size, region string, tags []string) (types.Server, error) {
	return types.Server{}, nil
}
