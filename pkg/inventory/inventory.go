// Package inventory is the Server Inventory (spec §4.C): a stateless
// view over whichever cloud provider backs a deployment. No local cache
// survives a call — every List/SetTags/Destroy/Snapshot goes straight to
// the provider, because the provider's tags ARE the state (spec §5,
// "Shared-resource policy").
package inventory

import (
	"context"
	"math/rand"
	"time"

	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/types"
)

// CloudProvider is the capability interface named in spec §6. Concrete
// adapters (pkg/provider/digitalocean, pkg/provider/hetzner) implement
// it against their own SDKs; Inventory never imports either directly.
type CloudProvider interface {
	// ListVMs returns every VM carrying all of filter's tags.
	ListVMs(ctx context.Context, filter []string) ([]types.Server, error)
	CreateVM(ctx context.Context, region, size, imageOrSnapshot string, tags []string) (types.Server, error)
	DestroyVM(ctx context.Context, id string) error
	SetTags(ctx context.Context, id string, tags []string) error
	// Snapshot returns the provider-specific snapshot/image ID.
	Snapshot(ctx context.Context, id, name string) (string, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) error
	CloneFromSnapshot(ctx context.Context, snapshotID, size, region string, tags []string) (types.Server, error)
}

// Inventory wraps a CloudProvider with the retry policy spec §4.C
// requires: transient errors are retried with jittered backoff up to a
// total of 60s, after which the failure is surfaced and the caller's
// next reconcile pass is trusted to correct any partial state.
type Inventory struct {
	provider CloudProvider
}

func New(provider CloudProvider) *Inventory {
	return &Inventory{provider: provider}
}

const providerRetryBudget = 60 * time.Second

func withProviderRetry(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(providerRetryBudget)
	delay := 250 * time.Millisecond

	for {
		err := fn()
		if err == nil {
			return nil
		}
		fe, ok := err.(*forgeerr.Error)
		if !ok || fe.Kind != forgeerr.ProviderErrorTransient {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}

		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
	}
}

func (i *Inventory) List(ctx context.Context, filter []string) ([]types.Server, error) {
	var servers []types.Server
	err := withProviderRetry(ctx, func() error {
		var err error
		servers, err = i.provider.ListVMs(ctx, filter)
		return err
	})
	return servers, err
}

// ListServers satisfies pkg/metrics.InventorySource for the periodic
// gauge collector; it lists with no filter and no deadline of its own.
func (i *Inventory) ListServers() ([]types.Server, error) {
	return i.List(context.Background(), nil)
}

func (i *Inventory) Create(ctx context.Context, region, size, imageOrSnapshot string, tags []string) (types.Server, error) {
	var server types.Server
	err := withProviderRetry(ctx, func() error {
		var err error
		server, err = i.provider.CreateVM(ctx, region, size, imageOrSnapshot, tags)
		return err
	})
	return server, err
}

func (i *Inventory) Destroy(ctx context.Context, id string) error {
	return withProviderRetry(ctx, func() error {
		return i.provider.DestroyVM(ctx, id)
	})
}

func (i *Inventory) SetTags(ctx context.Context, id string, tags []string) error {
	return withProviderRetry(ctx, func() error {
		return i.provider.SetTags(ctx, id, tags)
	})
}

func (i *Inventory) Snapshot(ctx context.Context, id, name string) (string, error) {
	var snapshotID string
	err := withProviderRetry(ctx, func() error {
		var err error
		snapshotID, err = i.provider.Snapshot(ctx, id, name)
		return err
	})
	return snapshotID, err
}

func (i *Inventory) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	return withProviderRetry(ctx, func() error {
		return i.provider.DeleteSnapshot(ctx, snapshotID)
	})
}

func (i *Inventory) CloneFromSnapshot(ctx context.Context, snapshotID, size, region string, tags []string) (types.Server, error) {
	var server types.Server
	err := withProviderRetry(ctx, func() error {
		var err error
		server, err = i.provider.CloneFromSnapshot(ctx, snapshotID, size, region, tags)
		return err
	})
	return server, err
}

// Reserve marks a server reserve (pre-provisioned, not yet assigned to
// any tuple) — the only local convenience on top of SetTags, since
// "reserve" is the status every template-provisioned host starts in.
func (i *Inventory) Reserve(ctx context.Context, id string) error {
	return i.SetTags(ctx, id, []string{types.TagStatus + ":" + string(types.ServerStatusReserve)})
}
