package hetzner

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/types"
)

type Provider struct {
	client *hcloud.Client
}

func New(apiToken string) *Provider {
	return &Provider{client: hcloud.NewClient(hcloud.WithToken(apiToken))}
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var hErr hcloud.Error
	if errors.As(err, &hErr) {
		switch hErr.Code {
		case hcloud.ErrorCodeRateLimitExceeded, hcloud.ErrorCodeConflict, hcloud.ErrorCodeServiceError:
			return forgeerr.Transient(op, err)
		default:
			return forgeerr.Permanent(op, err)
		}
	}
	return forgeerr.Transient(op, err)
}

// tagsToLabels turns "key:value" tags into an hcloud label map; a tag
// with no colon becomes a label with an empty value.
func tagsToLabels(tags []string) map[string]string {
	labels := make(map[string]string, len(tags))
	for _, t := range tags {
		key, value, _ := strings.Cut(t, ":")
		labels[key] = value
	}
	return labels
}

func labelsToTags(labels map[string]string) []string {
	tags := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			tags = append(tags, k)
			continue
		}
		tags = append(tags, k+":"+v)
	}
	return tags
}

func labelSelector(filter []string) string {
	parts := make([]string, 0, len(filter))
	for k, v := range tagsToLabels(filter) {
		if v == "" {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, k+"=="+v)
	}
	return strings.Join(parts, ",")
}

func toServer(s *hcloud.Server) types.Server {
	server := types.Server{
		ID:        strconv.FormatInt(s.ID, 10),
		PublicIP:  s.PublicNet.IPv4.IP.String(),
		CreatedAt: s.Created,
		Tags:      labelsToTags(s.Labels),
	}
	if s.Datacenter != nil && s.Datacenter.Location != nil {
		server.Region = s.Datacenter.Location.Name
	}
	if s.ServerType != nil {
		server.CPU = s.ServerType.Cores
		server.MemoryMB = int(s.ServerType.Memory * 1024)
	}
	if len(s.PrivateNet) > 0 {
		server.PrivateIP = s.PrivateNet[0].IP.String()
	}
	server.Status = types.StatusFromTags(server.Tags)
	return server
}

func (p *Provider) ListVMs(ctx context.Context, filter []string) ([]types.Server, error) {
	opts := hcloud.ServerListOpts{}
	if sel := labelSelector(filter); sel != "" {
		opts.ListOpts.LabelSelector = sel
	}
	servers, err := p.client.Server.AllWithOpts(ctx, opts)
	if err != nil {
		return nil, classify("list servers", err)
	}
	out := make([]types.Server, 0, len(servers))
	for _, s := range servers {
		out = append(out, toServer(s))
	}
	return out, nil
}

func (p *Provider) CreateVM(ctx context.Context, region, size, imageOrSnapshot string, tags []string) (types.Server, error) {
	var image *hcloud.Image
	if id, err := strconv.ParseInt(imageOrSnapshot, 10, 64); err == nil {
		image = &hcloud.Image{ID: id}
	} else {
		image = &hcloud.Image{Name: imageOrSnapshot}
	}

	result, _, err := p.client.Server.Create(ctx, hcloud.ServerCreateOpts{
		Name:       "forge-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		ServerType: &hcloud.ServerType{Name: size},
		Image:      image,
		Location:   &hcloud.Location{Name: region},
		Labels:     tagsToLabels(tags),
	})
	if err != nil {
		return types.Server{}, classify("create server", err)
	}
	if err := p.awaitAction(ctx, result.Action); err != nil {
		return types.Server{}, err
	}
	return toServer(result.Server), nil
}

func (p *Provider) awaitAction(ctx context.Context, action *hcloud.Action) error {
	if action == nil {
		return nil
	}
	_, errCh := p.client.Action.WatchProgress(ctx, action)
	if err := <-errCh; err != nil {
		return classify("await server action", err)
	}
	return nil
}

func (p *Provider) DestroyVM(ctx context.Context, id string) error {
	sid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return forgeerr.Permanent("invalid server id "+id, err)
	}
	_, _, err = p.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: sid})
	return classify("destroy server", err)
}

func (p *Provider) SetTags(ctx context.Context, id string, tags []string) error {
	sid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return forgeerr.Permanent("invalid server id "+id, err)
	}
	_, _, err = p.client.Server.Update(ctx, &hcloud.Server{ID: sid}, hcloud.ServerUpdateOpts{
		Labels: tagsToLabels(tags),
	})
	return classify("update server labels", err)
}

func (p *Provider) Snapshot(ctx context.Context, id, name string) (string, error) {
	sid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return "", forgeerr.Permanent("invalid server id "+id, err)
	}
	result, _, err := p.client.Server.CreateImage(ctx, &hcloud.Server{ID: sid}, &hcloud.ServerCreateImageOpts{
		Type:        hcloud.ImageTypeSnapshot,
		Description: hcloud.Ptr(name),
	})
	if err != nil {
		return "", classify("create snapshot", err)
	}
	if err := p.awaitAction(ctx, result.Action); err != nil {
		return "", err
	}
	return strconv.FormatInt(result.Image.ID, 10), nil
}

func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	id, err := strconv.ParseInt(snapshotID, 10, 64)
	if err != nil {
		return forgeerr.Permanent("invalid image id "+snapshotID, err)
	}
	_, err = p.client.Image.Delete(ctx, &hcloud.Image{ID: id})
	return classify("delete snapshot", err)
}

func (p *Provider) CloneFromSnapshot(ctx context.Context, snapshotID, size, region string, tags []string) (types.Server, error) {
	return p.CreateVM(ctx, region, size, snapshotID, tags)
}
