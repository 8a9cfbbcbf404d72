package digitalocean

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/types"
)

// Provider talks to one DigitalOcean account's Droplets/Snapshots/Tags
// APIs. It is stateless: every call hits the API directly.
type Provider struct {
	client *godo.Client
}

type tokenSource struct{ token string }

func (t tokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: t.token}, nil
}

func New(apiToken string) *Provider {
	oauthClient := oauth2.NewClient(context.Background(), tokenSource{token: apiToken})
	return &Provider{client: godo.NewClient(oauthClient)}
}

// classify turns a godo error into the closed taxonomy: 429/5xx and
// network-level failures are transient, everything else permanent.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if gerr, ok := err.(*godo.ErrorResponse); ok && gerr.Response != nil {
		code := gerr.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= 500 {
			return forgeerr.Transient(op, err)
		}
		return forgeerr.Permanent(op, err)
	}
	return forgeerr.Transient(op, err)
}

func toServer(d *godo.Droplet) types.Server {
	s := types.Server{
		ID:        strconv.Itoa(d.ID),
		Region:    d.Region.Slug,
		CPU:       d.Vcpus,
		MemoryMB:  d.Memory,
		Tags:      d.Tags,
		CreatedAt: parseCreatedAt(d.Created),
	}
	for _, n := range d.Networks.V4 {
		switch n.Type {
		case "private":
			s.PrivateIP = n.IPAddress
		case "public":
			s.PublicIP = n.IPAddress
		}
	}
	s.Status = types.StatusFromTags(s.Tags)
	return s
}

func parseCreatedAt(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ListVMs fetches every droplet tagged with filter[0] (DO's droplet
// listing API only accepts a single tag) and narrows to entries that
// also carry every remaining tag in filter.
func (p *Provider) ListVMs(ctx context.Context, filter []string) ([]types.Server, error) {
	opt := &godo.ListOptions{PerPage: 200}
	var all []godo.Droplet

	list := func(page int) ([]godo.Droplet, *godo.Response, error) {
		opt.Page = page
		if len(filter) > 0 {
			return p.client.Droplets.ListByTag(ctx, filter[0], opt)
		}
		return p.client.Droplets.List(ctx, opt)
	}

	for page := 1; ; page++ {
		droplets, resp, err := list(page)
		if err != nil {
			return nil, classify("list droplets", err)
		}
		all = append(all, droplets...)
		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
	}

	var servers []types.Server
	for _, d := range all {
		if hasAllTags(d.Tags, filter) {
			servers = append(servers, toServer(&d))
		}
	}
	return servers, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func (p *Provider) CreateVM(ctx context.Context, region, size, imageOrSnapshot string, tags []string) (types.Server, error) {
	req := &godo.DropletCreateRequest{
		Name:              "forge-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		Region:            region,
		Size:              size,
		PrivateNetworking: true,
		Tags:              normalizeTags(tags),
	}
	if id, err := strconv.Atoi(imageOrSnapshot); err == nil {
		req.Image = godo.DropletCreateImage{ID: id}
	} else {
		req.Image = godo.DropletCreateImage{Slug: imageOrSnapshot}
	}

	droplet, _, err := p.client.Droplets.Create(ctx, req)
	if err != nil {
		return types.Server{}, classify("create droplet", err)
	}
	return toServer(droplet), nil
}

func (p *Provider) DestroyVM(ctx context.Context, id string) error {
	doID, err := strconv.Atoi(id)
	if err != nil {
		return forgeerr.Permanent("invalid droplet id "+id, err)
	}
	_, err = p.client.Droplets.Delete(ctx, doID)
	return classify("destroy droplet", err)
}

// normalizeTags DO tags must exist before they can be applied; the
// droplet create/tag-resource paths auto-create missing tags, but
// SetTags on an existing droplet does not, so we ensure each tag first.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.TrimSpace(t))
	}
	return out
}

func (p *Provider) ensureTagsExist(ctx context.Context, tags []string) error {
	for _, tag := range tags {
		_, _, err := p.client.Tags.Create(ctx, &godo.TagCreateRequest{Name: tag})
		if err != nil && !isConflict(err) {
			return classify("create tag "+tag, err)
		}
	}
	return nil
}

func isConflict(err error) bool {
	gerr, ok := err.(*godo.ErrorResponse)
	return ok && gerr.Response != nil && gerr.Response.StatusCode == http.StatusConflict
}

func (p *Provider) SetTags(ctx context.Context, id string, tags []string) error {
	doID, err := strconv.Atoi(id)
	if err != nil {
		return forgeerr.Permanent("invalid droplet id "+id, err)
	}

	current, _, err := p.client.Droplets.Get(ctx, doID)
	if err != nil {
		return classify("get droplet", err)
	}

	wanted := normalizeTags(tags)
	if err := p.ensureTagsExist(ctx, wanted); err != nil {
		return err
	}

	wantSet := make(map[string]bool, len(wanted))
	for _, t := range wanted {
		wantSet[t] = true
	}
	for _, t := range current.Tags {
		if !wantSet[t] {
			if _, err := p.client.Tags.UntagResources(ctx, t, &godo.UntagResourcesRequest{
				Resources: []godo.Resource{{
					ID:   id,
					Type: godo.DropletResourceType,
				}},
			}); err != nil {
				return classify("untag droplet", err)
			}
		}
	}
	for _, t := range wanted {
		if _, err := p.client.Tags.TagResources(ctx, t, &godo.TagResourcesRequest{
			Resources: []godo.Resource{{
				ID:   id,
				Type: godo.DropletResourceType,
			}},
		}); err != nil {
			return classify("tag droplet", err)
		}
	}
	return nil
}

func (p *Provider) Snapshot(ctx context.Context, id, name string) (string, error) {
	doID, err := strconv.Atoi(id)
	if err != nil {
		return "", forgeerr.Permanent("invalid droplet id "+id, err)
	}
	action, _, err := p.client.DropletActions.Snapshot(ctx, doID, name)
	if err != nil {
		return "", classify("snapshot droplet", err)
	}
	if err := p.awaitAction(ctx, doID, action.ID); err != nil {
		return "", err
	}

	images, _, err := p.client.Images.ListUser(ctx, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return "", classify("list snapshots", err)
	}
	for _, img := range images {
		if img.Name == name {
			return strconv.Itoa(img.ID), nil
		}
	}
	return "", forgeerr.Permanent("snapshot "+name+" not found after creation", nil)
}

func (p *Provider) awaitAction(ctx context.Context, dropletID, actionID int) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return forgeerr.Transient("await droplet action", ctx.Err())
		case <-ticker.C:
			action, _, err := p.client.DropletActions.Get(ctx, dropletID, actionID)
			if err != nil {
				return classify("get droplet action", err)
			}
			switch action.Status {
			case godo.ActionCompleted:
				return nil
			case godo.ActionInProgress:
				continue
			default:
				return forgeerr.Permanent("droplet action ended in status "+action.Status, nil)
			}
		}
	}
}

func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	id, err := strconv.Atoi(snapshotID)
	if err != nil {
		return forgeerr.Permanent("invalid snapshot id "+snapshotID, err)
	}
	_, err = p.client.Images.Delete(ctx, id)
	return classify("delete snapshot", err)
}

func (p *Provider) CloneFromSnapshot(ctx context.Context, snapshotID, size, region string, tags []string) (types.Server, error) {
	return p.CreateVM(ctx, region, size, snapshotID, tags)
}
