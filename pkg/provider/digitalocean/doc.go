// Package digitalocean is a CloudProvider adapter for DigitalOcean
// droplets, using tags as the state channel the way a Hetzner-backed
// deployment uses labels (pkg/provider/hetzner).
package digitalocean
