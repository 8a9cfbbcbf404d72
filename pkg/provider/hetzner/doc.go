// Package hetzner is a CloudProvider adapter for Hetzner Cloud
// servers, using labels as the state channel the way a DigitalOcean-
// backed deployment uses tags (pkg/provider/digitalocean).
package hetzner
