// Package clusterconfig is the composition-root wiring both cmd/forge
// and cmd/forge-agent load at startup: which cloud provider account to
// talk to, which SSH identity reaches every host, and the shared
// secrets this cluster's Secrets Store and Health Agent use. It is
// deliberately not part of the project config schema (pkg/config) —
// tenant/project/env/service definitions travel with the repo, cluster
// credentials do not.
package clusterconfig

import (
	"encoding/hex"
	"os"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/inventory"
	"github.com/cuemby/forge/pkg/provider/digitalocean"
	"github.com/cuemby/forge/pkg/provider/hetzner"
	"github.com/cuemby/forge/pkg/template"
)

// Config is the cluster-wide wiring loaded from a YAML file, mirroring
// the same flag/YAML-config split forge's own CLI uses (persistent
// flags for logging, a file for everything else).
type Config struct {
	Provider struct {
		Name     string `yaml:"name"` // "digitalocean" | "hetzner"
		APIToken string `yaml:"api_token"`
	} `yaml:"provider"`

	SSH struct {
		User           string `yaml:"user"`
		PrivateKeyPath string `yaml:"private_key_path"`
		Port           int    `yaml:"port,omitempty"`
	} `yaml:"ssh"`

	// Template parameterises the transient VM the Template Provisioner
	// bakes a region's snapshot on (spec §4.D).
	Template struct {
		BaseImage string `yaml:"base_image"`
		BakeSize  string `yaml:"bake_size"`
	} `yaml:"template"`

	// SecretsKeyHex is the 32-byte AES-256 key (hex-encoded) the
	// Secrets Store encrypts at rest with (spec §4.F).
	SecretsKeyHex string `yaml:"secrets_key_hex"`

	// AgentSharedSecret authenticates every call into a host's Health
	// Agent (spec §6 "Agent HTTP surface": "X-Deploy-Auth").
	AgentSharedSecret string `yaml:"agent_shared_secret"`

	// DataDir is where the rollout history (pkg/store) and any local
	// state this control plane keeps live.
	DataDir string `yaml:"data_dir"`
}

// Load reads and parses path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "read cluster config "+path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "parse cluster config "+path, err)
	}
	if cfg.SSH.User == "" {
		cfg.SSH.User = "root"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/deploy"
	}
	return &cfg, nil
}

// CloudProvider builds the inventory.CloudProvider named by
// Provider.Name.
func (c *Config) CloudProvider() (inventory.CloudProvider, error) {
	switch c.Provider.Name {
	case "digitalocean":
		return digitalocean.New(c.Provider.APIToken), nil
	case "hetzner":
		return hetzner.New(c.Provider.APIToken), nil
	default:
		return nil, forgeerr.Config("unknown cloud provider: " + c.Provider.Name)
	}
}

// SecretsKey decodes SecretsKeyHex into the 32-byte AES-256 key
// secrets.New requires.
func (c *Config) SecretsKey() ([]byte, error) {
	key, err := hex.DecodeString(c.SecretsKeyHex)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "decode secrets_key_hex", err)
	}
	return key, nil
}

// Executor builds the Remote Executor (spec §4.B): SSH to every real
// host, the in-process LocalExecutor for execute.LocalHost, dispatched
// by host name.
func (c *Config) Executor() (execute.Executor, error) {
	keyPEM, err := os.ReadFile(c.SSH.PrivateKeyPath)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "read ssh private key "+c.SSH.PrivateKeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "parse ssh private key", err)
	}

	sshExec := execute.NewSSHExecutor(execute.SSHConfig{Signer: signer, Port: c.SSH.Port})
	localExec := execute.NewLocalExecutor(nil)
	return execute.NewDispatcher(localExec, sshExec), nil
}

// Templates builds the Template Provisioner (spec §4.D), parameterised
// by this cluster's bake-VM settings.
func (c *Config) Templates(inv *inventory.Inventory, executor execute.Executor) *template.Provisioner {
	return template.New(inv, executor, template.Config{
		BaseImage: c.Template.BaseImage,
		BakeSize:  c.Template.BakeSize,
	})
}
