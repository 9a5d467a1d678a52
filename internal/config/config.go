// Package config loads the proxy's static configuration, in particular
// GROUP_CONFIG (the per-group expected worker counts the dispatcher's
// ReloadHelper and registry are built from).
package config

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// GroupSpec is one GROUP_CONFIG entry.
type GroupSpec struct {
	// ExpectedWorkers is the configured worker count for this group; a
	// reload is considered ready for this group once at least this many
	// workers have registered in the staging set.
	ExpectedWorkers int `toml:"expected_workers"`
}

// Config is the proxy's full static configuration.
type Config struct {
	// Groups is GROUP_CONFIG: group id -> expected worker count.
	Groups map[int]GroupSpec `toml:"groups"`

	// Listen is the client-facing TCP/UDP address, e.g. ":7890".
	Listen string `toml:"listen"`
	// TCP/UDP toggle which client transports are started.
	TCP bool `toml:"tcp"`
	UDP bool `toml:"udp"`

	// IPCDirectory holds the UNIX-domain sockets used for worker and
	// master IPC.
	IPCDirectory string `toml:"ipc_directory"`
	// WorkerAddressTemplate is a Printf template (one %d verb) producing
	// the per-group worker socket path relative to IPCDirectory.
	WorkerAddressTemplate string `toml:"worker_address_template"`
	MasterAddress         string `toml:"master_address"`

	// AdminListen is the admin HTTP surface address, e.g. "127.0.0.1:7891".
	// Empty disables it.
	AdminListen string `toml:"admin_listen"`
}

// GroupCounts projects Config.Groups into the plain map[int]int the
// dispatcher's ReloadHelper and registry are constructed from.
func (c *Config) GroupCounts() map[int]int {
	out := make(map[int]int, len(c.Groups))
	for g, spec := range c.Groups {
		out[g] = spec.ExpectedWorkers
	}
	return out
}

// WorkerSocketPath returns the UNIX-domain socket path workers in group g
// connect to, rendered from WorkerAddressTemplate under IPCDirectory.
func (c *Config) WorkerSocketPath(g int) string {
	return filepath.Join(c.IPCDirectory, fmt.Sprintf(c.WorkerAddressTemplate, g))
}

// MasterSocketPath returns the UNIX-domain socket path the controlling
// master process connects to.
func (c *Config) MasterSocketPath() string {
	return filepath.Join(c.IPCDirectory, c.MasterAddress)
}

// Load decodes a TOML configuration file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.IPCDirectory == "" {
		cfg.IPCDirectory = "/tmp/taskproxy"
	}
	if cfg.WorkerAddressTemplate == "" {
		cfg.WorkerAddressTemplate = "worker-%d.sock"
	}
	if cfg.MasterAddress == "" {
		cfg.MasterAddress = "master.sock"
	}
	return &cfg, nil
}
