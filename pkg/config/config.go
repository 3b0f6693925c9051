// Package config holds the installation's single JSON-serializable
// configuration blob. The schema evolves forward-compatibly: missing fields
// are defaulted on load, never rejected.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"relaymesh/pkg/store"
	"relaymesh/pkg/types"
)

// Key is the store key the configuration blob lives under.
const Key = "config"

const (
	defaultVersion      = "1"
	defaultQueryTimeout = "8s"
	defaultQueryLimit   = 100
)

// Config is the local configuration blob: the active identity, its
// configured endpoint list and a few defaults.
type Config struct {
	Version   string           `json:"version"`
	Identity  types.SubjectID  `json:"identity,omitempty"`
	Endpoints []types.Endpoint `json:"endpoints"`
	Defaults  DefaultSettings  `json:"defaults"`
}

// DefaultSettings are tunables applied when a caller does not specify.
type DefaultSettings struct {
	QueryTimeout string `json:"query_timeout,omitempty"`
	QueryLimit   int    `json:"query_limit,omitempty"`
}

// New returns a configuration with all defaults applied.
func New() *Config {
	return &Config{
		Version: defaultVersion,
		Defaults: DefaultSettings{
			QueryTimeout: defaultQueryTimeout,
			QueryLimit:   defaultQueryLimit,
		},
	}
}

// Load reads the blob from the store. A missing blob yields defaults.
func Load(ctx context.Context, kv store.KV) (*Config, error) {
	data, ok, err := kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !ok {
		return New(), nil
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes the blob back to the store.
func (c *Config) Save(ctx context.Context, kv store.KV) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := kv.Put(ctx, Key, data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// QueryTimeout parses the configured per-dispatch timeout, falling back to
// the default on absence or garbage.
func (c *Config) QueryTimeout() time.Duration {
	if c.Defaults.QueryTimeout != "" {
		if d, err := time.ParseDuration(c.Defaults.QueryTimeout); err == nil && d > 0 {
			return d
		}
	}
	d, _ := time.ParseDuration(defaultQueryTimeout)
	return d
}

// applyDefaults fills missing fields and repairs endpoint entries: URLs are
// re-normalized, invalid ones dropped, dead read/write pairs coerced to
// read+write.
func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = defaultVersion
	}
	if c.Defaults.QueryTimeout == "" {
		c.Defaults.QueryTimeout = defaultQueryTimeout
	}
	if c.Defaults.QueryLimit == 0 {
		c.Defaults.QueryLimit = defaultQueryLimit
	}

	seen := make(map[string]struct{})
	kept := c.Endpoints[:0]
	for _, ep := range c.Endpoints {
		u, err := types.NormalizeURL(ep.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		ep.URL = u
		if !ep.Read && !ep.Write {
			ep.Read, ep.Write = true, true
		}
		kept = append(kept, ep)
	}
	c.Endpoints = kept
}

// DefaultDir returns the configuration directory for this installation.
func DefaultDir() string {
	if dir := os.Getenv("RELAYMESH_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "relaymesh")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaymesh"
	}
	return filepath.Join(home, ".relaymesh")
}
