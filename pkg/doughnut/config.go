package doughnut

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/doughnut/pkg/overlay"
)

// Config configures a single Doughnut node. It is loadable from YAML
// via LoadConfig, with zero-value defaults filled in by setDefaults.
type Config struct {
	NodeID   string `yaml:"node_id"`
	DataDir  string `yaml:"data_dir"`
	SiloDir  string `yaml:"silo_dir"`
	Capacity int64  `yaml:"capacity_bytes"`
	Passphrase string `yaml:"passphrase"`

	ListenAddr  string `yaml:"listen_addr"`
	// MetricsAddr, if set, serves Prometheus metrics and health/readiness
	// endpoints over plain HTTP — operational surface, deliberately
	// separate from the mTLS Dock listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// Seeds bootstraps overlay membership; ListenAddr doubles as this
	// node's own advertised endpoint, part of the overlay (and so of
	// Allocate results) from the start.
	Seeds []SeedPeer `yaml:"seeds"`

	ReplicationFactor int           `yaml:"replication_factor"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	JournalDir    string `yaml:"journal_dir"`
	QueueCapacity int    `yaml:"queue_capacity"`

	CacheSize            int           `yaml:"cache_size"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	CacheInvalidationAge time.Duration `yaml:"cache_invalidation_age"`
	DiskCacheDir         string        `yaml:"disk_cache_dir"`
	DiskCacheCapacity    int64         `yaml:"disk_cache_capacity_bytes"`
}

// SeedPeer is one bootstrap overlay member.
type SeedPeer struct {
	ID        string   `yaml:"id"`
	Endpoints []string `yaml:"endpoints"`
}

func (s SeedPeer) toLocation() overlay.Location {
	return overlay.Location{ID: s.ID, Endpoints: s.Endpoints}
}

// DefaultConfig returns a Config with sane defaults for every field the
// caller has not set; NodeID, DataDir, and ListenAddr must still be
// supplied explicitly.
func DefaultConfig() Config {
	return Config{
		Capacity:             1 << 30,
		ReplicationFactor:    3,
		HeartbeatInterval:    10 * time.Second,
		QueueCapacity:        1024,
		CacheSize:            4096,
		CacheTTL:             10 * time.Minute,
		CacheInvalidationAge: 30 * time.Second,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = d.ReplicationFactor
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheInvalidationAge <= 0 {
		c.CacheInvalidationAge = d.CacheInvalidationAge
	}
}

// LoadConfig reads and parses a YAML config file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("doughnut: read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("doughnut: parse config: %w", err)
	}
	cfg.setDefaults()
	return cfg, nil
}
