package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/dbfleet/pkg/converge"
	"github.com/cuemby/dbfleet/pkg/fetch"
	"github.com/cuemby/dbfleet/pkg/lock"
	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/reconciler"
	"github.com/cuemby/dbfleet/pkg/types"
	"github.com/cuemby/dbfleet/pkg/view"
)

// Coordinator kinds
const (
	CoordinatorLocal = "local"
	CoordinatorEtcd  = "etcd"
	CoordinatorRaft  = "raft"
)

// Fetcher kinds
const (
	FetcherHTTP   = "http"
	FetcherGossip = "gossip"
)

// ErrInvalidConfig is matched by every ValidationError
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Is lets errors.Is match ErrInvalidConfig
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Duration is a time.Duration written as "30s" or "5m" in config files
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the configuration of a dbfleet process
type Config struct {
	NodeID   string `yaml:"node_id" toml:"node_id"`
	DataDir  string `yaml:"data_dir" toml:"data_dir"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`

	Log         LogConfig         `yaml:"log" toml:"log"`
	Coordinator CoordinatorConfig `yaml:"coordinator" toml:"coordinator"`
	Engine      EngineConfig      `yaml:"engine" toml:"engine"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler" toml:"reconciler"`
	Fetcher     FetcherConfig     `yaml:"fetcher" toml:"fetcher"`
	Platforms   []PlatformConfig  `yaml:"platforms" toml:"platforms"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// CoordinatorConfig selects how cluster locks are granted
type CoordinatorConfig struct {
	Kind string     `yaml:"kind" toml:"kind"`
	Etcd EtcdConfig `yaml:"etcd" toml:"etcd"`
	Raft RaftConfig `yaml:"raft" toml:"raft"`
}

// EtcdConfig configures the etcd coordinator
type EtcdConfig struct {
	Endpoints   []string `yaml:"endpoints" toml:"endpoints"`
	Namespace   string   `yaml:"namespace" toml:"namespace"`
	TTL         Duration `yaml:"ttl" toml:"ttl"`
	DialTimeout Duration `yaml:"dial_timeout" toml:"dial_timeout"`
}

// RaftConfig configures the embedded raft coordinator
type RaftConfig struct {
	BindAddr      string   `yaml:"bind_addr" toml:"bind_addr"`
	AdvertiseAddr string   `yaml:"advertise_addr" toml:"advertise_addr"`
	Bootstrap     bool     `yaml:"bootstrap" toml:"bootstrap"`
	// Join is the HTTP API address of a running server that is asked to
	// add this node as a voter
	Join          string   `yaml:"join" toml:"join"`
	TTL           Duration `yaml:"ttl" toml:"ttl"`
}

// EngineConfig configures convergence cycles
type EngineConfig struct {
	LockTimeout    Duration `yaml:"lock_timeout" toml:"lock_timeout"`
	FetchTimeout   Duration `yaml:"fetch_timeout" toml:"fetch_timeout"`
	ActionTimeout  Duration `yaml:"action_timeout" toml:"action_timeout"`
	ActionGrace    Duration `yaml:"action_grace" toml:"action_grace"`
	ReleaseTimeout Duration `yaml:"release_timeout" toml:"release_timeout"`
	StalenessBound Duration `yaml:"staleness_bound" toml:"staleness_bound"`
	TieBreak       string   `yaml:"tie_break" toml:"tie_break"`
	ExcludeStale   bool     `yaml:"exclude_stale" toml:"exclude_stale"`
}

// ReconcilerConfig configures the background loop
type ReconcilerConfig struct {
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Interval Duration `yaml:"interval" toml:"interval"`
	Workers  int      `yaml:"workers" toml:"workers"`
	Mode     string   `yaml:"mode" toml:"mode"`
}

// FetcherConfig selects how node reports are collected
type FetcherConfig struct {
	Kind        string       `yaml:"kind" toml:"kind"`
	Timeout     Duration     `yaml:"timeout" toml:"timeout"`
	Concurrency int          `yaml:"concurrency" toml:"concurrency"`
	Path        string       `yaml:"path" toml:"path"`
	Gossip      GossipConfig `yaml:"gossip" toml:"gossip"`
}

// GossipConfig configures the memberlist used by the gossip fetcher
type GossipConfig struct {
	BindAddr string   `yaml:"bind_addr" toml:"bind_addr"`
	BindPort int      `yaml:"bind_port" toml:"bind_port"`
	Join     []string `yaml:"join" toml:"join"`
}

// PlatformConfig declares one platform handle
type PlatformConfig struct {
	Name        string   `yaml:"name" toml:"name"`
	Kind        string   `yaml:"kind" toml:"kind"`
	Active      *bool    `yaml:"active" toml:"active"`
	Socket      string   `yaml:"socket" toml:"socket"`
	Namespace   string   `yaml:"namespace" toml:"namespace"`
	DataRoot    string   `yaml:"data_root" toml:"data_root"`
	StopTimeout Duration `yaml:"stop_timeout" toml:"stop_timeout"`
}

// Default returns a configuration that runs a single node with an
// in-process lock, HTTP report polling and one in-memory platform.
func Default() *Config {
	engine := converge.DefaultConfig()
	return &Config{
		DataDir:  "./dbfleet-data",
		HTTPAddr: "127.0.0.1:9090",
		GRPCAddr: "127.0.0.1:9091",
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		Coordinator: CoordinatorConfig{
			Kind: CoordinatorLocal,
			Etcd: EtcdConfig{
				Namespace:   "/dbfleet",
				TTL:         Duration(15 * time.Second),
				DialTimeout: Duration(5 * time.Second),
			},
			Raft: RaftConfig{
				BindAddr: "127.0.0.1:7946",
				TTL:      Duration(15 * time.Second),
			},
		},
		Engine: EngineConfig{
			LockTimeout:    Duration(engine.LockTimeout),
			FetchTimeout:   Duration(engine.FetchTimeout),
			ActionTimeout:  Duration(engine.ActionTimeout),
			ActionGrace:    Duration(engine.ActionGrace),
			ReleaseTimeout: Duration(engine.ReleaseTimeout),
			StalenessBound: Duration(engine.StalenessBound),
			TieBreak:       string(engine.TieBreak),
		},
		Reconciler: ReconcilerConfig{
			Enabled:  true,
			Interval: Duration(10 * time.Second),
			Workers:  4,
			Mode:     string(types.ModeApply),
		},
		Fetcher: FetcherConfig{
			Kind:        FetcherHTTP,
			Timeout:     Duration(5 * time.Second),
			Concurrency: 8,
			Path:        fetch.DefaultStatusPath,
			Gossip: GossipConfig{
				BindAddr: "0.0.0.0",
				BindPort: 7947,
			},
		},
		Platforms: []PlatformConfig{
			{Name: "local", Kind: platform.KindMemory},
		},
	}
}

// Load reads a configuration file. TOML is used for files ending in
// .toml and YAML for everything else. Unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.DataDir == "" {
		add("data_dir is required")
	}

	switch c.Coordinator.Kind {
	case CoordinatorLocal:
	case CoordinatorEtcd:
		if len(c.Coordinator.Etcd.Endpoints) == 0 {
			add("coordinator.etcd.endpoints is required")
		}
		if c.Coordinator.Etcd.TTL <= 0 {
			add("coordinator.etcd.ttl must be positive")
		}
	case CoordinatorRaft:
		if c.Coordinator.Raft.BindAddr == "" {
			add("coordinator.raft.bind_addr is required")
		}
		if c.NodeID == "" {
			add("node_id is required for the raft coordinator")
		}
		if c.Coordinator.Raft.Bootstrap && c.Coordinator.Raft.Join != "" {
			add("coordinator.raft.bootstrap and coordinator.raft.join are mutually exclusive")
		}
	default:
		add("unknown coordinator kind %q", c.Coordinator.Kind)
	}

	if _, err := c.EngineConfig(); err != nil {
		add("engine: %v", err)
	}

	if _, err := types.ParseMode(c.Reconciler.Mode); err != nil {
		add("reconciler: %v", err)
	}
	if c.Reconciler.Workers < 0 {
		add("reconciler.workers must not be negative")
	}

	switch c.Fetcher.Kind {
	case FetcherHTTP:
	case FetcherGossip:
		if c.Fetcher.Gossip.BindPort < 0 || c.Fetcher.Gossip.BindPort > 65535 {
			add("fetcher.gossip.bind_port out of range: %d", c.Fetcher.Gossip.BindPort)
		}
	default:
		add("unknown fetcher kind %q", c.Fetcher.Kind)
	}

	seen := make(map[string]bool, len(c.Platforms))
	for i, p := range c.Platforms {
		if p.Name == "" {
			add("platforms[%d].name is required", i)
			continue
		}
		if seen[p.Name] {
			add("duplicate platform %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case "", platform.KindMemory, platform.KindContainerd:
		default:
			add("platforms[%d]: unknown kind %q", i, p.Kind)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// EngineConfig converts the engine section into converge.Config
func (c *Config) EngineConfig() (converge.Config, error) {
	tieBreak, err := view.ParseTieBreak(c.Engine.TieBreak)
	if err != nil {
		return converge.Config{}, err
	}
	cfg := converge.Config{
		LockTimeout:    c.Engine.LockTimeout.Std(),
		FetchTimeout:   c.Engine.FetchTimeout.Std(),
		ActionTimeout:  c.Engine.ActionTimeout.Std(),
		ActionGrace:    c.Engine.ActionGrace.Std(),
		ReleaseTimeout: c.Engine.ReleaseTimeout.Std(),
		StalenessBound: c.Engine.StalenessBound.Std(),
		ExcludeStale:   c.Engine.ExcludeStale,
		TieBreak:       tieBreak,
	}
	if err := cfg.Validate(); err != nil {
		return converge.Config{}, err
	}
	return cfg, nil
}

// ReconcilerConfig converts the reconciler section
func (c *Config) ReconcilerConfig() reconciler.Config {
	mode, err := types.ParseMode(c.Reconciler.Mode)
	if err != nil {
		mode = types.ModeApply
	}
	return reconciler.Config{
		Interval: c.Reconciler.Interval.Std(),
		Workers:  c.Reconciler.Workers,
		Mode:     mode,
	}
}

// HTTPOptions converts the fetcher section for the HTTP fetcher
func (c *Config) HTTPOptions() fetch.HTTPOptions {
	return fetch.HTTPOptions{
		Timeout:     c.Fetcher.Timeout.Std(),
		Concurrency: c.Fetcher.Concurrency,
		Path:        c.Fetcher.Path,
	}
}

// EtcdOptions converts the etcd coordinator section
func (c *Config) EtcdOptions(nodeName string) lock.EtcdOptions {
	return lock.EtcdOptions{
		Endpoints:   c.Coordinator.Etcd.Endpoints,
		Namespace:   c.Coordinator.Etcd.Namespace,
		TTL:         c.Coordinator.Etcd.TTL.Std(),
		DialTimeout: c.Coordinator.Etcd.DialTimeout.Std(),
		NodeName:    nodeName,
	}
}

// RaftOptions converts the raft coordinator section
func (c *Config) RaftOptions() lock.RaftOptions {
	return lock.RaftOptions{
		NodeID:        c.NodeID,
		BindAddr:      c.Coordinator.Raft.BindAddr,
		AdvertiseAddr: c.Coordinator.Raft.AdvertiseAddr,
		DataDir:       c.DataDir,
		Bootstrap:     c.Coordinator.Raft.Bootstrap,
		TTL:           c.Coordinator.Raft.TTL.Std(),
	}
}

// PlatformSpecs converts the platform list. Platforms are active unless
// marked otherwise.
func (c *Config) PlatformSpecs() []platform.Spec {
	specs := make([]platform.Spec, 0, len(c.Platforms))
	for _, p := range c.Platforms {
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		specs = append(specs, platform.Spec{
			Name:        p.Name,
			Kind:        p.Kind,
			Active:      active,
			Socket:      p.Socket,
			Namespace:   p.Namespace,
			DataRoot:    p.DataRoot,
			StopTimeout: p.StopTimeout.Std(),
		})
	}
	return specs
}

// LogConfig converts the log section for log.Init
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}
