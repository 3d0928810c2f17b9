// Package config provides file/env-based configuration for a meshchat node.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root node configuration.
type Config struct {
	// AgentName is the identity stamped on every outbound message and used
	// to drop looped-back self-authored messages.
	AgentName string `mapstructure:"agent_name"`

	// Mesh holds networking and discovery options.
	Mesh MeshConfig `mapstructure:"mesh"`

	// Log holds logger settings.
	Log LogConfig `mapstructure:"log"`

	// MetricsAddr, when non-empty, serves prometheus metrics and pprof on a
	// local HTTP endpoint (host:port).
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// MeshConfig controls the listener, discovery, and delivery loops.
type MeshConfig struct {
	// Host is the bind/dial host, loopback by default.
	Host string `mapstructure:"host"`
	// Port is the node's own TCP port and the center of the scan window.
	Port int `mapstructure:"port"`
	// Window is the symmetric discovery offset range around Port.
	Window int `mapstructure:"window"`

	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	SecondScanDelay  time.Duration `mapstructure:"second_scan_delay"`
	WarmupInterval   time.Duration `mapstructure:"warmup_interval"`
	WarmupWindow     time.Duration `mapstructure:"warmup_window"`
	SteadyInterval   time.Duration `mapstructure:"steady_interval"`
	InjectorInterval time.Duration `mapstructure:"injector_interval"`
	BroadcastTimeout time.Duration `mapstructure:"broadcast_timeout"`

	// QueueCapacity bounds the inbound queue; messages past it are dropped.
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format: console or json.
	Format string `mapstructure:"format"`
	// File, when set, writes rotated logs there in addition to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

const (
	DefaultPort            = 54320
	DefaultWindow          = 5
	defaultDialTimeout     = 500 * time.Millisecond
	defaultSecondScanDelay = 2 * time.Second
	defaultWarmupInterval  = 5 * time.Second
	defaultWarmupWindow    = time.Minute
	defaultSteadyInterval  = 30 * time.Second
	defaultInjectorTick    = 500 * time.Millisecond
	defaultBroadcastWait   = 2 * time.Second
	defaultQueueCapacity   = 256
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent_name", "agent")
	v.SetDefault("mesh.host", "127.0.0.1")
	v.SetDefault("mesh.port", DefaultPort)
	v.SetDefault("mesh.window", DefaultWindow)
	v.SetDefault("mesh.dial_timeout", defaultDialTimeout)
	v.SetDefault("mesh.second_scan_delay", defaultSecondScanDelay)
	v.SetDefault("mesh.warmup_interval", defaultWarmupInterval)
	v.SetDefault("mesh.warmup_window", defaultWarmupWindow)
	v.SetDefault("mesh.steady_interval", defaultSteadyInterval)
	v.SetDefault("mesh.injector_interval", defaultInjectorTick)
	v.SetDefault("mesh.broadcast_timeout", defaultBroadcastWait)
	v.SetDefault("mesh.queue_capacity", defaultQueueCapacity)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load reads configuration from an optional YAML file plus MESHCHAT_*
// environment overrides, applying defaults for anything unset.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MESHCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns the built-in configuration with no file or env applied.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Validate rejects configurations that cannot produce a working node.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AgentName) == "" {
		return fmt.Errorf("agent_name must not be empty")
	}
	if c.Mesh.Port <= 0 || c.Mesh.Port > 65535 {
		return fmt.Errorf("mesh.port out of range: %d", c.Mesh.Port)
	}
	if c.Mesh.Window < 0 {
		return fmt.Errorf("mesh.window must not be negative: %d", c.Mesh.Window)
	}
	if c.Mesh.QueueCapacity <= 0 {
		return fmt.Errorf("mesh.queue_capacity must be positive: %d", c.Mesh.QueueCapacity)
	}
	if c.Mesh.DialTimeout <= 0 {
		return fmt.Errorf("mesh.dial_timeout must be positive: %s", c.Mesh.DialTimeout)
	}
	return nil
}
