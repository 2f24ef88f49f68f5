// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authgate configuration from defaults, an optional
// YAML file and command-line flags, in that order of precedence.
package config

import (
	"log/slog"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/holomush/authgate/internal/gate"
)

// Session cache backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Default values.
const (
	DefaultTelnetAddr    = "127.0.0.1:4201"
	DefaultMetricsAddr   = "127.0.0.1:9100"
	DefaultLogFormat     = "json"
	DefaultLogLevel      = "info"
	DefaultSweepInterval = time.Minute
	DefaultRedisPrefix   = "authgate:session:"
)

// Config is the full authgate configuration.
type Config struct {
	Telnet       TelnetConfig       `koanf:"telnet" yaml:"telnet"`
	Metrics      MetricsConfig      `koanf:"metrics" yaml:"metrics"`
	Log          LogConfig          `koanf:"log" yaml:"log"`
	SessionCache SessionCacheConfig `koanf:"session_cache" yaml:"session_cache"`
	Policy       gate.PolicySpec    `koanf:"policy" yaml:"policy"`
}

// TelnetConfig configures the telnet listener.
type TelnetConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// MetricsConfig configures the observability HTTP server.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// SessionCacheConfig configures where resumable session records are kept
// across restarts.
type SessionCacheConfig struct {
	Backend       string        `koanf:"backend" yaml:"backend"`
	PostgresURL   string        `koanf:"postgres_url" yaml:"postgres_url"`
	RedisAddr     string        `koanf:"redis_addr" yaml:"redis_addr"`
	RedisPrefix   string        `koanf:"redis_prefix" yaml:"redis_prefix"`
	SweepInterval time.Duration `koanf:"sweep_interval" yaml:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Telnet:  TelnetConfig{Addr: DefaultTelnetAddr},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Log:     LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		SessionCache: SessionCacheConfig{
			Backend:       BackendMemory,
			RedisPrefix:   DefaultRedisPrefix,
			SweepInterval: DefaultSweepInterval,
		},
		Policy: gate.DefaultPolicySpec(),
	}
}

// RegisterFlags adds one flag per configuration key to fs, defaulting to
// the built-in values. Flags the user sets override the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	p := d.Policy

	fs.String("telnet.addr", d.Telnet.Addr, "telnet listen address")
	fs.String("metrics.addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log.format", d.Log.Format, "log format (json or text)")
	fs.String("log.level", d.Log.Level, "minimum log level (debug, info, warn or error)")

	fs.String("session_cache.backend", d.SessionCache.Backend, "session cache backend (memory, postgres or redis)")
	fs.String("session_cache.postgres_url", d.SessionCache.PostgresURL, "PostgreSQL URL for the postgres backend")
	fs.String("session_cache.redis_addr", d.SessionCache.RedisAddr, "Redis address for the redis backend")
	fs.String("session_cache.redis_prefix", d.SessionCache.RedisPrefix, "key prefix for the redis backend")
	fs.Duration("session_cache.sweep_interval", d.SessionCache.SweepInterval, "interval between stale session record sweeps")

	fs.String("policy.username_pattern", p.UsernamePattern, "regular expression display names must fully match")
	fs.Bool("policy.duplicate_login_kick", p.DuplicateLoginKickEnabled, "refuse a join when the display name is already online")
	fs.Int("policy.session_timeout_seconds", p.SessionTimeoutSeconds, "resumable session window in seconds (-1 disables)")
	fs.Bool("policy.teleport_to_spawn_on_join", p.TeleportToSpawnOnJoin, "teleport unauthenticated identities to spawn on join")
	fs.Bool("policy.portal_rescue", p.PortalRescueEnabled, "pull unauthenticated identities out of hazards on join")
	fs.Bool("policy.allow_chat", p.AllowChat, "allow chat while unauthenticated")
	fs.Bool("policy.allow_movement", p.AllowMovement, "allow movement while unauthenticated")
	fs.Bool("policy.allow_block_use", p.AllowBlockUse, "allow block use while unauthenticated")
	fs.Bool("policy.allow_block_punch", p.AllowBlockPunch, "allow block punching while unauthenticated")
	fs.Bool("policy.allow_item_use", p.AllowItemUse, "allow item use while unauthenticated")
	fs.Bool("policy.allow_item_drop", p.AllowItemDrop, "allow item dropping while unauthenticated")
	fs.Bool("policy.allow_item_moving", p.AllowItemMoving, "allow inventory changes while unauthenticated")
	fs.Bool("policy.allow_entity_punch", p.AllowEntityPunch, "allow attacking entities while unauthenticated")
	fs.Bool("policy.allow_entity_interact", p.AllowEntityInteract, "allow interacting with entities while unauthenticated")
	fs.Bool("policy.unauthenticated_invulnerable", p.Invulnerable, "make unauthenticated identities invulnerable")
	fs.Bool("policy.unauthenticated_invisible", p.Invisible, "make unauthenticated identities invisible")
	fs.StringSlice("policy.exempt_names", p.ExemptNames, "glob patterns of names exempt from authentication")
	fs.StringSlice("policy.hazard_materials", p.HazardMaterials, "materials treated as hazards by portal rescue")
	fs.String("policy.safe_material", p.SafeMaterial, "material hazards are shown as during rescue")
	fs.StringSlice("policy.login_commands", p.LoginCommands, "command prefixes that submit a login")
	fs.StringSlice("policy.register_commands", p.RegisterCommands, "command prefixes that submit a registration")
}

// Load builds the configuration from the YAML file at path (skipped when
// empty) and the flags in fs. fs must have been set up by RegisterFlags;
// a nil fs loads defaults and the file only.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if fs == nil {
		fs = pflag.NewFlagSet("defaults", pflag.ContinueOnError)
		RegisterFlags(fs)
	}
	// Unchanged flags only fill keys the file did not set.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, oops.In("config").Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that are not part of the gate policy. Policy
// validation happens in CompilePolicy.
func (c *Config) Validate() error {
	if c.Telnet.Addr == "" {
		return oops.In("config").Code("CONFIG_INVALID").Errorf("telnet.addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.In("config").Code("CONFIG_INVALID").
			With("log.format", c.Log.Format).
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return oops.In("config").Code("CONFIG_INVALID").
			With("log.level", c.Log.Level).
			Wrap(err)
	}
	backends := []string{BackendMemory, BackendPostgres, BackendRedis}
	if !slices.Contains(backends, c.SessionCache.Backend) {
		return oops.In("config").Code("CONFIG_INVALID").
			With("session_cache.backend", c.SessionCache.Backend).
			Errorf("session_cache.backend must be one of %v", backends)
	}
	if c.SessionCache.Backend == BackendPostgres && c.SessionCache.PostgresURL == "" {
		return oops.In("config").Code("CONFIG_INVALID").Errorf("session_cache.postgres_url is required for the postgres backend")
	}
	if c.SessionCache.Backend == BackendRedis && c.SessionCache.RedisAddr == "" {
		return oops.In("config").Code("CONFIG_INVALID").Errorf("session_cache.redis_addr is required for the redis backend")
	}
	if c.SessionCache.SweepInterval <= 0 {
		return oops.In("config").Code("CONFIG_INVALID").
			With("session_cache.sweep_interval", c.SessionCache.SweepInterval).
			Errorf("session_cache.sweep_interval must be positive")
	}
	if _, err := c.CompilePolicy(); err != nil {
		return err
	}
	return nil
}

// CompilePolicy compiles the policy section.
func (c *Config) CompilePolicy() (*gate.Policy, error) {
	p, err := gate.Compile(c.Policy)
	if err != nil {
		return nil, oops.In("config").With("section", "policy").Wrap(err)
	}
	return p, nil
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	out, err := yamlv3.Marshal(c)
	if err != nil {
		return nil, oops.In("config").Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return out, nil
}
