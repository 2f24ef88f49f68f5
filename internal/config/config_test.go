// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultTelnetAddr, cfg.Telnet.Addr)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, BackendMemory, cfg.SessionCache.Backend)
	assert.Equal(t, DefaultSweepInterval, cfg.SessionCache.SweepInterval)
	assert.Equal(t, gate.DefaultUsernamePattern, cfg.Policy.UsernamePattern)
	assert.Equal(t, gate.DefaultSessionTimeoutSeconds, cfg.Policy.SessionTimeoutSeconds)
	assert.True(t, cfg.Policy.PortalRescueEnabled)
	assert.False(t, cfg.Policy.AllowChat)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
telnet:
  addr: 0.0.0.0:4000
log:
  format: text
session_cache:
  sweep_interval: 30s
policy:
  session_timeout_seconds: -1
  allow_chat: true
  exempt_names:
    - "bot-*"
`)

	cfg, err := Load(path, newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4000", cfg.Telnet.Addr)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.SessionCache.SweepInterval)
	assert.Equal(t, gate.SessionTimeoutDisabled, cfg.Policy.SessionTimeoutSeconds)
	assert.True(t, cfg.Policy.AllowChat)
	assert.Equal(t, []string{"bot-*"}, cfg.Policy.ExemptNames)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, gate.DefaultUsernamePattern, cfg.Policy.UsernamePattern)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
policy:
  allow_movement: false
  session_timeout_seconds: 120
`)

	cfg, err := Load(path, newFlags(t, "--policy.allow_movement=true"))
	require.NoError(t, err)

	assert.True(t, cfg.Policy.AllowMovement)
	assert.Equal(t, 120, cfg.Policy.SessionTimeoutSeconds, "unchanged flags do not clobber the file")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"bad username pattern", "policy:\n  username_pattern: \"([a-z\"\n", "CONFIG_INVALID_PATTERN"},
		{"bad timeout", "policy:\n  session_timeout_seconds: -5\n", "CONFIG_INVALID_TIMEOUT"},
		{"bad log format", "log:\n  format: xml\n", "CONFIG_INVALID"},
		{"bad log level", "log:\n  level: loud\n", "CONFIG_INVALID"},
		{"unknown backend", "session_cache:\n  backend: etcd\n", "CONFIG_INVALID"},
		{"postgres without url", "session_cache:\n  backend: postgres\n", "CONFIG_INVALID"},
		{"redis without addr", "session_cache:\n  backend: redis\n", "CONFIG_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), newFlags(t))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestConfig_YAML(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "username_pattern:")
	assert.Contains(t, string(out), "session_timeout_seconds: 60")
}
