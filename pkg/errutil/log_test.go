// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authgate/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.In("snapshot").
		Code("SNAPSHOT_SCHEMA_MISSING").
		Hint("run `authgate migrate up`").
		With("operation", "upsert").
		Errorf("relation does not exist")

	errutil.LogError(logger, "failed to save session records", err)

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "failed to save session records", entry["msg"])
	assert.Equal(t, "SNAPSHOT_SCHEMA_MISSING", entry["code"])
	assert.Equal(t, "snapshot", entry["domain"])
	assert.Equal(t, "run `authgate migrate up`", entry["hint"])
	ctx, ok := entry["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "upsert", ctx["operation"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestLogWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogWarn(logger, "sweep skipped", oops.Errorf("busy"))

	entry := decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.NotContains(t, entry, "code")
	assert.NotContains(t, entry, "hint")
}
