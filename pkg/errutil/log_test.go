// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("AUDIT_APPEND_FAILED").
		With("actor_id", 7).
		Errorf("insert failed")

	errutil.LogError(logger, "audit append failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "audit append failed", logEntry["msg"])
	assert.Equal(t, "AUDIT_APPEND_FAILED", logEntry["code"])
	assert.Contains(t, logEntry, "context")
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
	assert.NotContains(t, logEntry, "code")
}

func TestLogErrorContext_LevelAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("AUDIT_VALIDATION_FAILED").Errorf("target_id must be positive")
	errutil.LogErrorContext(context.Background(), logger, slog.LevelWarn, "audit record rejected", err, "action_type", "DELETE_USER")

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "WARN", logEntry["level"])
	assert.Equal(t, "DELETE_USER", logEntry["action_type"])
	assert.Equal(t, "AUDIT_VALIDATION_FAILED", logEntry["code"])
}

func TestCode(t *testing.T) {
	coded := oops.Code("AUDIT_CHAIN_BROKEN").Errorf("broken")

	assert.Equal(t, "AUDIT_CHAIN_BROKEN", errutil.Code(coded))
	assert.Equal(t, "AUDIT_CHAIN_BROKEN", errutil.Code(fmt.Errorf("verify: %w", coded)))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(nil))
}

func TestHasCode(t *testing.T) {
	err := oops.Code("AUDIT_INVALID_CURSOR").Errorf("bad cursor")

	assert.True(t, errutil.HasCode(err, "AUDIT_INVALID_CURSOR"))
	assert.False(t, errutil.HasCode(err, "AUDIT_LIST_FAILED"))
	assert.False(t, errutil.HasCode(nil, "AUDIT_INVALID_CURSOR"))
}
