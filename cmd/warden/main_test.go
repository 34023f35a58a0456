// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/config"
	"github.com/holomush/warden/pkg/errutil"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	output, err := execute(t, nil, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "migrate", "verify", "record", "token"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/warden.yaml", "--help"},
			wantFlag: "/etc/warden.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, nil, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_ConfigurationFlagsArePersistent(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"database-url", "log-level", "jwt-secret", "batch-size", "flush-interval"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing persistent flag %q", name)
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestLoadConfig_FileThenFlags(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database-url: postgres://file/db\n"), 0o600))

	var gotURL string
	deps := &Deps{MigratorFactory: func(url string) (Migrator, error) {
		gotURL = url
		return &fakeMigrator{}, nil
	}}

	_, err := execute(t, deps, "--config", path, "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/db", gotURL)

	_, err = execute(t, deps, "--config", path, "migrate", "version", "--database-url", "postgres://flag/db")
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/db", gotURL)
}

func TestRootCommand_InvalidLogLevel(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, nil, "verify", "--database-url", "postgres://x/db", "--log-level", "loud")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeInvalid)
}

func TestLoadConfig_DefaultsToXDGConfigFile(t *testing.T) {
	clearEnv(t)
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "warden"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(base, "warden", "config.yaml"),
		[]byte("database-url: postgres://xdg/db\n"), 0o600))

	var gotURL string
	deps := &Deps{MigratorFactory: func(url string) (Migrator, error) {
		gotURL = url
		return &fakeMigrator{}, nil
	}}

	_, err := execute(t, deps, "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "postgres://xdg/db", gotURL)
}
