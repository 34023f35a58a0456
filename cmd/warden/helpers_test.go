// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

// nopClosePool keeps the mock open after the command closes its pool so the
// test can check expectations.
type nopClosePool struct {
	pgxmock.PgxPoolIface
}

func (nopClosePool) Close() {}

// clearEnv blanks the variables that would otherwise leak host settings
// into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WARDEN_DATABASE_URL",
		"WARDEN_AUTH__JWT_SECRET",
		"WARDEN_HTTP__ADDR",
		"WARDEN_HTTP__METRICS_ADDR",
		"WARDEN_REPLICA__REDIS__ADDR",
		"WARDEN_REPLICA__S3__BUCKET",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("WARDEN_LOG__LEVEL", "error")
	t.Setenv("WARDEN_LOG__FORMAT", "text")
}

// mockDeps returns Deps whose database pool is a pgxmock pool.
func mockDeps(t *testing.T) (pgxmock.PgxPoolIface, *Deps) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return mock, &Deps{
		PoolFactory: func(context.Context, string) (DatabasePool, error) {
			return nopClosePool{mock}, nil
		},
	}
}

// execute runs the root command with args and returns everything it
// printed.
func execute(t *testing.T, deps *Deps, args ...string) (string, error) {
	t.Helper()
	configFile = ""

	cmd := newRootCmd(deps)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}
