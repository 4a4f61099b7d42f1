package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/auth"
	"github.com/dmitrymomot/entitlements/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	config.Reset()
	t.Cleanup(config.Reset)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("APP_LOG_LEVEL", "error")

	out, err := execute(t, "token", "--user", "u42", "--role", "premium")
	require.NoError(t, err)

	v, err := auth.NewVerifier(auth.Config{Secret: "cli-secret"})
	require.NoError(t, err)
	id, err := v.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "u42", Role: "premium"}, id)
}

func TestTokenCmd_RequiresUser(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	_, err := execute(t, "token")
	assert.Error(t, err)
}

func TestReconcileCmd_MemoryDryRun(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("APP_LOG_LEVEL", "error")

	out, err := execute(t, "reconcile", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "USER")

	out, err = execute(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "expired 0 subscription(s)")
}

func TestDLQCmd_Memory(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("APP_LOG_LEVEL", "error")

	out, err := execute(t, "dlq", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "TASK")
}

func TestUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")

	_, err := execute(t, "reconcile")
	assert.ErrorContains(t, err, "STORAGE_DRIVER")
}
