package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "github.com/Proximyst/ban/internal/jwt_token"
)

func TestTokenCommandSignsForActor(t *testing.T) {
	t.Setenv("BAN_SERVER_ADMIN_JWT_KEY", "test-key")
	configPath = ""

	cmd := newTokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--actor", "system", "--ttl", "1h"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	claims, err := jwttoken.NewJWTService("test-key", jwttoken.Issuer, jwttoken.Audience).
		ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "system", claims.Actor())
}

func TestTokenCommandRequiresKey(t *testing.T) {
	t.Setenv("BAN_SERVER_ADMIN_JWT_KEY", "")
	configPath = ""

	cmd := newTokenCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestMigrateThenStatusOnSQLite(t *testing.T) {
	t.Setenv("BAN_DATABASE_DRIVER", "sqlite")
	t.Setenv("BAN_DATABASE_DSN", filepath.Join(t.TempDir(), "ban.db"))
	t.Setenv("BAN_LOG_LEVEL", "error")
	configPath = ""

	migrateCmd := newMigrateCmd()
	var out bytes.Buffer
	migrateCmd.SetOut(&out)
	migrateCmd.SetArgs([]string{})
	require.NoError(t, migrateCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "applied 2 migration(s)")

	out.Reset()
	statusCmd := newMigrateCmd()
	statusCmd.SetOut(&out)
	statusCmd.SetArgs([]string{"status"})
	require.NoError(t, statusCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "0001")
	assert.NotContains(t, out.String(), "pending")
}
