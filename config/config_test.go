package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/permissions"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/rules"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contentflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Store.Redis.IdleTimeout)
	assert.Equal(t, []string{"admin"}, cfg.Permissions.Admins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Backup.Bucket)
	assert.IsType(t, rules.AlwaysValid{}, cfg.Validator())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: redis
  redis:
    addr: redis.internal:6380
    db: 2
    key_prefix: "farmstand:"
permissions:
  admins: [root]
  capabilities:
    publish: [marketing]
  users:
    - id: mia
      roles: [marketing]
    - id: MiaChen
      roles: [marketing]
validation:
  rules:
    - "title != ''"
backup:
  bucket: content-archive
  region: us-west-2
log:
  level: debug
  development: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	opts := cfg.RedisOptions()
	assert.Equal(t, "redis.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "farmstand:", opts.KeyPrefix)
	assert.Equal(t, "content-archive", cfg.Backup.Bucket)
	assert.Equal(t, "contentflow", cfg.Backup.Prefix)
	assert.True(t, cfg.Log.Development)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	ctx := context.Background()
	ok, err := policy.Allowed(ctx, "mia", permissions.CapabilityPublish)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = policy.Allowed(ctx, "MiaChen", permissions.CapabilityPublish)
	require.NoError(t, err)
	assert.True(t, ok, "user ids keep their case")
	require.Len(t, cfg.Permissions.Users, 2)
	assert.Equal(t, "MiaChen", cfg.Permissions.Users[1].ID)

	ok, _ = policy.Allowed(ctx, "root", permissions.CapabilityArchive)
	assert.True(t, ok)
	ok, _ = policy.Allowed(ctx, "admin", permissions.CapabilityArchive)
	assert.False(t, ok)

	valid, err := cfg.Validator().Validate(ctx, "c1", map[string]interface{}{"title": ""})
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONTENTFLOW_STORE_DRIVER", "redis")
	t.Setenv("CONTENTFLOW_STORE_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("CONTENTFLOW_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "10.0.0.5:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Load(writeConfig(t, "store:\n  driver: etcd\n"))
		assert.ErrorIs(t, err, ErrUnknownDriver)
	})

	t.Run("user without id", func(t *testing.T) {
		_, err := Load(writeConfig(t, "permissions:\n  users:\n    - roles: [editor]\n"))
		assert.ErrorIs(t, err, ErrMissingUserID)
	})

	t.Run("unknown capability", func(t *testing.T) {
		_, err := Load(writeConfig(t, "permissions:\n  capabilities:\n    delete: [admin]\n"))
		assert.ErrorIs(t, err, permissions.ErrUnknownCapability)
	})
}

func TestValidateRedisAddr(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: DriverRedis}}
	assert.ErrorIs(t, cfg.Validate(), ErrMissingRedisAddr)
}
