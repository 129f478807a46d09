package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
)

func TestBackendValidate(t *testing.T) {
	assert.NoError(t, SQLite("").Validate())
	assert.Equal(t, ":memory:", SQLite("").Path)
	assert.NoError(t, MySQL("localhost", 0, "root", "", "").Validate())
	assert.Equal(t, 3306, MySQL("localhost", 0, "root", "", "").Port)

	err := MySQL("", 3306, "root", "", "").Validate()
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
	assert.Error(t, Backend{Kind: "presto"}.Validate())
}

func TestBackendStringHidesPassword(t *testing.T) {
	b := MySQL("db.local", 3307, "root", "hunter2", "tpch")

	assert.Equal(t, "mysql://root@db.local:3307/tpch", b.String())
	assert.NotContains(t, b.String(), "hunter2")
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.MetaStore = "etcd"
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.Confidence = 1
	assert.Error(t, bad.Validate())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("VERDICT_BACKEND", "mysql")
	t.Setenv("VERDICT_HOST", "10.0.0.5")
	t.Setenv("VERDICT_PORT", "3307")
	t.Setenv("VERDICT_USER", "verdict")
	t.Setenv("VERDICT_META_STORE", "badger")
	t.Setenv("VERDICT_BLOCK_SIZE", "100")
	t.Setenv("PORT", "9090")

	cfg := FromEnv()
	assert.Equal(t, KindMySQL, cfg.Backend.Kind)
	assert.Equal(t, "10.0.0.5", cfg.Backend.Host)
	assert.Equal(t, 3307, cfg.Backend.Port)
	assert.Equal(t, "verdict", cfg.Backend.User)
	assert.Equal(t, MetaStoreBadger, cfg.Options.MetaStore)
	assert.Equal(t, int64(100), cfg.Options.DefaultBlockSize)
	assert.Equal(t, "9090", cfg.Port)
}

func TestFromEnvSQLiteFallsBackToAQEPath(t *testing.T) {
	t.Setenv("VERDICT_BACKEND", "")
	t.Setenv("VERDICT_DB_PATH", "")
	t.Setenv("AQE_DB_PATH", "/tmp/aqe.sqlite")

	cfg := FromEnv()
	assert.Equal(t, KindSQLite, cfg.Backend.Kind)
	assert.Equal(t, "/tmp/aqe.sqlite", cfg.Backend.Path)
}
