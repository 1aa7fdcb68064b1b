package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() Config {
	var c Config
	c.LoadDefaults()
	return c
}

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "medkeeper.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

const secret = "0123456789abcdef"

func TestLoad_DefaultsNeedSecret(t *testing.T) {
	_, err := Load(nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	cfg, err := Load([]string{"-s", secret})
	require.NoError(t, err)

	want := defaults()
	want.SigningSecret = secret
	if diff := cmp.Diff(&want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, cfg.SyncEnabled())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"database_path":          "/var/lib/medkeeper/json.db",
		"default_ttl":            "48h",
		"sweep_interval":         "30m",
		"signing_secret":         secret,
		"max_versions":           5,
		"s3_bucket":              "records",
		"sync_interval":          60000000000,
		"log_format":             "json",
		"metadata_backend":       "badger",
		"badger_path":            "/var/lib/medkeeper/meta",
		"redeem_rate_per_second": 0.5,
	})

	cfg, err := Load([]string{"serve", "--tenant", "clinic-1", "-c", path, "-d", "/tmp/flag.db", "-w", "5m"})
	require.NoError(t, err)

	want := defaults()
	want.DatabasePath = "/tmp/flag.db"
	want.DefaultTTL = 48 * time.Hour
	want.SweepInterval = 5 * time.Minute
	want.SigningSecret = secret
	want.MaxVersions = 5
	want.S3Bucket = "records"
	want.SyncInterval = time.Minute
	want.LogFormat = "json"
	want.MetadataBackend = "badger"
	want.BadgerPath = "/var/lib/medkeeper/meta"
	want.RedeemRatePerSecond = 0.5

	if diff := cmp.Diff(&want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, cfg.SyncEnabled())
}

func TestLoad_RedisFlagSwitchesBackend(t *testing.T) {
	cfg, err := Load([]string{"-s", secret, "-r", "redis://localhost:6379/0"})
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.ShareBackend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "missing.json")})
	assert.ErrorContains(t, err, "read config")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = Load([]string{"-c", bad})
	assert.ErrorContains(t, err, "parse config")

	_, err = Load([]string{"-s", secret, "-t", "forever"})
	assert.ErrorContains(t, err, "parse flags")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weak kdf", func(c *Config) { c.KDFIterations = 1000 }},
		{"short secret", func(c *Config) { c.SigningSecret = "short" }},
		{"unknown backend", func(c *Config) { c.MetadataBackend = "etcd" }},
		{"redis without url", func(c *Config) { c.ShareBackend = "redis" }},
		{"zero ttl", func(c *Config) { c.DefaultTTL = 0 }},
		{"too many versions", func(c *Config) { c.MaxVersions = 1000 }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults()
			c.SigningSecret = secret
			require.NoError(t, c.Validate())
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), common.ErrValidation)
		})
	}
}
