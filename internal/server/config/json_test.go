package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"database_dsn":        "drive.db",
		"s3_root_user":        "user",
		"s3_root_password":    "password",
		"s3_bucket":           "bucket",
		"s3_region":           "region",
		"s3_base_endpoint":    "base_endpoint",
		"metrics_addr":        ":9100",
		"upload_slots":        16,
		"download_prefetch":   3,
		"storage_limit_bytes": 1 << 30,
		"upload_abandon_ttl":  "12h",
		"reaper_interval":     "30m",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "drive.db", cfg.DatabaseDSN)
		assert.Equal(t, "user", cfg.S3RootUser)
		assert.Equal(t, "password", cfg.S3RootPassword)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "region", cfg.S3Region)
		assert.Equal(t, "base_endpoint", cfg.S3BaseEndpoint)
		assert.Equal(t, ":9100", cfg.MetricsAddr)
		assert.Equal(t, int64(16), cfg.UploadSlots)
		assert.Equal(t, 3, cfg.DownloadPrefetch)
		assert.Equal(t, int64(1<<30), cfg.StorageLimitBytes)
		assert.Equal(t, 12*time.Hour, cfg.UploadAbandonTTL)
		assert.Equal(t, 30*time.Minute, cfg.ReaperInterval)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			DatabaseDSN:       "drive.db",
			S3RootUser:        "s3root",
			S3RootPassword:    "s3rootpassword",
			S3Bucket:          "s3bucket",
			S3Region:          "s3region",
			S3BaseEndpoint:    "s3baseendpoint",
			MetricsAddr:       ":9200",
			UploadSlots:       4,
			DownloadPrefetch:  1,
			StorageLimitBytes: 5 << 20,
			UploadAbandonTTL:  6 * time.Hour,
			ReaperInterval:    10 * time.Minute,
		}
		parseJson(cfg)

		assert.Equal(t, "drive.db", cfg.DatabaseDSN)
		assert.Equal(t, "s3root", cfg.S3RootUser)
		assert.Equal(t, "s3rootpassword", cfg.S3RootPassword)
		assert.Equal(t, "s3bucket", cfg.S3Bucket)
		assert.Equal(t, "s3region", cfg.S3Region)
		assert.Equal(t, "s3baseendpoint", cfg.S3BaseEndpoint)
		assert.Equal(t, ":9200", cfg.MetricsAddr)
		assert.Equal(t, int64(4), cfg.UploadSlots)
		assert.Equal(t, 1, cfg.DownloadPrefetch)
		assert.Equal(t, int64(5<<20), cfg.StorageLimitBytes)
		assert.Equal(t, 6*time.Hour, cfg.UploadAbandonTTL)
		assert.Equal(t, 10*time.Minute, cfg.ReaperInterval)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
