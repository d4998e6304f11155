package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yml")
	content := `
env: dev
database:
  driver: sqlite
  sqlite_path: test.db
shortener:
  max_keywords: 3
analytics:
  worker_count: 2
  retry_attempts: 5
  dedup_window: 12h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Shortener.MaxKeywords)
	assert.Equal(t, 2, cfg.Analytics.WorkerCount)
	assert.Equal(t, 5, cfg.Analytics.RetryAttempts)
	assert.Equal(t, 12*time.Hour, cfg.Analytics.DedupWindow)
	// defaults still apply to untouched fields
	assert.Equal(t, ":8080", cfg.HTTPServer.Address)
	assert.Equal(t, 1000, cfg.Analytics.BufferSize)
	assert.True(t, cfg.Analytics.RebuildOnStart)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"too many keywords", "shortener:\n  max_keywords: 6\n"},
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"negative retries", "analytics:\n  retry_attempts: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			t.Setenv("CONFIG_PATH", path)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDatabase_DSN(t *testing.T) {
	d := Database{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "n", SSLMode: "disable", Timezone: "UTC"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=5433 sslmode=disable TimeZone=UTC", d.DSN())
}
