package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admx-help.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "en-US", cfg.Locale)
	assert.Equal(t, " > ", cfg.Separator)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 512, cfg.CacheSize)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 3, cfg.Embedding.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.EmbeddingEnabled())
}

func TestLoadFromFile(t *testing.T) {
	path := writeYAML(t, `
locale: de-DE
separator: " / "
workers: 2
include: ["windows/**"]
database:
  url: postgres://localhost/admx
s3:
  bucket: policies
  use_ssl: false
watch:
  debounce: 2s
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "de-DE", cfg.Locale)
	assert.Equal(t, " / ", cfg.Separator)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, []string{"windows/**"}, cfg.Include)
	assert.Equal(t, "postgres://localhost/admx", cfg.Database.URL)
	assert.Equal(t, "policies", cfg.S3.Bucket)
	assert.False(t, cfg.S3.UseSSL)
	assert.Equal(t, "us-east-1", cfg.S3.Region, "unset keys keep their defaults")
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeYAML(t, "workers: [not, a, number]"))
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeYAML(t, "locale: de-DE\nworkers: 2\n")

	t.Setenv("ADMX_LOCALE", "fr-FR")
	t.Setenv("WORKER_COUNT", "16")
	t.Setenv("ADMX_EXCLUDE", " legacy/** , ,old/*.admx")
	t.Setenv("S3_USE_SSL", "false")
	t.Setenv("WATCH_DEBOUNCE", "1500ms")
	t.Setenv("EMBEDDING_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fr-FR", cfg.Locale)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, []string{"legacy/**", "old/*.admx"}, cfg.Exclude)
	assert.False(t, cfg.S3.UseSSL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Watch.Debounce)
	assert.True(t, cfg.EmbeddingEnabled())
}

func TestLoad_InvalidEnvironmentValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("WATCH_DEBOUNCE", "soon")
	t.Setenv("S3_USE_SSL", "maybe")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.True(t, cfg.S3.UseSSL)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty locale", func(c *Config) { c.Locale = " " }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative cache", func(c *Config) { c.CacheSize = -1 }},
		{"bad include", func(c *Config) { c.Include = []string{"[unclosed"} }},
		{"bad exclude", func(c *Config) { c.Exclude = []string{"{a,b"} }},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRequireBackends(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, errors.Is(cfg.RequireDatabase(), ErrNotConfigured))
	assert.True(t, errors.Is(cfg.RequireNeo4j(), ErrNotConfigured))

	err := cfg.RequireS3()
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "S3_ENDPOINT, S3_BUCKET")

	cfg.Database.URL = "postgres://localhost/admx"
	cfg.Neo4j.URI = "bolt://localhost:7687"
	cfg.S3.Endpoint = "localhost:9000"
	cfg.S3.Bucket = "policies"
	assert.NoError(t, cfg.RequireDatabase())
	assert.NoError(t, cfg.RequireNeo4j())
	assert.NoError(t, cfg.RequireS3())
}
