// Package config loads admx-help settings from defaults, an optional YAML
// file, .env and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "admx-help.yaml"

// ErrNotConfigured is returned when a command needs a backend that has no settings.
var ErrNotConfigured = errors.New("not configured")

type Config struct {
	Locale    string   `yaml:"locale"`
	Separator string   `yaml:"separator"`
	Workers   int      `yaml:"workers"`
	Include   []string `yaml:"include"`
	Exclude   []string `yaml:"exclude"`
	CacheSize int      `yaml:"cache_size"`

	Database  DatabaseConfig  `yaml:"database"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	S3        S3Config        `yaml:"s3"`
	Watch     WatchConfig     `yaml:"watch"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// EmbeddingConfig points at an OpenAI-compatible /embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	MaxRetries int    `yaml:"max_retries"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns a Config with extraction defaults and every backend disabled.
func DefaultConfig() *Config {
	return &Config{
		Locale:    "en-US",
		Separator: " > ",
		Workers:   4,
		CacheSize: 512,
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  32,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Load builds the effective configuration. path names a YAML file that must
// exist; when empty, DefaultFile is used if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := DefaultConfig()

	switch {
	case path != "":
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	default:
		if _, err := os.Stat(DefaultFile); err == nil {
			if err := cfg.mergeFile(DefaultFile); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Loaded config file")
	return nil
}

func (c *Config) applyEnv() {
	c.Locale = getEnv("ADMX_LOCALE", c.Locale)
	c.Separator = getEnv("ADMX_PATH_SEPARATOR", c.Separator)
	c.Workers = getEnvInt("WORKER_COUNT", c.Workers)
	c.Include = getEnvList("ADMX_INCLUDE", c.Include)
	c.Exclude = getEnvList("ADMX_EXCLUDE", c.Exclude)
	c.CacheSize = getEnvInt("PARSE_CACHE_SIZE", c.CacheSize)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)

	c.Neo4j.URI = getEnv("NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.User = getEnv("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Password = getEnv("NEO4J_PASSWORD", c.Neo4j.Password)

	c.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.BatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", c.Embedding.BatchSize)
	c.Embedding.MaxRetries = getEnvInt("EMBEDDING_MAX_RETRIES", c.Embedding.MaxRetries)

	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Region = getEnv("S3_REGION", c.S3.Region)
	c.S3.AccessKey = getEnv("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Bucket = getEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Prefix = getEnv("S3_PREFIX", c.S3.Prefix)
	c.S3.UseSSL = getEnvBool("S3_USE_SSL", c.S3.UseSSL)

	c.Watch.Debounce = getEnvDuration("WATCH_DEBOUNCE", c.Watch.Debounce)
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Locale) == "" {
		return fmt.Errorf("locale is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", c.CacheSize)
	}
	for _, p := range append(append([]string{}, c.Include...), c.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

// RequireDatabase reports whether the Postgres catalog can be used.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("%w: database (set DATABASE_URL or database.url)", ErrNotConfigured)
	}
	return nil
}

// RequireNeo4j reports whether the category graph can be used.
func (c *Config) RequireNeo4j() error {
	if c.Neo4j.URI == "" {
		return fmt.Errorf("%w: neo4j (set NEO4J_URI or neo4j.uri)", ErrNotConfigured)
	}
	return nil
}

// RequireS3 reports whether publishing is possible.
func (c *Config) RequireS3() error {
	var missing []string
	if c.S3.Endpoint == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if c.S3.Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: s3 (missing %s)", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// EmbeddingEnabled reports whether an embedding endpoint is usable. The
// default base URL alone is not enough; an API key must be configured.
func (c *Config) EmbeddingEnabled() bool {
	return c.Embedding.BaseURL != "" && c.Embedding.APIKey != "" && c.Embedding.Dimensions > 0
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-integer environment value")
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-boolean environment value")
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring invalid duration environment value")
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping blank items.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
