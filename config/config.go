package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"audubon_monitor/models"
)

//go:embed sources/*.yaml
var defaultSources embed.FS

type Config struct {
	OutputPath          string
	SourcesDir          string
	DBPath              string
	LogPath             string
	AdapterTimeout      time.Duration
	SimilarityThreshold float64
	Retention           time.Duration
	HistoryLimit        int
	Workers             int
	Proxy               ProxyConfig
	Postgres            PostgresConfig
	S3                  S3Config
	Sources             map[models.Source]*SourceConfig
}

type ProxyConfig struct {
	URL string
}

type PostgresConfig struct {
	DBURL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Category is one listing page of a source, optionally tied to an edition.
type Category struct {
	URL         string `yaml:"url"`
	EditionHint string `yaml:"edition_hint"`
}

type SourceConfig struct {
	ID          models.Source     `yaml:"id"`
	Name        string            `yaml:"name"`
	Handler     string            `yaml:"handler"`
	Enabled     bool              `yaml:"enabled"`
	Identity    string            `yaml:"identity"`  // native, similarity
	Transport   string            `yaml:"transport"` // http, browser
	BaseURL     string            `yaml:"base_url"`
	RateLimitMS int               `yaml:"rate_limit_ms"`
	MaxPages    int               `yaml:"max_pages"`
	TimeoutSec  int               `yaml:"timeout_sec"`
	Currency    string            `yaml:"currency"`
	Keyword     string            `yaml:"keyword"`
	Endpoints   map[string]string `yaml:"endpoints"`
	Queries     []string          `yaml:"queries"`
	Categories  []Category        `yaml:"categories"`
}

// Identity strategies
const (
	IdentityNative     = "native"
	IdentitySimilarity = "similarity"
)

// Transports
const (
	TransportHTTP    = "http"
	TransportBrowser = "browser"
)

// Timeout returns the per-source override, falling back to the run default.
func (s *SourceConfig) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutSec > 0 {
		return time.Duration(s.TimeoutSec) * time.Second
	}
	return fallback
}

func (s *SourceConfig) RateLimit() time.Duration {
	if s.RateLimitMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(s.RateLimitMS) * time.Millisecond
}

func (s *SourceConfig) NativeIDs() bool {
	return s.Identity == IdentityNative
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		OutputPath:          getEnv("OUTPUT_PATH", "data/listings.json"),
		SourcesDir:          getEnv("SOURCES_DIR", "config/sources"),
		DBPath:              getEnv("DB_PATH", "data/runs.db"),
		LogPath:             getEnv("LOG_PATH", "monitor.log"),
		AdapterTimeout:      getEnvDuration("ADAPTER_TIMEOUT", 2*time.Minute),
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.85),
		Retention:           time.Duration(getEnvInt("RETENTION_DAYS", 90)) * 24 * time.Hour,
		HistoryLimit:        getEnvInt("HISTORY_LIMIT", 90),
		Workers:             getEnvInt("WORKERS", len(models.KnownSources)),
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Postgres: PostgresConfig{
			DBURL: os.Getenv("DATABASE_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "snapshots"),
		},
		Sources: make(map[models.Source]*SourceConfig),
	}

	if err := cfg.LoadSources(cfg.SourcesDir); err != nil {
		return nil, err
	}

	if disabled := os.Getenv("SOURCES_DISABLED"); disabled != "" {
		cfg.Disable(SplitList(disabled))
	}

	return cfg, nil
}

// LoadSources reads the embedded source defaults, then lets YAML files in dir
// replace them by id. A missing dir is not an error.
func (c *Config) LoadSources(dir string) error {
	c.Sources = make(map[models.Source]*SourceConfig)

	embedded, err := fs.Sub(defaultSources, "sources")
	if err != nil {
		return err
	}
	if err := c.loadSourceFS(embedded); err != nil {
		return fmt.Errorf("embedded sources: %w", err)
	}

	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := c.loadSourceFS(os.DirFS(dir)); err != nil {
		return fmt.Errorf("sources dir %s: %w", dir, err)
	}
	return nil
}

func (c *Config) loadSourceFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return err
		}

		site := SourceConfig{Enabled: true}
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if !site.ID.Valid() {
			return fmt.Errorf("%s: unknown source id %q", entry.Name(), site.ID)
		}
		if site.Identity == "" {
			site.Identity = IdentitySimilarity
		}
		if site.Transport == "" {
			site.Transport = TransportHTTP
		}
		if site.Currency == "" {
			site.Currency = "USD"
		}

		c.Sources[site.ID] = &site
	}

	return nil
}

// Enable keeps only the named sources enabled.
func (c *Config) Enable(ids []string) {
	keep := make(map[models.Source]bool, len(ids))
	for _, id := range ids {
		keep[models.Source(id)] = true
	}
	for id, site := range c.Sources {
		site.Enabled = keep[id]
	}
}

func (c *Config) Disable(ids []string) {
	for _, id := range ids {
		if site, ok := c.Sources[models.Source(id)]; ok {
			site.Enabled = false
		}
	}
}

// EnabledSources returns enabled source configs in KnownSources order.
func (c *Config) EnabledSources() []*SourceConfig {
	var out []*SourceConfig
	for _, id := range models.KnownSources {
		if site, ok := c.Sources[id]; ok && site.Enabled {
			out = append(out, site)
		}
	}
	return out
}

// SplitList splits a comma separated flag or env value.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
