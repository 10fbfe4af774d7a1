package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	Listen     string                 `yaml:"listen"`
	LogLevel   string                 `yaml:"log_level"`
	LogFormat  string                 `yaml:"log_format"`
	ScratchDir string                 `yaml:"scratch_dir"`
	Store      StoreConfig            `yaml:"store"`
	Limits     LimitsConfig           `yaml:"limits"`
	OOI        OOIConfig              `yaml:"ooi"`
	Indexes    map[string]IndexConfig `yaml:"indexes"`
}

// StoreConfig selects the artifact store.
type StoreConfig struct {
	Kind string `yaml:"kind"` // local, s3 or minio

	// Local.
	Root string `yaml:"root"`

	// S3 and MinIO.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`

	// MinIO.
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LimitsConfig bounds refresh resource usage.
type LimitsConfig struct {
	MaxConcurrentRefreshes int64 `yaml:"max_concurrent_refreshes"`
	DownloadBytesPerSec    int64 `yaml:"download_bytes_per_sec"`
}

// OOIConfig enables out-of-index vector lookup through DynamoDB.
type OOIConfig struct {
	Table      string `yaml:"table"`
	KeyAttr    string `yaml:"key_attr"`
	VectorAttr string `yaml:"vector_attr"`
	CacheSize  int    `yaml:"cache_size"`
}

// IndexConfig describes one served index.
type IndexConfig struct {
	Artifact string `yaml:"artifact"`

	// Watch enables fsnotify on the artifact path. Only meaningful with the
	// local store.
	Watch bool `yaml:"watch"`

	// PollInterval enables modification-time polling of the artifact.
	PollInterval Duration `yaml:"poll_interval"`

	// Fallback names another configured index whose results top up queries
	// that return fewer than k neighbors.
	Fallback string `yaml:"fallback"`
}

// Duration parses Go duration strings ("5m", "1h30m") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadConfig reads and validates the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = "/tmp/ann"
	}
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = "local"
	}
	if cfg.Limits.MaxConcurrentRefreshes == 0 {
		cfg.Limits.MaxConcurrentRefreshes = 1
	}
	if cfg.OOI.CacheSize == 0 {
		cfg.OOI.CacheSize = 1024
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Kind {
	case "local":
	case "s3":
		if cfg.Store.Bucket == "" {
			return fmt.Errorf("config: store.bucket is required for the s3 store")
		}
	case "minio":
		if cfg.Store.Bucket == "" || cfg.Store.Endpoint == "" {
			return fmt.Errorf("config: store.bucket and store.endpoint are required for the minio store")
		}
	default:
		return fmt.Errorf("config: unknown store kind %q", cfg.Store.Kind)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", cfg.LogFormat)
	}

	if len(cfg.Indexes) == 0 {
		return fmt.Errorf("config: at least one index is required")
	}
	for name, idx := range cfg.Indexes {
		if idx.Artifact == "" {
			return fmt.Errorf("config: index %q has no artifact", name)
		}
		if idx.Watch && cfg.Store.Kind != "local" {
			return fmt.Errorf("config: index %q: watch requires the local store", name)
		}
		if idx.Fallback != "" {
			if _, ok := cfg.Indexes[idx.Fallback]; !ok {
				return fmt.Errorf("config: index %q: fallback %q is not a configured index", name, idx.Fallback)
			}
		}
	}

	// Fallback chains must terminate; a cycle would make queries recurse
	// forever.
	for name := range cfg.Indexes {
		visited := map[string]bool{}
		for cur := name; cur != ""; cur = cfg.Indexes[cur].Fallback {
			if visited[cur] {
				return fmt.Errorf("config: index %q: fallback chain contains a cycle", name)
			}
			visited[cur] = true
		}
	}
	return nil
}

// IndexNames returns the configured index names, sorted.
func (c *Config) IndexNames() []string {
	names := make([]string, 0, len(c.Indexes))
	for name := range c.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArtifactKeys returns the index name to artifact key mapping for the loader.
func (c *Config) ArtifactKeys() map[string]string {
	keys := make(map[string]string, len(c.Indexes))
	for name, idx := range c.Indexes {
		keys[name] = idx.Artifact
	}
	return keys
}

// FallbackIndexes returns the child to fallback-parent mapping for the
// engine. Empty when no index configures a fallback.
func (c *Config) FallbackIndexes() map[string]string {
	fallbacks := make(map[string]string)
	for name, idx := range c.Indexes {
		if idx.Fallback != "" {
			fallbacks[name] = idx.Fallback
		}
	}
	return fallbacks
}
