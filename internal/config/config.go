package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Dir is the per-project configuration directory.
const Dir = ".codeoverlay"

// EnvPrefix prefixes environment overrides, e.g.
// CODEOVERLAY_DOCUMENT_MAXDOCUMENTBYTES.
const EnvPrefix = "CODEOVERLAY"

// EnvConfigPath names an explicit config file.
const EnvConfigPath = "CODEOVERLAY_CONFIG_PATH"

// Config represents the complete overlay engine configuration
type Config struct {
	Version int `json:"version" mapstructure:"version" toml:"version"`

	Document    DocumentConfig    `json:"document" mapstructure:"document" toml:"document"`
	Annotations AnnotationsConfig `json:"annotations" mapstructure:"annotations" toml:"annotations"`
	Suggestions SuggestionsConfig `json:"suggestions" mapstructure:"suggestions" toml:"suggestions"`
	Analysis    AnalysisConfig    `json:"analysis" mapstructure:"analysis" toml:"analysis"`
	Cache       CacheConfig       `json:"cache" mapstructure:"cache" toml:"cache"`
	Overlay     OverlayConfig     `json:"overlay" mapstructure:"overlay" toml:"overlay"`
	Transport   TransportConfig   `json:"transport" mapstructure:"transport" toml:"transport"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics" toml:"metrics"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging" toml:"logging"`
}

// DocumentConfig bounds document tracking
type DocumentConfig struct {
	MaxDocumentBytes int     `json:"maxDocumentBytes" mapstructure:"maxDocumentBytes" toml:"maxDocumentBytes"`
	AmbiguityRatio   float64 `json:"ambiguityRatio" mapstructure:"ambiguityRatio" toml:"ambiguityRatio"`
}

// AnnotationsConfig contains annotation job settings
type AnnotationsConfig struct {
	GroupSize int `json:"groupSize" mapstructure:"groupSize" toml:"groupSize"`
}

// SuggestionsConfig contains refactoring suggestion settings
type SuggestionsConfig struct {
	Enabled           bool `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	DebounceMs        int  `json:"debounceMs" mapstructure:"debounceMs" toml:"debounceMs"`
	MinStatements     int  `json:"minStatements" mapstructure:"minStatements" toml:"minStatements"`
	MaxBodyStatements int  `json:"maxBodyStatements" mapstructure:"maxBodyStatements" toml:"maxBodyStatements"`
}

// AnalysisConfig contains analysis collaborator limits
type AnalysisConfig struct {
	TimeoutMs     int     `json:"timeoutMs" mapstructure:"timeoutMs" toml:"timeoutMs"`
	RatePerSecond float64 `json:"ratePerSecond" mapstructure:"ratePerSecond" toml:"ratePerSecond"`
	Burst         int     `json:"burst" mapstructure:"burst" toml:"burst"`
	Workers       int     `json:"workers" mapstructure:"workers" toml:"workers"`
	QueueSize     int     `json:"queueSize" mapstructure:"queueSize" toml:"queueSize"`
}

// CacheConfig contains analysis result cache settings
type CacheConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	Path       string `json:"path" mapstructure:"path" toml:"path"`
	TtlSeconds int    `json:"ttlSeconds" mapstructure:"ttlSeconds" toml:"ttlSeconds"`
	Compress   bool   `json:"compress" mapstructure:"compress" toml:"compress"`
}

// OverlayConfig contains overlay visibility policy
type OverlayConfig struct {
	HideOnScroll     bool `json:"hideOnScroll" mapstructure:"hideOnScroll" toml:"hideOnScroll"`
	ScrollDebounceMs int  `json:"scrollDebounceMs" mapstructure:"scrollDebounceMs" toml:"scrollDebounceMs"`
}

// TransportConfig selects how protocol messages travel
type TransportConfig struct {
	Mode string `json:"mode" mapstructure:"mode" toml:"mode"`
	Addr string `json:"addr" mapstructure:"addr" toml:"addr"`
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr" toml:"addr"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level" toml:"level"`
	Format     string `json:"format" mapstructure:"format" toml:"format"`
	File       string `json:"file" mapstructure:"file" toml:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize" toml:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups" toml:"maxBackups"`
}

// CurrentVersion is the only supported schema version.
const CurrentVersion = 1

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Document: DocumentConfig{
			MaxDocumentBytes: 4 << 20,
			AmbiguityRatio:   1.0,
		},
		Annotations: AnnotationsConfig{
			GroupSize: 8,
		},
		Suggestions: SuggestionsConfig{
			Enabled:           true,
			DebounceMs:        400,
			MinStatements:     3,
			MaxBodyStatements: 8,
		},
		Analysis: AnalysisConfig{
			TimeoutMs:     5000,
			RatePerSecond: 20,
			Burst:         5,
			Workers:       4,
			QueueSize:     256,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Path:       filepath.Join(Dir, "cache.db"),
			TtlSeconds: 86400,
			Compress:   true,
		},
		Overlay: OverlayConfig{
			HideOnScroll:     true,
			ScrollDebounceMs: 150,
		},
		Transport: TransportConfig{
			Mode: "stdio",
			Addr: "127.0.0.1:7878",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)

	v.SetDefault("document.maxDocumentBytes", d.Document.MaxDocumentBytes)
	v.SetDefault("document.ambiguityRatio", d.Document.AmbiguityRatio)

	v.SetDefault("annotations.groupSize", d.Annotations.GroupSize)

	v.SetDefault("suggestions.enabled", d.Suggestions.Enabled)
	v.SetDefault("suggestions.debounceMs", d.Suggestions.DebounceMs)
	v.SetDefault("suggestions.minStatements", d.Suggestions.MinStatements)
	v.SetDefault("suggestions.maxBodyStatements", d.Suggestions.MaxBodyStatements)

	v.SetDefault("analysis.timeoutMs", d.Analysis.TimeoutMs)
	v.SetDefault("analysis.ratePerSecond", d.Analysis.RatePerSecond)
	v.SetDefault("analysis.burst", d.Analysis.Burst)
	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("analysis.queueSize", d.Analysis.QueueSize)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.ttlSeconds", d.Cache.TtlSeconds)
	v.SetDefault("cache.compress", d.Cache.Compress)

	v.SetDefault("overlay.hideOnScroll", d.Overlay.HideOnScroll)
	v.SetDefault("overlay.scrollDebounceMs", d.Overlay.ScrollDebounceMs)

	v.SetDefault("transport.mode", d.Transport.Mode)
	v.SetDefault("transport.addr", d.Transport.Addr)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

// LoadResult contains the loaded config plus where it came from
type LoadResult struct {
	Config       *Config
	ConfigPath   string // empty when only defaults and env were used
	UsedDefaults bool
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load loads configuration for a project root. An explicit file named by
// CODEOVERLAY_CONFIG_PATH wins over <root>/.codeoverlay/config.{toml,json,yaml}.
// A missing file yields the defaults plus env overrides.
func Load(root string) (*LoadResult, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFile(path)
	}

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(root, Dir))

	result := &LoadResult{}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		result.UsedDefaults = true
	} else {
		result.ConfigPath = v.ConfigFileUsed()
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	result.Config = cfg
	return result, nil
}

// LoadFile loads configuration from an explicit path. The format follows
// the file extension.
func LoadFile(path string) (*LoadResult, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, ConfigPath: path}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to <root>/.codeoverlay/config.toml and
// returns the written path.
func (c *Config) Save(root string) (string, error) {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "config.toml")

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch {
	case c.Version != CurrentVersion:
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	case c.Document.MaxDocumentBytes <= 0:
		return &ConfigError{Field: "document.maxDocumentBytes", Message: "must be positive"}
	case c.Document.AmbiguityRatio < 0:
		return &ConfigError{Field: "document.ambiguityRatio", Message: "must not be negative"}
	case c.Annotations.GroupSize < 1:
		return &ConfigError{Field: "annotations.groupSize", Message: "must be at least 1"}
	case c.Suggestions.DebounceMs < 0:
		return &ConfigError{Field: "suggestions.debounceMs", Message: "must not be negative"}
	case c.Suggestions.MinStatements < 1:
		return &ConfigError{Field: "suggestions.minStatements", Message: "must be at least 1"}
	case c.Suggestions.MaxBodyStatements < c.Suggestions.MinStatements:
		return &ConfigError{Field: "suggestions.maxBodyStatements", Message: "must be at least minStatements"}
	case c.Analysis.TimeoutMs <= 0:
		return &ConfigError{Field: "analysis.timeoutMs", Message: "must be positive"}
	case c.Analysis.RatePerSecond < 0:
		return &ConfigError{Field: "analysis.ratePerSecond", Message: "must not be negative"}
	case c.Analysis.Workers < 1:
		return &ConfigError{Field: "analysis.workers", Message: "must be at least 1"}
	case c.Analysis.QueueSize < 1:
		return &ConfigError{Field: "analysis.queueSize", Message: "must be at least 1"}
	case c.Overlay.ScrollDebounceMs < 0:
		return &ConfigError{Field: "overlay.scrollDebounceMs", Message: "must not be negative"}
	case c.Transport.Mode != "stdio" && c.Transport.Mode != "websocket":
		return &ConfigError{Field: "transport.mode", Message: "must be stdio or websocket"}
	case c.Logging.Format != "text" && c.Logging.Format != "json":
		return &ConfigError{Field: "logging.format", Message: "must be text or json"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
