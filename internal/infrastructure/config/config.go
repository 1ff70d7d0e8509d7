package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	API       APIConfig
	Fold      FoldConfig
	Safety    SafetyConfig
	Scan      ScanConfig
	Relocate  RelocateConfig
	Icons     IconsConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// APIConfig holds control API configuration.
type APIConfig struct {
	Port string `envconfig:"TRAYFOLD_PORT" yaml:"port" default:"7114"`
	Host string `envconfig:"TRAYFOLD_HOST" yaml:"host" default:"127.0.0.1"`
}

// FoldConfig holds fold zone configuration.
type FoldConfig struct {
	// HiddenWidth is the declared width that pushes folded items out of view.
	HiddenWidth int `envconfig:"TRAYFOLD_HIDDEN_WIDTH" yaml:"hidden_width" default:"10000"`
	// CompactWidth is the declared width of the separator when everything is visible.
	CompactWidth int `envconfig:"TRAYFOLD_COMPACT_WIDTH" yaml:"compact_width" default:"20"`
	// RehideDelay is how long a reveal lasts before folding again.
	RehideDelay time.Duration `envconfig:"TRAYFOLD_REHIDE_DELAY" yaml:"rehide_delay" default:"15s"`
	// RehideEnabled toggles automatic folding after a reveal.
	RehideEnabled bool `envconfig:"TRAYFOLD_REHIDE_ENABLED" yaml:"rehide_enabled" default:"true"`
	// AlwaysHidden enables the third slot that marks a permanently folded zone.
	AlwaysHidden bool `envconfig:"TRAYFOLD_ALWAYS_HIDDEN" yaml:"always_hidden" default:"false"`
}

// SafetyConfig holds separator position monitoring configuration.
type SafetyConfig struct {
	CheckInterval   time.Duration `envconfig:"TRAYFOLD_SAFETY_INTERVAL" yaml:"check_interval" default:"500ms"`
	UnsafeThreshold int           `envconfig:"TRAYFOLD_SAFETY_THRESHOLD" yaml:"unsafe_threshold" default:"3"`
}

// ScanConfig holds tray enumeration cache configuration.
type ScanConfig struct {
	OwnersTTL     time.Duration `envconfig:"TRAYFOLD_OWNERS_TTL" yaml:"owners_ttl" default:"300s"`
	PositionedTTL time.Duration `envconfig:"TRAYFOLD_POSITIONED_TTL" yaml:"positioned_ttl" default:"60s"`
}

// RelocateConfig holds drag synthesis configuration.
type RelocateConfig struct {
	// Margin is how far past the separator edge the drop point lands.
	Margin float64 `envconfig:"TRAYFOLD_RELOCATE_MARGIN" yaml:"margin" default:"50"`
	// SettleDelay is the wait after expanding before the drag starts.
	SettleDelay time.Duration `envconfig:"TRAYFOLD_SETTLE_DELAY" yaml:"settle_delay" default:"400ms"`
	// InvalidateDelay is the wait after the drag before caches are flushed.
	InvalidateDelay time.Duration `envconfig:"TRAYFOLD_INVALIDATE_DELAY" yaml:"invalidate_delay" default:"1s"`
}

// IconsConfig holds icon resolution configuration.
type IconsConfig struct {
	// ThemeDirs are extra directories searched for named icons, in order.
	ThemeDirs []string `envconfig:"TRAYFOLD_ICON_DIRS" yaml:"theme_dirs"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"TRAYFOLD_LOG_LEVEL" yaml:"level" default:"info"`
	Development bool   `envconfig:"TRAYFOLD_LOG_DEV" yaml:"development" default:"false"`
}

// RateLimitConfig holds control API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"TRAYFOLD_RATE_LIMIT_RPS" yaml:"requests_per_second" default:"50"`
	Burst             int  `envconfig:"TRAYFOLD_RATE_LIMIT_BURST" yaml:"burst" default:"100"`
	Enabled           bool `envconfig:"TRAYFOLD_RATE_LIMIT_ENABLED" yaml:"enabled" default:"true"`
}

// Load loads configuration from environment variables, then overlays the
// optional YAML file named by TRAYFOLD_CONFIG. The file is the primary user
// surface and wins where both set a value.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if path := os.Getenv("TRAYFOLD_CONFIG"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Port: "7114",
			Host: "127.0.0.1",
		},
		Fold: FoldConfig{
			HiddenWidth:   10000,
			CompactWidth:  20,
			RehideDelay:   15 * time.Second,
			RehideEnabled: true,
			AlwaysHidden:  false,
		},
		Safety: SafetyConfig{
			CheckInterval:   500 * time.Millisecond,
			UnsafeThreshold: 3,
		},
		Scan: ScanConfig{
			OwnersTTL:     300 * time.Second,
			PositionedTTL: 60 * time.Second,
		},
		Relocate: RelocateConfig{
			Margin:          50,
			SettleDelay:     400 * time.Millisecond,
			InvalidateDelay: time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Fold.HiddenWidth <= c.Fold.CompactWidth {
		return fmt.Errorf("fold: hidden width %d must exceed compact width %d",
			c.Fold.HiddenWidth, c.Fold.CompactWidth)
	}
	if c.Safety.CheckInterval <= 0 {
		return fmt.Errorf("safety: check interval must be positive")
	}
	if c.Safety.UnsafeThreshold < 1 {
		return fmt.Errorf("safety: unsafe threshold must be at least 1")
	}
	if c.Scan.OwnersTTL <= 0 || c.Scan.PositionedTTL <= 0 {
		return fmt.Errorf("scan: cache TTLs must be positive")
	}
	if c.Relocate.Margin <= 0 {
		return fmt.Errorf("relocate: margin must be positive")
	}
	return nil
}

// overlayFile merges a YAML config file into cfg.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
