// Package config provides 12-factor configuration management for the trayfold daemon.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional YAML file (TRAYFOLD_CONFIG) overlays the environment for users
// who prefer a config file over a wall of exports.
//
// Configuration Sections:
//   - API: Control API settings (port, host)
//   - Fold: Separator widths, auto-rehide, always-hidden zone
//   - Safety: Separator position monitoring cadence and threshold
//   - Scan: Tray enumeration cache TTLs
//   - Relocate: Drag synthesis margins and delays
//   - Icons: Extra icon theme directories
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Control API on %s:%s\n", cfg.API.Host, cfg.API.Port)
//
// Environment Variables:
//   - TRAYFOLD_PORT, TRAYFOLD_HOST, TRAYFOLD_CONFIG
//   - TRAYFOLD_HIDDEN_WIDTH, TRAYFOLD_COMPACT_WIDTH, TRAYFOLD_REHIDE_DELAY
//   - TRAYFOLD_SAFETY_INTERVAL, TRAYFOLD_SAFETY_THRESHOLD
//   - TRAYFOLD_OWNERS_TTL, TRAYFOLD_POSITIONED_TTL
//   - TRAYFOLD_LOG_LEVEL, TRAYFOLD_LOG_DEV
//   - TRAYFOLD_RATE_LIMIT_RPS, TRAYFOLD_RATE_LIMIT_BURST
package config
