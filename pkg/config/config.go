package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default configuration values exported for documentation and validation
const (
	DefaultAPIURL             = "https://helpmetest.com"
	DefaultAPITimeout         = 30 * time.Second
	DefaultRateLimit          = 10.0
	DefaultBurst              = 20
	DefaultInteractiveTimeout = 5000
	MaxInteractiveTimeout     = 300000
	DefaultUITransport        = TransportWebSocket
	DefaultWebSocketPath      = "/api/ws"
	DefaultLogLevel           = "info"
)

// UI transport names
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
	TransportMemory    = "memory"
)

// Config represents the complete helpmetest configuration
type Config struct {
	API         APIConfig         `yaml:"api"`
	Interactive InteractiveConfig `yaml:"interactive"`
	UI          UIConfig          `yaml:"ui"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	History     HistoryConfig     `yaml:"history"`
	Debug       bool              `yaml:"debug"`
}

// APIConfig controls the remote API client.
type APIConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
	Burst       int           `yaml:"burst"`
	InsecureTLS bool          `yaml:"insecure_tls"`
}

// InteractiveConfig controls interactive command sessions.
type InteractiveConfig struct {
	// TimeoutMS is the default per-command timeout. Navigation commands
	// usually need 10000 or more.
	TimeoutMS      int  `yaml:"timeout_ms"`
	AutoScreenshot bool `yaml:"auto_screenshot"`
	OpenViewer     bool `yaml:"open_viewer"`
}

// UIConfig selects the transport used for UI notifications.
type UIConfig struct {
	Transport     string     `yaml:"transport"` // websocket | nats | memory
	WebSocketPath string     `yaml:"websocket_path"`
	NATS          NATSConfig `yaml:"nats"`
}

// NATSConfig contains NATS connection settings.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	TraceFile   string `yaml:"trace_file"`
}

// HistoryConfig controls the local interactive history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			URL:       DefaultAPIURL,
			Timeout:   DefaultAPITimeout,
			RateLimit: DefaultRateLimit,
			Burst:     DefaultBurst,
		},
		Interactive: InteractiveConfig{
			TimeoutMS:  DefaultInteractiveTimeout,
			OpenViewer: true,
		},
		UI: UIConfig{
			Transport:     DefaultUITransport,
			WebSocketPath: DefaultWebSocketPath,
			NATS: NATSConfig{
				URL:            "nats://127.0.0.1:4222",
				ConnectTimeout: 5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(Dir(), "history.db"),
		},
	}
}

// Dir returns the user configuration directory (~/.helpmetest).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".helpmetest")
}

// Paths returns the config files consulted by Load, in precedence order.
func Paths() []string {
	return []string{
		filepath.Join(Dir(), "config.yaml"),
		filepath.Join(".", ".helpmetest", "config.yaml"),
		filepath.Join(Dir(), "config.env"),
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	userConfigPath := filepath.Join(Dir(), "config.yaml")
	if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading user config: %w", err)
	}

	projectConfigPath := filepath.Join(".", ".helpmetest", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg, nil)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var problems []string

	raw := strings.TrimSpace(c.API.URL)
	if raw == "" {
		problems = append(problems, "api.url is required")
	} else if u, err := url.Parse(normalizeURL(raw)); err != nil || u.Host == "" {
		problems = append(problems, fmt.Sprintf("api.url is invalid: %q", raw))
	}
	if c.API.Timeout < 0 {
		problems = append(problems, "api.timeout must not be negative")
	}
	if c.API.RateLimit < 0 {
		problems = append(problems, "api.rate_limit must not be negative")
	}
	if c.Interactive.TimeoutMS <= 0 || c.Interactive.TimeoutMS > MaxInteractiveTimeout {
		problems = append(problems, fmt.Sprintf("interactive.timeout_ms must be between 1 and %d", MaxInteractiveTimeout))
	}

	switch strings.ToLower(strings.TrimSpace(c.UI.Transport)) {
	case TransportWebSocket, TransportMemory:
	case TransportNATS:
		if strings.TrimSpace(c.UI.NATS.URL) == "" {
			problems = append(problems, "ui.nats.url is required when ui.transport is nats")
		}
	default:
		problems = append(problems, fmt.Sprintf("ui.transport must be websocket, nats or memory (got %q)", c.UI.Transport))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// HasToken reports whether an API token is configured.
func (c *Config) HasToken() bool {
	return strings.TrimSpace(c.API.Token) != ""
}

// InteractiveTimeout returns the default interactive timeout as a duration.
func (c *Config) InteractiveTimeout() time.Duration {
	return time.Duration(c.Interactive.TimeoutMS) * time.Millisecond
}

// normalizeURL prefixes https:// on scheme-less hosts so url.Parse sees a host.
func normalizeURL(raw string) string {
	if raw != "" && !strings.Contains(raw, "://") {
		return "https://" + raw
	}
	return raw
}
