package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Booleans only apply when the key
// was present in the file, so a missing key never resets a default to false.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.API.URL != "" {
		base.API.URL = override.API.URL
	}
	if override.API.Token != "" {
		base.API.Token = override.API.Token
	}
	if override.API.Timeout != 0 {
		base.API.Timeout = override.API.Timeout
	}
	if override.API.RateLimit != 0 {
		base.API.RateLimit = override.API.RateLimit
	}
	if override.API.Burst != 0 {
		base.API.Burst = override.API.Burst
	}
	if boolFieldSet(raw, "api", "insecure_tls") {
		base.API.InsecureTLS = override.API.InsecureTLS
	}

	if override.Interactive.TimeoutMS != 0 {
		base.Interactive.TimeoutMS = override.Interactive.TimeoutMS
	}
	if boolFieldSet(raw, "interactive", "auto_screenshot") {
		base.Interactive.AutoScreenshot = override.Interactive.AutoScreenshot
	}
	if boolFieldSet(raw, "interactive", "open_viewer") {
		base.Interactive.OpenViewer = override.Interactive.OpenViewer
	}

	if override.UI.Transport != "" {
		base.UI.Transport = override.UI.Transport
	}
	if override.UI.WebSocketPath != "" {
		base.UI.WebSocketPath = override.UI.WebSocketPath
	}
	if override.UI.NATS.URL != "" {
		base.UI.NATS.URL = override.UI.NATS.URL
	}
	if override.UI.NATS.Token != "" {
		base.UI.NATS.Token = override.UI.NATS.Token
	}
	if override.UI.NATS.ConnectTimeout != 0 {
		base.UI.NATS.ConnectTimeout = override.UI.NATS.ConnectTimeout
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.File != "" {
		base.Logging.File = expandHomeDir(override.Logging.File)
	}

	if override.Telemetry.MetricsAddr != "" {
		base.Telemetry.MetricsAddr = override.Telemetry.MetricsAddr
	}
	if override.Telemetry.TraceFile != "" {
		base.Telemetry.TraceFile = expandHomeDir(override.Telemetry.TraceFile)
	}

	if boolFieldSet(raw, "history", "enabled") {
		base.History.Enabled = override.History.Enabled
	}
	if override.History.Path != "" {
		base.History.Path = expandHomeDir(override.History.Path)
	}

	if boolFieldSet(raw, "debug") {
		base.Debug = override.Debug
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

// applyEnvOverrides applies HELPMETEST_* variables. Process environment wins
// over ~/.helpmetest/config.env.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	if v := lookupEnv("HELPMETEST_API_TOKEN", configEnv); v != "" {
		cfg.API.Token = v
	}
	if v := lookupEnv("HELPMETEST_API_URL", configEnv); v != "" {
		cfg.API.URL = v
	}
	if val, ok := envBool(lookupEnv("HELPMETEST_DEBUG", configEnv)); ok {
		cfg.Debug = val
		if val {
			cfg.Logging.Level = "debug"
		}
	}
	if v := lookupEnv("HELPMETEST_LOG_LEVEL", configEnv); v != "" {
		cfg.Logging.Level = v
	}
	if v := lookupEnv("HELPMETEST_LOG_FILE", configEnv); v != "" {
		cfg.Logging.File = expandHomeDir(v)
	}

	if v := lookupEnv("HELPMETEST_UI_TRANSPORT", configEnv); v != "" {
		cfg.UI.Transport = strings.ToLower(v)
	}
	if v := lookupEnv("HELPMETEST_NATS_URL", configEnv); v != "" {
		cfg.UI.NATS.URL = v
	}
	if v := lookupEnv("HELPMETEST_NATS_TOKEN", configEnv); v != "" {
		cfg.UI.NATS.Token = v
	}

	if v := lookupEnv("HELPMETEST_INTERACTIVE_TIMEOUT", configEnv); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Interactive.TimeoutMS = ms
		}
	}
	if v := lookupEnv("HELPMETEST_API_TIMEOUT", configEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.API.Timeout = d
		}
	}
	if val, ok := envBool(lookupEnv("HELPMETEST_AUTO_SCREENSHOT", configEnv)); ok {
		cfg.Interactive.AutoScreenshot = val
	}
	if val, ok := envBool(lookupEnv("HELPMETEST_NO_BROWSER", configEnv)); ok && val {
		cfg.Interactive.OpenViewer = false
	}

	if v := lookupEnv("HELPMETEST_HISTORY_DB", configEnv); v != "" {
		switch strings.ToLower(v) {
		case "off", "none", "disabled":
			cfg.History.Enabled = false
		default:
			cfg.History.Enabled = true
			cfg.History.Path = expandHomeDir(v)
		}
	}
	if v := lookupEnv("HELPMETEST_METRICS_ADDR", configEnv); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if v := lookupEnv("HELPMETEST_TRACE_FILE", configEnv); v != "" {
		cfg.Telemetry.TraceFile = expandHomeDir(v)
	}
}

func lookupEnv(key string, configEnv map[string]string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if configEnv != nil {
		return strings.TrimSpace(configEnv[key])
	}
	return ""
}

func envBool(val string) (bool, bool) {
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// loadConfigEnvVars reads KEY=VALUE pairs from ~/.helpmetest/config.env.
func loadConfigEnvVars() map[string]string {
	data, err := os.ReadFile(filepath.Join(Dir(), "config.env"))
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	return vars
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
