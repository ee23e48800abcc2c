package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// ConfigFileEnv names an optional YAML/TOML/JSON file whose keys mirror the
// environment variable names below (case-insensitive).
const ConfigFileEnv = "PLANTDOC_CONFIG_FILE"

// Config contains all runtime settings for the plant diagnosis service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionEndedRetention    time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	AgentMode        string
	AgentName        string
	AgentProfilePath string
	AgentTraceMode   string
	AgentHTTPURL     string
	GeminiModel      string
}

var defaults = map[string]any{
	"APP_BIND_ADDR":                  ":8080",
	"APP_SHUTDOWN_TIMEOUT":           "15s",
	"APP_SESSION_INACTIVITY_TIMEOUT": "30m",
	"APP_SESSION_ENDED_RETENTION":    "5m",
	"APP_METRICS_NAMESPACE":          "plantdoc",
	"APP_ALLOW_ANY_ORIGIN":           "false",
	"APP_LOG_LEVEL":                  "info",
	"AGENT_MODE":                     "auto",
	"AGENT_NAME":                     "",
	"AGENT_PROFILE_PATH":             "",
	// debug and verbose reproduce the runner's transcript shapes; the labeled
	// rule drops blank lines, so paragraphs only survive with off.
	"AGENT_TRACE_MODE": "off",
	"AGENT_HTTP_URL":   "",
	"GEMINI_MODEL":     "",
}

// Load reads environment variables (and the optional config file) and
// applies safe defaults.
func Load() (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		BindAddr:         str(v, "APP_BIND_ADDR"),
		MetricsNamespace: str(v, "APP_METRICS_NAMESPACE"),
		LogLevel:         strings.ToLower(str(v, "APP_LOG_LEVEL")),
		AgentMode:        strings.ToLower(str(v, "AGENT_MODE")),
		AgentName:        str(v, "AGENT_NAME"),
		AgentProfilePath: str(v, "AGENT_PROFILE_PATH"),
		AgentTraceMode:   strings.ToLower(str(v, "AGENT_TRACE_MODE")),
		AgentHTTPURL:     str(v, "AGENT_HTTP_URL"),
		GeminiModel:      str(v, "GEMINI_MODEL"),
	}

	var err error
	cfg.ShutdownTimeout, err = duration(v, "APP_SHUTDOWN_TIMEOUT")
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = duration(v, "APP_SESSION_INACTIVITY_TIMEOUT")
	if err != nil {
		return Config{}, err
	}
	cfg.SessionEndedRetention, err = duration(v, "APP_SESSION_ENDED_RETENTION")
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolean(v, "APP_ALLOW_ANY_ORIGIN")
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("APP_BIND_ADDR must not be empty")
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.SessionEndedRetention <= 0 {
		return fmt.Errorf("APP_SESSION_ENDED_RETENTION must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("APP_LOG_LEVEL: %w", err)
	}
	switch c.AgentMode {
	case "auto", "gemini", "mock":
	case "http":
		if c.AgentHTTPURL == "" {
			return fmt.Errorf("AGENT_HTTP_URL is required when AGENT_MODE=http")
		}
	default:
		return fmt.Errorf("AGENT_MODE must be one of auto|gemini|http|mock, got %q", c.AgentMode)
	}
	switch c.AgentTraceMode {
	case "off", "debug", "verbose":
	default:
		return fmt.Errorf("AGENT_TRACE_MODE must be one of off|debug|verbose, got %q", c.AgentTraceMode)
	}
	if strings.ContainsAny(c.AgentName, " \t\n>") {
		return fmt.Errorf("AGENT_NAME %q must be a single identifier", c.AgentName)
	}
	return nil
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := str(v, key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolean(v *viper.Viper, key string) (bool, error) {
	raw := strings.ToLower(str(v, key))
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("%s parse error: expected bool", key)
}
