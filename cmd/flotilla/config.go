package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flotilla-dev/flotilla/internal/shell/engine"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Stack    StackConfig    `mapstructure:"stack"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Registry RegistryConfig `mapstructure:"registry"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Health   HealthConfig   `mapstructure:"health"`
	Images   ImagesConfig   `mapstructure:"images"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
}

// StackConfig locates the stack definition.
type StackConfig struct {
	// File is the path to the stack YAML file.
	File string `mapstructure:"file"`

	// Project is the stack name used for resource naming and labels when
	// the stack file does not declare one.
	Project string `mapstructure:"project"`
}

// EngineConfig holds container engine client configuration.
type EngineConfig struct {
	// Host is the engine endpoint. Empty means environment/socket defaults.
	Host string `mapstructure:"host"`
}

// RegistryConfig holds image registry credentials for pushes.
type RegistryConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Server   string `mapstructure:"server"`
}

// Auth returns the registry credential in the engine's form.
func (c RegistryConfig) Auth() engine.RegistryAuth {
	return engine.RegistryAuth{
		Username:      c.Username,
		Password:      c.Password,
		ServerAddress: c.Server,
	}
}

// SecretsConfig holds secret provisioning configuration.
type SecretsConfig struct {
	// Dir is where secret files without an explicit source path are written.
	Dir string `mapstructure:"dir"`

	// Cleanup removes provisioned secret files when the run finishes.
	Cleanup bool `mapstructure:"cleanup"`

	// Values maps secret names to their values. A value may be a sealed
	// envelope produced by the seal command.
	Values map[string]string `mapstructure:"values"`

	// Passphrase opens sealed values. Required only when a value is sealed.
	Passphrase string `mapstructure:"passphrase"`
}

// DeployConfig holds deployment run configuration.
type DeployConfig struct {
	// Timeout bounds the whole run. Zero means no bound.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxConcurrent bounds parallel starts within a wave. Zero means NumCPU.
	MaxConcurrent int `mapstructure:"max_concurrent"`

	// StartTimeout bounds each individual create/start engine call.
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

// HealthConfig holds health verification configuration.
type HealthConfig struct {
	// Interval is the poll interval between probes.
	Interval time.Duration `mapstructure:"interval"`

	// Timeout is the per-service verification window when the service's
	// check does not carry its own budget.
	Timeout time.Duration `mapstructure:"timeout"`
}

// ImagesConfig holds image build and push configuration.
type ImagesConfig struct {
	Push          bool `mapstructure:"push"`
	MaxConcurrent int  `mapstructure:"max_concurrent"`
	PushRetries   int  `mapstructure:"push_retries"`
}

// JournalConfig holds run journal configuration.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// NotifyConfig holds completion webhook configuration.
type NotifyConfig struct {
	// WebhookURL receives the run report as JSON. Empty disables posting.
	WebhookURL string `mapstructure:"webhook_url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// envSecretPrefix marks environment variables that carry secret values.
// FLOTILLA_SECRET_DB_PASSWORD supplies the value for the secret named
// "db_password".
const envSecretPrefix = "FLOTILLA_SECRET_"

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("stack.file", "flotilla.yml")
	v.SetDefault("stack.project", "flotilla")
	v.SetDefault("engine.host", "")
	v.SetDefault("registry.username", "")
	v.SetDefault("registry.password", "")
	v.SetDefault("registry.server", "")
	v.SetDefault("secrets.dir", "./secrets")
	v.SetDefault("secrets.cleanup", false)
	v.SetDefault("secrets.passphrase", "")
	v.SetDefault("deploy.timeout", "10m")
	v.SetDefault("deploy.max_concurrent", 0)
	v.SetDefault("deploy.start_timeout", "30s")
	v.SetDefault("health.interval", "2s")
	v.SetDefault("health.timeout", "60s")
	v.SetDefault("images.push", false)
	v.SetDefault("images.max_concurrent", 0)
	v.SetDefault("images.push_retries", 3)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dsn", "./data/flotilla.db")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("FLOTILLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mergeSecretEnv(&cfg, os.Environ())

	return &cfg, nil
}

// mergeSecretEnv folds FLOTILLA_SECRET_* variables into secrets.values.
// Viper's automatic env binding cannot address individual map keys, so
// per-secret variables are merged by hand. The variable suffix maps to the
// lowercased secret name; environment wins over the config file.
func mergeSecretEnv(cfg *Config, environ []string) {
	for _, entry := range environ {
		if !strings.HasPrefix(entry, envSecretPrefix) {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(entry, envSecretPrefix), "=")
		if !ok || key == "" {
			continue
		}
		if cfg.Secrets.Values == nil {
			cfg.Secrets.Values = make(map[string]string)
		}
		cfg.Secrets.Values[strings.ToLower(key)] = value
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Logs go to stderr so stdout stays clean for command output.
	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
