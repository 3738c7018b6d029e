package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WIRECALL_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("client_buffer", cfg.ClientBuffer)
	v.SetDefault("messages_per_second", cfg.MessagesPerSecond)
	v.SetDefault("message_burst", cfg.MessageBurst)
	v.SetDefault("ring_timeout", cfg.RingTimeout)
	v.SetDefault("persist_retries", cfg.PersistRetries)
	v.SetDefault("persist_backoff", cfg.PersistBackoff)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("jwt_audience", cfg.JWTAudience)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("redis_password", cfg.RedisPassword)
	v.SetDefault("redis_db", cfg.RedisDB)
	v.SetDefault("presence_ttl", cfg.PresenceTTL)
	v.SetDefault("ice_servers", cfg.ICEServers)

	v.SetEnvPrefix("WIRECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, configPath, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return cfg, configPath, nil
}

// validate rejects values the hub cannot run with.
func (c Config) validate() error {
	var errs []error
	if c.RingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ring_timeout must be positive, got %s", c.RingTimeout))
	}
	if c.PersistRetries < 0 {
		errs = append(errs, fmt.Errorf("persist_retries must not be negative, got %d", c.PersistRetries))
	}
	if c.PersistBackoff < 0 {
		errs = append(errs, fmt.Errorf("persist_backoff must not be negative, got %s", c.PersistBackoff))
	}
	if c.ClientBuffer <= 0 {
		errs = append(errs, fmt.Errorf("client_buffer must be positive, got %d", c.ClientBuffer))
	}
	if c.MessagesPerSecond <= 0 || c.MessageBurst <= 0 {
		errs = append(errs, errors.New("messages_per_second and message_burst must be positive"))
	}
	return errors.Join(errs...)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
