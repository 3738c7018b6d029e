package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	ClientBuffer      int           `mapstructure:"client_buffer" yaml:"client_buffer"`

	// Per-connection inbound message rate. Zero disables limiting.
	MessagesPerSecond float64 `mapstructure:"messages_per_second" yaml:"messages_per_second"`
	MessageBurst      int     `mapstructure:"message_burst" yaml:"message_burst"`

	// Call invitation.
	RingTimeout    time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`
	PersistRetries int           `mapstructure:"persist_retries" yaml:"persist_retries"`
	PersistBackoff time.Duration `mapstructure:"persist_backoff" yaml:"persist_backoff"`

	// Identity tokens. An empty secret trusts the identity sent in register-user.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// Presence mirror. An empty address disables it.
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	PresenceTTL   time.Duration `mapstructure:"presence_ttl" yaml:"presence_ttl"`

	// ICEServers is handed to negotiation clients (callbot).
	ICEServers []string `mapstructure:"ice_servers" yaml:"ice_servers"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "wirecall.db",
		MaxMessageBytes:   64 << 10,
		ClientBuffer:      64,
		MessagesPerSecond: 50,
		MessageBurst:      200,
		RingTimeout:       30 * time.Second,
		PersistRetries:    3,
		PersistBackoff:    200 * time.Millisecond,
		JWTIssuer:         "wirecall",
		JWTAudience:       "wirecall",
		PresenceTTL:       5 * time.Minute,
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RingTimeout != 0 {
		c.RingTimeout = other.RingTimeout
	}
}
