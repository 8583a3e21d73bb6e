package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig      ServerConfig      `json:"server"`
	StreamConfig      StreamConfig      `json:"stream"`
	ModeServiceConfig ModeServiceConfig `json:"mode_service"`
	DatabaseConfig    DatabaseConfig    `json:"database"`
	RedisConfig       RedisConfig       `json:"redis"`
	VaultConfig       VaultConfig       `json:"vault"`
	AuthConfig        AuthConfig        `json:"auth"`
	LoggingConfig     LoggingConfig     `json:"logging"`
}

// ServerConfig holds the dashboard HTTP server configuration
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// StreamConfig holds the realtime market/session channel configuration
type StreamConfig struct {
	Endpoint      string        `json:"endpoint"`       // wss:// URL of the realtime channel
	ReconnectBase time.Duration `json:"reconnect_base"` // base unit for linear backoff
	PingInterval  time.Duration `json:"ping_interval"`
	WriteTimeout  time.Duration `json:"write_timeout"`
}

// ModeServiceConfig holds the remote trading-mode service configuration
type ModeServiceConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	Credential     string        `json:"credential"` // bearer credential; Vault takes precedence when enabled
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// AuthConfig holds the single-operator authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	PasswordHash        string        `json:"password_hash"` // bcrypt hash of the operator password
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// Load reads configuration from an optional JSON file, then applies
// environment overrides. A missing file is not an error; env-only setups are
// supported.
func Load(filename string) (*Config, error) {
	cfg := defaults()

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			loaded, err := loadFromFile(filename)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		StreamConfig: StreamConfig{
			ReconnectBase: 2 * time.Second,
			PingInterval:  30 * time.Second,
			WriteTimeout:  10 * time.Second,
		},
		ModeServiceConfig: ModeServiceConfig{
			RequestTimeout: 10 * time.Second,
		},
		DatabaseConfig: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			MountPath: "secret",
		},
		AuthConfig: AuthConfig{
			Enabled:             true,
			AccessTokenDuration: 24 * time.Hour,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", boolStr(cfg.ServerConfig.ProductionMode)) == "true"

	cfg.StreamConfig.Endpoint = getEnvOrDefault("STREAM_ENDPOINT", cfg.StreamConfig.Endpoint)
	cfg.StreamConfig.ReconnectBase = getEnvDurationOrDefault("STREAM_RECONNECT_BASE", cfg.StreamConfig.ReconnectBase)
	cfg.StreamConfig.PingInterval = getEnvDurationOrDefault("STREAM_PING_INTERVAL", cfg.StreamConfig.PingInterval)

	cfg.ModeServiceConfig.BaseURL = getEnvOrDefault("MODE_SERVICE_URL", cfg.ModeServiceConfig.BaseURL)
	cfg.ModeServiceConfig.RequestTimeout = getEnvDurationOrDefault("MODE_SERVICE_TIMEOUT", cfg.ModeServiceConfig.RequestTimeout)
	cfg.ModeServiceConfig.Credential = getEnvOrDefault("MODE_SERVICE_CREDENTIAL", cfg.ModeServiceConfig.Credential)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)

	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", boolStr(cfg.AuthConfig.Enabled)) == "true"
	cfg.AuthConfig.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.AuthConfig.PasswordHash)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolStr(cfg.LoggingConfig.JSONFormat)) == "true"
}

// Validate checks the injected endpoints once at startup so the core
// components can treat them as well-formed.
func (c *Config) Validate() error {
	if c.StreamConfig.Endpoint == "" {
		return fmt.Errorf("stream endpoint is required (STREAM_ENDPOINT)")
	}
	if c.ModeServiceConfig.BaseURL == "" {
		return fmt.Errorf("mode service base URL is required (MODE_SERVICE_URL)")
	}
	if c.StreamConfig.ReconnectBase <= 0 {
		return fmt.Errorf("stream reconnect base must be positive")
	}
	if c.AuthConfig.Enabled {
		if c.AuthConfig.JWTSecret == "" {
			return fmt.Errorf("auth is enabled but AUTH_JWT_SECRET is not set")
		}
		if c.AuthConfig.PasswordHash == "" {
			return fmt.Errorf("auth is enabled but AUTH_PASSWORD_HASH is not set")
		}
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := defaults()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
