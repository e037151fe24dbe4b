package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	AppPort string `yaml:"app_port"`
	AppEnv  string `yaml:"app_env"`

	LogLevel string `yaml:"log_level"`

	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`

	KeycloakIssuer        string `yaml:"keycloak_issuer"`
	KeycloakClientID      string `yaml:"keycloak_client_id"`
	KeycloakRedirectURL   string `yaml:"keycloak_redirect_url"`
	KeycloakPublicBaseURL string `yaml:"keycloak_public_base_url"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	DatabaseDSN string `yaml:"database_dsn"`

	SessionBackend      string        `yaml:"session_backend"`
	SessionTTL          time.Duration `yaml:"session_ttl"`
	SessionRememberTTL  time.Duration `yaml:"session_remember_ttl"`
	OperationTimeout    time.Duration `yaml:"operation_timeout"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	InternalTokenHeader string        `yaml:"internal_token_header"`
}

// Defaults returns the configuration used when neither the config file
// nor the environment says otherwise.
func Defaults() Config {
	return Config{
		AppPort:             "8080",
		AppEnv:              "production",
		LogLevel:            "info",
		SessionBackend:      BackendRedis,
		SessionTTL:          24 * time.Hour,
		SessionRememberTTL:  30 * 24 * time.Hour,
		OperationTimeout:    3 * time.Second,
		InternalTokenHeader: "X-Session-Token",
	}
}

// IsDevelopment reports whether cookies may be issued without Secure.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	}
	return false
}

func (c Config) Validate() error {
	switch c.SessionBackend {
	case BackendRedis, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("config: unknown session backend %q", c.SessionBackend)
	}
	if c.SessionTTL <= 0 || c.SessionRememberTTL <= 0 {
		return fmt.Errorf("config: session durations must be positive")
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("config: operation timeout must be positive")
	}
	return nil
}

// Load reads CONFIG_FILE (if set) over the defaults, then applies
// environment variables on top.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	setString(&cfg.AppPort, "APP_PORT")
	setString(&cfg.AppEnv, "APP_ENV")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	setString(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.GoogleRedirectURL, "GOOGLE_REDIRECT_URL")

	setString(&cfg.KeycloakIssuer, "KEYCLOAK_ISSUER")
	setString(&cfg.KeycloakClientID, "KEYCLOAK_CLIENT_ID")
	setString(&cfg.KeycloakRedirectURL, "KEYCLOAK_REDIRECT_URL")
	setString(&cfg.KeycloakPublicBaseURL, "KEYCLOAK_PUBLIC_BASE_URL")

	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")

	setString(&cfg.DatabaseDSN, "DATABASE_DSN")

	setString(&cfg.SessionBackend, "SESSION_BACKEND")
	setString(&cfg.InternalTokenHeader, "INTERNAL_TOKEN_HEADER")

	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.SessionTTL, "SESSION_TTL"},
		{&cfg.SessionRememberTTL, "SESSION_REMEMBER_TTL"},
		{&cfg.OperationTimeout, "OPERATION_TIMEOUT"},
		{&cfg.SweepInterval, "SWEEP_INTERVAL"},
	} {
		if err := setDuration(d.dst, d.key); err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
