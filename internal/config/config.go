// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the server configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	RelyingParty RelyingPartyConfig `yaml:"relying_party"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Storage      StorageConfig      `yaml:"storage"`
	Tokens       TokensConfig       `yaml:"tokens"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Health       HealthConfig       `yaml:"health"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BasePath is the prefix the ceremony routes are mounted under.
	BasePath string `yaml:"base_path"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RelyingPartyConfig carries the WebAuthn Relying Party settings.
type RelyingPartyConfig struct {
	ID                      string        `yaml:"id"`
	DisplayName             string        `yaml:"display_name"`
	Origins                 []string      `yaml:"origins"`
	SessionTTL              time.Duration `yaml:"session_ttl"`
	Timeout                 time.Duration `yaml:"timeout"`
	UserVerification        string        `yaml:"user_verification"`
	Attestation             string        `yaml:"attestation"`
	ResidentKey             string        `yaml:"resident_key"`
	AuthenticatorAttachment string        `yaml:"authenticator_attachment"`
}

// SessionsConfig selects the ceremony session store backend.
type SessionsConfig struct {
	// Backend is "memory" or "redis".
	Backend string       `yaml:"backend"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`

	// ReapInterval controls how often the in-memory store sweeps expired
	// sessions. Ignored for Redis, which expires keys itself.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StorageConfig selects the credential and directory store backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// TokensConfig controls JWT issuance after successful ceremonies.
type TokensConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	Audience  []string      `yaml:"audience"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// RateLimitConfig controls rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls health check endpoint
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			BasePath:        "/auth/passkeys",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RelyingParty: RelyingPartyConfig{
			ID:          "localhost",
			DisplayName: "go-passkey",
			Origins:     []string{"http://localhost:8080"},
		},
		Sessions: SessionsConfig{
			Backend:      "memory",
			ReapInterval: time.Minute,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled: true,
			Path:    "/healthz",
		},
	}
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portEnv := os.Getenv("PASSKEY_PORT"); portEnv != "" {
		port, err := strconv.Atoi(portEnv)
		if err != nil {
			log.Printf("Warning: invalid PASSKEY_PORT value %q, using default %d: %v",
				portEnv, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid PASSKEY_PORT value %q (out of range 1-65535), using default %d",
				portEnv, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying Party
	if rpID := os.Getenv("PASSKEY_RP_ID"); rpID != "" {
		cfg.RelyingParty.ID = rpID
	}
	if rpName := os.Getenv("PASSKEY_RP_DISPLAY_NAME"); rpName != "" {
		cfg.RelyingParty.DisplayName = rpName
	}
	if origins := os.Getenv("PASSKEY_RP_ORIGINS"); origins != "" {
		cfg.RelyingParty.Origins = strings.Split(origins, ",")
	}

	// Session store
	if backend := os.Getenv("PASSKEY_SESSION_BACKEND"); backend != "" {
		cfg.Sessions.Backend = backend
	}
	if addr := os.Getenv("PASSKEY_REDIS_ADDR"); addr != "" {
		if cfg.Sessions.Redis == nil {
			cfg.Sessions.Redis = &RedisConfig{}
		}
		cfg.Sessions.Redis.Addr = addr
	}
	if password := os.Getenv("PASSKEY_REDIS_PASSWORD"); password != "" {
		if cfg.Sessions.Redis == nil {
			cfg.Sessions.Redis = &RedisConfig{}
		}
		cfg.Sessions.Redis.Password = password
	}

	// Storage
	if backend := os.Getenv("PASSKEY_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("PASSKEY_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}

	// Tokens
	if secret := os.Getenv("PASSKEY_JWT_SECRET"); secret != "" {
		cfg.Tokens.Enabled = true
		cfg.Tokens.Secret = secret
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("base_path must start with /: %s", c.Server.BasePath)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.RelyingParty.ID == "" {
		return fmt.Errorf("relying_party.id must be specified")
	}
	if len(c.RelyingParty.Origins) == 0 {
		return fmt.Errorf("relying_party.origins must list at least one origin")
	}

	switch c.Sessions.Backend {
	case "memory":
	case "redis":
		if c.Sessions.Redis == nil || c.Sessions.Redis.Addr == "" {
			return fmt.Errorf("sessions.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid session backend: %s (must be memory or redis)", c.Sessions.Backend)
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or sqlite)", c.Storage.Backend)
	}

	if c.Tokens.Enabled && c.Tokens.Secret == "" {
		return fmt.Errorf("tokens.secret is required when tokens are enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("ratelimit.requests_per_min must be positive when enabled")
	}

	return nil
}
