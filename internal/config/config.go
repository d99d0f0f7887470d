// Package config loads server settings from a YAML file layered under
// environment variables, with an optional AWS Secrets Manager pass that
// seeds the environment first.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Environment variables override
// the YAML file field by field.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	AMQPURL       string `yaml:"amqp_url"`
	AuditExchange string `yaml:"audit_exchange"`

	CodeTTL    time.Duration `yaml:"code_ttl"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`

	IdPJWKSURL string `yaml:"idp_jwks_url"`
	IdPIssuer  string `yaml:"idp_issuer"`

	// LoginURL is where unauthenticated authorize requests are sent; the
	// pending request id is appended as a query parameter.
	LoginURL string `yaml:"login_url"`
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist) and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:    ":8080",
		AuditExchange: "stardust.audit",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// env-only deployment
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (set DATABASE_URL or the config file)")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.AMQPURL, "AMQP_URL")
	setString(&c.AuditExchange, "AUDIT_EXCHANGE")
	setString(&c.IdPJWKSURL, "IDP_JWKS_URL")
	setString(&c.IdPIssuer, "IDP_ISSUER")
	setString(&c.LoginURL, "LOGIN_URL")
	setDuration(&c.CodeTTL, "AUTH_CODE_TTL")
	setDuration(&c.AccessTTL, "ACCESS_TOKEN_TTL")
	setDuration(&c.RefreshTTL, "REFRESH_TOKEN_TTL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
