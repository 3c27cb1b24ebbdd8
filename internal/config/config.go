// Package config defines this server's configuration format: a single
// struct decoded once from YAML at startup and passed by value into every
// service constructor, so no component reaches for mutable package-level
// state (cmd/dex/config.go's Config/Validate shape).
package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// Config is the full configuration for one server process. It is built once
// by Load and never mutated afterward.
type Config struct {
	// Issuer is this server's own base URL, used to construct absolute
	// endpoint URLs in discovery metadata.
	Issuer string `json:"issuer"`

	Upstream Upstream `json:"upstream"`
	Storage  Storage  `json:"storage"`
	Web      Web      `json:"web"`
	Cookie   Cookie   `json:"cookie"`

	// Scopes lists the scopes this server advertises in its metadata and
	// approval UI.
	Scopes []string `json:"scopes"`

	Logger    Logger    `json:"logger"`
	Telemetry Telemetry `json:"telemetry"`
}

// Upstream configures this server's identity as a client of Sentry's OAuth.
type Upstream struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	// Host defaults to "sentry.io" when empty.
	Host string `json:"host"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	// Type is "memory" or "redis".
	Type  string      `json:"type"`
	Redis RedisConfig `json:"redis"`
}

// RedisConfig configures the Redis storage backend.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// KeyPrefix namespaces every key this server writes, so one Redis
	// instance can back multiple environments.
	KeyPrefix string `json:"keyPrefix"`
}

// Web configures the HTTP listener and CORS policy.
type Web struct {
	HTTPAddr       string   `json:"httpAddr"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// Cookie configures the signing keys for the approval cookie and the
// upstream-redirect state parameter.
type Cookie struct {
	HashKey  string `json:"hashKey"`
	BlockKey string `json:"blockKey"`
}

// Logger configures the ambient slog handler.
type Logger struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Telemetry configures the Prometheus metrics listener.
type Telemetry struct {
	HTTPAddr string `json:"httpAddr"`
}

// Load reads and decodes a Config from the YAML file at path, following
// cmd/dex/serve.go's runServe loading pattern.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the configuration for internal consistency, failing fast
// the same way cmd/dex/config.go's Config.Validate does.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Issuer == "", "no issuer specified in config file"},
		{c.Upstream.ClientID == "", "no upstream client id specified"},
		{c.Upstream.ClientSecret == "", "no upstream client secret specified"},
		{c.Storage.Type != "memory" && c.Storage.Type != "redis", `storage.type must be "memory" or "redis"`},
		{c.Storage.Type == "redis" && c.Storage.Redis.Addr == "", "storage.redis.addr required for redis storage"},
		{c.Web.HTTPAddr == "", "no web.httpAddr specified"},
		{c.Cookie.HashKey == "", "no cookie.hashKey specified"},
		{len(c.Scopes) == 0, "no scopes configured"},
	}
	for _, check := range checks {
		if check.bad {
			return fmt.Errorf("invalid config: %s", check.errMsg)
		}
	}
	return nil
}
