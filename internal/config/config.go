// Package config loads server configuration from a TOML, YAML, or JSON file
// with environment-variable overrides. A missing source falls back to
// defaults plus the environment, so the server can run from env alone.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server struct {
		Name string `yaml:"name" toml:"name" json:"name" env:"IRCDB_SERVER_NAME"`
		Host string `yaml:"host" toml:"host" json:"host" env:"IRCDB_HOST"`
		Port int    `yaml:"port" toml:"port" json:"port" env:"IRCDB_PORT"`
	} `yaml:"server" toml:"server" json:"server"`

	Database struct {
		// DSN selects the driver by scheme: mysql://, postgres://, or a
		// plain sqlite path.
		DSN string `yaml:"dsn" toml:"dsn" json:"dsn" env:"IRCDB_DATABASE_DSN"`
	} `yaml:"database" toml:"database" json:"database"`

	Admin struct {
		Enabled      bool     `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCDB_ADMIN_ENABLED"`
		Host         string   `yaml:"host" toml:"host" json:"host" env:"IRCDB_ADMIN_HOST"`
		Port         int      `yaml:"port" toml:"port" json:"port" env:"IRCDB_ADMIN_PORT"`
		BearerTokens []string `yaml:"bearer_tokens" toml:"bearer_tokens" json:"bearer_tokens" env:"IRCDB_ADMIN_TOKENS"`
	} `yaml:"admin" toml:"admin" json:"admin"`

	Delivery struct {
		// PollMillis is the delivery watcher poll period in milliseconds.
		PollMillis int `yaml:"poll_millis" toml:"poll_millis" json:"poll_millis" env:"IRCDB_POLL_MILLIS"`
	} `yaml:"delivery" toml:"delivery" json:"delivery"`

	// Operators may use OPER to take the op flag. PasswordHash is bcrypt.
	Operators []Operator `yaml:"operators" toml:"operators" json:"operators"`

	Debug bool `yaml:"debug" toml:"debug" json:"debug" env:"IRCDB_DEBUG"`

	// Source the configuration was loaded from, for diagnostics.
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Operator is one OPER credential.
type Operator struct {
	Name         string `yaml:"name" toml:"name" json:"name"`
	PasswordHash string `yaml:"password_hash" toml:"password_hash" json:"password_hash"`
}

// Load reads configuration from source. An empty source skips the file and
// uses defaults plus environment overrides.
func Load(source string) (*Config, error) {
	cfg := &Config{Source: source}

	// Defaults
	cfg.Server.Name = "localhost"
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 6667
	cfg.Database.DSN = "ircdb.sqlite"
	cfg.Admin.Host = "127.0.0.1"
	cfg.Admin.Port = 8080
	cfg.Delivery.PollMillis = 500

	if source != "" {
		if err := cfg.loadFromFile(source); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(reflect.ValueOf(cfg).Elem())
	return cfg, nil
}

func (c *Config) loadFromFile(source string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", source, err)
	}

	switch {
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", source, err)
	}
	return nil
}

// applyEnvOverrides walks the struct and overrides any field whose `env` tag
// names a set environment variable.
func applyEnvOverrides(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if field.PkgPath != "" {
			continue
		}

		if tag := field.Tag.Get("env"); tag != "" {
			if envValue, ok := os.LookupEnv(tag); ok {
				setFromEnv(value, envValue)
			}
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			applyEnvOverrides(value)
		}
	}
}

func setFromEnv(field reflect.Value, envValue string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Bool:
		s := strings.ToLower(envValue)
		field.SetBool(s == "true" || s == "1" || s == "yes")
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(envValue, ",")
			out := reflect.MakeSlice(field.Type(), len(parts), len(parts))
			for i, p := range parts {
				out.Index(i).SetString(strings.TrimSpace(p))
			}
			field.Set(out)
		}
	}
}

// ListenAddress is the IRC listener's host:port.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AdminListenAddress is the admin HTTP listener's host:port.
func (c *Config) AdminListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}
