// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

// Package config loads service configuration from defaults, an optional YAML
// file, and command-line flags, in increasing order of precedence.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Session      SessionConfig      `koanf:"session"`
	Verification VerificationConfig `koanf:"verification"`
	Log          LogConfig          `koanf:"log"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr        string `koanf:"addr"`
	MetricsAddr string `koanf:"metrics_addr"` // empty disables the metrics server
}

// DatabaseConfig configures PostgreSQL access.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// SessionConfig configures session lifetime and the client cookie.
type SessionConfig struct {
	Lifetime time.Duration `koanf:"lifetime"`
	Cookie   CookieConfig  `koanf:"cookie"`
}

// CookieConfig holds the deployment-specific session cookie attributes.
// The cookie is always HttpOnly with Path=/.
type CookieConfig struct {
	Name     string `koanf:"name"`
	Domain   string `koanf:"domain"`
	Secure   bool   `koanf:"secure"`
	SameSite string `koanf:"same_site"` // lax, strict, or none
}

// VerificationConfig configures registration verification codes.
type VerificationConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"` // json or text
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: "127.0.0.1:9100",
		},
		Session: SessionConfig{
			Lifetime: 30 * 24 * time.Hour,
			Cookie: CookieConfig{
				Name:     "appraise_session",
				Secure:   true,
				SameSite: "lax",
			},
		},
		Verification: VerificationConfig{
			TTL: 15 * time.Minute,
		},
		Log: LogConfig{
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty), and the given flag set (if non-nil). Flags beat the file,
// the file beats defaults.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_MISSING").
				With("path", path).
				Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_INVALID").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		// Flag names mirror config keys with dashes: server.metrics-addr
		// becomes server.metrics_addr. Unchanged flags are skipped so their
		// zero values never clobber file values or defaults.
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return normalizeFlagName(f.Name), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// normalizeFlagName maps a flag name like "server.metrics-addr" to the
// config key "server.metrics_addr".
func normalizeFlagName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

// Validate checks constraints the type system cannot express.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	if c.Session.Lifetime <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("session.lifetime must be positive")
	}
	if c.Verification.TTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("verification.ttl must be positive")
	}
	switch c.Session.Cookie.SameSite {
	case "lax", "strict", "none":
	default:
		return oops.Code("CONFIG_INVALID").
			With("same_site", c.Session.Cookie.SameSite).
			Errorf("session.cookie.same_site must be lax, strict, or none")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log.format must be json or text")
	}
	return nil
}
