package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadWithFile builds the runtime configuration: defaults, then the YAML
// file if present, then environment overrides. Returns nil on a fatal
// parse error (the caller decides how to exit).
func LoadWithFile(path string) *Config {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.WithError(err).Errorf("parse config file %s", path)
				return nil
			}
		case errors.Is(err, os.ErrNotExist):
			log.Debugf("config file %s not found; using defaults and environment", path)
		default:
			log.WithError(err).Errorf("read config file %s", path)
			return nil
		}
	}

	applyEnv(cfg)
	return cfg
}

// Validate checks configuration invariants surfaced at startup.
func (c *Config) Validate() error {
	if c.APIKeySource != "static" && c.APIKeySource != "mongodb" {
		return fmt.Errorf("api_key_source must be static or mongodb, got %q", c.APIKeySource)
	}
	if c.APIKeySource == "static" && len(c.APIKeys) == 0 {
		return errors.New("no gateway API key configured (set APP_API_KEY or PROXY_API_KEY)")
	}
	if c.APIKeySource == "mongodb" && c.Mongo.URI == "" {
		return errors.New("api_key_source=mongodb requires MONGODB_URI")
	}

	switch strings.ToLower(c.Credentials.Source) {
	case "auto", "file", "kv", "document", "redis", "env":
	default:
		return fmt.Errorf("unknown credential source %q", c.Credentials.Source)
	}

	switch c.Billing.UnknownModelPolicy {
	case "reject", "free", "default":
	default:
		return fmt.Errorf("unknown billing policy %q", c.Billing.UnknownModelPolicy)
	}
	if c.Billing.Enabled && c.Mongo.URI == "" {
		return errors.New("billing requires MONGODB_URI for the credit ledger")
	}
	if c.Billing.DecimalPlaces < 0 || c.Billing.DecimalPlaces > 18 {
		return fmt.Errorf("billing decimal_places out of range: %d", c.Billing.DecimalPlaces)
	}

	if c.Upstream.MaxRetries < 0 || c.Upstream.FirstTokenMaxRetries < 0 {
		return errors.New("retry limits must be non-negative")
	}
	if c.Upstream.Region == "" {
		return errors.New("upstream region must not be empty")
	}
	return nil
}
