package config

import "time"

// Config is the process-wide runtime configuration. Values come from
// built-in defaults, an optional YAML file, and finally environment
// variables, in that order of precedence.
type Config struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`

	// Gateway API keys accepted from clients. When APIKeySource is
	// "mongodb" these are ignored and keys resolve against the user
	// collection instead.
	APIKeys      []string `yaml:"api_keys"`
	APIKeySource string   `yaml:"api_key_source"` // static | mongodb

	// Per-caller rate limit. Zero disables limiting.
	RateLimitRPS   int `yaml:"rate_limit_rps"`
	RateLimitBurst int `yaml:"rate_limit_burst"`

	Credentials CredentialConfig `yaml:"credentials"`
	Upstream    UpstreamConfig   `yaml:"upstream"`
	Billing     BillingConfig    `yaml:"billing"`
	Mongo       MongoConfig      `yaml:"mongodb"`
	Redis       RedisConfig      `yaml:"redis"`
}

// CredentialConfig selects where refresh credentials are loaded from.
type CredentialConfig struct {
	// Source: auto | file | kv | document | redis | env
	Source string `yaml:"source"`
	// FilePath points at a single-record JSON credential file.
	FilePath string `yaml:"file_path"`
	// SQLitePath points at the embedded KV database file.
	SQLitePath string `yaml:"sqlite_path"`
	// QuarantineSeconds is the unhealthy-account skip window.
	QuarantineSeconds int `yaml:"quarantine_seconds"`
	// RefreshThresholdSeconds is the expiring-soon window.
	RefreshThresholdSeconds int `yaml:"refresh_threshold_seconds"`
	// BackgroundRefresh enables the periodic pre-refresh task.
	BackgroundRefresh bool `yaml:"background_refresh"`
	// OIDCFormEncoded switches the device-oauth refresh body from JSON
	// camelCase to form-urlencoded snake_case.
	OIDCFormEncoded bool `yaml:"oidc_form_encoded"`
	// WatchFile enables fsnotify reloads of the file credential source.
	WatchFile bool `yaml:"watch_file"`
}

func (c CredentialConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdSeconds) * time.Second
}

func (c CredentialConfig) Quarantine() time.Duration {
	return time.Duration(c.QuarantineSeconds) * time.Second
}

// UpstreamConfig tunes the Kiro HTTP engine.
type UpstreamConfig struct {
	Region     string `yaml:"region"`
	ProfileArn string `yaml:"profile_arn"`

	RequestTimeoutSeconds       int     `yaml:"request_timeout_seconds"`
	MaxRetries                  int     `yaml:"max_retries"`
	BaseRetryDelaySeconds       float64 `yaml:"base_retry_delay_seconds"`
	FirstTokenTimeoutSeconds    int     `yaml:"first_token_timeout_seconds"`
	FirstTokenMaxRetries        int     `yaml:"first_token_max_retries"`
	StreamingReadTimeoutSeconds int     `yaml:"streaming_read_timeout_seconds"`

	DialTimeoutSeconds           int `yaml:"dial_timeout_seconds"`
	TLSHandshakeTimeoutSeconds   int `yaml:"tls_handshake_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int `yaml:"response_header_timeout_seconds"`
}

// BillingConfig controls the credit accounting path.
type BillingConfig struct {
	Enabled                  bool           `yaml:"enabled"`
	EnforceSufficientCredits bool           `yaml:"enforce_sufficient_credits"`
	DecimalPlaces            int            `yaml:"decimal_places"`
	UnknownModelPolicy       string         `yaml:"unknown_model_policy"` // reject | free | default
	ChargeEstimated          bool           `yaml:"charge_estimated"`
	Models                   []ModelPricing `yaml:"models"`
	Default                  ModelPricing   `yaml:"default_pricing"`
}

// ModelPricing holds per-model unit prices, units per million tokens.
type ModelPricing struct {
	ID                    string  `yaml:"id"`
	InputPricePerMTok     string  `yaml:"input_price_per_mtok"`
	OutputPricePerMTok    string  `yaml:"output_price_per_mtok"`
	CacheWritePricePerMTok string `yaml:"cache_write_price_per_mtok"`
	CacheHitPricePerMTok  string  `yaml:"cache_hit_price_per_mtok"`
	Multiplier            float64 `yaml:"billing_multiplier"`
}

// MongoConfig covers both the document credential store and the billing
// ledger collections.
type MongoConfig struct {
	URI                string `yaml:"uri"`
	Database           string `yaml:"database"`
	CredentialsColl    string `yaml:"credentials_collection"`
	UsersColl          string `yaml:"users_collection"`
	CreditsColl        string `yaml:"credits_collection"`
	UserAPIKeyField    string `yaml:"user_api_key_field"`
	UserIDField        string `yaml:"user_id_field"`
	UserActiveField    string `yaml:"user_active_field"`
	CreditsUserIDField string `yaml:"credits_user_id_field"`
	CreditsBalanceField string `yaml:"credits_balance_field"`
}

// RedisConfig covers the Redis credential store variant.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}
