package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnv overlays environment variables onto cfg. Environment names
// follow the deployment conventions of the original gateway.
func applyEnv(cfg *Config) {
	setStr(&cfg.Host, "HOST")
	setStr(&cfg.Port, "PORT")
	setBool(&cfg.Debug, "DEBUG")
	setStr(&cfg.LogFile, "LOG_FILE")

	if v := firstEnv("APP_API_KEY", "PROXY_API_KEY"); v != "" {
		cfg.APIKeys = splitList(v)
	}
	setStr(&cfg.APIKeySource, "API_KEY_SOURCE")

	setStr(&cfg.Credentials.Source, "KIRO_CREDENTIALS_SOURCE")
	setStr(&cfg.Credentials.FilePath, "KIRO_CREDENTIALS_FILE")
	setStr(&cfg.Credentials.SQLitePath, "KIRO_SQLITE_DB")
	setInt(&cfg.Credentials.QuarantineSeconds, "ACCOUNT_QUARANTINE_SECONDS")
	setInt(&cfg.Credentials.RefreshThresholdSeconds, "TOKEN_REFRESH_THRESHOLD")
	setBool(&cfg.Credentials.BackgroundRefresh, "KIRO_BACKGROUND_REFRESH")
	setBool(&cfg.Credentials.OIDCFormEncoded, "KIRO_OIDC_FORM_ENCODED")
	setBool(&cfg.Credentials.WatchFile, "KIRO_WATCH_CREDENTIALS")

	setInt(&cfg.RateLimitRPS, "RATE_LIMIT_RPS")
	setInt(&cfg.RateLimitBurst, "RATE_LIMIT_BURST")

	setStr(&cfg.Upstream.Region, "KIRO_REGION")
	setStr(&cfg.Upstream.ProfileArn, "KIRO_PROFILE_ARN")
	setInt(&cfg.Upstream.RequestTimeoutSeconds, "REQUEST_TIMEOUT_SECONDS")
	setInt(&cfg.Upstream.MaxRetries, "MAX_RETRIES")
	setFloat(&cfg.Upstream.BaseRetryDelaySeconds, "BASE_RETRY_DELAY")
	setInt(&cfg.Upstream.FirstTokenTimeoutSeconds, "FIRST_TOKEN_TIMEOUT")
	setInt(&cfg.Upstream.FirstTokenMaxRetries, "FIRST_TOKEN_MAX_RETRIES")
	setInt(&cfg.Upstream.StreamingReadTimeoutSeconds, "STREAMING_READ_TIMEOUT")

	setBool(&cfg.Billing.Enabled, "BILLING_ENABLED")
	setBool(&cfg.Billing.EnforceSufficientCredits, "BILLING_ENFORCE_SUFFICIENT_CREDITS")
	setInt(&cfg.Billing.DecimalPlaces, "BILLING_DECIMAL_PLACES")
	setStr(&cfg.Billing.UnknownModelPolicy, "BILLING_UNKNOWN_MODEL_POLICY")
	setBool(&cfg.Billing.ChargeEstimated, "BILLING_CHARGE_ESTIMATED")

	setStr(&cfg.Mongo.URI, "MONGODB_URI")
	setStr(&cfg.Mongo.Database, "MONGODB_DB_NAME")
	setStr(&cfg.Mongo.CredentialsColl, "MONGODB_CREDENTIALS_COLLECTION")
	setStr(&cfg.Mongo.UsersColl, "MONGODB_USERS_COLLECTION")
	setStr(&cfg.Mongo.CreditsColl, "MONGODB_CREDITS_COLLECTION")
	setStr(&cfg.Mongo.UserAPIKeyField, "MONGODB_USER_API_KEY_FIELD")
	setStr(&cfg.Mongo.UserIDField, "MONGODB_USER_ID_FIELD")
	setStr(&cfg.Mongo.UserActiveField, "MONGODB_USER_ACTIVE_FIELD")
	setStr(&cfg.Mongo.CreditsUserIDField, "MONGODB_CREDITS_USER_ID_FIELD")
	setStr(&cfg.Mongo.CreditsBalanceField, "MONGODB_CREDITS_BALANCE_FIELD")

	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setStr(&cfg.Redis.Prefix, "REDIS_PREFIX")
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setStr(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}
