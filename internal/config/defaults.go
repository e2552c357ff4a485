package config

// Defaults returns a configuration populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		Host:         "0.0.0.0",
		Port:         "8000",
		APIKeySource: "static",

		RateLimitRPS:   0,
		RateLimitBurst: 0,
		Credentials: CredentialConfig{
			Source:                  "auto",
			QuarantineSeconds:       60,
			RefreshThresholdSeconds: 600,
			WatchFile:               true,
		},
		Upstream: UpstreamConfig{
			Region:                      "us-east-1",
			RequestTimeoutSeconds:       300,
			MaxRetries:                  3,
			BaseRetryDelaySeconds:       1.0,
			FirstTokenTimeoutSeconds:    15,
			FirstTokenMaxRetries:        2,
			StreamingReadTimeoutSeconds: 300,
		},
		Billing: BillingConfig{
			Enabled:                  false,
			EnforceSufficientCredits: true,
			DecimalPlaces:            6,
			UnknownModelPolicy:       "default",
			ChargeEstimated:          true,
			Default: ModelPricing{
				ID:                     "default",
				InputPricePerMTok:      "3.0",
				OutputPricePerMTok:     "15.0",
				CacheWritePricePerMTok: "3.75",
				CacheHitPricePerMTok:   "0.3",
				Multiplier:             1.0,
			},
		},
		Mongo: MongoConfig{
			Database:            "kiro2api",
			CredentialsColl:     "credentials",
			UsersColl:           "users",
			CreditsColl:         "credits",
			UserAPIKeyField:     "api_key",
			UserIDField:         "_id",
			UserActiveField:     "active",
			CreditsUserIDField:  "user_id",
			CreditsBalanceField: "balance",
		},
		Redis: RedisConfig{
			Prefix: "kiro2api:",
		},
	}
}
