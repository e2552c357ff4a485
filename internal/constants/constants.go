package constants

import "time"

// HTTP transport sizing.
const (
	BaseMaxIdleConns        = 256
	BaseMaxIdleConnsPerHost = 64
	BaseIdleConnTimeout     = 90 * time.Second
	DefaultKeepAlive        = 30 * time.Second
)

// HTTP transport timeouts.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 60 * time.Second
	DefaultExpectContinueTimeout = 2 * time.Second
)

// Upstream request policy defaults. Individual values can be overridden
// through configuration; these are the fallbacks.
const (
	DefaultRequestTimeout       = 300 * time.Second
	DefaultMaxRetries           = 3
	DefaultBaseRetryDelay       = 1 * time.Second
	DefaultFirstTokenTimeout    = 15 * time.Second
	DefaultFirstTokenMaxRetries = 2
	DefaultStreamingReadTimeout = 300 * time.Second
)

// Credential lifecycle defaults.
const (
	DefaultRefreshThreshold   = 10 * time.Minute
	RefreshExpirySafetyMargin = 60 * time.Second
	DefaultTokenLifetime      = 3600 // seconds, when expiresIn is absent
	DefaultQuarantineWindow   = 60 * time.Second
	MaxFailureCooldown        = 300 * time.Second
	BackgroundRefreshInterval = 5 * time.Minute
	BackgroundRefreshGrace    = 5 * time.Second
)

// Model list cache.
const (
	ModelCacheTTL      = 30 * time.Minute
	ModelFetchTimeout  = 20 * time.Second
	BatchResultsPollMS = 50 * time.Millisecond
)

// Server lifecycle.
const (
	ServerShutdownTimeout = 10 * time.Second
	ServerGracefulWait    = 500 * time.Millisecond
)

// SSE scanner buffers.
const (
	StreamInitialBufferSize = 64 * 1024
	StreamMaxBufferSize     = 4 * 1024 * 1024
)
