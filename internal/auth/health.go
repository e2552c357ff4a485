package auth

import (
	"math"
	"time"

	"kiro2api-go/internal/constants"
)

// tokenHealth tracks refresh outcomes per credential key. After N
// consecutive failures the key cools down for min(2^N, 300) seconds.
type tokenHealth struct {
	ConsecutiveFailures int
	LastFailure         time.Time
	LastSuccess         time.Time
	TotalSuccesses      int64
	TotalFailures       int64

	CachedAccessToken string
	CachedExpiresAt   time.Time
}

// Cooldown returns the current failure cooldown window.
func (h *tokenHealth) Cooldown() time.Duration {
	if h.ConsecutiveFailures == 0 {
		return 0
	}
	secs := math.Pow(2, float64(h.ConsecutiveFailures))
	d := time.Duration(secs) * time.Second
	if d > constants.MaxFailureCooldown {
		d = constants.MaxFailureCooldown
	}
	return d
}

// Healthy reports whether the cooldown has elapsed.
func (h *tokenHealth) Healthy(now time.Time) bool {
	if h.ConsecutiveFailures == 0 {
		return true
	}
	return now.Sub(h.LastFailure) >= h.Cooldown()
}

type healthTracker struct {
	entries map[string]*tokenHealth
	now     func() time.Time
}

func newHealthTracker(now func() time.Time) *healthTracker {
	return &healthTracker{entries: map[string]*tokenHealth{}, now: now}
}

func (t *healthTracker) entry(key string) *tokenHealth {
	h, ok := t.entries[key]
	if !ok {
		h = &tokenHealth{}
		t.entries[key] = h
	}
	return h
}

func (t *healthTracker) recordSuccess(key, accessToken string, expiresAt time.Time) {
	h := t.entry(key)
	h.ConsecutiveFailures = 0
	h.LastSuccess = t.now()
	h.TotalSuccesses++
	h.CachedAccessToken = accessToken
	h.CachedExpiresAt = expiresAt
}

func (t *healthTracker) recordFailure(key string) {
	h := t.entry(key)
	h.ConsecutiveFailures++
	h.LastFailure = t.now()
	h.TotalFailures++
}

func (t *healthTracker) healthy(key string) bool {
	h, ok := t.entries[key]
	if !ok {
		return true
	}
	return h.Healthy(t.now())
}
