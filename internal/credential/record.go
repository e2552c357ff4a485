package credential

import (
	"strings"
	"time"
)

// Mechanism identifies the upstream token-issuance protocol for a record.
type Mechanism string

const (
	// MechanismDesktop refreshes through the Kiro desktop endpoint with a
	// bare refreshToken body.
	MechanismDesktop Mechanism = "desktop-refresh"
	// MechanismDeviceOAuth refreshes through the AWS SSO OIDC endpoint and
	// requires a client id/secret pair.
	MechanismDeviceOAuth Mechanism = "device-oauth"
)

// Record is one refresh credential as loaded from a store. The Key is the
// store-local credential key; several records may share a base key with
// numeric suffixes in multi-account stores.
type Record struct {
	Key          string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ProfileArn   string
	// SSORegion is the token-issuance region hint, which may differ from
	// the API region.
	SSORegion    string
	Scopes       []string
	Provider     string
	ClientID     string
	ClientSecret string
	Mechanism    Mechanism
}

// DetectMechanism tags the record: a client id/secret pair means
// device-oauth, anything else is desktop-refresh.
func (r *Record) DetectMechanism() {
	if r.ClientID != "" && r.ClientSecret != "" {
		r.Mechanism = MechanismDeviceOAuth
	} else {
		r.Mechanism = MechanismDesktop
	}
}

// Expired reports whether the access token is past its expiry.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt.IsZero() || !now.Before(r.ExpiresAt)
}

// ExpiringSoon reports whether the access token expires within threshold.
func (r *Record) ExpiringSoon(now time.Time, threshold time.Duration) bool {
	if r.AccessToken == "" {
		return true
	}
	return r.ExpiresAt.IsZero() || now.Add(threshold).After(r.ExpiresAt)
}

// Clone returns a shallow copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Scopes != nil {
		cp.Scopes = append([]string(nil), r.Scopes...)
	}
	return &cp
}

// ParseExpiry parses the expires_at formats found in stores: RFC 3339 with
// either a Z suffix or a numeric offset.
func ParseExpiry(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
