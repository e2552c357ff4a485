package credential

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

// tokenPayload is the snake_case layout used by the KV, document, and
// Redis stores.
type tokenPayload struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	Region       string   `json:"region,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	ProfileArn   string   `json:"profile_arn,omitempty"`
	Provider     string   `json:"provider,omitempty"`
}

// registrationPayload holds the device-oauth client pair.
type registrationPayload struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Region       string `json:"region,omitempty"`
}

func parseTokenPayload(key string, raw []byte) (*Record, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("token payload for %s is not valid JSON", key)
	}
	var p tokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse token payload for %s: %w", key, err)
	}
	if p.RefreshToken == "" {
		return nil, fmt.Errorf("token payload for %s has no refresh_token", key)
	}

	rec := &Record{
		Key:          key,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		SSORegion:    p.Region,
		Scopes:       p.Scopes,
		ProfileArn:   p.ProfileArn,
		Provider:     p.Provider,
	}
	if p.ExpiresAt != "" {
		if t, ok := ParseExpiry(p.ExpiresAt); ok {
			rec.ExpiresAt = t
		} else {
			return nil, fmt.Errorf("token payload for %s has malformed expires_at %q", key, p.ExpiresAt)
		}
	}
	return rec, nil
}

func parseRegistrationPayload(raw []byte) (*registrationPayload, error) {
	var p registrationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse registration payload: %w", err)
	}
	if p.ClientID == "" || p.ClientSecret == "" {
		return nil, fmt.Errorf("registration payload missing client_id or client_secret")
	}
	return &p, nil
}

func encodeTokenPayload(rec *Record) ([]byte, error) {
	p := tokenPayload{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		Region:       rec.SSORegion,
		Scopes:       rec.Scopes,
		ProfileArn:   rec.ProfileArn,
		Provider:     rec.Provider,
	}
	if !rec.ExpiresAt.IsZero() {
		p.ExpiresAt = rec.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return json.Marshal(p)
}

// assembleRecords pairs token rows with their registration rows and tags
// mechanisms. Rows arrive keyed by credential key; output order follows the
// token-key family priority, then key lexicographic order within a family.
func assembleRecords(tokens map[string][]byte, registrations map[string][]byte) ([]*Record, error) {
	regParsed := make(map[string]*registrationPayload, len(registrations))
	for key, raw := range registrations {
		reg, err := parseRegistrationPayload(raw)
		if err != nil {
			return nil, err
		}
		regParsed[key] = reg
	}

	var out []*Record
	seen := make(map[string]bool, len(tokens))
	for _, base := range TokenKeys {
		var familyKeys []string
		for key := range tokens {
			if seen[key] {
				continue
			}
			if key == base || tokenKeySuffix(key, base) != "" {
				familyKeys = append(familyKeys, key)
			}
		}
		sort.Strings(familyKeys)
		for _, key := range familyKeys {
			seen[key] = true
			rec, err := parseTokenPayload(key, tokens[key])
			if err != nil {
				return nil, err
			}
			for _, regKey := range registrationCandidates(key) {
				if reg, ok := regParsed[regKey]; ok {
					rec.ClientID = reg.ClientID
					rec.ClientSecret = reg.ClientSecret
					if rec.SSORegion == "" {
						rec.SSORegion = reg.Region
					}
					break
				}
			}
			rec.DetectMechanism()
			out = append(out, rec)
		}
	}
	return out, nil
}
