package credential

import (
	"context"
	"errors"
	"os"
	"strings"
)

// EnvKey is the credential key reported by the environment source.
const EnvKey = "env:credentials"

// EnvStore reads a single record from process environment variables
// (KIRO_REFRESH_TOKEN and friends). Read-only.
type EnvStore struct{}

func NewEnvStore() *EnvStore { return &EnvStore{} }

func (s *EnvStore) Kind() string { return KindEnv }

func (s *EnvStore) Close() error { return nil }

// Available reports whether the environment carries a refresh token.
func (s *EnvStore) Available() bool {
	return strings.TrimSpace(os.Getenv("KIRO_REFRESH_TOKEN")) != ""
}

func (s *EnvStore) LoadAll(ctx context.Context) ([]*Record, error) {
	rec, err := s.load()
	if err != nil {
		return nil, err
	}
	return []*Record{rec}, nil
}

func (s *EnvStore) LoadByKey(ctx context.Context, key string) (*Record, error) {
	if key != EnvKey {
		return nil, ErrNotFound
	}
	return s.load()
}

func (s *EnvStore) load() (*Record, error) {
	refresh := strings.TrimSpace(os.Getenv("KIRO_REFRESH_TOKEN"))
	if refresh == "" {
		return nil, storeErr(KindEnv, "load", errors.New("KIRO_REFRESH_TOKEN is not set"))
	}
	rec := &Record{
		Key:          EnvKey,
		AccessToken:  strings.TrimSpace(os.Getenv("KIRO_ACCESS_TOKEN")),
		RefreshToken: refresh,
		ProfileArn:   strings.TrimSpace(os.Getenv("KIRO_PROFILE_ARN")),
		SSORegion:    strings.TrimSpace(os.Getenv("KIRO_SSO_REGION")),
		ClientID:     strings.TrimSpace(os.Getenv("KIRO_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("KIRO_CLIENT_SECRET")),
	}
	if v := strings.TrimSpace(os.Getenv("KIRO_EXPIRES_AT")); v != "" {
		if t, ok := ParseExpiry(v); ok {
			rec.ExpiresAt = t
		}
	}
	rec.DetectMechanism()
	return rec, nil
}

// Save is unsupported; refreshed tokens live only in memory for this source.
func (s *EnvStore) Save(ctx context.Context, rec *Record) error {
	return ErrReadOnly
}

var _ Store = (*EnvStore)(nil)
