package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileKey is the credential key used by the flat-file store, which holds a
// single record.
const FileKey = "file:credentials"

// filePayload is the camelCase layout of Kiro desktop credential files.
type filePayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	Region       string `json:"region,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	// ClientIDHash points at a paired device-registration file in the SSO
	// cache directory.
	ClientIDHash string `json:"clientIdHash,omitempty"`
	AuthMethod   string `json:"authMethod,omitempty"`
}

type ssoRegistrationFile struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Region       string `json:"region,omitempty"`
}

// FileStore reads and writes a single JSON credential file.
type FileStore struct {
	path string
	// ssoCacheDir overrides the default ~/.aws/sso/cache lookup directory.
	ssoCacheDir string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// WithSSOCacheDir overrides the registration lookup directory. Test hook.
func (s *FileStore) WithSSOCacheDir(dir string) *FileStore {
	s.ssoCacheDir = dir
	return s
}

func (s *FileStore) Kind() string { return KindFile }

func (s *FileStore) Close() error { return nil }

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LoadAll(ctx context.Context) ([]*Record, error) {
	rec, err := s.load()
	if err != nil {
		return nil, err
	}
	return []*Record{rec}, nil
}

func (s *FileStore) LoadByKey(ctx context.Context, key string) (*Record, error) {
	if key != FileKey {
		return nil, ErrNotFound
	}
	return s.load()
}

func (s *FileStore) load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, storeErr(KindFile, "read "+s.path, err)
	}
	var p filePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, storeErr(KindFile, "parse "+s.path, err)
	}
	if p.RefreshToken == "" {
		return nil, storeErr(KindFile, "parse "+s.path, errors.New("missing refreshToken"))
	}

	rec := &Record{
		Key:          FileKey,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ProfileArn:   p.ProfileArn,
		SSORegion:    p.Region,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
	}
	if p.ExpiresAt != "" {
		if t, ok := ParseExpiry(p.ExpiresAt); ok {
			rec.ExpiresAt = t
		} else {
			return nil, storeErr(KindFile, "parse "+s.path,
				fmt.Errorf("malformed expiresAt %q", p.ExpiresAt))
		}
	}

	if rec.ClientID == "" && p.ClientIDHash != "" {
		if reg := s.lookupRegistration(p.ClientIDHash); reg != nil {
			rec.ClientID = reg.ClientID
			rec.ClientSecret = reg.ClientSecret
			if rec.SSORegion == "" {
				rec.SSORegion = reg.Region
			}
		}
	}
	rec.DetectMechanism()
	return rec, nil
}

// lookupRegistration resolves a clientIdHash to the paired registration
// file in the SSO cache directory. Missing files are not an error; the
// record simply stays on the desktop mechanism.
func (s *FileStore) lookupRegistration(hash string) *ssoRegistrationFile {
	dir := s.ssoCacheDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		dir = filepath.Join(home, ".aws", "sso", "cache")
	}
	data, err := os.ReadFile(filepath.Join(dir, hash+".json"))
	if err != nil {
		return nil
	}
	var reg ssoRegistrationFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil
	}
	if reg.ClientID == "" || reg.ClientSecret == "" {
		return nil
	}
	return &reg
}

// Save rewrites the credential file with the refreshed record, preserving
// fields the record does not carry.
func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	if rec.Key != FileKey {
		return ErrNotFound
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return storeErr(KindFile, "read "+s.path, err)
	}
	var p filePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return storeErr(KindFile, "parse "+s.path, err)
	}

	p.AccessToken = rec.AccessToken
	p.RefreshToken = rec.RefreshToken
	if !rec.ExpiresAt.IsZero() {
		p.ExpiresAt = rec.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if rec.ProfileArn != "" {
		p.ProfileArn = rec.ProfileArn
	}

	out, err := json.MarshalIndent(&p, "", "  ")
	if err != nil {
		return storeErr(KindFile, "encode "+s.path, err)
	}
	if err := os.WriteFile(s.path, out, 0o600); err != nil {
		return storeErr(KindFile, "write "+s.path, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
