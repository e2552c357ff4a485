package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"kiro2api-go/internal/constants"
	"kiro2api-go/internal/credential"
	"kiro2api-go/internal/fingerprint"
)

// RefreshError carries the issuance endpoint's HTTP status so the manager
// can distinguish stale-secret (400) from other failures.
type RefreshError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// refreshOutcome is the parsed issuance response applied to a record.
type refreshOutcome struct {
	AccessToken  string
	RefreshToken string
	ProfileArn   string
	ExpiresAt    time.Time
}

// DesktopRefreshURL returns the desktop issuance endpoint for a region.
func DesktopRefreshURL(region string) string {
	return fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev/refreshToken", region)
}

// OIDCTokenURL returns the SSO OIDC issuance endpoint for a region.
func OIDCTokenURL(region string) string {
	return fmt.Sprintf("https://oidc.%s.amazonaws.com/token", region)
}

func desktopUserAgent() string {
	return "KiroIDE-0.7.45-" + fingerprint.Machine()
}

// refreshRecord performs one issuance round-trip for the record's
// mechanism and returns the parsed outcome. It never mutates the record.
func (m *Manager) refreshRecord(ctx context.Context, rec *credential.Record) (*refreshOutcome, error) {
	switch rec.Mechanism {
	case credential.MechanismDeviceOAuth:
		return m.refreshOIDC(ctx, rec)
	default:
		return m.refreshDesktop(ctx, rec)
	}
}

func (m *Manager) refreshDesktop(ctx context.Context, rec *credential.Record) (*refreshOutcome, error) {
	body, _ := json.Marshal(map[string]string{"refreshToken": rec.RefreshToken})

	endpoint := m.desktopURL
	if endpoint == "" {
		endpoint = DesktopRefreshURL(m.region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", desktopUserAgent())

	return m.doRefresh(req)
}

func (m *Manager) refreshOIDC(ctx context.Context, rec *credential.Record) (*refreshOutcome, error) {
	region := rec.SSORegion
	if region == "" {
		region = m.region
	}
	endpoint := m.oidcURL
	if endpoint == "" {
		endpoint = OIDCTokenURL(region)
	}

	var req *http.Request
	var err error
	if m.oidcFormEncoded {
		form := url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {rec.ClientID},
			"client_secret": {rec.ClientSecret},
			"refresh_token": {rec.RefreshToken},
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		body, _ := json.Marshal(map[string]string{
			"grantType":    "refresh_token",
			"clientId":     rec.ClientID,
			"clientSecret": rec.ClientSecret,
			"refreshToken": rec.RefreshToken,
		})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	req.Header.Set("User-Agent", desktopUserAgent())

	return m.doRefresh(req)
}

func (m *Manager) doRefresh(req *http.Request) (*refreshOutcome, error) {
	resp, err := m.httpClient().Do(req)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Body: truncate(string(body), 300)}
	}
	if !gjson.ValidBytes(body) {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Body: "non-JSON issuance response"}
	}

	parsed := gjson.ParseBytes(body)
	accessToken := parsed.Get("accessToken").String()
	if accessToken == "" {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Body: "issuance response missing accessToken"}
	}
	expiresIn := parsed.Get("expiresIn").Int()
	if expiresIn <= 0 {
		expiresIn = constants.DefaultTokenLifetime
	}

	return &refreshOutcome{
		AccessToken:  accessToken,
		RefreshToken: parsed.Get("refreshToken").String(),
		ProfileArn:   parsed.Get("profileArn").String(),
		ExpiresAt:    m.now().Add(time.Duration(expiresIn)*time.Second - constants.RefreshExpirySafetyMargin),
	}, nil
}

// apply copies a successful issuance outcome onto the record.
func (o *refreshOutcome) apply(rec *credential.Record) {
	rec.AccessToken = o.AccessToken
	rec.ExpiresAt = o.ExpiresAt
	if o.RefreshToken != "" {
		rec.RefreshToken = o.RefreshToken
	}
	if o.ProfileArn != "" {
		rec.ProfileArn = o.ProfileArn
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func refreshStatus(err error) int {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
