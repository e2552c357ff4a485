package kiro

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"kiro2api-go/internal/auth"
	"kiro2api-go/internal/constants"
	"kiro2api-go/internal/credential"
	apierrors "kiro2api-go/internal/errors"
)

// Model is one upstream model listing entry.
type Model struct {
	ID          string
	Name        string
	Description string
}

// ListAvailableModels queries the model-list endpoint. The profile
// identifier travels only for desktop-mechanism accounts; device-oauth
// accounts are rejected with 403 when it is present.
func (c *Client) ListAvailableModels(ctx context.Context, sel *auth.Selection) ([]Model, error) {
	token, err := c.auth.GetAccessToken(ctx, sel)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("origin", "AI_EDITOR")
	if token.Mechanism == credential.MechanismDesktop && token.ProfileArn != "" {
		q.Set("profileArn", token.ProfileArn)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		c.qBase()+"/ListAvailableModels?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req, token.AccessToken)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	body := readLimited(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, apierrors.MapHTTPError(resp.StatusCode, body)
	}

	var models []Model
	gjson.GetBytes(body, "models").ForEach(func(_, m gjson.Result) bool {
		id := m.Get("modelId").String()
		if id == "" {
			id = m.Get("id").String()
		}
		if id == "" {
			return true
		}
		models = append(models, Model{
			ID:          id,
			Name:        m.Get("modelName").String(),
			Description: m.Get("description").String(),
		})
		return true
	})
	return models, nil
}

// ModelCache holds the last successful model listing for a TTL so the
// models endpoint does not hammer upstream.
type ModelCache struct {
	mu        sync.Mutex
	models    []Model
	fetchedAt time.Time
	ttl       time.Duration
}

func NewModelCache(ttl time.Duration) *ModelCache {
	if ttl <= 0 {
		ttl = constants.ModelCacheTTL
	}
	return &ModelCache{ttl: ttl}
}

func (mc *ModelCache) Get() ([]Model, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if len(mc.models) == 0 || time.Since(mc.fetchedAt) > mc.ttl {
		return nil, false
	}
	out := make([]Model, len(mc.models))
	copy(out, mc.models)
	return out, true
}

func (mc *ModelCache) Update(models []Model) {
	mc.mu.Lock()
	mc.models = models
	mc.fetchedAt = time.Now()
	mc.mu.Unlock()
}

// Refresh fills the cache from upstream when empty or stale. Failures are
// logged and swallowed; callers fall back to the static registry.
func (mc *ModelCache) Refresh(ctx context.Context, c *Client) []Model {
	if cached, ok := mc.Get(); ok {
		return cached
	}
	models, err := c.ListAvailableModels(ctx, auth.NewSelection())
	if err != nil {
		log.WithError(err).Warn("model list refresh failed; using static registry")
		return nil
	}
	mc.Update(models)
	return models
}
