package kiro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"kiro2api-go/internal/auth"
	"kiro2api-go/internal/config"
	"kiro2api-go/internal/credential"
	apierrors "kiro2api-go/internal/errors"
	"kiro2api-go/internal/eventstream"
)

type memStore struct {
	rec *credential.Record
}

func (s *memStore) Kind() string { return credential.KindKV }
func (s *memStore) Close() error { return nil }
func (s *memStore) LoadAll(context.Context) ([]*credential.Record, error) {
	return []*credential.Record{s.rec.Clone()}, nil
}
func (s *memStore) LoadByKey(_ context.Context, key string) (*credential.Record, error) {
	if key != s.rec.Key {
		return nil, credential.ErrNotFound
	}
	return s.rec.Clone(), nil
}
func (s *memStore) Save(_ context.Context, rec *credential.Record) error {
	if rec.Key != s.rec.Key {
		return credential.ErrNotFound
	}
	s.rec = rec.Clone()
	return nil
}

type testRig struct {
	client  *Client
	manager *auth.Manager
	sleeps  []time.Duration
}

func newTestRig(t *testing.T, upstream *httptest.Server, cfg config.UpstreamConfig) *testRig {
	t.Helper()

	issuance := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": "minted",
			"expiresIn":   3600,
		})
	}))
	t.Cleanup(issuance.Close)

	store := &memStore{rec: &credential.Record{
		Key:          "kirocli:social:token",
		AccessToken:  "valid-token",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
		Mechanism:    credential.MechanismDesktop,
	}}
	mgr := auth.NewManager(auth.Options{
		Store:      store,
		Region:     "us-east-1",
		DesktopURL: issuance.URL,
		OIDCURL:    issuance.URL,
	})
	if err := mgr.LoadCredentials(context.Background()); err != nil {
		t.Fatal(err)
	}

	rig := &testRig{manager: mgr}
	c := New(cfg, mgr)
	c.APIBase = upstream.URL
	c.QBase = upstream.URL
	c.sleep = func(_ context.Context, d time.Duration) error {
		rig.sleeps = append(rig.sleeps, d)
		return nil
	}
	rig.client = c
	return rig
}

func streamBody(texts ...string) []byte {
	var out []byte
	for _, s := range texts {
		out = append(out, eventstream.EncodeEvent("assistantResponseEvent",
			[]byte(`{"content":"`+s+`"}`))...)
	}
	return out
}

func TestRetryOn429ThenSuccess(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(streamBody("ok"))
	}))
	defer upstream.Close()

	rig := newTestRig(t, upstream, config.UpstreamConfig{MaxRetries: 3, BaseRetryDelaySeconds: 1})
	resp, err := rig.client.GenerateAssistantResponse(context.Background(), auth.NewSelection(), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if calls.Load() != 3 {
		t.Fatalf("expected 3 upstream calls, saw %d", calls.Load())
	}
	// Exponential schedule: base*2^0, base*2^1.
	if len(rig.sleeps) != 2 || rig.sleeps[0] != time.Second || rig.sleeps[1] != 2*time.Second {
		t.Fatalf("backoff schedule = %v", rig.sleeps)
	}
}

func TestExhaustionSurfaces502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	rig := newTestRig(t, upstream, config.UpstreamConfig{MaxRetries: 3, BaseRetryDelaySeconds: 1})
	_, err := rig.client.GenerateAssistantResponse(context.Background(), auth.NewSelection(), []byte(`{}`))

	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("expected 502 on exhaustion, got %v", err)
	}
	if len(rig.sleeps) != 3 {
		t.Fatalf("every failed attempt should back off, saw %v", rig.sleeps)
	}
}

func TestForbiddenForcesRefreshOnce(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer minted" {
			t.Errorf("retry must carry the refreshed token, got %q", got)
		}
		w.Write(streamBody("ok"))
	}))
	defer upstream.Close()

	rig := newTestRig(t, upstream, config.UpstreamConfig{MaxRetries: 3, BaseRetryDelaySeconds: 1})
	resp, err := rig.client.GenerateAssistantResponse(context.Background(), auth.NewSelection(), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if calls.Load() != 2 {
		t.Fatalf("expected exactly one retry after 403, saw %d calls", calls.Load())
	}
	if len(rig.sleeps) != 0 {
		t.Fatalf("the 403 retry must not back off, saw %v", rig.sleeps)
	}
}

func TestClientErrorReturnsImmediately(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"malformed conversation state"}`))
	}))
	defer upstream.Close()

	rig := newTestRig(t, upstream, config.UpstreamConfig{MaxRetries: 3, BaseRetryDelaySeconds: 1})
	_, err := rig.client.GenerateAssistantResponse(context.Background(), auth.NewSelection(), []byte(`{}`))

	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("expected mapped 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not retry, saw %d calls", calls.Load())
	}
}

func TestFirstTokenTimeoutRetriesImmediately(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Headers out, then stall past the first-token window.
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			time.Sleep(2 * time.Second)
			return
		}
		w.Write(streamBody("recovered"))
	}))
	defer upstream.Close()

	rig := newTestRig(t, upstream, config.UpstreamConfig{
		MaxRetries:               3,
		BaseRetryDelaySeconds:    1,
		FirstTokenTimeoutSeconds: 1,
		FirstTokenMaxRetries:     2,
	})
	resp, err := rig.client.GenerateAssistantResponse(context.Background(), auth.NewSelection(), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if calls.Load() != 2 {
		t.Fatalf("expected stall + retry, saw %d calls", calls.Load())
	}
	if len(rig.sleeps) != 0 {
		t.Fatalf("first-token retries are immediate, saw %v", rig.sleeps)
	}

	body, _ := io.ReadAll(resp.Body)
	d := eventstream.NewDemuxer(bytes.NewReader(body))
	ev, err := d.Next()
	if err != nil || ev.Kind != eventstream.KindTextDelta || ev.Text != "recovered" {
		t.Fatalf("stream after retry = %+v, %v", ev, err)
	}
}

func TestFirstTokenExhaustionSurfaces504(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(2 * time.Second)
	}))
	defer upstream.Close()

	rig := newTestRig(t, upstream, config.UpstreamConfig{
		MaxRetries:               3,
		BaseRetryDelaySeconds:    1,
		FirstTokenTimeoutSeconds: 1,
		FirstTokenMaxRetries:     1,
	})
	_, err := rig.client.GenerateAssistantResponse(context.Background(), auth.NewSelection(), []byte(`{}`))

	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 after first-token exhaustion, got %v", err)
	}
}

func TestListAvailableModels(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("origin") != "AI_EDITOR" {
			t.Errorf("missing origin param")
		}
		w.Write([]byte(`{"models":[{"modelId":"claude-sonnet-4","modelName":"Claude Sonnet 4"},{"modelId":"claude-haiku-4"}]}`))
	}))
	defer upstream.Close()

	rig := newTestRig(t, upstream, config.UpstreamConfig{})
	models, err := rig.client.ListAvailableModels(context.Background(), auth.NewSelection())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].ID != "claude-sonnet-4" || models[0].Name != "Claude Sonnet 4" {
		t.Fatalf("models = %+v", models)
	}
}

func TestModelCacheServesWithinTTL(t *testing.T) {
	mc := NewModelCache(time.Minute)
	if _, ok := mc.Get(); ok {
		t.Fatalf("empty cache must miss")
	}
	mc.Update([]Model{{ID: "claude-sonnet-4"}})
	got, ok := mc.Get()
	if !ok || len(got) != 1 || got[0].ID != "claude-sonnet-4" {
		t.Fatalf("cache hit = %v %v", got, ok)
	}
}
