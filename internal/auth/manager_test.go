package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kiro2api-go/internal/credential"
)

// fakeStore is an in-memory KV-style credential store.
type fakeStore struct {
	mu    sync.Mutex
	kind  string
	recs  map[string]*credential.Record
	order []string
	saves int
}

func newFakeStore(kind string, recs ...*credential.Record) *fakeStore {
	s := &fakeStore{kind: kind, recs: map[string]*credential.Record{}}
	for _, r := range recs {
		s.recs[r.Key] = r.Clone()
		s.order = append(s.order, r.Key)
	}
	return s
}

func (s *fakeStore) Kind() string { return s.kind }
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) LoadAll(ctx context.Context) ([]*credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*credential.Record, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.recs[k].Clone())
	}
	return out, nil
}

func (s *fakeStore) LoadByKey(ctx context.Context, key string) (*credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recs[key]; ok {
		return r.Clone(), nil
	}
	return nil, credential.ErrNotFound
}

func (s *fakeStore) Save(ctx context.Context, rec *credential.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Key]; !ok {
		return credential.ErrNotFound
	}
	s.recs[rec.Key] = rec.Clone()
	s.saves++
	return nil
}

func desktopRec(key string, expiresIn time.Duration) *credential.Record {
	rec := &credential.Record{
		Key:          key,
		AccessToken:  "cached-" + key,
		RefreshToken: "refresh-" + key,
		Mechanism:    credential.MechanismDesktop,
	}
	if expiresIn != 0 {
		rec.ExpiresAt = time.Now().Add(expiresIn)
	}
	return rec
}

func oidcRec(key string, expiresIn time.Duration) *credential.Record {
	rec := desktopRec(key, expiresIn)
	rec.ClientID = "cid"
	rec.ClientSecret = "cs"
	rec.SSORegion = "us-east-1"
	rec.Mechanism = credential.MechanismDeviceOAuth
	return rec
}

// issuanceServer fakes the token endpoints. statusByToken forces non-200
// responses for specific refresh tokens.
type issuanceServer struct {
	srv           *httptest.Server
	calls         atomic.Int64
	statusByToken map[string]int
}

func newIssuanceServer(t *testing.T) *issuanceServer {
	t.Helper()
	is := &issuanceServer{statusByToken: map[string]int{}}
	is.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.calls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		refresh := body["refreshToken"]
		if status, ok := is.statusByToken[refresh]; ok {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  "minted-for-" + refresh,
			"refreshToken": refresh + "-rotated",
			"expiresIn":    3600,
		})
	}))
	t.Cleanup(is.srv.Close)
	return is
}

func newTestManager(t *testing.T, store credential.Store, is *issuanceServer) *Manager {
	t.Helper()
	m := NewManager(Options{
		Store:            store,
		Region:           "us-east-1",
		RefreshThreshold: 10 * time.Minute,
		DesktopURL:       is.srv.URL,
		OIDCURL:          is.srv.URL,
	})
	if err := m.LoadCredentials(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestFreshTokenNoNetworkIO(t *testing.T) {
	is := newIssuanceServer(t)
	store := newFakeStore(credential.KindKV, desktopRec("kirocli:social:token", time.Hour))
	m := newTestManager(t, store, is)

	info, err := m.GetAccessToken(context.Background(), NewSelection())
	if err != nil {
		t.Fatal(err)
	}
	if info.AccessToken != "cached-kirocli:social:token" {
		t.Fatalf("expected cached token, got %s", info.AccessToken)
	}
	if is.calls.Load() != 0 {
		t.Fatalf("fresh token must not hit the issuance endpoint, saw %d calls", is.calls.Load())
	}
}

func TestExpiringSoonTriggersSingleRefresh(t *testing.T) {
	is := newIssuanceServer(t)
	store := newFakeStore(credential.KindKV, desktopRec("kirocli:social:token", time.Minute))
	m := newTestManager(t, store, is)

	before := time.Now()
	info, err := m.GetAccessToken(context.Background(), NewSelection())
	if err != nil {
		t.Fatal(err)
	}
	if info.AccessToken != "minted-for-refresh-kirocli:social:token" {
		t.Fatalf("token must come from the issuance response, got %s", info.AccessToken)
	}
	if is.calls.Load() != 1 {
		t.Fatalf("exactly one refresh expected, saw %d", is.calls.Load())
	}

	// Stored expiry is response time + expiresIn - 60s.
	saved, err := store.LoadByKey(context.Background(), "kirocli:social:token")
	if err != nil {
		t.Fatal(err)
	}
	wantMin := before.Add(3600*time.Second - 61*time.Second)
	wantMax := time.Now().Add(3600*time.Second - 59*time.Second)
	if saved.ExpiresAt.Before(wantMin) || saved.ExpiresAt.After(wantMax) {
		t.Fatalf("persisted expiry out of range: %v", saved.ExpiresAt)
	}
	if saved.RefreshToken != "refresh-kirocli:social:token-rotated" {
		t.Fatalf("rotated refresh token must persist, got %s", saved.RefreshToken)
	}
}

func TestRefreshSerialization(t *testing.T) {
	is := newIssuanceServer(t)
	store := newFakeStore(credential.KindKV, desktopRec("kirocli:social:token", time.Minute))
	m := newTestManager(t, store, is)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.GetAccessToken(context.Background(), NewSelection()); err != nil {
				t.Errorf("concurrent acquire: %v", err)
			}
		}()
	}
	wg.Wait()
	if is.calls.Load() != 1 {
		t.Fatalf("concurrent acquires must share one refresh, saw %d", is.calls.Load())
	}
}

func TestRotationOn400(t *testing.T) {
	is := newIssuanceServer(t)
	a := oidcRec("kirocli:odic:token", time.Minute)
	b := oidcRec("kirocli:odic:token:2", time.Minute)
	a.AccessToken = "" // nothing to degrade onto
	is.statusByToken["refresh-kirocli:odic:token"] = http.StatusBadRequest

	store := newFakeStore(credential.KindKV, a, b)
	m := newTestManager(t, store, is)

	info, err := m.GetAccessToken(context.Background(), NewSelection())
	if err != nil {
		t.Fatal(err)
	}
	if info.Key != "kirocli:odic:token:2" {
		t.Fatalf("request should land on account B, got %s", info.Key)
	}
	// A: initial attempt + reload retry = 2 calls, then B succeeds once.
	if got := is.calls.Load(); got != 3 {
		t.Fatalf("expected 3 issuance calls (A twice, B once), saw %d", got)
	}

	// A must now be quarantined.
	for _, st := range m.Accounts() {
		if st.Key == "kirocli:odic:token" && !st.Quarantined {
			t.Fatalf("account A should be quarantined after rejected refresh")
		}
	}
}

func TestGracefulDegradationOn400(t *testing.T) {
	is := newIssuanceServer(t)
	rec := desktopRec("kirocli:social:token", 5*time.Minute) // expiring soon but not expired
	is.statusByToken["refresh-kirocli:social:token"] = http.StatusBadRequest

	store := newFakeStore(credential.KindKV, rec)
	m := newTestManager(t, store, is)

	info, err := m.GetAccessToken(context.Background(), NewSelection())
	if err != nil {
		t.Fatalf("expected cached-token degradation, got %v", err)
	}
	if info.AccessToken != "cached-kirocli:social:token" {
		t.Fatalf("degradation should return the unexpired cached token")
	}
}

func TestRequestScopedStickiness(t *testing.T) {
	is := newIssuanceServer(t)
	store := newFakeStore(credential.KindKV,
		desktopRec("kirocli:social:token", time.Hour),
		desktopRec("kirocli:social:token:2", time.Hour),
		desktopRec("kirocli:social:token:3", time.Hour),
	)
	m := newTestManager(t, store, is)

	sel := NewSelection()
	first, err := m.GetAccessToken(context.Background(), sel)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := m.GetAccessToken(context.Background(), sel)
		if err != nil {
			t.Fatal(err)
		}
		if again.Key != first.Key {
			t.Fatalf("request-scoped binding broken: %s then %s", first.Key, again.Key)
		}
	}

	// A different request advances the cursor.
	other, err := m.GetAccessToken(context.Background(), NewSelection())
	if err != nil {
		t.Fatal(err)
	}
	if other.Key == first.Key {
		t.Fatalf("distinct requests should rotate accounts")
	}
}

func TestForceRefreshMintsNewToken(t *testing.T) {
	is := newIssuanceServer(t)
	store := newFakeStore(credential.KindKV, desktopRec("kirocli:social:token", time.Hour))
	m := newTestManager(t, store, is)

	sel := NewSelection()
	if _, err := m.GetAccessToken(context.Background(), sel); err != nil {
		t.Fatal(err)
	}
	if is.calls.Load() != 0 {
		t.Fatalf("fresh token should not refresh")
	}

	info, err := m.ForceRefresh(context.Background(), sel)
	if err != nil {
		t.Fatal(err)
	}
	if is.calls.Load() != 1 {
		t.Fatalf("force refresh must bypass the expiry check")
	}
	if info.AccessToken == "cached-kirocli:social:token" {
		t.Fatalf("force refresh must mint a new token")
	}
}

func TestPersistenceFallbackKeys(t *testing.T) {
	is := newIssuanceServer(t)
	// Store only holds the well-known base key; the pool entry uses it too,
	// but a Save against a missing key must walk the candidate list.
	rec := desktopRec("kirocli:social:token", time.Minute)
	store := newFakeStore(credential.KindKV, rec)
	m := newTestManager(t, store, is)

	if _, err := m.GetAccessToken(context.Background(), NewSelection()); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	saves := store.saves
	store.mu.Unlock()
	if saves != 1 {
		t.Fatalf("refreshed record should persist exactly once, saw %d saves", saves)
	}
}
