package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"kiro2api-go/internal/constants"
	"kiro2api-go/internal/credential"
)

// Selection is the per-request account binding. A request that has begun
// streaming keeps talking to the same account when the manager is
// re-entered, e.g. for a forced refresh after a 403.
type Selection struct {
	mu  sync.Mutex
	key string
}

func NewSelection() *Selection { return &Selection{} }

func (s *Selection) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Selection) set(key string) {
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
}

// Key returns the bound credential key, if any.
func (s *Selection) Key() string { return s.get() }

// TokenInfo is what a caller needs to issue an upstream request.
type TokenInfo struct {
	AccessToken string
	ProfileArn  string
	Mechanism   credential.Mechanism
	Key         string
}

// Options configures a Manager.
type Options struct {
	Store            credential.Store
	Region           string
	RefreshThreshold time.Duration
	QuarantineWindow time.Duration
	OIDCFormEncoded  bool

	// DesktopURL / OIDCURL override the issuance endpoints. Tests only.
	DesktopURL string
	OIDCURL    string
	// HTTPClient overrides the refresh transport. Tests only.
	HTTPClient *http.Client
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Manager owns the account pool and serializes every refresh behind one
// mutex. Refresh is infrequent (once per token lifetime per account), and
// concurrent refreshes against the same record would race token rotation.
type Manager struct {
	mu    sync.Mutex
	pool  *pool
	store credential.Store

	region           string
	refreshThreshold time.Duration
	quarantineWindow time.Duration
	oidcFormEncoded  bool

	desktopURL string
	oidcURL    string

	clientMu sync.Mutex
	client   *http.Client

	health  *healthTracker
	limiter *rate.Limiter

	nowFn func() time.Time
}

// NewManager builds a manager from options. The pool is empty until
// LoadCredentials runs.
func NewManager(opts Options) *Manager {
	threshold := opts.RefreshThreshold
	if threshold <= 0 {
		threshold = constants.DefaultRefreshThreshold
	}
	quarantine := opts.QuarantineWindow
	if quarantine <= 0 {
		quarantine = constants.DefaultQuarantineWindow
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		pool:             newPool(),
		store:            opts.Store,
		region:           opts.Region,
		refreshThreshold: threshold,
		quarantineWindow: quarantine,
		oidcFormEncoded:  opts.OIDCFormEncoded,
		desktopURL:       opts.DesktopURL,
		oidcURL:          opts.OIDCURL,
		client:           opts.HTTPClient,
		health:           newHealthTracker(nowFn),
		// One refresh per second sustained, short bursts allowed. Guards
		// the issuance endpoints when a whole pool goes stale at once.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		nowFn:   nowFn,
	}
}

func (m *Manager) now() time.Time { return m.nowFn() }

// httpClient lazily creates the refresh transport and recreates it after
// Close.
func (m *Manager) httpClient() *http.Client {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if m.client == nil {
		m.client = &http.Client{Timeout: 30 * time.Second}
	}
	return m.client
}

// Close drops the refresh transport. The next call recreates it.
func (m *Manager) Close() {
	m.clientMu.Lock()
	if m.client != nil {
		m.client.CloseIdleConnections()
		m.client = nil
	}
	m.clientMu.Unlock()
}

// LoadCredentials replaces the pool from the store.
func (m *Manager) LoadCredentials(ctx context.Context) error {
	recs, err := m.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return errors.New("credential store holds no records")
	}

	m.mu.Lock()
	m.pool.replaceAll(recs)
	size := m.pool.size()
	m.mu.Unlock()

	log.WithFields(log.Fields{
		"accounts": size,
		"store":    m.store.Kind(),
	}).Info("credential pool loaded")
	return nil
}

// PoolSize reports the number of loaded accounts.
func (m *Manager) PoolSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.size()
}

// Accounts returns a snapshot of pool keys and quarantine state, for
// health reporting.
func (m *Manager) Accounts() []AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]AccountStatus, 0, m.pool.size())
	for _, a := range m.pool.accounts {
		out = append(out, AccountStatus{
			Key:         a.Record.Key,
			Mechanism:   string(a.Record.Mechanism),
			Quarantined: !a.eligible(now),
			ExpiresAt:   a.Record.ExpiresAt,
		})
	}
	return out
}

// AccountStatus is the externally visible health of one account.
type AccountStatus struct {
	Key         string    `json:"key"`
	Mechanism   string    `json:"mechanism"`
	Quarantined bool      `json:"quarantined"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// GetAccessToken returns a valid access token bound to the request's
// selected account, refreshing and rotating as needed.
func (m *Manager) GetAccessToken(ctx context.Context, sel *Selection) (*TokenInfo, error) {
	return m.acquire(ctx, sel, false)
}

// ForceRefresh bypasses the expiry check. Used after an upstream 403.
func (m *Manager) ForceRefresh(ctx context.Context, sel *Selection) (*TokenInfo, error) {
	return m.acquire(ctx, sel, true)
}

func (m *Manager) acquire(ctx context.Context, sel *Selection, force bool) (*TokenInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempts := m.pool.size()
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		account := m.selectLocked(sel, attempt > 0)
		if account == nil {
			return nil, errors.New("no credentials loaded")
		}
		rec := account.Record

		if !force && !rec.ExpiringSoon(m.now(), m.refreshThreshold) {
			account.QuarantineUntil = time.Time{}
			return tokenInfo(rec), nil
		}

		// Another process may have written a fresher token; KV-style
		// stores support cheap single-key reload.
		if m.reloadable() {
			if fresh := m.reloadLocked(ctx, account); fresh != nil && !force &&
				!fresh.ExpiringSoon(m.now(), m.refreshThreshold) {
				account.QuarantineUntil = time.Time{}
				return tokenInfo(fresh), nil
			}
		}

		info, err := m.refreshLocked(ctx, account)
		if err == nil {
			return info, nil
		}
		lastErr = err

		if refreshStatus(err) == http.StatusBadRequest && m.reloadable() {
			// The in-memory refresh secret may be stale; reload once and
			// retry with whatever the store holds now.
			if fresh := m.reloadLocked(ctx, account); fresh != nil {
				rec = fresh
				info, err = m.refreshLocked(ctx, account)
				if err == nil {
					return info, nil
				}
				lastErr = err
			}
			if refreshStatus(err) == http.StatusBadRequest &&
				rec.AccessToken != "" && !rec.Expired(m.now()) {
				// Graceful degradation: ride the cached token until its
				// true expiry.
				log.WithField("key", rec.Key).Warn("refresh rejected; using cached access token until expiry")
				return tokenInfo(rec), nil
			}
		}

		if m.pool.size() > 1 {
			account.QuarantineUntil = m.now().Add(m.quarantineWindow)
			m.health.recordFailure(rec.Key)
			log.WithError(err).WithField("key", rec.Key).Warn("account quarantined; rotating")
			continue
		}
		return nil, lastErr
	}
	return nil, lastErr
}

// selectLocked picks the account for this attempt. Without forceNew, a
// previously bound eligible account is sticky.
func (m *Manager) selectLocked(sel *Selection, forceNew bool) *Account {
	now := m.now()
	if !forceNew && sel != nil {
		if bound := m.pool.byKey(sel.get()); bound != nil && bound.eligible(now) {
			return bound
		}
	}
	account := m.pool.selectNext(now)
	if account != nil && sel != nil {
		sel.set(account.Record.Key)
	}
	return account
}

func (m *Manager) reloadable() bool {
	switch m.store.Kind() {
	case credential.KindKV, credential.KindDocument, credential.KindRedis:
		return true
	}
	return false
}

// reloadLocked refreshes one account's record from the store in place.
func (m *Manager) reloadLocked(ctx context.Context, account *Account) *credential.Record {
	fresh, err := m.store.LoadByKey(ctx, account.Record.Key)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			log.WithError(err).WithField("key", account.Record.Key).Debug("single-account reload failed")
		}
		return nil
	}
	account.Record = fresh
	return fresh
}

// refreshLocked performs the issuance round-trip for the account and, on
// success, persists and clears quarantine. Caller holds m.mu.
func (m *Manager) refreshLocked(ctx context.Context, account *Account) (*TokenInfo, error) {
	rec := account.Record
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, &RefreshError{Err: err}
	}

	outcome, err := m.refreshRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	outcome.apply(rec)
	account.QuarantineUntil = time.Time{}
	m.health.recordSuccess(rec.Key, rec.AccessToken, rec.ExpiresAt)

	m.persistLocked(ctx, rec)
	log.WithFields(log.Fields{
		"key":        rec.Key,
		"mechanism":  rec.Mechanism,
		"expires_at": rec.ExpiresAt.Format(time.RFC3339),
	}).Info("access token refreshed")
	return tokenInfo(rec), nil
}

func tokenInfo(rec *credential.Record) *TokenInfo {
	return &TokenInfo{
		AccessToken: rec.AccessToken,
		ProfileArn:  rec.ProfileArn,
		Mechanism:   rec.Mechanism,
		Key:         rec.Key,
	}
}
