package auth

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/constants"
)

// StartBackgroundRefresh runs the periodic pre-refresh loop until ctx is
// cancelled. Every interval it refreshes any account whose token expires
// within one interval plus a minute, skipping keys in failure cooldown.
// Keeps the cold path rare; on-demand refresh still covers misses.
func (m *Manager) StartBackgroundRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.BackgroundRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("background token refresh started")
	for {
		select {
		case <-ctx.Done():
			log.Info("background token refresh stopped")
			return
		case <-ticker.C:
			m.refreshExpiring(ctx, interval+constants.RefreshExpirySafetyMargin)
		}
	}
}

func (m *Manager) refreshExpiring(ctx context.Context, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, account := range m.pool.accounts {
		if ctx.Err() != nil {
			return
		}
		rec := account.Record
		if !rec.ExpiringSoon(now, window) {
			continue
		}
		if !m.health.healthy(rec.Key) {
			log.WithField("key", rec.Key).Debug("skipping pre-refresh; key in failure cooldown")
			continue
		}
		// A refresh in flight is never cancelled mid-way; a half-refreshed
		// record must not be persisted. Shutdown waits on the mutex.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if _, err := m.refreshLocked(refreshCtx, account); err != nil {
			m.health.recordFailure(rec.Key)
			log.WithError(err).WithField("key", rec.Key).Warn("background refresh failed")
		}
		cancel()
	}
}
