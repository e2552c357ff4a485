package auth

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/credential"
)

// persistLocked writes the refreshed record back to the store. Candidate
// keys are tried in order: the record's own key, every other pool key, then
// the well-known fallback keys. Save never creates keys, so the first
// pre-existing match wins. Persistence failures are logged, not fatal; the
// in-memory token stays usable.
func (m *Manager) persistLocked(ctx context.Context, rec *credential.Record) {
	seen := map[string]bool{}
	candidates := []string{rec.Key}
	for _, a := range m.pool.accounts {
		candidates = append(candidates, a.Record.Key)
	}
	candidates = append(candidates, credential.TokenKeys...)

	for _, key := range candidates {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		attempt := rec.Clone()
		attempt.Key = key
		err := m.store.Save(ctx, attempt)
		switch {
		case err == nil:
			if key != rec.Key {
				log.WithFields(log.Fields{"key": rec.Key, "saved_as": key}).Debug("credential persisted under fallback key")
			}
			return
		case errors.Is(err, credential.ErrNotFound):
			continue
		case errors.Is(err, credential.ErrReadOnly):
			log.WithField("key", rec.Key).Debug("credential store is read-only; refreshed token kept in memory")
			return
		default:
			log.WithError(err).WithField("key", key).Warn("credential persistence failed")
			return
		}
	}
	log.WithField("key", rec.Key).Warn("no store key accepted the refreshed credential")
}
