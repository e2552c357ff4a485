package auth

import (
	"time"

	"kiro2api-go/internal/credential"
)

// Account is a credential record plus mutable health state. All fields are
// guarded by the manager mutex.
type Account struct {
	Record          *credential.Record
	QuarantineUntil time.Time
}

func (a *Account) eligible(now time.Time) bool {
	return a.QuarantineUntil.IsZero() || !now.Before(a.QuarantineUntil)
}

// pool is the ordered account sequence with a round-robin cursor. The
// cursor starts at -1 so the first advance lands on index 0.
type pool struct {
	accounts []*Account
	cursor   int
}

func newPool() *pool {
	return &pool{cursor: -1}
}

// replaceAll atomically swaps the pool contents and resets the cursor.
// Quarantine state carries over for keys that survive the reload.
func (p *pool) replaceAll(recs []*credential.Record) {
	old := make(map[string]time.Time, len(p.accounts))
	for _, a := range p.accounts {
		if !a.QuarantineUntil.IsZero() {
			old[a.Record.Key] = a.QuarantineUntil
		}
	}
	accounts := make([]*Account, 0, len(recs))
	for _, rec := range recs {
		accounts = append(accounts, &Account{
			Record:          rec,
			QuarantineUntil: old[rec.Key],
		})
	}
	p.accounts = accounts
	p.cursor = -1
}

func (p *pool) size() int { return len(p.accounts) }

func (p *pool) byKey(key string) *Account {
	if key == "" {
		return nil
	}
	for _, a := range p.accounts {
		if a.Record.Key == key {
			return a
		}
	}
	return nil
}

// selectNext advances the cursor up to pool-size steps looking for an
// eligible account. When a full sweep finds nothing, every quarantine is
// cleared and the next account in order is returned so the request can
// carry the failure itself.
func (p *pool) selectNext(now time.Time) *Account {
	n := len(p.accounts)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		p.cursor = (p.cursor + 1) % n
		if a := p.accounts[p.cursor]; a.eligible(now) {
			return a
		}
	}
	for _, a := range p.accounts {
		a.QuarantineUntil = time.Time{}
	}
	p.cursor = (p.cursor + 1) % n
	return p.accounts[p.cursor]
}
