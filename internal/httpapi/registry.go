package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"reporthub.io/internal/obs"
	"reporthub.io/internal/session"
)

const (
	maxRedirects = 4096
	redirectTTL  = 5 * time.Minute
)

// Registry keeps one session.Store per credential. Entries are keyed by a digest of the
// credential and dropped once the credential expires.
//
// It also remembers which navigations were answered with a login redirect. Requests
// without a usable credential get a throwaway store, so this is what keeps a rerender of
// such a navigation from redirecting twice.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*registryEntry
	redirected map[string]redirectEntry
	now        func() time.Time
}

type registryEntry struct {
	store     *session.Store
	expiresAt time.Time
}

type redirectEntry struct {
	target    string
	expiresAt time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries:    make(map[string]*registryEntry),
		redirected: make(map[string]redirectEntry),
		now:        now,
	}
}

func sessionKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the store for credential, creating it when absent. expiresAt bounds the
// entry's lifetime; a zero value keeps it until Drop.
func (reg *Registry) Lookup(credential string, expiresAt time.Time) *session.Store {
	key := sessionKey(credential)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if e, ok := reg.entries[key]; ok {
		if e.expiresAt.IsZero() || reg.now().Before(e.expiresAt) {
			return e.store
		}
		e.store.Reset()
	}
	e := &registryEntry{store: session.NewStore(), expiresAt: expiresAt}
	reg.entries[key] = e
	return e.store
}

// Drop forgets the session of credential.
func (reg *Registry) Drop(credential string) {
	key := sessionKey(credential)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if e, ok := reg.entries[key]; ok {
		e.store.Reset()
		delete(reg.entries, key)
	}
}

// RememberRedirect records that navigationID was answered with a redirect to target.
// The oldest record is evicted once the set is full.
func (reg *Registry) RememberRedirect(navigationID, target string) {
	if navigationID == "" {
		return
	}
	now := reg.now()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.redirected[navigationID]; !ok && len(reg.redirected) >= maxRedirects {
		reg.expireRedirects(now)
		if len(reg.redirected) >= maxRedirects {
			oldest, oldestAt := "", time.Time{}
			for id, e := range reg.redirected {
				if oldest == "" || e.expiresAt.Before(oldestAt) {
					oldest, oldestAt = id, e.expiresAt
				}
			}
			delete(reg.redirected, oldest)
		}
	}
	reg.redirected[navigationID] = redirectEntry{target: target, expiresAt: now.Add(redirectTTL)}
}

// RedirectFor returns the redirect target recorded for navigationID.
func (reg *Registry) RedirectFor(navigationID string) (string, bool) {
	if navigationID == "" {
		return "", false
	}
	now := reg.now()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.redirected[navigationID]
	if !ok {
		return "", false
	}
	if !now.Before(e.expiresAt) {
		delete(reg.redirected, navigationID)
		return "", false
	}
	return e.target, true
}

func (reg *Registry) expireRedirects(now time.Time) {
	for id, e := range reg.redirected {
		if !now.Before(e.expiresAt) {
			delete(reg.redirected, id)
		}
	}
}

// Len returns the number of live sessions.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.entries)
}

// Sweep removes expired sessions and redirect records and returns how many sessions were
// removed.
func (reg *Registry) Sweep() int {
	now := reg.now()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	removed := 0
	for k, e := range reg.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			e.store.Reset()
			delete(reg.entries, k)
			removed++
		}
	}
	reg.expireRedirects(now)
	return removed
}

// Run sweeps every interval until ctx is done.
func (reg *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := reg.Sweep()
			live := reg.Len()
			obs.SetActiveSessions(live)
			if n > 0 {
				obs.Logger().Debug("expired sessions swept", zap.Int("count", n), zap.Int("live", live))
			}
		}
	}
}
