package session

import (
	"context"
	"sync"

	"reporthub.io/internal/auth"
	"reporthub.io/internal/backend"
	"reporthub.io/internal/resolver"
)

// Store is the state of one browser session: the loaded user and credential, the
// permission snapshot, public settings and the context resolved by the last navigation.
//
// Every navigation takes a generation from the store. Starting a new navigation cancels
// the previous one, and writes carrying an older generation are dropped, so a slow
// navigation can never overwrite the result of a newer one.
type Store struct {
	mu sync.RWMutex

	state      State
	user       *auth.CurrentUser
	credential string
	snapshot   *auth.Snapshot

	settings       []backend.PublicSetting
	settingsLoaded bool

	resolved           resolver.Context
	activeOrganization string
	activeTeam         string
	activeReport       string

	generation uint64
	cancel     context.CancelFunc
	last       Outcome
}

func NewStore() *Store {
	return &Store{}
}

// begin starts a navigation, cancelling the one in flight.
func (s *Store) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	s.cancel = cancel
	return ctx, s.generation
}

// finish records the outcome of a navigation that is still current and releases its context.
func (s *Store) finish(gen uint64, out Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.last = out
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

// update applies fn when gen is still the current generation.
func (s *Store) update(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	fn()
	return true
}

func (s *Store) setState(gen uint64, st State) bool {
	return s.update(gen, func() { s.state = st })
}

// Reset forgets everything and cancels the navigation in flight.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.state = StateIdle
	s.user = nil
	s.credential = ""
	s.snapshot = nil
	s.settings = nil
	s.settingsLoaded = false
	s.resolved = resolver.Context{}
	s.activeOrganization, s.activeTeam, s.activeReport = "", "", ""
	s.last = Outcome{}
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentUser returns the loaded user, if any.
func (s *Store) CurrentUser() (auth.CurrentUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return auth.CurrentUser{}, false
	}
	return *s.user, true
}

func (s *Store) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

func (s *Store) Snapshot() *auth.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Settings returns the cached public settings and whether they were ever loaded.
func (s *Store) Settings() ([]backend.PublicSetting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, s.settingsLoaded
}

func (s *Store) storeSettings(settings []backend.PublicSetting) {
	s.mu.Lock()
	s.settings = settings
	s.settingsLoaded = true
	s.mu.Unlock()
}

// Context returns the context resolved by the last navigation.
func (s *Store) Context() resolver.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved
}

// ActiveIDs returns the active organization, team and report ids.
func (s *Store) ActiveIDs() (organization, team, report string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeOrganization, s.activeTeam, s.activeReport
}

// LastOutcome returns the outcome of the last finished navigation when its id matches.
func (s *Store) LastOutcome(navigationID string) (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if navigationID == "" || s.last.NavigationID != navigationID {
		return Outcome{}, false
	}
	return s.last, true
}

// HasPermission evaluates capability against the resolved organization and team.
func (s *Store) HasPermission(capability auth.Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auth.HasPermission(s.resolved.Organization, s.resolved.Team, s.snapshot, capability)
}

// IsDownloadable reports whether reports of the resolved team may be downloaded.
func (s *Store) IsDownloadable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auth.IsDownloadable(s.snapshot, s.resolved.Organization, s.resolved.Team, s.user)
}

// recorder writes active ids on behalf of one navigation.
type recorder struct {
	store *Store
	gen   uint64
}

func (r recorder) SetActiveOrganization(id string) {
	r.store.update(r.gen, func() { r.store.activeOrganization = id })
}

func (r recorder) SetActiveTeam(id string) {
	r.store.update(r.gen, func() { r.store.activeTeam = id })
}

func (r recorder) SetActiveReport(id string) {
	r.store.update(r.gen, func() { r.store.activeReport = id })
}

var _ resolver.Recorder = recorder{}
