// Package session runs the bootstrap pipeline of every navigation: validate the stored
// credential, load the user's permission snapshot, resolve the route into an
// organization/team/report context, or redirect to login when the session is not
// authenticated.
package session

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reporthub.io/internal/audit"
	"reporthub.io/internal/auth"
	"reporthub.io/internal/backend"
	"reporthub.io/internal/cache"
	"reporthub.io/internal/ids"
	"reporthub.io/internal/obs"
	"reporthub.io/internal/resolver"
	"reporthub.io/internal/token"
)

const DefaultLoginPath = "/login"

// Backend is the part of the content API the controller depends on.
type Backend interface {
	resolver.Fetcher
	GetUserPermissions(ctx context.Context, username string) (*auth.Snapshot, error)
	GetPublicSettings(ctx context.Context) ([]backend.PublicSetting, error)
}

// Config carries the dependencies shared by every session.
type Config struct {
	Backend Backend
	// Cache may be nil, in which case snapshots are fetched on every authentication.
	Cache    cache.SnapshotCache
	CacheTTL time.Duration

	// RedirectToLogin controls whether an unauthenticated navigation emits a redirect.
	RedirectToLogin bool
	LoginPath       string

	Now func() time.Time
}

// Navigation is one route change.
type Navigation struct {
	ID     string
	Path   string
	Params resolver.Params
	// RouterReady is false while the router is still initializing; such navigations are ignored.
	RouterReady bool
}

// NewNavigation builds a ready navigation from already extracted route params.
func NewNavigation(path string, params resolver.Params) Navigation {
	return Navigation{ID: ids.New(), Path: path, Params: params, RouterReady: true}
}

// Outcome is the result of one navigation.
type Outcome struct {
	NavigationID string            `json:"navigation_id"`
	State        State             `json:"state"`
	Redirect     string            `json:"redirect,omitempty"`
	User         *auth.CurrentUser `json:"user,omitempty"`
	Context      resolver.Context  `json:"context"`

	// Err is set when a backend call failed; the context is then partial or empty.
	Err error `json:"-"`
}

// Controller drives navigations of one session.
type Controller struct {
	cfg        Config
	store      *Store
	storage    CredentialStorage
	redirector Redirector
	resolver   *resolver.Resolver
	log        *zap.Logger
}

// NewController wires a controller for one session. redirector may be nil when the caller
// only reads Outcome.Redirect.
func NewController(cfg Config, store *Store, storage CredentialStorage, redirector Redirector) *Controller {
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if store == nil {
		store = NewStore()
	}
	return &Controller{
		cfg:        cfg,
		store:      store,
		storage:    storage,
		redirector: redirector,
		resolver:   resolver.New(cfg.Backend),
		log:        obs.Logger(),
	}
}

func (c *Controller) Store() *Store { return c.store }

// Navigate runs the bootstrap pipeline for nav. A navigation whose id already finished is
// answered from the recorded outcome without side effects.
func (c *Controller) Navigate(ctx context.Context, nav Navigation) Outcome {
	if !nav.RouterReady {
		return Outcome{NavigationID: nav.ID, State: StateIdle, Context: c.store.Context()}
	}
	if nav.ID == "" {
		nav.ID = ids.New()
	} else if out, ok := c.store.LastOutcome(nav.ID); ok {
		return out
	}

	ctx, gen := c.store.begin(ctx)
	out := c.run(ctx, gen, nav)
	if !c.store.finish(gen, out) {
		c.log.Debug("navigation superseded", zap.String("navigation_id", nav.ID))
	}
	obs.ObserveBootstrap(out.State.String())
	return out
}

// Rerender returns the outcome of an already finished navigation. It never emits a redirect.
func (c *Controller) Rerender(navigationID string) Outcome {
	if out, ok := c.store.LastOutcome(navigationID); ok {
		return out
	}
	return Outcome{NavigationID: navigationID, State: c.store.State(), Context: c.store.Context()}
}

func (c *Controller) run(ctx context.Context, gen uint64, nav Navigation) Outcome {
	out := Outcome{NavigationID: nav.ID}
	c.store.setState(gen, StateValidating)

	if user, ok := c.store.CurrentUser(); ok {
		out.User = &user
		return c.resolve(ctx, gen, nav, out)
	}

	credential, ok := c.storage.Load()
	if !ok {
		return c.unauthenticated(ctx, gen, nav, out, "missing")
	}
	decoded, err := token.Inspect(credential, c.cfg.Now())
	switch {
	case errors.Is(err, token.ErrExpiredCredential):
		c.storage.Clear()
		_ = audit.LogEvent(ctx, audit.EventCredentialExpired, map[string]any{
			"username":   decoded.Payload.Username,
			"expired_at": decoded.Expiry().UTC().Format(time.RFC3339),
		})
		return c.unauthenticated(ctx, gen, nav, out, "expired")
	case err != nil:
		c.storage.Clear()
		_ = audit.LogEvent(ctx, audit.EventCredentialInvalid, map[string]any{"error": err.Error()})
		return c.unauthenticated(ctx, gen, nav, out, "malformed")
	}

	user := decoded.User()
	out.User = &user
	out.State = StateAuthenticating
	c.store.setState(gen, StateAuthenticating)

	actx := auth.ContextWithCredential(auth.ContextWithUser(ctx, user), credential)
	snap, settings, settingsOK, err := c.authenticate(actx, user.Username, credential)
	if settingsOK {
		c.store.storeSettings(settings)
	}
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return c.rejected(actx, gen, nav, out, user.Username, credential, err)
		}
		_ = audit.LogEvent(actx, audit.EventSnapshotFailed, map[string]any{"error": err.Error()})
		c.log.Warn("permission snapshot unavailable",
			zap.String("username", user.Username),
			zap.String("navigation_id", nav.ID),
			zap.Error(err))
		out.Err = err
		return out
	}

	c.store.update(gen, func() {
		c.store.user = &user
		c.store.credential = credential
		c.store.snapshot = snap
		c.store.state = StateReady
	})
	return c.resolve(ctx, gen, nav, out)
}

// authenticate loads the snapshot and the public settings concurrently. A settings failure
// is not fatal; settingsOK reports whether they were loaded.
func (c *Controller) authenticate(ctx context.Context, username, credential string) (snap *auth.Snapshot, settings []backend.PublicSetting, settingsOK bool, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := c.loadSnapshot(gctx, username, credential)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if _, loaded := c.store.Settings(); !loaded {
		g.Go(func() error {
			s, err := c.cfg.Backend.GetPublicSettings(gctx)
			if err != nil {
				c.log.Debug("public settings unavailable", zap.Error(err))
				return nil
			}
			settings, settingsOK = s, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, settings, settingsOK, err
	}
	return snap, settings, settingsOK, nil
}

// loadSnapshot consults the cache under the credential-bound key before asking the backend,
// so a cached snapshot never vouches for a credential the backend has not accepted.
func (c *Controller) loadSnapshot(ctx context.Context, username, credential string) (*auth.Snapshot, error) {
	key := cache.Key(username, credential)
	if c.cfg.Cache != nil {
		snap, ok, err := c.cfg.Cache.Get(ctx, key)
		switch {
		case err != nil:
			obs.ObserveSnapshotCache("error")
			c.log.Warn("snapshot cache read failed", zap.String("username", username), zap.Error(err))
		case ok:
			obs.ObserveSnapshotCache("hit")
			return snap, nil
		default:
			obs.ObserveSnapshotCache("miss")
		}
	}
	snap, err := c.cfg.Backend.GetUserPermissions(ctx, username)
	if err != nil {
		return nil, err
	}
	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Put(ctx, key, snap, c.cfg.CacheTTL); err != nil {
			c.log.Warn("snapshot cache write failed", zap.String("username", username), zap.Error(err))
		}
	}
	return snap, nil
}

func (c *Controller) resolve(ctx context.Context, gen uint64, nav Navigation, out Outcome) Outcome {
	out.State = StateResolving
	c.store.update(gen, func() {
		c.store.state = StateResolving
		c.store.resolved = resolver.Context{}
		c.store.activeOrganization, c.store.activeTeam, c.store.activeReport = "", "", ""
	})

	credential := c.store.Credential()
	rctx := auth.ContextWithCredential(ctx, credential)
	if out.User != nil {
		rctx = auth.ContextWithUser(rctx, *out.User)
	}
	resolved, err := c.resolver.Resolve(rctx, c.store.Snapshot(), nav.Params, recorder{store: c.store, gen: gen})
	if errors.Is(err, backend.ErrUnauthorized) {
		username := ""
		if out.User != nil {
			username = out.User.Username
		}
		return c.rejected(rctx, gen, nav, out, username, credential, err)
	}
	out.Context = resolved
	out.State = StateResolved
	if err != nil {
		out.Err = err
		c.log.Info("context partially resolved",
			zap.String("navigation_id", nav.ID),
			zap.String("path", nav.Path),
			zap.String("level", string(resolved.Level())),
			zap.Error(err))
	}
	c.store.update(gen, func() {
		c.store.resolved = resolved
		c.store.state = StateResolved
	})
	return out
}

// rejected handles a credential the backend refused: storage and the cached snapshot are
// dropped and the navigation continues as unauthenticated.
func (c *Controller) rejected(ctx context.Context, gen uint64, nav Navigation, out Outcome, username, credential string, err error) Outcome {
	c.storage.Clear()
	if c.cfg.Cache != nil && username != "" {
		if derr := c.cfg.Cache.Delete(ctx, cache.Key(username, credential)); derr != nil {
			c.log.Warn("snapshot cache delete failed", zap.String("username", username), zap.Error(derr))
		}
	}
	_ = audit.LogEvent(ctx, audit.EventUnauthorized, map[string]any{"error": err.Error()})
	out.User = nil
	return c.unauthenticated(ctx, gen, nav, out, "unauthorized")
}

func (c *Controller) unauthenticated(ctx context.Context, gen uint64, nav Navigation, out Outcome, reason string) Outcome {
	out.State = StateUnauthenticated
	c.store.update(gen, func() {
		c.store.state = StateUnauthenticated
		c.store.user = nil
		c.store.credential = ""
		c.store.snapshot = nil
		c.store.resolved = resolver.Context{}
		c.store.activeOrganization, c.store.activeTeam, c.store.activeReport = "", "", ""
	})
	if !c.cfg.RedirectToLogin {
		return out
	}
	target := c.redirectTarget(ctx, nav.Path)
	out.Redirect = target
	if c.redirector != nil {
		c.redirector.Redirect(target)
	}
	obs.ObserveRedirect(reason)
	_ = audit.LogEvent(ctx, audit.EventRedirect, map[string]any{
		"reason":        reason,
		"target":        target,
		"path":          nav.Path,
		"navigation_id": nav.ID,
	})
	return out
}

// redirectTarget prefers the UNAUTHORIZED_REDIRECT_URL public setting and falls back to the
// login route carrying the original path.
func (c *Controller) redirectTarget(ctx context.Context, path string) string {
	settings, loaded := c.store.Settings()
	if !loaded && c.cfg.Backend != nil {
		s, err := c.cfg.Backend.GetPublicSettings(ctx)
		if err == nil {
			c.store.storeSettings(s)
			settings = s
		} else {
			c.log.Debug("public settings unavailable", zap.Error(err))
		}
	}
	if override := backend.LookupSetting(settings, backend.UnauthorizedRedirectSetting); override != "" {
		return override
	}
	if path == "" {
		path = "/"
	}
	return c.cfg.LoginPath + "?redirect=" + url.QueryEscape(path)
}

// Logout drops the credential, the cached snapshot and all session state.
func (c *Controller) Logout(ctx context.Context) {
	user, ok := c.store.CurrentUser()
	credential := c.store.Credential()
	if credential == "" {
		credential, _ = c.storage.Load()
	}
	c.storage.Clear()
	if ok {
		ctx = auth.ContextWithUser(ctx, user)
		if c.cfg.Cache != nil {
			if err := c.cfg.Cache.Delete(ctx, cache.Key(user.Username, credential)); err != nil {
				c.log.Warn("snapshot cache delete failed", zap.String("username", user.Username), zap.Error(err))
			}
		}
	}
	c.store.Reset()
	_ = audit.LogEvent(ctx, audit.EventLogout, map[string]any{"had_user": ok})
}

// CurrentUser returns the loaded user, if any.
func (c *Controller) CurrentUser() (auth.CurrentUser, bool) { return c.store.CurrentUser() }

// Context returns the context resolved by the last navigation.
func (c *Controller) Context() resolver.Context { return c.store.Context() }

func (c *Controller) HasPermission(capability auth.Capability) bool {
	return c.store.HasPermission(capability)
}

func (c *Controller) IsDownloadable() bool { return c.store.IsDownloadable() }
