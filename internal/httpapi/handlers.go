package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"reporthub.io/internal/auth"
	"reporthub.io/internal/obs"
	"reporthub.io/internal/resolver"
	"reporthub.io/internal/session"
	"reporthub.io/internal/token"
)

const serviceName = "frontd"

var errNotAuthenticated = errors.New("not authenticated")

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings every configured dependency.
type ReadyProbe struct {
	Checks map[string]Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp.Checks))
	for name := range rp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := rp.Checks[name]; p != nil {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

// API is the HTTP surface: page navigations, session queries and probes.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	session       session.Config
	sessions      *Registry
	secureCookies bool

	baseCtx    context.Context
	rateBurst  int
	ratePerSec float64
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithSecureCookies marks cleared credential cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(a *API) { a.secureCookies = secure }
}

// WithRegistry shares a session registry, for example with a sweeper goroutine.
func WithRegistry(reg *Registry) Option {
	return func(a *API) {
		if reg != nil {
			a.sessions = reg
		}
	}
}

// WithContext bounds background work started by the API.
func WithContext(ctx context.Context) Option {
	return func(a *API) {
		if ctx != nil {
			a.baseCtx = ctx
		}
	}
}

func New(rp readinessChecker, version string, cfg session.Config, opts ...Option) *API {
	if cfg.LoginPath == "" {
		cfg.LoginPath = session.DefaultLoginPath
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		session:    cfg,
		baseCtx:    context.Background(),
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sessions == nil {
		a.sessions = NewRegistry(cfg.Now)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/session", a.handleSession)
	a.mux.HandleFunc("GET /v1/capabilities", a.handleCapabilities)
	a.mux.HandleFunc("GET /v1/permissions/{capability}", a.handlePermission)
	a.mux.HandleFunc("GET /v1/download", a.handleDownload)
	a.mux.HandleFunc("POST /v1/logout", a.handleLogout)

	if strings.HasPrefix(cfg.LoginPath, "/") {
		a.mux.HandleFunc("GET "+cfg.LoginPath, a.handleLogin)
	}

	a.mux.HandleFunc("GET /{$}", a.handlePage)
	a.mux.HandleFunc("GET /{organization}", a.handlePage)
	a.mux.HandleFunc("GET /{organization}/{team}", a.handlePage)
	a.mux.HandleFunc("GET /{organization}/{team}/{report}", a.handlePage)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = RateLimit(a.baseCtx, h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// Sessions exposes the registry, mostly for the sweeper.
func (a *API) Sessions() *Registry { return a.sessions }

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- session plumbing ---

// controller binds a session controller to the request: the credential cookie is its
// storage, the response its redirector.
func (a *API) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, string) {
	credential, _ := credentialFromRequest(r)
	store := session.NewStore()
	if credential != "" {
		if d, err := token.Decode(credential); err == nil {
			if token.IsExpired(d, a.session.Now()) {
				a.sessions.Drop(credential)
			} else {
				store = a.sessions.Lookup(credential, d.Expiry())
			}
		}
	}
	storage := &cookieStorage{w: w, value: credential, secure: a.secureCookies}
	return session.NewController(a.session, store, storage, &httpRedirector{w: w, r: r}), credential
}

type activeIDs struct {
	Organization string `json:"organization,omitempty"`
	Team         string `json:"team,omitempty"`
	Report       string `json:"report,omitempty"`
}

type pageResponse struct {
	NavigationID string            `json:"navigation_id"`
	State        session.State     `json:"state"`
	User         *auth.CurrentUser `json:"user,omitempty"`
	Context      resolver.Context  `json:"context"`
	Active       activeIDs         `json:"active"`
	Permissions  []auth.Capability `json:"permissions"`
	Downloadable bool              `json:"downloadable"`
	Error        string            `json:"error,omitempty"`
}

func (a *API) handlePage(w http.ResponseWriter, r *http.Request) {
	navID := strings.TrimSpace(r.Header.Get("X-Navigation-ID"))
	if target, ok := a.sessions.RedirectFor(navID); ok {
		writeRerender(w, navID, target)
		return
	}

	ctl, _ := a.controller(w, r)
	nav := session.NewNavigation(r.URL.EscapedPath(), resolver.Params{
		OrganizationName: r.PathValue("organization"),
		TeamName:         r.PathValue("team"),
		ReportName:       r.PathValue("report"),
	})
	if navID != "" {
		nav.ID = navID
	}

	out := ctl.Navigate(r.Context(), nav)
	if out.State == session.StateUnauthenticated {
		if out.Redirect != "" {
			if w.Header().Get("Location") == "" {
				writeRerender(w, out.NavigationID, out.Redirect)
				return
			}
			if navID != "" {
				a.sessions.RememberRedirect(navID, out.Redirect)
			}
			return
		}
		respondError(w, r, errNotAuthenticated)
		return
	}
	writeJSON(w, http.StatusOK, pageFor(out, ctl.Store().Snapshot()))
}

// writeRerender answers a navigation that already redirected: the target is reported
// without redirecting again.
func writeRerender(w http.ResponseWriter, navigationID, target string) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error":         errNotAuthenticated.Error(),
		"redirect":      target,
		"navigation_id": navigationID,
	})
}

// pageFor renders one navigation outcome. Every field derives from out so that a response
// never mixes its route with the state a concurrent navigation left in the store.
func pageFor(out session.Outcome, snap *auth.Snapshot) pageResponse {
	org, team := out.Context.Organization, out.Context.Team
	resp := pageResponse{
		NavigationID: out.NavigationID,
		State:        out.State,
		User:         out.User,
		Context:      out.Context,
		Permissions:  []auth.Capability{},
		Downloadable: auth.IsDownloadable(snap, org, team, out.User),
	}
	if org != nil {
		resp.Active.Organization = org.ID
	}
	if team != nil {
		resp.Active.Team = team.ID
	}
	if out.Context.Report != nil {
		resp.Active.Report = out.Context.Report.ID
	}
	for _, info := range auth.BuiltinCapabilities {
		if auth.HasPermission(org, team, snap, info.Key) {
			resp.Permissions = append(resp.Permissions, info.Key)
		}
	}
	if out.Err != nil {
		resp.Error = "content service unavailable"
		if errors.Is(out.Err, context.Canceled) {
			resp.Error = "navigation superseded"
		}
	}
	return resp
}

func (a *API) active(ctl *session.Controller) activeIDs {
	org, team, report := ctl.Store().ActiveIDs()
	return activeIDs{Organization: org, Team: team, Report: report}
}

func effectivePermissions(ctl *session.Controller) []auth.Capability {
	out := []auth.Capability{}
	for _, info := range auth.BuiltinCapabilities {
		if ctl.HasPermission(info.Key) {
			out = append(out, info.Key)
		}
	}
	return out
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error":    "authentication required",
		"redirect": r.URL.Query().Get("redirect"),
	})
}

// --- /v1 ---

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	ctl, _ := a.controller(w, r)
	resp := pageResponse{
		State:       ctl.Store().State(),
		Context:     ctl.Context(),
		Active:      a.active(ctl),
		Permissions: effectivePermissions(ctl),
	}
	if user, ok := ctl.CurrentUser(); ok {
		resp.User = &user
		resp.Downloadable = ctl.IsDownloadable()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Key         auth.Capability `json:"key"`
		Description string          `json:"description"`
	}
	items := make([]entry, 0, len(auth.BuiltinCapabilities))
	for _, c := range auth.BuiltinCapabilities {
		items = append(items, entry{Key: c.Key, Description: c.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": items})
}

func (a *API) handlePermission(w http.ResponseWriter, r *http.Request) {
	capability, err := auth.ParseCapability(r.PathValue("capability"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	ctl, _ := a.controller(w, r)
	if _, ok := ctl.CurrentUser(); !ok {
		respondError(w, r, errNotAuthenticated)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capability": capability,
		"allowed":    ctl.HasPermission(capability),
	})
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctl, _ := a.controller(w, r)
	if _, ok := ctl.CurrentUser(); !ok {
		respondError(w, r, errNotAuthenticated)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"downloadable": ctl.IsDownloadable(),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctl, credential := a.controller(w, r)
	ctl.Logout(r.Context())
	if credential != "" {
		a.sessions.Drop(credential)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnknownCapability):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, errNotAuthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, resolver.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
