package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"reporthub.io/internal/backend"
	"reporthub.io/internal/cache"
	"reporthub.io/internal/obs"
	"reporthub.io/internal/session"
)

var testNow = time.Unix(1_800_000_000, 0)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	permissionCalls *atomic.Int32
}

func writeData(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

const issuerSecret = "issuer-secret"

// signedByIssuer reports whether the bearer token verifies against the issuer key, the way
// the real content API checks every call.
func signedByIssuer(r *http.Request) bool {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return []byte(issuerSecret), nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return testNow }))
	return err == nil
}

// contentAPI fakes the upstream REST API.
func contentAPI(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	verified := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !signedByIssuer(r) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"invalid token"}`))
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /users/{username}/permissions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !signedByIssuer(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PathValue("username") == "mallory" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"revoked"}`))
			return
		}
		writeData(w, map[string]any{
			"organizations": []map[string]any{
				{"id": "org1", "name": "acme", "permissions": []string{"report.read", "team.read"}},
			},
			"teams": []map[string]any{
				{"id": "team1", "name": "general", "organization_id": "org1", "organization_inherited": true, "permissions": []string{}},
			},
		})
	})
	mux.HandleFunc("GET /organizations/{id}", verified(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"id": r.PathValue("id"), "sluglified_name": "acme", "allow_download": "all"})
	}))
	mux.HandleFunc("GET /teams/{id}", verified(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"id": r.PathValue("id"), "sluglified_name": "general", "organization_id": "org1", "allow_download": "inherited"})
	}))
	mux.HandleFunc("GET /reports", verified(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sluglified_name") != "q3" {
			writeData(w, []any{})
			return
		}
		writeData(w, []map[string]any{{"id": "rep1", "sluglified_name": "q3", "team_id": r.URL.Query().Get("team_id")}})
	}))
	mux.HandleFunc("GET /public-settings", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []map[string]any{{"key": "THEME", "value": "dark"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	obs.SetLogger(zap.NewNop())
	t.Cleanup(func() { obs.SetLogger(nil) })

	calls := &atomic.Int32{}
	upstream := contentAPI(t, calls)
	be, err := backend.New(upstream.URL)
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	cfg := session.Config{
		Backend:         be,
		Cache:           cache.NewMemory(nil),
		RedirectToLogin: true,
		Now:             func() time.Time { return testNow },
	}
	api := New(ReadyProbe{}, "test", cfg, WithRateLimit(100, 100))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &apiClient{baseURL: srv.URL, client: client, t: t, permissionCalls: calls}
}

func (c *apiClient) do(method, path, credential string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if credential != "" {
		req.AddCookie(&http.Cookie{Name: "jwt", Value: credential})
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func credentialFor(t *testing.T, username string, exp time.Time) string {
	t.Helper()
	return credentialSignedWith(t, username, exp, issuerSecret)
}

func credentialSignedWith(t *testing.T, username string, exp time.Time, key string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":     "reporthub",
		"iat":     exp.Add(-time.Hour).Unix(),
		"exp":     exp.Unix(),
		"payload": map[string]any{"username": username, "show_onboarding": false},
	})
	signed, err := tok.SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodGet, "/healthz", "", nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestPageRedirectsWithoutCredential(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodGet, "/acme/general", "", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login?redirect=%2Facme%2Fgeneral" {
		t.Fatalf("Location = %q", loc)
	}
}

func TestPageExpiredCredentialClearsCookie(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodGet, "/acme", credentialFor(t, "alice", testNow.Add(-time.Minute)), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == "jwt" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expired credential cookie must be cleared")
	}
}

func TestPageResolvesContext(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialFor(t, "alice", testNow.Add(time.Hour))

	resp := api.do(http.MethodGet, "/acme/general/q3", cred, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	page := decode[map[string]any](t, resp)
	if page["state"] != "resolved" {
		t.Fatalf("unexpected state: %v", page["state"])
	}
	ctx := page["context"].(map[string]any)
	for _, key := range []string{"organization", "team", "report"} {
		if ctx[key] == nil {
			t.Fatalf("expected %s in context: %v", key, ctx)
		}
	}
	active := page["active"].(map[string]any)
	if active["organization"] != "org1" || active["team"] != "team1" || active["report"] != "rep1" {
		t.Fatalf("unexpected active ids: %v", active)
	}
	if page["downloadable"] != true {
		t.Fatalf("inherited ALL policy must allow download: %v", page["downloadable"])
	}

	resp = api.do(http.MethodGet, "/v1/permissions/report.read", cred, nil)
	allowed := decode[map[string]any](t, resp)
	if allowed["allowed"] != true {
		t.Fatalf("inherited team must carry organization permission: %v", allowed)
	}
	resp = api.do(http.MethodGet, "/v1/permissions/report.edit", cred, nil)
	if denied := decode[map[string]any](t, resp); denied["allowed"] != false {
		t.Fatalf("report.edit must be denied: %v", denied)
	}

	resp = api.do(http.MethodGet, "/acme/general/missing", cred, nil)
	page = decode[map[string]any](t, resp)
	ctx = page["context"].(map[string]any)
	if ctx["report"] != nil || ctx["team"] == nil || ctx["not_found"] != "report" {
		t.Fatalf("report must stay unresolved with team kept: %v", ctx)
	}
	if got := api.permissionCalls.Load(); got != 1 {
		t.Fatalf("permissions fetched %d times, want 1", got)
	}
}

func TestPageUnauthorizedSnapshot(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodGet, "/acme", credentialFor(t, "mallory", testNow.Add(time.Hour)), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Location"), "/login?redirect=") {
		t.Fatalf("unexpected Location %q", resp.Header.Get("Location"))
	}
}

func TestPermissionEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/v1/permissions/report.fly", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown capability: expected 400, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/v1/permissions/report.read", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/v1/download", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous download: expected 401, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/v1/capabilities", "", nil)
	catalog := decode[map[string][]map[string]any](t, resp)
	if len(catalog["capabilities"]) == 0 {
		t.Fatal("empty capability catalog")
	}
}

func TestSessionAndLogout(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialFor(t, "alice", testNow.Add(time.Hour))

	api.do(http.MethodGet, "/acme", cred, nil).Body.Close()

	resp := api.do(http.MethodGet, "/v1/session", cred, nil)
	sess := decode[map[string]any](t, resp)
	user, _ := sess["user"].(map[string]any)
	if user["username"] != "alice" {
		t.Fatalf("unexpected session: %v", sess)
	}

	resp = api.do(http.MethodPost, "/v1/logout", cred, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/v1/session", cred, nil)
	sess = decode[map[string]any](t, resp)
	if sess["user"] != nil || sess["state"] != "idle" {
		t.Fatalf("session must be forgotten after logout: %v", sess)
	}

	api.do(http.MethodGet, "/acme", cred, nil).Body.Close()
	if got := api.permissionCalls.Load(); got != 2 {
		t.Fatalf("logout must drop the cached snapshot; permissions fetched %d times", got)
	}
}

func TestRerenderDoesNotRedirectTwice(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialFor(t, "mallory", testNow.Add(time.Hour))
	headers := map[string]string{"X-Navigation-ID": "nav-1"}

	first := api.do(http.MethodGet, "/acme", cred, headers)
	first.Body.Close()
	if first.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", first.StatusCode)
	}

	again := api.do(http.MethodGet, "/acme", cred, headers)
	body := decode[map[string]any](t, again)
	if again.StatusCode != http.StatusUnauthorized || again.Header.Get("Location") != "" {
		t.Fatalf("rerender must not redirect again: %d %q", again.StatusCode, again.Header.Get("Location"))
	}
	if body["redirect"] != "/login?redirect=%2Facme" || body["navigation_id"] != "nav-1" {
		t.Fatalf("unexpected rerender body: %v", body)
	}
	if got := api.permissionCalls.Load(); got != 1 {
		t.Fatalf("rerender must not hit the backend, permissions fetched %d times", got)
	}
}

func TestUnknownRouteAndLogin(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/a/b/c/d", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/login?redirect=%2Facme", "", nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusUnauthorized || body["redirect"] != "/acme" {
		t.Fatalf("unexpected login response: %d %v", resp.StatusCode, body)
	}
}

func TestPageForgedCredentialIsNotServedFromCache(t *testing.T) {
	api := newTestAPI(t)

	genuine := api.do(http.MethodGet, "/acme", credentialFor(t, "alice", testNow.Add(time.Hour)), nil)
	genuine.Body.Close()
	if genuine.StatusCode != http.StatusOK {
		t.Fatalf("genuine credential: expected 200, got %d", genuine.StatusCode)
	}

	forged := credentialSignedWith(t, "alice", testNow.Add(time.Hour), "attacker-key")
	resp := api.do(http.MethodGet, "/acme", forged, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("forged credential: expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login?redirect=%2Facme" {
		t.Fatalf("Location = %q", loc)
	}
	if got := api.permissionCalls.Load(); got != 2 {
		t.Fatalf("forged credential must reach the backend, permissions fetched %d times", got)
	}

	resp = api.do(http.MethodGet, "/v1/session", forged, nil)
	sess := decode[map[string]any](t, resp)
	if sess["user"] != nil {
		t.Fatalf("forged credential must not hold a user: %v", sess)
	}
}

func TestAnonymousRerenderDoesNotRedirectTwice(t *testing.T) {
	cases := []struct {
		name       string
		credential func(t *testing.T) string
	}{
		{"no credential", func(*testing.T) string { return "" }},
		{"expired credential", func(t *testing.T) string { return credentialFor(t, "alice", testNow.Add(-time.Minute)) }},
		{"malformed credential", func(*testing.T) string { return "not-a-token" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newTestAPI(t)
			cred := tc.credential(t)
			headers := map[string]string{"X-Navigation-ID": "nav-anon"}

			first := api.do(http.MethodGet, "/acme", cred, headers)
			first.Body.Close()
			if first.StatusCode != http.StatusFound || first.Header.Get("Location") != "/login?redirect=%2Facme" {
				t.Fatalf("first: %d %q", first.StatusCode, first.Header.Get("Location"))
			}

			again := api.do(http.MethodGet, "/acme", cred, headers)
			body := decode[map[string]any](t, again)
			if again.StatusCode != http.StatusUnauthorized || again.Header.Get("Location") != "" {
				t.Fatalf("rerender must not redirect again: %d %q", again.StatusCode, again.Header.Get("Location"))
			}
			if body["redirect"] != "/login?redirect=%2Facme" || body["navigation_id"] != "nav-anon" {
				t.Fatalf("unexpected rerender body: %v", body)
			}

			other := api.do(http.MethodGet, "/acme", cred, map[string]string{"X-Navigation-ID": "nav-next"})
			other.Body.Close()
			if other.StatusCode != http.StatusFound {
				t.Fatalf("a new navigation must redirect, got %d", other.StatusCode)
			}
		})
	}
}

func TestPageParamsKeepEscapedSlashes(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialFor(t, "alice", testNow.Add(time.Hour))

	resp := api.do(http.MethodGet, "/acme%2Fgeneral", cred, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	page := decode[map[string]any](t, resp)
	ctx := page["context"].(map[string]any)
	if ctx["organization"] != nil || ctx["team"] != nil || ctx["not_found"] != "organization" {
		t.Fatalf("an escaped slash must stay inside the organization slug: %v", ctx)
	}
}
