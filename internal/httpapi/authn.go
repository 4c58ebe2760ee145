package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"reporthub.io/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNoCredential = errors.New("missing credential")

// credentialFromRequest reads the jwt cookie, falling back to a bearer header for
// non-browser clients.
func credentialFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(session.StorageKey); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	if h := r.Header.Get(authHeader); h != "" {
		return extractBearerToken(h)
	}
	return "", errNoCredential
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// cookieStorage is the credential slot of one request. Clearing it expires the cookie.
type cookieStorage struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	value   string
	secure  bool
	cleared bool
}

func (s *cookieStorage) Load() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.value != ""
}

func (s *cookieStorage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleared {
		return
	}
	s.value = ""
	s.cleared = true
	http.SetCookie(s.w, &http.Cookie{
		Name:     session.StorageKey,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// httpRedirector answers the request with a 302 the first time it is asked to.
type httpRedirector struct {
	w    http.ResponseWriter
	r    *http.Request
	done bool
}

func (h *httpRedirector) Redirect(target string) {
	if h.done {
		return
	}
	h.done = true
	http.Redirect(h.w, h.r, target, http.StatusFound)
}
