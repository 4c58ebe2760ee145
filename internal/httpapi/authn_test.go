package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		cookie  string
		header  string
		want    string
		wantErr bool
	}{
		{name: "cookie", cookie: "abc", want: "abc"},
		{name: "cookie wins over header", cookie: "abc", header: "Bearer def", want: "abc"},
		{name: "bearer header", header: "Bearer def", want: "def"},
		{name: "bearer case insensitive", header: "bearer  ghi ", want: "ghi"},
		{name: "wrong scheme", header: "Basic xyz", wantErr: true},
		{name: "empty bearer", header: "Bearer ", wantErr: true},
		{name: "nothing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/acme", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "jwt", Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := credentialFromRequest(req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestCredentialFromRequestMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/acme", nil)
	if _, err := credentialFromRequest(req); !errors.Is(err, errNoCredential) {
		t.Fatalf("expected errNoCredential, got %v", err)
	}
}

func TestCookieStorageClearExpiresCookieOnce(t *testing.T) {
	rr := httptest.NewRecorder()
	s := &cookieStorage{w: rr, value: "abc", secure: true}

	if v, ok := s.Load(); !ok || v != "abc" {
		t.Fatalf("Load = %q, %v", v, ok)
	}
	s.Clear()
	s.Clear()
	if _, ok := s.Load(); ok {
		t.Fatal("credential must be gone after Clear")
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one Set-Cookie, got %d", len(cookies))
	}
	if c := cookies[0]; c.Name != "jwt" || c.MaxAge >= 0 || !c.HttpOnly || !c.Secure {
		t.Fatalf("unexpected cookie: %+v", c)
	}
}

func TestHTTPRedirectorWritesOnce(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/acme", nil)
	h := &httpRedirector{w: rr, r: req}
	h.Redirect("/login?redirect=%2Facme")
	h.Redirect("/other")

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/login?redirect=%2Facme" {
		t.Fatalf("Location = %q", loc)
	}
}
