package httpapi

import (
	"fmt"
	"testing"
	"time"
)

func TestRegistryLookupReusesStore(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	reg := NewRegistry(func() time.Time { return now })

	a := reg.Lookup("cred-a", now.Add(time.Hour))
	if again := reg.Lookup("cred-a", now.Add(time.Hour)); again != a {
		t.Fatal("same credential must map to the same store")
	}
	if other := reg.Lookup("cred-b", now.Add(time.Hour)); other == a {
		t.Fatal("different credentials must not share a store")
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d", reg.Len())
	}
}

func TestRegistryExpiry(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	reg := NewRegistry(func() time.Time { return now })

	first := reg.Lookup("cred", now.Add(time.Minute))
	reg.Lookup("forever", time.Time{})
	now = now.Add(time.Minute)

	if second := reg.Lookup("cred", now.Add(time.Hour)); second == first {
		t.Fatal("expired session must be replaced")
	}
	now = now.Add(2 * time.Hour)
	if n := reg.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if reg.Len() != 1 {
		t.Fatalf("sessions without expiry must survive, Len = %d", reg.Len())
	}
}

func TestRegistryDrop(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Lookup("cred", time.Time{})
	reg.Drop("cred")
	reg.Drop("unknown")
	if reg.Len() != 0 {
		t.Fatalf("Len = %d", reg.Len())
	}
	if sessionKey("cred") == "cred" || len(sessionKey("cred")) != 64 {
		t.Fatal("credentials must not be used as keys verbatim")
	}
}

func TestRegistryRemembersRedirects(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	reg := NewRegistry(func() time.Time { return now })

	if _, ok := reg.RedirectFor("nav-1"); ok {
		t.Fatal("unexpected redirect record")
	}
	reg.RememberRedirect("", "/login")
	if _, ok := reg.RedirectFor(""); ok {
		t.Fatal("navigations without an id must not be recorded")
	}

	reg.RememberRedirect("nav-1", "/login?redirect=%2Facme")
	if target, ok := reg.RedirectFor("nav-1"); !ok || target != "/login?redirect=%2Facme" {
		t.Fatalf("RedirectFor = %q %v", target, ok)
	}

	now = now.Add(redirectTTL)
	if _, ok := reg.RedirectFor("nav-1"); ok {
		t.Fatal("redirect record must expire")
	}
}

func TestRegistryRedirectsAreBounded(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	reg := NewRegistry(func() time.Time { return now })

	for i := 0; i < maxRedirects; i++ {
		reg.RememberRedirect(fmt.Sprintf("nav-%d", i), "/login")
		now = now.Add(time.Millisecond)
	}
	reg.RememberRedirect("nav-last", "/login")

	if len(reg.redirected) != maxRedirects {
		t.Fatalf("redirect set grew to %d", len(reg.redirected))
	}
	if _, ok := reg.RedirectFor("nav-0"); ok {
		t.Fatal("oldest record must be evicted first")
	}
	if _, ok := reg.RedirectFor("nav-last"); !ok {
		t.Fatal("newest record must be kept")
	}

	now = now.Add(redirectTTL)
	reg.Sweep()
	if len(reg.redirected) != 0 {
		t.Fatalf("Sweep left %d expired records", len(reg.redirected))
	}
}
