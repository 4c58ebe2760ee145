package auth

import (
	"context"
	"errors"
	"testing"
)

func TestNewSnapshotValidation(t *testing.T) {
	snap, warnings := NewSnapshot(
		[]ResourcePermission{
			{ID: "org1", Name: "acme", Permissions: []string{"report.read", "report.read", "launch.rockets"}},
			{ID: "", Name: "ghost"},
			{ID: "org1", Name: "acme-duplicate"},
		},
		[]ResourcePermission{
			{ID: "team1", Name: "general", OrganizationID: "org1", OrganizationInherited: true, Permissions: []string{"bogus"}},
			{ID: "team2", Name: "private", OrganizationID: "org1", Permissions: []string{"report.edit"}},
		},
	)
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(warnings), warnings)
	}
	if len(snap.Organizations) != 1 || snap.Organizations[0].Name != "acme" {
		t.Fatalf("unexpected organizations: %+v", snap.Organizations)
	}
	if got := snap.Organizations[0].Permissions; len(got) != 1 || got[0] != CapReportRead {
		t.Fatalf("unexpected organization permissions: %v", got)
	}
	general, ok := snap.Team("team1")
	if !ok {
		t.Fatalf("team1 missing")
	}
	if _, inherited := general.Grant.(InheritedGrant); !inherited {
		t.Fatalf("expected inherited grant, got %T", general.Grant)
	}
	private, _ := snap.Team("team2")
	explicit, ok := private.Grant.(ExplicitGrant)
	if !ok || len(explicit.Permissions) != 1 || explicit.Permissions[0] != CapReportEdit {
		t.Fatalf("unexpected explicit grant: %#v", private.Grant)
	}
}

func TestSnapshotRawRoundTrip(t *testing.T) {
	orgs := []ResourcePermission{{ID: "org1", Name: "acme", DisplayName: "Acme", Permissions: []string{"report.read"}}}
	teams := []ResourcePermission{
		{ID: "team1", Name: "general", OrganizationID: "org1", OrganizationInherited: true},
		{ID: "team2", Name: "private", OrganizationID: "org1", Permissions: []string{"report.edit"}},
	}
	snap, _ := NewSnapshot(orgs, teams)
	rawOrgs, rawTeams := snap.Raw()
	again, warnings := NewSnapshot(rawOrgs, rawTeams)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(again.Teams) != 2 || !rawTeams[0].OrganizationInherited || rawTeams[1].OrganizationInherited {
		t.Fatalf("inheritance flag lost: %+v", rawTeams)
	}
	if !HasPermission(&Organization{ID: "org1"}, &Team{ID: "team1"}, again, CapReportRead) {
		t.Fatalf("expected inherited read permission after round trip")
	}
}

func TestTeamByNameScopesToOrganization(t *testing.T) {
	snap, _ := NewSnapshot(nil, []ResourcePermission{
		{ID: "t-other", Name: "general", OrganizationID: "org2"},
		{ID: "t-acme", Name: "general", OrganizationID: "org1"},
		{ID: "t-legacy", Name: "legacy"},
	})
	tp, ok := snap.TeamByName("org1", "general")
	if !ok || tp.ID != "t-acme" {
		t.Fatalf("expected t-acme, got %+v ok=%v", tp, ok)
	}
	if _, ok := snap.TeamByName("org3", "general"); ok {
		t.Fatalf("expected no match in org3")
	}
	if tp, ok := snap.TeamByName("org1", "legacy"); !ok || tp.ID != "t-legacy" {
		t.Fatalf("expected legacy grant without organization id to match")
	}
}

func TestParseCapability(t *testing.T) {
	if c, err := ParseCapability(" report.edit "); err != nil || c != CapReportEdit {
		t.Fatalf("ParseCapability: %v %v", c, err)
	}
	if _, err := ParseCapability("report.fly"); !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserFromContext(ctx); ok {
		t.Fatalf("unexpected user in empty context")
	}
	ctx = ContextWithUser(ctx, CurrentUser{Username: "alice"})
	ctx = ContextWithCredential(ctx, "tok")
	user, ok := UserFromContext(ctx)
	if !ok || user.Username != "alice" {
		t.Fatalf("unexpected user: %+v ok=%v", user, ok)
	}
	if tok, ok := CredentialFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %q ok=%v", tok, ok)
	}
	if ContextWithCredential(ctx, "  ") != ctx {
		t.Fatalf("blank credential should not wrap context")
	}
	if tok, _ := CredentialFromContext(ContextWithCredential(context.Background(), " tok\n")); tok != "tok" {
		t.Fatalf("credential must be trimmed, got %q", tok)
	}
}
