package auth

import (
	"fmt"
	"strings"
)

// ResourcePermission is the wire form of one grant, as returned by the permissions endpoint.
type ResourcePermission struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	DisplayName           string   `json:"display_name"`
	OrganizationID        string   `json:"organization_id,omitempty"`
	Permissions           []string `json:"permissions"`
	OrganizationInherited bool     `json:"organization_inherited"`
}

// TeamGrant is either InheritedGrant or ExplicitGrant.
type TeamGrant interface {
	teamGrant()
}

// InheritedGrant means effective permissions come from the organization grant.
type InheritedGrant struct{}

// ExplicitGrant carries the team's own permissions, which override the organization's.
type ExplicitGrant struct {
	Permissions []Capability
}

func (InheritedGrant) teamGrant() {}
func (ExplicitGrant) teamGrant()  {}

// OrganizationGrant binds the user to an organization.
type OrganizationGrant struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Permissions []Capability `json:"permissions"`
}

// TeamPermission binds the user to a team.
type TeamPermission struct {
	ID             string
	Name           string
	DisplayName    string
	OrganizationID string
	Grant          TeamGrant
}

// Snapshot maps the current user to the organizations and teams they can act on.
type Snapshot struct {
	Organizations []OrganizationGrant
	Teams         []TeamPermission
}

// NewSnapshot validates raw grants. Entries without an id are rejected, duplicate ids
// keep the first entry, and capabilities outside the catalog are dropped. Every rejection
// is described in the returned warnings so callers can log them.
func NewSnapshot(organizations, teams []ResourcePermission) (*Snapshot, []string) {
	var warnings []string
	snap := &Snapshot{}

	seen := make(map[string]struct{}, len(organizations))
	for i, rp := range organizations {
		id := strings.TrimSpace(rp.ID)
		if id == "" {
			warnings = append(warnings, fmt.Sprintf("organization grant #%d has no id", i))
			continue
		}
		if _, dup := seen[id]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate organization grant %s", id))
			continue
		}
		seen[id] = struct{}{}
		perms, dropped := validCapabilities(rp.Permissions)
		for _, d := range dropped {
			warnings = append(warnings, fmt.Sprintf("organization %s: unknown capability %q", id, d))
		}
		snap.Organizations = append(snap.Organizations, OrganizationGrant{
			ID:          id,
			Name:        rp.Name,
			DisplayName: rp.DisplayName,
			Permissions: perms,
		})
	}

	seen = make(map[string]struct{}, len(teams))
	for i, rp := range teams {
		id := strings.TrimSpace(rp.ID)
		if id == "" {
			warnings = append(warnings, fmt.Sprintf("team grant #%d has no id", i))
			continue
		}
		if _, dup := seen[id]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate team grant %s", id))
			continue
		}
		seen[id] = struct{}{}
		tp := TeamPermission{
			ID:             id,
			Name:           rp.Name,
			DisplayName:    rp.DisplayName,
			OrganizationID: strings.TrimSpace(rp.OrganizationID),
		}
		if rp.OrganizationInherited {
			tp.Grant = InheritedGrant{}
		} else {
			perms, dropped := validCapabilities(rp.Permissions)
			for _, d := range dropped {
				warnings = append(warnings, fmt.Sprintf("team %s: unknown capability %q", id, d))
			}
			tp.Grant = ExplicitGrant{Permissions: perms}
		}
		snap.Teams = append(snap.Teams, tp)
	}
	return snap, warnings
}

// Raw converts the snapshot back to its wire form, e.g. for caching.
func (s *Snapshot) Raw() (organizations, teams []ResourcePermission) {
	if s == nil {
		return nil, nil
	}
	for _, o := range s.Organizations {
		organizations = append(organizations, ResourcePermission{
			ID:          o.ID,
			Name:        o.Name,
			DisplayName: o.DisplayName,
			Permissions: capabilityStrings(o.Permissions),
		})
	}
	for _, t := range s.Teams {
		rp := ResourcePermission{
			ID:             t.ID,
			Name:           t.Name,
			DisplayName:    t.DisplayName,
			OrganizationID: t.OrganizationID,
		}
		switch g := t.Grant.(type) {
		case InheritedGrant:
			rp.OrganizationInherited = true
		case ExplicitGrant:
			rp.Permissions = capabilityStrings(g.Permissions)
		}
		teams = append(teams, rp)
	}
	return organizations, teams
}

// Organization looks up the grant for organization id.
func (s *Snapshot) Organization(id string) (OrganizationGrant, bool) {
	if s == nil {
		return OrganizationGrant{}, false
	}
	for _, o := range s.Organizations {
		if o.ID == id {
			return o, true
		}
	}
	return OrganizationGrant{}, false
}

// OrganizationByName looks up the grant whose slug equals name.
func (s *Snapshot) OrganizationByName(name string) (OrganizationGrant, bool) {
	if s == nil || name == "" {
		return OrganizationGrant{}, false
	}
	for _, o := range s.Organizations {
		if o.Name == name {
			return o, true
		}
	}
	return OrganizationGrant{}, false
}

// Team looks up the grant for team id.
func (s *Snapshot) Team(id string) (TeamPermission, bool) {
	if s == nil {
		return TeamPermission{}, false
	}
	for _, t := range s.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return TeamPermission{}, false
}

// TeamByName looks up a team grant by slug inside organizationID. Grants that do not
// carry an organization id match on name alone.
func (s *Snapshot) TeamByName(organizationID, name string) (TeamPermission, bool) {
	if s == nil || name == "" {
		return TeamPermission{}, false
	}
	var fallback *TeamPermission
	for i, t := range s.Teams {
		if t.Name != name {
			continue
		}
		if t.OrganizationID == organizationID {
			return t, true
		}
		if t.OrganizationID == "" && fallback == nil {
			fallback = &s.Teams[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return TeamPermission{}, false
}

func validCapabilities(raw []string) (valid []Capability, dropped []string) {
	for _, r := range raw {
		c := Capability(strings.TrimSpace(r))
		if !c.Known() {
			dropped = append(dropped, r)
			continue
		}
		if containsCapability(valid, c) {
			continue
		}
		valid = append(valid, c)
	}
	return valid, dropped
}

func capabilityStrings(list []Capability) []string {
	if len(list) == 0 {
		return []string{}
	}
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = string(c)
	}
	return out
}
