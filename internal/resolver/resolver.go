// Package resolver turns route slugs into the organization, team and report entities the
// current user may see.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"reporthub.io/internal/auth"
	"reporthub.io/internal/backend"
	"reporthub.io/internal/obs"
)

// ErrNotFound is reported by Context.Err when a route slug matched nothing the user can see.
var ErrNotFound = errors.New("resolver: not found")

// Level names how deep a resolution got.
type Level string

const (
	LevelNone         Level = "none"
	LevelOrganization Level = "organization"
	LevelTeam         Level = "team"
	LevelReport       Level = "report"
)

// Params are the slugs taken from the route.
type Params struct {
	OrganizationName string
	TeamName         string
	ReportName       string
}

// Context is the resolved organization/team/report of one navigation. Team is only set
// when Organization is, and Report only when Team is.
type Context struct {
	Organization *auth.Organization `json:"organization,omitempty"`
	Team         *auth.Team         `json:"team,omitempty"`
	Report       *auth.Report       `json:"report,omitempty"`

	// NotFound is the first level whose slug was present but unmatched.
	NotFound Level `json:"not_found,omitempty"`
}

// Level returns the deepest resolved level.
func (c Context) Level() Level {
	switch {
	case c.Report != nil:
		return LevelReport
	case c.Team != nil:
		return LevelTeam
	case c.Organization != nil:
		return LevelOrganization
	}
	return LevelNone
}

// Err wraps ErrNotFound when a slug went unmatched, nil otherwise.
func (c Context) Err() error {
	if c.NotFound == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, c.NotFound)
}

// Fetcher loads full entities from the content API.
type Fetcher interface {
	GetOrganization(ctx context.Context, id string) (*auth.Organization, error)
	GetTeam(ctx context.Context, id string) (*auth.Team, error)
	ListReports(ctx context.Context, filter backend.ReportFilter) ([]auth.Report, error)
}

// Recorder receives the active ids as each level resolves. It may be nil.
type Recorder interface {
	SetActiveOrganization(id string)
	SetActiveTeam(id string)
	SetActiveReport(id string)
}

// Resolver resolves route parameters against a permission snapshot.
type Resolver struct {
	fetcher Fetcher
	log     *zap.Logger
}

// New constructs a Resolver.
func New(f Fetcher) *Resolver {
	return &Resolver{fetcher: f, log: obs.Logger()}
}

// Resolve walks organization → team → report, stopping at the first missing slug, missing
// grant or empty result. A partial Context is a normal outcome. When a fetch fails the
// context resolved so far is returned together with the error.
func (r *Resolver) Resolve(ctx context.Context, snap *auth.Snapshot, p Params, rec Recorder) (out Context, err error) {
	defer func() { obs.ObserveResolution(string(out.Level())) }()

	if p.OrganizationName == "" {
		return out, nil
	}
	orgGrant, ok := snap.OrganizationByName(p.OrganizationName)
	if !ok {
		out.NotFound = LevelOrganization
		return out, nil
	}
	org, err := r.fetcher.GetOrganization(ctx, orgGrant.ID)
	if err != nil {
		return out, fmt.Errorf("resolve organization %s: %w", p.OrganizationName, err)
	}
	out.Organization = org
	if rec != nil {
		rec.SetActiveOrganization(org.ID)
	}

	if p.TeamName == "" {
		return out, nil
	}
	teamGrant, ok := snap.TeamByName(org.ID, p.TeamName)
	if !ok {
		out.NotFound = LevelTeam
		return out, nil
	}
	team, err := r.fetcher.GetTeam(ctx, teamGrant.ID)
	if err != nil {
		return out, fmt.Errorf("resolve team %s: %w", p.TeamName, err)
	}
	out.Team = team
	if rec != nil {
		rec.SetActiveTeam(team.ID)
	}

	if p.ReportName == "" {
		return out, nil
	}
	reports, err := r.fetcher.ListReports(ctx, backend.ReportFilter{TeamID: team.ID, SluglifiedName: p.ReportName})
	if err != nil {
		return out, fmt.Errorf("resolve report %s: %w", p.ReportName, err)
	}
	report, ok := pickReport(reports)
	if !ok {
		out.NotFound = LevelReport
		return out, nil
	}
	if len(reports) > 1 {
		r.log.Debug("several reports share a slug",
			zap.String("team_id", team.ID),
			zap.String("slug", p.ReportName),
			zap.Int("matches", len(reports)),
			zap.String("picked", report.ID))
	}
	out.Report = &report
	if rec != nil {
		rec.SetActiveReport(report.ID)
	}
	return out, nil
}

// pickReport chooses the most recently created report, ties broken by ascending id, so the
// result does not depend on the API's ordering.
func pickReport(reports []auth.Report) (auth.Report, bool) {
	if len(reports) == 0 {
		return auth.Report{}, false
	}
	sorted := make([]auth.Report, len(reports))
	copy(sorted, reports)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0], true
}
