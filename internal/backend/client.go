// Package backend is the client for the content API that owns users, organizations,
// teams, reports and permission data.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"reporthub.io/internal/auth"
	"reporthub.io/internal/obs"
)

const defaultTimeout = 10 * time.Second

// UnauthorizedRedirectSetting is the public setting that overrides the login redirect.
const UnauthorizedRedirectSetting = "UNAUTHORIZED_REDIRECT_URL"

// PublicSetting is one entry of the unauthenticated settings list.
type PublicSetting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ReportFilter narrows ListReports.
type ReportFilter struct {
	TeamID         string
	SluglifiedName string
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Nil is ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger overrides the logger used for snapshot diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client calls the content API. The bearer token is taken from the request context
// (auth.ContextWithCredential).
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	log        *zap.Logger
}

// New constructs a Client for the API rooted at endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidInput)
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: endpoint: %v", ErrInvalidInput, err)
	}
	c := &Client{endpoint: endpoint, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.log == nil {
		c.log = obs.Logger()
	}
	return c, nil
}

type permissionsResponse struct {
	Organizations []auth.ResourcePermission `json:"organizations"`
	Teams         []auth.ResourcePermission `json:"teams"`
}

// GetUserPermissions loads the permission snapshot of username.
func (c *Client) GetUserPermissions(ctx context.Context, username string) (*auth.Snapshot, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	var raw permissionsResponse
	err := c.getJSON(ctx, requestConfig{
		operation:  "get_user_permissions",
		path:       "/users/%s/permissions",
		pathParams: []string{username},
	}, &raw)
	if err != nil {
		return nil, err
	}
	snap, warnings := auth.NewSnapshot(raw.Organizations, raw.Teams)
	for _, w := range warnings {
		c.log.Warn("permission snapshot entry rejected", zap.String("username", username), zap.String("reason", w))
	}
	return snap, nil
}

// GetOrganization fetches one organization by id.
func (c *Client) GetOrganization(ctx context.Context, id string) (*auth.Organization, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	var org auth.Organization
	err := c.getJSON(ctx, requestConfig{
		operation:  "get_organization",
		path:       "/organizations/%s",
		pathParams: []string{id},
	}, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GetTeam fetches one team by id.
func (c *Client) GetTeam(ctx context.Context, id string) (*auth.Team, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: team id is required", ErrInvalidInput)
	}
	var team auth.Team
	err := c.getJSON(ctx, requestConfig{
		operation:  "get_team",
		path:       "/teams/%s",
		pathParams: []string{id},
	}, &team)
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// ListReports lists reports matching filter. Order is whatever the API returns.
func (c *Client) ListReports(ctx context.Context, filter ReportFilter) ([]auth.Report, error) {
	q := url.Values{}
	if filter.TeamID != "" {
		q.Set("team_id", filter.TeamID)
	}
	if filter.SluglifiedName != "" {
		q.Set("sluglified_name", filter.SluglifiedName)
	}
	var reports []auth.Report
	err := c.getJSON(ctx, requestConfig{
		operation: "list_reports",
		path:      "/reports",
		query:     q,
	}, &reports)
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// GetPublicSettings returns the settings readable without a credential.
func (c *Client) GetPublicSettings(ctx context.Context) ([]PublicSetting, error) {
	var settings []PublicSetting
	err := c.getJSON(ctx, requestConfig{
		operation: "get_public_settings",
		path:      "/public-settings",
	}, &settings)
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// LookupSetting returns the value for key, or "" when absent.
func LookupSetting(settings []PublicSetting, key string) string {
	for _, s := range settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
