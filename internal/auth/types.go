package auth

import "time"

// DownloadPolicy controls who may download report files.
type DownloadPolicy string

const (
	DownloadAll         DownloadPolicy = "all"
	DownloadOnlyMembers DownloadPolicy = "only_members"
	DownloadNone        DownloadPolicy = "none"
	// DownloadInherited is only meaningful on teams and defers to the organization.
	DownloadInherited DownloadPolicy = "inherited"
)

// Organization is the top-level tenant a user browses.
type Organization struct {
	ID             string         `json:"id"`
	SluglifiedName string         `json:"sluglified_name"`
	DisplayName    string         `json:"display_name"`
	AllowDownload  DownloadPolicy `json:"allow_download"`
}

// Team (channel) groups reports inside an organization.
type Team struct {
	ID             string         `json:"id"`
	SluglifiedName string         `json:"sluglified_name"`
	DisplayName    string         `json:"display_name"`
	OrganizationID string         `json:"organization_id"`
	AllowDownload  DownloadPolicy `json:"allow_download"`
	Visibility     string         `json:"visibility,omitempty"`
}

// Report is a published document or notebook owned by a team.
type Report struct {
	ID             string    `json:"id"`
	SluglifiedName string    `json:"sluglified_name"`
	Name           string    `json:"name"`
	TeamID         string    `json:"team_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CurrentUser is the identity carried by the credential payload.
type CurrentUser struct {
	Username       string    `json:"username"`
	ShowOnboarding bool      `json:"show_onboarding"`
	Issuer         string    `json:"issuer,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}
