package auth

import (
	"fmt"
	"strings"
)

// Capability is a permission code a user may hold on an organization or team.
// Capabilities compare by exact string match and have no hierarchy among themselves.
type Capability string

const (
	CapOrganizationEdit   Capability = "organization.edit"
	CapOrganizationDelete Capability = "organization.delete"
	CapOrganizationRead   Capability = "organization.read"

	CapTeamCreate Capability = "team.create"
	CapTeamEdit   Capability = "team.edit"
	CapTeamDelete Capability = "team.delete"
	CapTeamRead   Capability = "team.read"

	CapReportCreate    Capability = "report.create"
	CapReportEdit      Capability = "report.edit"
	CapReportDelete    Capability = "report.delete"
	CapReportRead      Capability = "report.read"
	CapReportGlobalPin Capability = "report.global_pin"

	CapCommentCreate Capability = "comment.create"
	CapCommentEdit   Capability = "comment.edit"
	CapCommentDelete Capability = "comment.delete"

	CapInlineCommentCreate Capability = "inline_comment.create"
)

// CapabilityInfo describes a catalog entry.
type CapabilityInfo struct {
	Key         Capability
	Description string
}

var BuiltinCapabilities = []CapabilityInfo{
	{Key: CapOrganizationEdit, Description: "Edit organization settings"},
	{Key: CapOrganizationDelete, Description: "Delete the organization"},
	{Key: CapOrganizationRead, Description: "View the organization"},
	{Key: CapTeamCreate, Description: "Create channels"},
	{Key: CapTeamEdit, Description: "Edit channel settings"},
	{Key: CapTeamDelete, Description: "Delete channels"},
	{Key: CapTeamRead, Description: "View channels"},
	{Key: CapReportCreate, Description: "Publish reports"},
	{Key: CapReportEdit, Description: "Edit reports"},
	{Key: CapReportDelete, Description: "Delete reports"},
	{Key: CapReportRead, Description: "Read reports"},
	{Key: CapReportGlobalPin, Description: "Pin reports for every member"},
	{Key: CapCommentCreate, Description: "Comment on reports"},
	{Key: CapCommentEdit, Description: "Edit any comment"},
	{Key: CapCommentDelete, Description: "Delete any comment"},
	{Key: CapInlineCommentCreate, Description: "Comment on report lines"},
}

var knownCapabilities = func() map[Capability]struct{} {
	set := make(map[Capability]struct{}, len(BuiltinCapabilities))
	for _, c := range BuiltinCapabilities {
		set[c.Key] = struct{}{}
	}
	return set
}()

// Known reports whether c belongs to the catalog.
func (c Capability) Known() bool {
	_, ok := knownCapabilities[c]
	return ok
}

// ParseCapability trims raw and checks it against the catalog.
func ParseCapability(raw string) (Capability, error) {
	c := Capability(strings.TrimSpace(raw))
	if !c.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, raw)
	}
	return c, nil
}

func containsCapability(list []Capability, c Capability) bool {
	for _, have := range list {
		if have == c {
			return true
		}
	}
	return false
}
