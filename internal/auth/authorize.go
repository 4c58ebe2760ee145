package auth

// HasPermission reports whether the snapshot grants capability in the active
// organization/team. An explicit team grant overrides the organization grant; a team that
// inherits, or has no grant at all, falls back to the organization grant.
func HasPermission(org *Organization, team *Team, snap *Snapshot, capability Capability) bool {
	if org == nil || snap == nil {
		return false
	}
	orgAllowed := false
	if grant, ok := snap.Organization(org.ID); ok {
		orgAllowed = containsCapability(grant.Permissions, capability)
	}
	if team == nil {
		return orgAllowed
	}
	tp, ok := snap.Team(team.ID)
	if !ok {
		return orgAllowed
	}
	switch g := tp.Grant.(type) {
	case ExplicitGrant:
		return containsCapability(g.Permissions, capability)
	case InheritedGrant:
		return orgAllowed
	default:
		return orgAllowed
	}
}

// IsDownloadable applies the download policy of team, or of org when the team inherits.
// ONLY_MEMBERS requires a user and a snapshot grant for the scope the policy came from.
// Unrecognised policies are not downloadable.
func IsDownloadable(snap *Snapshot, org *Organization, team *Team, user *CurrentUser) bool {
	if org == nil || team == nil {
		return false
	}
	if team.AllowDownload == DownloadInherited {
		return evaluateDownload(org.AllowDownload, func() bool {
			_, ok := snap.Organization(org.ID)
			return ok
		}, user)
	}
	return evaluateDownload(team.AllowDownload, func() bool {
		_, ok := snap.Team(team.ID)
		return ok
	}, user)
}

func evaluateDownload(policy DownloadPolicy, member func() bool, user *CurrentUser) bool {
	switch policy {
	case DownloadAll:
		return true
	case DownloadNone:
		return false
	case DownloadOnlyMembers:
		return user != nil && member()
	default:
		return false
	}
}
