package server

// Permissions evaluates profile-scoped access. The superuser group
// bypasses every check.
type Permissions struct {
	SuperuserGroup string
}

// Has reports whether a caller with userGroups may operate on a
// profile permitting permittedGroups: true for superusers, otherwise
// true iff the two sets intersect. An empty permitted set denies
// everyone but superusers.
func (p Permissions) Has(userGroups, permittedGroups []string) bool {
	if p.IsSuperuser(userGroups) {
		return true
	}
	for _, g := range userGroups {
		for _, allowed := range permittedGroups {
			if g == allowed {
				return true
			}
		}
	}
	return false
}

// HasAdmin reports whether the user may perform destructive operations
// (removing blobs or their content). It is checked independently of
// Has and is never implied by it.
func (p Permissions) HasAdmin(user User) bool {
	return p.IsSuperuser(user.Groups)
}

// IsSuperuser reports whether the group set carries the superuser
// marker group.
func (p Permissions) IsSuperuser(groups []string) bool {
	if p.SuperuserGroup == "" {
		return false
	}
	for _, g := range groups {
		if g == p.SuperuserGroup {
			return true
		}
	}
	return false
}
