package auth

import "sort"

// Capability is an atomic permission identifier such as "content.upload".
type Capability string

const (
	CapContentUpload Capability = "content.upload"
	CapContentEdit   Capability = "content.edit"
	CapContentDelete Capability = "content.delete"
	CapCourseManage  Capability = "course.manage"
	CapCourseEnroll  Capability = "course.enroll"
	CapReportView    Capability = "report.view"
	CapUserManage    Capability = "user.manage"
	CapRoleManage    Capability = "role.manage"
)

// System role names seeded by migrations.
const (
	RoleAdmin      = "admin"
	RoleInstructor = "instructor"
	RoleLearner    = "learner"
)

var BuiltinPermissions = []Permission{
	{Key: string(CapContentUpload), Description: "Upload course content"},
	{Key: string(CapContentEdit), Description: "Edit course content"},
	{Key: string(CapContentDelete), Description: "Delete course content"},
	{Key: string(CapCourseManage), Description: "Create and manage courses"},
	{Key: string(CapCourseEnroll), Description: "Enroll in courses"},
	{Key: string(CapReportView), Description: "View progress reports"},
	{Key: string(CapUserManage), Description: "Provision users"},
	{Key: string(CapRoleManage), Description: "Manage roles and grants"},
}

// CapabilitySet is an immutable set of capabilities granted to a role.
type CapabilitySet struct {
	caps map[Capability]struct{}
}

// NewCapabilitySet builds a set from permission keys, dropping duplicates.
func NewCapabilitySet(keys ...string) CapabilitySet {
	set := make(map[Capability]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		set[Capability(k)] = struct{}{}
	}
	return CapabilitySet{caps: set}
}

// Has reports whether c is granted.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s.caps[c]
	return ok
}

// Len returns the number of granted capabilities.
func (s CapabilitySet) Len() int { return len(s.caps) }

// Keys returns the sorted capability identifiers.
func (s CapabilitySet) Keys() []string {
	out := make([]string, 0, len(s.caps))
	for k := range s.caps {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
