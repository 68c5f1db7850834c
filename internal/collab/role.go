package collab

// Role is a user's relationship to a single document. Owner is derived from
// the document row, never stored as a collaborator; Editor and Viewer come
// from the collaborators table. RoleNone means no relationship at all.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = "none"
)

// ParseCollaboratorRole validates a role supplied by a management caller.
// Only editor and viewer are assignable; owner is implicit.
func ParseCollaboratorRole(s string) (Role, error) {
	switch Role(s) {
	case RoleEditor, RoleViewer:
		return Role(s), nil
	default:
		return RoleNone, ErrInvalidRole
	}
}

// CanWrite reports whether the role may modify and save document content.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleEditor
}

// CanManageCollaborators reports whether the role may add, remove, or
// re-role collaborators. Owner only.
func (r Role) CanManageCollaborators() bool {
	return r == RoleOwner
}
