package collab

import "errors"

// Sentinel errors surfaced to callers. The HTTP and websocket layers map
// these to status codes / typed error events.
var (
	// ErrAccessDenied is returned by Open when the user has no role on the document.
	ErrAccessDenied = errors.New("access denied")

	// ErrReadOnly is returned when a Viewer (or roleless) session attempts a write.
	ErrReadOnly = errors.New("read-only session cannot modify document")

	// ErrPersistenceUnavailable wraps Document Store / History Sink failures during save.
	// The session's in-memory content is left untouched so the caller can retry.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrForbidden is returned when a non-owner attempts collaborator management.
	ErrForbidden = errors.New("only the document owner can manage collaborators")

	// ErrDuplicateCollaborator is returned when the target user already has a
	// role on the document, the owner included.
	ErrDuplicateCollaborator = errors.New("user already has a role on this document")

	// ErrInvalidRole is returned for roles outside {editor, viewer}.
	ErrInvalidRole = errors.New("invalid collaborator role")

	// ErrSessionClosed is returned by operations on a session after Close.
	ErrSessionClosed = errors.New("session is closed")

	// ErrDocumentNotFound is returned when the Document Store has no such document.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrCollaboratorNotFound is returned when changing or removing a
	// collaborator that is not listed on the document.
	ErrCollaboratorNotFound = errors.New("collaborator not found")
)
