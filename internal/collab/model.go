package collab

import (
	"context"
	"encoding/json"
	"time"
)

// Document is the system-of-record row held by the Document Store. The
// subsystem only ever caches a working copy of Content per session.
type Document struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	OwnerID   string          `json:"owner_id"`
	Content   json.RawMessage `json:"content"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Collaborator is a (document, user, role) assignment. The owner is never
// listed here; owner role is derived from Document.OwnerID.
type Collaborator struct {
	DocID   string    `json:"document_id"`
	UserID  string    `json:"user_id"`
	Role    Role      `json:"role"`
	AddedAt time.Time `json:"added_at"`
}

// PresenceEntry is one connected session on a document. The same user in
// two tabs yields two entries with distinct session ids.
type PresenceEntry struct {
	DocID       string    `json:"document_id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// UpdateMessage is a content snapshot in flight between sessions. It is
// never persisted; saves go through the Document Store explicitly.
type UpdateMessage struct {
	DocID     string          `json:"document_id"`
	SessionID string          `json:"session_id"`
	Content   json.RawMessage `json:"content"`
	Seq       uint64          `json:"seq"`
}

// HistoryEntry is one saved snapshot. Append-only, immutable once written.
type HistoryEntry struct {
	ID        string          `json:"id"`
	DocID     string          `json:"document_id"`
	AuthorID  string          `json:"author_id"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// DocumentStore persists document content. Load returns ErrDocumentNotFound
// for unknown ids; Store treats each call as an independent transaction.
type DocumentStore interface {
	Load(ctx context.Context, docID string) (*Document, error)
	Store(ctx context.Context, docID string, content json.RawMessage) error
}

// PermissionDirectory holds collaborator role assignments. GetRole returns
// RoleNone (and no error) when the user is not listed.
type PermissionDirectory interface {
	GetRole(ctx context.Context, docID, userID string) (Role, error)
	ListCollaborators(ctx context.Context, docID string) ([]Collaborator, error)
	UpsertCollaborator(ctx context.Context, c Collaborator) error
	DeleteCollaborator(ctx context.Context, docID, userID string) error
}

// HistorySink is the append-only audit log of saved snapshots.
type HistorySink interface {
	Append(ctx context.Context, entry HistoryEntry) error
	// List returns entries newest-first. A non-positive limit returns all
	// entries past offset.
	List(ctx context.Context, docID string, limit, offset int) ([]HistoryEntry, error)
}
