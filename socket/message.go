package socket

import (
	"encoding/json"
	"errors"

	"coscribe/internal/collab"
)

// Inbound message types. Outbound traffic is collab.Event plus ErrorMessage.
const (
	TypeContentUpdate = "content.update"
	TypeSave          = "content.save"
	TypeHeartbeat     = "presence.heartbeat"
)

// ClientMessage is what a connected editor sends over the websocket.
type ClientMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ErrorMessage is the typed failure surface pushed to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorFrame(err error) []byte {
	msg := ErrorMessage{Type: "error", Code: errorCode(err), Message: err.Error()}
	b, _ := json.Marshal(msg)
	return b
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, collab.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, collab.ErrReadOnly):
		return "read_only_violation"
	case errors.Is(err, collab.ErrPersistenceUnavailable):
		return "persistence_unavailable"
	case errors.Is(err, collab.ErrForbidden):
		return "forbidden"
	case errors.Is(err, collab.ErrDuplicateCollaborator):
		return "duplicate_collaborator"
	case errors.Is(err, collab.ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, collab.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, collab.ErrDocumentNotFound):
		return "document_not_found"
	default:
		return "internal"
	}
}
