package collab

// EventType names the messages on a document channel and on the
// client-facing event surface.
type EventType string

const (
	EventPresenceSync   EventType = "presence.sync"
	EventPresenceJoined EventType = "presence.joined"
	EventPresenceLeft   EventType = "presence.left"
	EventContentUpdate  EventType = "content.update"
	EventSaveAck        EventType = "content.save.ack"

	// EventPresenceHeartbeat travels only between processes over the
	// fan-out, keeping remote presence entries alive. It is never delivered
	// to subscribers.
	EventPresenceHeartbeat EventType = "presence.heartbeat"
)

// Event is the single envelope relayed over a document's broadcast channel
// and forwarded to client transports. Exactly one of the payload fields is
// set, matching Type.
type Event struct {
	Type  EventType `json:"type"`
	DocID string    `json:"document_id"`
	// OriginSessionID is the publishing session; the channel never delivers
	// an event back to its origin.
	OriginSessionID string `json:"origin_session_id,omitempty"`

	Presence []PresenceEntry `json:"presence,omitempty"` // presence.sync
	Entry    *PresenceEntry  `json:"entry,omitempty"`    // presence.joined / presence.left
	Update   *UpdateMessage  `json:"update,omitempty"`   // content.update
	Ack      *SaveAck        `json:"ack,omitempty"`      // content.save.ack
}

// SaveAck acknowledges a successful save to the session that issued it.
type SaveAck struct {
	HistoryID string `json:"history_id"`
	SavedAt   string `json:"saved_at"`
}
