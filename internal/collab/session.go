package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"coscribe/pkg/logger"
)

const sessionEventBuffer = 64

// Session is one user's live connection to a document. Its content copy is
// owned exclusively by the session; peers influence it only through
// broadcast updates applied by the coordinator.
type Session struct {
	ID          string
	DocID       string
	UserID      string
	DisplayName string

	role  Role
	coord *Coordinator
	sub   *Subscription

	mu      sync.Mutex
	content json.RawMessage
	seq     uint64
	closed  bool

	events chan Event
	done   chan struct{}
}

// Events is the outbound stream a transport forwards to the client:
// presence.sync on open, then presence deltas, peer content updates, and
// save acks.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Role returns the role resolved at open. Fixed for the session's lifetime.
func (s *Session) Role() Role { return s.role }

// Content returns the session's current working copy.
func (s *Session) Content() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Coordinator ties sessions to the document store, permission authority,
// presence tracker, broadcast registry, and history recorder. It is the
// surface application code talks to.
type Coordinator struct {
	store    DocumentStore
	auth     *Authority
	presence *Tracker
	reg      *Registry
	history  *Recorder

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewCoordinator(store DocumentStore, auth *Authority, presence *Tracker, reg *Registry, history *Recorder) *Coordinator {
	c := &Coordinator{
		store:    store,
		auth:     auth,
		presence: presence,
		reg:      reg,
		history:  history,
		sessions: make(map[string]*Session),
	}
	// A subscriber that errors or falls behind, or a session that stops
	// heartbeating, is cleaned up the same way an explicit close would be.
	reg.SetDeliveryFailureFunc(c.closeStray)
	presence.SetEvictFunc(c.closeStray)
	return c
}

// Open creates a live session on a document: resolves the caller's role,
// loads the current content, subscribes to the document channel, and joins
// presence. Users with no role get ErrAccessDenied and no presence entry.
func (c *Coordinator) Open(ctx context.Context, docID, userID, displayName string) (*Session, error) {
	role, err := c.auth.ResolveRole(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	if role == RoleNone {
		return nil, ErrAccessDenied
	}

	doc, err := c.store.Load(ctx, docID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:          uuid.NewString(),
		DocID:       docID,
		UserID:      userID,
		DisplayName: displayName,
		role:        role,
		coord:       c,
		content:     doc.Content,
		events:      make(chan Event, sessionEventBuffer),
		done:        make(chan struct{}),
	}
	s.sub = c.reg.Subscribe(docID, s.ID, s.deliver)

	set := c.presence.Join(ctx, docID, s.ID, userID, displayName)
	s.pushEvent(Event{Type: EventPresenceSync, DocID: docID, Presence: set})

	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()

	logger.Sugar.Infof("session %s opened on doc %s for user %s (%s)", s.ID, docID, userID, role)
	return s, nil
}

// ApplyLocalEdit replaces the session's working copy with newContent and
// broadcasts it to peers. Viewers get ErrReadOnly and nothing is mutated or
// published.
func (c *Coordinator) ApplyLocalEdit(ctx context.Context, s *Session, newContent json.RawMessage) error {
	if !s.role.CanWrite() {
		return ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.content = newContent
	s.seq++
	msg := UpdateMessage{
		DocID:     s.DocID,
		SessionID: s.ID,
		Content:   newContent,
		Seq:       s.seq,
	}

	// Publish before releasing the lock: concurrent edits on the same
	// session must reach the channel in sequence order.
	c.reg.Publish(ctx, Event{
		Type:            EventContentUpdate,
		DocID:           s.DocID,
		OriginSessionID: s.ID,
		Update:          &msg,
	})
	return nil
}

// Save persists the session's current content through the document store and
// appends a history entry. Save never broadcasts; peers only saw the content
// if it was already published via ApplyLocalEdit. On any persistence failure
// the in-memory content is untouched so the caller can retry.
func (c *Coordinator) Save(ctx context.Context, s *Session) (*HistoryEntry, error) {
	if !s.role.CanWrite() {
		return nil, ErrReadOnly
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	content := s.content
	s.mu.Unlock()

	if err := c.store.Store(ctx, s.DocID, content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	entry, err := c.history.Append(ctx, s.DocID, s.UserID, content)
	if err != nil {
		return nil, err
	}

	s.pushEvent(Event{
		Type:  EventSaveAck,
		DocID: s.DocID,
		Ack: &SaveAck{
			HistoryID: entry.ID,
			SavedAt:   entry.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	return entry, nil
}

// Close tears the session down: delivery stops immediately and the presence
// entry is removed. Safe to call any number of times. An in-flight Save is
// not interrupted; it completes or fails on its own.
func (c *Coordinator) Close(ctx context.Context, s *Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.sub.Unsubscribe()
	c.presence.Leave(ctx, s.DocID, s.ID)

	c.mu.Lock()
	delete(c.sessions, s.ID)
	c.mu.Unlock()

	logger.Sugar.Infof("session %s closed on doc %s", s.ID, s.DocID)
}

// History lists saved snapshots for a document, newest-first. Any user with
// a role on the document may read its history.
func (c *Coordinator) History(ctx context.Context, docID, userID string, limit, offset int) ([]HistoryEntry, error) {
	role, err := c.auth.ResolveRole(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	if role == RoleNone {
		return nil, ErrAccessDenied
	}
	return c.history.List(ctx, docID, limit, offset)
}

// Heartbeat refreshes the session's presence liveness.
func (c *Coordinator) Heartbeat(s *Session) {
	c.presence.Heartbeat(s.DocID, s.ID)
}

// Authority exposes the permission authority for management surfaces.
func (c *Coordinator) Authority() *Authority { return c.auth }

// Presence returns the current presence set for a document.
func (c *Coordinator) Presence(docID string) []PresenceEntry {
	return c.presence.List(docID)
}

// closeStray closes a session whose subscriber failed or whose presence
// timed out. The presence entry may already be gone; Leave is a no-op then.
func (c *Coordinator) closeStray(docID, sessionID string) {
	c.mu.Lock()
	s := c.sessions[sessionID]
	c.mu.Unlock()
	if s == nil || s.DocID != docID {
		return
	}
	c.Close(context.Background(), s)
}

// deliver is the session's channel subscriber. Incoming content updates
// overwrite the working copy unconditionally: last write wins at the
// receiver, no merge. All events are then forwarded to the transport; a
// transport that stops draining is treated as disconnected.
func (s *Session) deliver(ev Event) error {
	if ev.Type == EventContentUpdate && ev.Update != nil {
		s.mu.Lock()
		if !s.closed {
			s.content = ev.Update.Content
		}
		s.mu.Unlock()
	}
	return s.pushEvent(ev)
}

func (s *Session) pushEvent(ev Event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.events <- ev:
		return nil
	default:
		return errors.New("session event buffer full")
	}
}
