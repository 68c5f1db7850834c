package collab

import (
	"context"
	"sync"
	"time"

	"coscribe/pkg/logger"
)

// presenceRecord pairs an entry with its liveness clock. remote marks
// entries owned by a peer process, learned over the fan-out.
type presenceRecord struct {
	entry    PresenceEntry
	lastSeen time.Time
	remote   bool
}

// Tracker maintains who is currently connected to each document and emits
// presence.joined / presence.left events over the document's channel.
// Entries that miss heartbeats past the liveness timeout are evicted so an
// abrupt disconnect cannot leave a ghost in the presence list.
//
// When a fan-out is attached, the tracker also mirrors sessions owned by
// peer processes: relayed joins and heartbeats add and refresh remote
// entries, so List and the join snapshot cover every process. Remote
// entries that stop heartbeating (their process died) are dropped locally
// without involving the session coordinator.
type Tracker struct {
	mu      sync.Mutex
	byDoc   map[string]map[string]*presenceRecord // docID -> sessionID -> record
	reg     *Registry
	timeout time.Duration

	// onEvict runs (on its own goroutine) for each timed-out session.
	onEvict func(docID, sessionID string)

	stop chan struct{}
	once sync.Once
}

// NewTracker creates a presence tracker publishing over reg. timeout is how
// long a session may go without a heartbeat before it is treated as
// disconnected.
func NewTracker(reg *Registry, timeout time.Duration) *Tracker {
	return &Tracker{
		byDoc:   make(map[string]map[string]*presenceRecord),
		reg:     reg,
		timeout: timeout,
		stop:    make(chan struct{}),
	}
}

// SetEvictFunc registers the hook run when a session times out. Must be
// called before Start.
func (t *Tracker) SetEvictFunc(fn func(docID, sessionID string)) { t.onEvict = fn }

// Start launches the liveness sweeper. Stop with Stop.
func (t *Tracker) Start() {
	go t.sweep()
}

// Stop halts the sweeper. Idempotent.
func (t *Tracker) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Join registers a session and returns the full presence set for the
// document, the new entry included. Everyone else on the channel receives a
// presence.joined event.
func (t *Tracker) Join(ctx context.Context, docID, sessionID, userID, displayName string) []PresenceEntry {
	entry := PresenceEntry{
		DocID:       docID,
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    time.Now().UTC(),
	}

	t.mu.Lock()
	doc := t.byDoc[docID]
	if doc == nil {
		doc = make(map[string]*presenceRecord)
		t.byDoc[docID] = doc
	}
	doc[sessionID] = &presenceRecord{entry: entry, lastSeen: time.Now()}
	set := snapshotPresence(doc)
	t.mu.Unlock()

	t.reg.Publish(ctx, Event{
		Type:            EventPresenceJoined,
		DocID:           docID,
		OriginSessionID: sessionID,
		Entry:           &entry,
	})
	return set
}

// Leave removes the session's entry and notifies the remaining sessions.
// Unknown (or already removed) sessions are a no-op, so a double close never
// emits a duplicate presence.left.
func (t *Tracker) Leave(ctx context.Context, docID, sessionID string) {
	t.mu.Lock()
	doc := t.byDoc[docID]
	rec, ok := doc[sessionID]
	if ok {
		delete(doc, sessionID)
		if len(doc) == 0 {
			delete(t.byDoc, docID)
		}
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	t.reg.Publish(ctx, Event{
		Type:            EventPresenceLeft,
		DocID:           docID,
		OriginSessionID: sessionID,
		Entry:           &rec.entry,
	})
}

// Heartbeat refreshes the session's liveness clock. Local heartbeats are
// relayed over the fan-out so peer processes keep the entry alive too; the
// entry rides along so a process that started after the join can still
// build a full roster.
func (t *Tracker) Heartbeat(docID, sessionID string) {
	t.mu.Lock()
	rec, ok := t.byDoc[docID][sessionID]
	var entry PresenceEntry
	relay := false
	if ok {
		rec.lastSeen = time.Now()
		entry = rec.entry
		relay = !rec.remote
	}
	t.mu.Unlock()

	if relay {
		t.reg.relay(context.Background(), Event{
			Type:            EventPresenceHeartbeat,
			DocID:           docID,
			OriginSessionID: sessionID,
			Entry:           &entry,
		})
	}
}

// applyRemoteJoin mirrors a session joined on a peer process. No event is
// published; the origin already broadcast presence.joined.
func (t *Tracker) applyRemoteJoin(entry PresenceEntry) {
	t.upsertRemote(entry)
}

// applyRemoteHeartbeat refreshes a remote entry's liveness clock. Upserting
// rather than updating lets a process that missed the join converge on the
// next heartbeat.
func (t *Tracker) applyRemoteHeartbeat(entry PresenceEntry) {
	t.upsertRemote(entry)
}

func (t *Tracker) upsertRemote(entry PresenceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.byDoc[entry.DocID]
	if doc == nil {
		doc = make(map[string]*presenceRecord)
		t.byDoc[entry.DocID] = doc
	}
	if rec, ok := doc[entry.SessionID]; ok {
		rec.lastSeen = time.Now()
		return
	}
	doc[entry.SessionID] = &presenceRecord{entry: entry, lastSeen: time.Now(), remote: true}
}

// applyRemoteLeave drops a session that left on a peer process. Silent: the
// origin's presence.left is relayed to subscribers separately. Reports
// whether an entry was actually removed.
func (t *Tracker) applyRemoteLeave(docID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.byDoc[docID]
	if rec, ok := doc[sessionID]; !ok || !rec.remote {
		return false
	}
	delete(doc, sessionID)
	if len(doc) == 0 {
		delete(t.byDoc, docID)
	}
	return true
}

// List returns the current presence set for a document.
func (t *Tracker) List(docID string) []PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshotPresence(t.byDoc[docID])
}

func snapshotPresence(doc map[string]*presenceRecord) []PresenceEntry {
	set := make([]PresenceEntry, 0, len(doc))
	for _, rec := range doc {
		set = append(set, rec.entry)
	}
	return set
}

func (t *Tracker) sweep() {
	interval := t.timeout / 2
	if interval < time.Second {
		interval = t.timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.evictStale()
		}
	}
}

func (t *Tracker) evictStale() {
	cutoff := time.Now().Add(-t.timeout)

	type stale struct {
		entry  PresenceEntry
		remote bool
	}
	var expired []stale

	t.mu.Lock()
	for _, doc := range t.byDoc {
		for _, rec := range doc {
			if rec.lastSeen.Before(cutoff) {
				expired = append(expired, stale{entry: rec.entry, remote: rec.remote})
			}
		}
	}
	t.mu.Unlock()

	for _, s := range expired {
		logger.Sugar.Infof("presence timeout for session %s on doc %s", s.entry.SessionID, s.entry.DocID)
		if s.remote {
			// The owning process is gone. Drop the mirror and tell local
			// subscribers only; relaying would duplicate the left event on
			// every surviving process.
			t.dropRemoteGhost(s.entry)
			continue
		}
		t.Leave(context.Background(), s.entry.DocID, s.entry.SessionID)
		if t.onEvict != nil {
			go t.onEvict(s.entry.DocID, s.entry.SessionID)
		}
	}
}

func (t *Tracker) dropRemoteGhost(entry PresenceEntry) {
	if !t.applyRemoteLeave(entry.DocID, entry.SessionID) {
		return
	}
	t.reg.injectRemote(Event{
		Type:            EventPresenceLeft,
		DocID:           entry.DocID,
		OriginSessionID: entry.SessionID,
		Entry:           &entry,
	})
}
