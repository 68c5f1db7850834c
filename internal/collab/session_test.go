package collab_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coscribe/internal/collab"
	"coscribe/store"
)

// flakyStore lets tests fail document persistence on demand.
type flakyStore struct {
	*store.Memory
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) Store(ctx context.Context, docID string, content json.RawMessage) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return f.Memory.Store(ctx, docID, content)
}

func newTestCoordinator(t *testing.T, docs collab.DocumentStore, mem *store.Memory) *collab.Coordinator {
	t.Helper()
	reg := collab.NewRegistry(time.Second)
	tracker := collab.NewTracker(reg, time.Minute)
	auth := collab.NewAuthority(docs, mem)
	rec := collab.NewRecorder(mem)
	return collab.NewCoordinator(docs, auth, tracker, reg, rec)
}

func nextEvent(t *testing.T, s *collab.Session, want collab.EventType) collab.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestOpenDeniedForUserWithoutRole(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "alice")
	coord := newTestCoordinator(t, mem, mem)

	_, err := coord.Open(context.Background(), "doc-1", "carol", "Carol")
	assert.ErrorIs(t, err, collab.ErrAccessDenied)
	assert.Empty(t, coord.Presence("doc-1"), "denied open must not create a presence entry")
}

func TestOpenReturnsContentAndPresenceSync(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "alice")
	require.NoError(t, mem.Store(context.Background(), "doc-1", json.RawMessage(`"hello"`)))
	coord := newTestCoordinator(t, mem, mem)

	s, err := coord.Open(context.Background(), "doc-1", "alice", "Alice")
	require.NoError(t, err)
	defer coord.Close(context.Background(), s)

	assert.Equal(t, collab.RoleOwner, s.Role())
	assert.JSONEq(t, `"hello"`, string(s.Content()))

	sync := nextEvent(t, s, collab.EventPresenceSync)
	require.Len(t, sync.Presence, 1)
	assert.Equal(t, "alice", sync.Presence[0].UserID)
}

func TestEditBroadcastAndSaveScenario(t *testing.T) {
	// User A (owner) and user B (editor) both open doc-1. A edits "v1";
	// B receives it and B's save produces a history entry authored by B
	// with content "v1".
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "a")
	coord := newTestCoordinator(t, mem, mem)
	ctx := context.Background()

	_, err := coord.Authority().AddCollaborator(ctx, "doc-1", "a", "b", "editor")
	require.NoError(t, err)

	sa, err := coord.Open(ctx, "doc-1", "a", "User A")
	require.NoError(t, err)
	defer coord.Close(ctx, sa)
	sb, err := coord.Open(ctx, "doc-1", "b", "User B")
	require.NoError(t, err)
	defer coord.Close(ctx, sb)

	require.NoError(t, coord.ApplyLocalEdit(ctx, sa, json.RawMessage(`"v1"`)))

	ev := nextEvent(t, sb, collab.EventContentUpdate)
	assert.JSONEq(t, `"v1"`, string(ev.Update.Content))
	assert.Equal(t, sa.ID, ev.Update.SessionID)
	assert.JSONEq(t, `"v1"`, string(sb.Content()), "remote update must overwrite B's working copy")

	entry, err := coord.Save(ctx, sb)
	require.NoError(t, err)
	assert.Equal(t, "b", entry.AuthorID)
	assert.JSONEq(t, `"v1"`, string(entry.Content))

	history, err := coord.History(ctx, "doc-1", "a", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, entry.ID, history[0].ID, "the save must be the newest history entry")

	ack := nextEvent(t, sb, collab.EventSaveAck)
	assert.Equal(t, entry.ID, ack.Ack.HistoryID)

	doc, err := mem.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.JSONEq(t, `"v1"`, string(doc.Content))
}

func TestSenderDoesNotReceiveOwnUpdate(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "a")
	coord := newTestCoordinator(t, mem, mem)
	ctx := context.Background()

	sa, err := coord.Open(ctx, "doc-1", "a", "User A")
	require.NoError(t, err)
	defer coord.Close(ctx, sa)

	require.NoError(t, coord.ApplyLocalEdit(ctx, sa, json.RawMessage(`"v1"`)))

	// Drain for a moment: only the initial presence.sync may appear.
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-sa.Events():
			assert.NotEqual(t, collab.EventContentUpdate, ev.Type, "session must not receive its own update")
		case <-timeout:
			return
		}
	}
}

func TestConcurrentEditsBroadcastInSequenceOrder(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "a")
	coord := newTestCoordinator(t, mem, mem)
	ctx := context.Background()

	_, err := coord.Authority().AddCollaborator(ctx, "doc-1", "a", "b", "viewer")
	require.NoError(t, err)

	sa, err := coord.Open(ctx, "doc-1", "a", "User A")
	require.NoError(t, err)
	defer coord.Close(ctx, sa)
	sb, err := coord.Open(ctx, "doc-1", "b", "User B")
	require.NoError(t, err)
	defer coord.Close(ctx, sb)

	const edits = 40
	var wg sync.WaitGroup
	for i := 0; i < edits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, coord.ApplyLocalEdit(ctx, sa, json.RawMessage(`"x"`)))
		}()
	}
	wg.Wait()

	var last uint64
	for i := 0; i < edits; i++ {
		ev := nextEvent(t, sb, collab.EventContentUpdate)
		assert.Greater(t, ev.Update.Seq, last, "a newer sequence number must never arrive before an older one")
		last = ev.Update.Seq
	}
	assert.Equal(t, uint64(edits), last)
}

func TestViewerWritesAreRejected(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "a")
	require.NoError(t, mem.Store(context.Background(), "doc-1", json.RawMessage(`"original"`)))
	coord := newTestCoordinator(t, mem, mem)
	ctx := context.Background()

	_, err := coord.Authority().AddCollaborator(ctx, "doc-1", "a", "v", "viewer")
	require.NoError(t, err)

	sa, err := coord.Open(ctx, "doc-1", "a", "User A")
	require.NoError(t, err)
	defer coord.Close(ctx, sa)
	sv, err := coord.Open(ctx, "doc-1", "v", "Viewer")
	require.NoError(t, err)
	defer coord.Close(ctx, sv)

	err = coord.ApplyLocalEdit(ctx, sv, json.RawMessage(`"hijack"`))
	assert.ErrorIs(t, err, collab.ErrReadOnly)
	assert.JSONEq(t, `"original"`, string(sv.Content()), "rejected edit must not mutate the working copy")

	_, err = coord.Save(ctx, sv)
	assert.ErrorIs(t, err, collab.ErrReadOnly)

	doc, err := mem.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.JSONEq(t, `"original"`, string(doc.Content), "stored content must be untouched")

	// No broadcast reached the owner.
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-sa.Events():
			assert.NotEqual(t, collab.EventContentUpdate, ev.Type)
		case <-timeout:
			return
		}
	}
}

func TestSaveFailureLeavesSessionContentForRetry(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem}
	seedDoc(t, mem, "doc-1", "a")
	coord := newTestCoordinator(t, flaky, mem)
	ctx := context.Background()

	s, err := coord.Open(ctx, "doc-1", "a", "User A")
	require.NoError(t, err)
	defer coord.Close(ctx, s)

	require.NoError(t, coord.ApplyLocalEdit(ctx, s, json.RawMessage(`"draft"`)))

	flaky.setFail(true)
	_, err = coord.Save(ctx, s)
	assert.ErrorIs(t, err, collab.ErrPersistenceUnavailable)
	assert.JSONEq(t, `"draft"`, string(s.Content()), "content must survive a failed save")

	flaky.setFail(false)
	entry, err := coord.Save(ctx, s)
	require.NoError(t, err)
	assert.JSONEq(t, `"draft"`, string(entry.Content))
}

func TestCloseIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "a")
	coord := newTestCoordinator(t, mem, mem)
	ctx := context.Background()

	sa, err := coord.Open(ctx, "doc-1", "a", "User A")
	require.NoError(t, err)
	sb, err := coord.Open(ctx, "doc-1", "a", "User A tab 2")
	require.NoError(t, err)
	defer coord.Close(ctx, sb)

	nextEvent(t, sb, collab.EventPresenceSync)

	coord.Close(ctx, sa)
	coord.Close(ctx, sa)

	left := nextEvent(t, sb, collab.EventPresenceLeft)
	assert.Equal(t, sa.ID, left.Entry.SessionID)

	// Exactly one presence.left for the double close.
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-sb.Events():
			assert.NotEqual(t, collab.EventPresenceLeft, ev.Type, "duplicate presence.left after double close")
		case <-timeout:
			assert.Len(t, coord.Presence("doc-1"), 1)
			return
		}
	}
}

func TestClosedSessionReceivesNothing(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "a")
	coord := newTestCoordinator(t, mem, mem)
	ctx := context.Background()

	sa, err := coord.Open(ctx, "doc-1", "a", "User A")
	require.NoError(t, err)
	sb, err := coord.Open(ctx, "doc-1", "a", "User A tab 2")
	require.NoError(t, err)
	defer coord.Close(ctx, sb)

	coord.Close(ctx, sa)
	require.NoError(t, coord.ApplyLocalEdit(ctx, sb, json.RawMessage(`"after-close"`)))

	select {
	case <-sa.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}

	err = coord.ApplyLocalEdit(ctx, sa, json.RawMessage(`"zombie"`))
	assert.ErrorIs(t, err, collab.ErrSessionClosed)
	_, err = coord.Save(ctx, sa)
	assert.ErrorIs(t, err, collab.ErrSessionClosed)
}

func TestRemoteUpdateWinsOverUnsavedLocalEdit(t *testing.T) {
	// Last write wins at the receiver: an incoming update overwrites local
	// content even when the local session has unsaved changes.
	mem := store.NewMemory()
	seedDoc(t, mem, "doc-1", "a")
	coord := newTestCoordinator(t, mem, mem)
	ctx := context.Background()

	_, err := coord.Authority().AddCollaborator(ctx, "doc-1", "a", "b", "editor")
	require.NoError(t, err)

	sa, err := coord.Open(ctx, "doc-1", "a", "User A")
	require.NoError(t, err)
	defer coord.Close(ctx, sa)
	sb, err := coord.Open(ctx, "doc-1", "b", "User B")
	require.NoError(t, err)
	defer coord.Close(ctx, sb)

	require.NoError(t, coord.ApplyLocalEdit(ctx, sb, json.RawMessage(`"b-unsaved"`)))
	require.NoError(t, coord.ApplyLocalEdit(ctx, sa, json.RawMessage(`"a-wins"`)))

	nextEvent(t, sb, collab.EventContentUpdate)
	assert.JSONEq(t, `"a-wins"`, string(sb.Content()))
}
