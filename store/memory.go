package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"coscribe/internal/collab"
)

// Memory is an in-process implementation of the Document Store, Permission
// Directory, and History Sink. Used by tests and single-node demos.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]collab.Document
	roles   map[string]map[string]collab.Collaborator // docID -> userID
	history map[string][]collab.HistoryEntry
}

func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]collab.Document),
		roles:   make(map[string]map[string]collab.Collaborator),
		history: make(map[string][]collab.HistoryEntry),
	}
}

func (m *Memory) CreateDocument(_ context.Context, doc collab.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.UpdatedAt = time.Now().UTC()
	m.docs[doc.ID] = doc
	return nil
}

func (m *Memory) Load(_ context.Context, docID string) (*collab.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return nil, collab.ErrDocumentNotFound
	}
	return &doc, nil
}

func (m *Memory) Store(_ context.Context, docID string, content json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return collab.ErrDocumentNotFound
	}
	doc.Content = content
	doc.UpdatedAt = time.Now().UTC()
	m.docs[docID] = doc
	return nil
}

func (m *Memory) GetRole(_ context.Context, docID, userID string) (collab.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.roles[docID][userID]; ok {
		return c.Role, nil
	}
	return collab.RoleNone, nil
}

func (m *Memory) ListCollaborators(_ context.Context, docID string) ([]collab.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]collab.Collaborator, 0, len(m.roles[docID]))
	for _, c := range m.roles[docID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

func (m *Memory) UpsertCollaborator(_ context.Context, c collab.Collaborator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.roles[c.DocID]
	if doc == nil {
		doc = make(map[string]collab.Collaborator)
		m.roles[c.DocID] = doc
	}
	if prev, ok := doc[c.UserID]; ok {
		c.AddedAt = prev.AddedAt
	}
	doc[c.UserID] = c
	return nil
}

func (m *Memory) DeleteCollaborator(_ context.Context, docID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles[docID], userID)
	return nil
}

func (m *Memory) Append(_ context.Context, entry collab.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[entry.DocID] = append(m.history[entry.DocID], entry)
	return nil
}

func (m *Memory) List(_ context.Context, docID string, limit, offset int) ([]collab.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[docID]

	// Newest first. ULIDs break ties within the same timestamp.
	out := make([]collab.HistoryEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
