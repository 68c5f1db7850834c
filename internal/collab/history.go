package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Recorder appends saved snapshots to the history sink. Entries are
// immutable once written; ids are ULIDs so they sort by creation time.
type Recorder struct {
	sink HistorySink
}

func NewRecorder(sink HistorySink) *Recorder {
	return &Recorder{sink: sink}
}

// Append writes one history entry. On sink failure nothing is written and
// the error wraps ErrPersistenceUnavailable.
func (r *Recorder) Append(ctx context.Context, docID, userID string, content json.RawMessage) (*HistoryEntry, error) {
	entry := HistoryEntry{
		ID:        ulid.Make().String(),
		DocID:     docID,
		AuthorID:  userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.sink.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return &entry, nil
}

// List returns history entries newest-first.
func (r *Recorder) List(ctx context.Context, docID string, limit, offset int) ([]HistoryEntry, error) {
	return r.sink.List(ctx, docID, limit, offset)
}
