package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"coscribe/internal/collab"
	"coscribe/pkg/logger"
)

// Postgres backs the Document Store, Permission Directory, and History Sink
// with a single Postgres database.
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

// CreateDocument inserts a new document row owned by ownerID.
func (p *Postgres) CreateDocument(ctx context.Context, doc collab.Document) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO documents (id, title, owner_id, content, updated_at) VALUES ($1, $2, $3, $4, NOW())`,
		doc.ID, doc.Title, doc.OwnerID, string(doc.Content))
	if err != nil {
		logger.Sugar.Errorf("Failed to create document %s: %v", doc.ID, err)
	}
	return err
}

func (p *Postgres) Load(ctx context.Context, docID string) (*collab.Document, error) {
	var doc collab.Document
	var content string
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, title, owner_id, content, updated_at FROM documents WHERE id = $1`, docID).
		Scan(&doc.ID, &doc.Title, &doc.OwnerID, &content, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, collab.ErrDocumentNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to load document %s: %v", docID, err)
		return nil, err
	}
	doc.Content = json.RawMessage(content)
	return &doc, nil
}

func (p *Postgres) Store(ctx context.Context, docID string, content json.RawMessage) error {
	result, err := p.DB.ExecContext(ctx,
		`UPDATE documents SET content = $1, updated_at = NOW() WHERE id = $2`, string(content), docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to store content for doc %s: %v", docID, err)
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return collab.ErrDocumentNotFound
	}
	return nil
}

func (p *Postgres) GetRole(ctx context.Context, docID, userID string) (collab.Role, error) {
	var role string
	err := p.DB.QueryRowContext(ctx,
		`SELECT role FROM collaborators WHERE document_id = $1 AND user_id = $2`, docID, userID).
		Scan(&role)
	if err == sql.ErrNoRows {
		return collab.RoleNone, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get role for user %s on doc %s: %v", userID, docID, err)
		return collab.RoleNone, err
	}
	return collab.Role(role), nil
}

func (p *Postgres) ListCollaborators(ctx context.Context, docID string) ([]collab.Collaborator, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT document_id, user_id, role, added_at FROM collaborators WHERE document_id = $1 ORDER BY added_at ASC`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list collaborators for doc %s: %v", docID, err)
		return nil, err
	}
	defer rows.Close()

	var out []collab.Collaborator
	for rows.Next() {
		var c collab.Collaborator
		var role string
		if err := rows.Scan(&c.DocID, &c.UserID, &role, &c.AddedAt); err != nil {
			return nil, err
		}
		c.Role = collab.Role(role)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertCollaborator(ctx context.Context, c collab.Collaborator) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO collaborators (document_id, user_id, role, added_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role = $3`,
		c.DocID, c.UserID, string(c.Role), c.AddedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to upsert collaborator %s on doc %s: %v", c.UserID, c.DocID, err)
	}
	return err
}

func (p *Postgres) DeleteCollaborator(ctx context.Context, docID, userID string) error {
	_, err := p.DB.ExecContext(ctx,
		`DELETE FROM collaborators WHERE document_id = $1 AND user_id = $2`, docID, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete collaborator %s on doc %s: %v", userID, docID, err)
	}
	return err
}

func (p *Postgres) Append(ctx context.Context, entry collab.HistoryEntry) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO document_history (id, document_id, author_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.DocID, entry.AuthorID, string(entry.Content), entry.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to append history for doc %s: %v", entry.DocID, err)
	}
	return err
}

func (p *Postgres) List(ctx context.Context, docID string, limit, offset int) ([]collab.HistoryEntry, error) {
	query := `SELECT id, document_id, author_id, content, created_at FROM document_history
		WHERE document_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	args := []any{docID, limit, offset}
	if limit <= 0 {
		// Non-positive limit means all entries, matching the in-memory sink.
		query = `SELECT id, document_id, author_id, content, created_at FROM document_history
		WHERE document_id = $1 ORDER BY created_at DESC, id DESC OFFSET $2`
		args = []any{docID, offset}
	}
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to list history for doc %s: %v", docID, err)
		return nil, err
	}
	defer rows.Close()

	var out []collab.HistoryEntry
	for rows.Next() {
		var e collab.HistoryEntry
		var content string
		var created time.Time
		if err := rows.Scan(&e.ID, &e.DocID, &e.AuthorID, &content, &created); err != nil {
			return nil, err
		}
		e.Content = json.RawMessage(content)
		e.CreatedAt = created
		out = append(out, e)
	}
	return out, rows.Err()
}
