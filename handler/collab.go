package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"coscribe/internal/collab"
	"coscribe/middleware"
	"coscribe/pkg/logger"
)

// DocumentCreator is the slice of the store the handler needs beyond the
// coordinator: creating the document row itself.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, doc collab.Document) error
}

type CollabHandler struct {
	Coordinator *collab.Coordinator
	Documents   DocumentCreator
}

func NewCollabHandler(coord *collab.Coordinator, docs DocumentCreator) *CollabHandler {
	return &CollabHandler{Coordinator: coord, Documents: docs}
}

type CreateDocRequest struct {
	Title string `json:"title"`
}

type CreateDocResponse struct {
	DocID string `json:"document_id"`
}

type CollaboratorRequest struct {
	DocID  string `json:"document_id"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *CollabHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	var req CreateDocRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // Ignore error, default to empty
	if req.Title == "" {
		req.Title = "Untitled Document"
	}

	doc := collab.Document{
		ID:      uuid.NewString(),
		Title:   req.Title,
		OwnerID: userID,
		Content: json.RawMessage(`{"ops":[]}`),
	}
	if err := h.Documents.CreateDocument(r.Context(), doc); err != nil {
		logger.Sugar.Errorf("Failed to create document: %v", err)
		http.Error(w, "Failed to create document", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CreateDocResponse{DocID: doc.ID})
}

func (h *CollabHandler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CollaboratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocID == "" || req.UserID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	c, err := h.Coordinator.Authority().AddCollaborator(r.Context(), req.DocID, userID, req.UserID, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

func (h *CollabHandler) ChangeCollaboratorRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CollaboratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocID == "" || req.UserID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	c, err := h.Coordinator.Authority().ChangeRole(r.Context(), req.DocID, userID, req.UserID, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

func (h *CollabHandler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("docId")
	targetID := r.URL.Query().Get("userId")
	if docID == "" || targetID == "" {
		http.Error(w, "Missing docId or userId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Coordinator.Authority().RemoveCollaborator(r.Context(), docID, userID, targetID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Collaborator removed"))
}

func (h *CollabHandler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	collaborators, err := h.Coordinator.Authority().ListCollaborators(r.Context(), docID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if collaborators == nil {
		collaborators = []collab.Collaborator{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(collaborators)
}

func (h *CollabHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	userID := r.Context().Value(middleware.UserIDKey).(string)

	entries, err := h.Coordinator.History(r.Context(), docID, userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []collab.HistoryEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *CollabHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Coordinator.Presence(docID))
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collab.ErrInvalidRole):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, collab.ErrForbidden), errors.Is(err, collab.ErrAccessDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, collab.ErrDocumentNotFound), errors.Is(err, collab.ErrCollaboratorNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, collab.ErrDuplicateCollaborator):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, collab.ErrPersistenceUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		logger.Sugar.Errorf("unexpected error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
