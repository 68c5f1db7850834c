package socket

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"coscribe/internal/collab"
	"coscribe/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The editor frontend runs on a different origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWs opens a collab session for the authenticated user and upgrades the
// request to a websocket. Users without a role on the document are rejected
// before the upgrade and no presence entry is created.
func ServeWs(coord *collab.Coordinator, w http.ResponseWriter, r *http.Request, userID string) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}
	displayName := r.URL.Query().Get("name")
	if displayName == "" {
		displayName = userID
	}

	session, err := coord.Open(r.Context(), docID, userID, displayName)
	if err != nil {
		switch {
		case errors.Is(err, collab.ErrAccessDenied):
			http.Error(w, "Access denied", http.StatusForbidden)
		case errors.Is(err, collab.ErrDocumentNotFound):
			http.Error(w, "Document not found", http.StatusNotFound)
		default:
			logger.Sugar.Errorf("failed to open session on doc %s: %v", docID, err)
			http.Error(w, "Failed to open session", http.StatusInternalServerError)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Errorf("websocket upgrade failed: %v", err)
		coord.Close(r.Context(), session)
		return
	}

	client := newClient(conn, coord, session)

	// Seed the editor with the content loaded at open. Presence.sync and
	// everything after flow through the session event stream. Written here,
	// before the pumps start, so it is guaranteed to be the first frame.
	initial, _ := json.Marshal(collab.Event{
		Type:  collab.EventContentUpdate,
		DocID: docID,
		Update: &collab.UpdateMessage{
			DocID:   docID,
			Content: session.Content(),
		},
	})
	if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
		logger.Sugar.Errorf("failed to write initial content on session %s: %v", session.ID, err)
		coord.Close(r.Context(), session)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
