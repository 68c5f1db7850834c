package router

import (
	"net/http"

	"coscribe/handler"
	"coscribe/internal/collab"
	"coscribe/middleware"
	"coscribe/socket"
)

func Setup(coord *collab.Coordinator, docs handler.DocumentCreator) http.Handler {
	mux := http.NewServeMux()

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(middleware.UserIDKey).(string)
		socket.ServeWs(coord, w, r, userID)
	})
	mux.Handle("/ws", middleware.AuthMiddleware(wsHandler))

	// REST API
	h := handler.NewCollabHandler(coord, docs)
	auth := middleware.AuthMiddleware

	mux.Handle("/api/documents/create", auth(http.HandlerFunc(h.CreateDocument)))
	mux.Handle("/api/documents/collaborators/add", auth(http.HandlerFunc(h.AddCollaborator)))
	mux.Handle("/api/documents/collaborators/role", auth(http.HandlerFunc(h.ChangeCollaboratorRole)))
	mux.Handle("/api/documents/collaborators/remove", auth(http.HandlerFunc(h.RemoveCollaborator)))
	mux.Handle("/api/documents/collaborators", auth(http.HandlerFunc(h.ListCollaborators)))
	mux.Handle("/api/documents/history", auth(http.HandlerFunc(h.GetHistory)))
	mux.Handle("/api/documents/presence", auth(http.HandlerFunc(h.GetPresence)))

	return middleware.CORSMiddleware(mux)
}
