package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"quiz-room-sync/internal/app"
)

// RoomLister is the lobby query behind GET /rooms.
type RoomLister interface {
	PublicRooms(ctx context.Context, grade *int) ([]app.LobbyRoom, error)
}

type LobbyHandler struct {
	lobby RoomLister
	log   *zap.Logger
}

func NewLobbyHandler(lobby RoomLister, log *zap.Logger) *LobbyHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &LobbyHandler{lobby: lobby, log: log.Named("lobby_http")}
}

// ServeHTTP lists joinable public rooms, optionally filtered by ?grade=.
func (h *LobbyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var grade *int
	if raw := r.URL.Query().Get("grade"); raw != "" {
		g, err := strconv.Atoi(raw)
		if err != nil || g <= 0 {
			http.Error(w, "invalid grade", http.StatusBadRequest)
			return
		}
		grade = &g
	}

	rooms, err := h.lobby.PublicRooms(r.Context(), grade)
	if err != nil {
		h.log.Warn("list rooms failed", zap.Error(err))
		http.Error(w, "could not list rooms", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Rooms []app.LobbyRoom `json:"rooms"`
	}{rooms})
}
