package http

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
)

// WSHandler serves the attempt countdown over a websocket. The protocol is
// poll-driven: each client tick gets the remaining seconds recomputed from
// the stored start time, so a reconnecting client always sees the true
// clock. Expiry itself is still only finalized by resume or submit.
type WSHandler struct {
	attempts *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(attempts *app.AttemptService) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type tickRequest struct {
	Type string `json:"type"`
}

type tickResponse struct {
	Type             string `json:"type"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Message          string `json:"message,omitempty"`
}

// ServeTicker upgrades the connection and answers tick messages until the
// attempt expires or the client goes away.
func (h *WSHandler) ServeTicker(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing bearer token")
		return
	}
	quizID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Quiz not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req tickRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Type != "tick" {
			_ = conn.WriteJSON(tickResponse{Type: "error", Message: "unsupported message type"})
			continue
		}

		remaining, err := h.attempts.RemainingSeconds(r.Context(), claims.UserID, quizID)
		switch {
		case err == domain.ErrNoActiveAttempt:
			_ = conn.WriteJSON(tickResponse{Type: "closed", Message: "No active quiz attempt found"})
			return
		case err != nil:
			_ = conn.WriteJSON(tickResponse{Type: "error", Message: "Internal server error"})
			return
		case remaining == 0:
			// The deadline passed; the attempt stays open until a resume or
			// submit finalizes it.
			_ = conn.WriteJSON(tickResponse{Type: "expired", Message: "Quiz time has expired"})
			return
		default:
			_ = conn.WriteJSON(tickResponse{Type: "tick", RemainingSeconds: remaining})
		}
	}
}
