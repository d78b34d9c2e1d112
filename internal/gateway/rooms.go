package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/roomtalk/chat-app/internal/account"
	"github.com/roomtalk/chat-app/internal/metrics"
	"github.com/roomtalk/chat-app/internal/protocol"
	"github.com/roomtalk/chat-app/internal/ratelimit"
	"github.com/roomtalk/chat-app/internal/room"
	"github.com/roomtalk/chat-app/internal/scoring"
)

// routeMux is the slice of http.ServeMux the gateway mounts routes on.
// ws.Server satisfies it.
type routeMux interface {
	Handle(pattern string, handler http.Handler)
}

// RegisterRoutes mounts the room lifecycle endpoints. All of them require a
// bearer token and are rate limited per account.
func (g *Gateway) RegisterRoutes(mux routeMux) {
	mux.Handle("POST /rooms", g.withAccount("create", g.handleCreateRoom))
	mux.Handle("GET /rooms/{id}", g.withAccount("get", g.handleGetRoom))
	mux.Handle("POST /rooms/{id}/join", g.withAccount("join", g.handleJoinRoom))
	mux.Handle("POST /rooms/{id}/leave", g.withAccount("leave", g.handleLeaveRoom))
	mux.Handle("POST /rooms/{id}/close", g.withAccount("close", g.handleCloseRoom))
	mux.Handle("POST /accounts/{id}/thanks", g.withAccount("thanks", g.handleThanks))
}

type accountHandler func(w http.ResponseWriter, r *http.Request, acct *account.Account)

// withAccount authenticates the request, rejects frozen accounts, applies the
// room-operation rate limit, and counts the operation in metrics.
func (g *Gateway) withAccount(operation string, next accountHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token.")
			return
		}
		identity, err := g.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token.")
			return
		}

		ctx := r.Context()
		if frozen, _, err := g.bans.IsFrozen(ctx, identity.AccountID); err == nil && frozen {
			writeError(w, http.StatusForbidden, "frozen", "This account is frozen.")
			return
		}

		acct, err := g.accounts.Get(ctx, identity.AccountID)
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Unknown account.")
			} else {
				log.Printf("gateway: account lookup for %s: %v", identity.AccountID, err)
				writeError(w, http.StatusInternalServerError, "internal", "Something went wrong.")
			}
			return
		}
		if acct.IsBanned {
			writeError(w, http.StatusForbidden, "frozen", "This account is frozen.")
			return
		}

		if allowed, _ := g.limiter.Allow(ctx, acct.ID, ratelimit.RuleRoomOp); !allowed {
			metrics.RoomOperationsTotal.WithLabelValues(operation, "rejected").Inc()
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many room operations. Try again shortly.")
			return
		}

		next(&opRecorder{ResponseWriter: w, operation: operation}, r, acct)
	})
}

// opRecorder labels the room-operation counter from the response status.
type opRecorder struct {
	http.ResponseWriter
	operation string
	counted   bool
}

func (o *opRecorder) WriteHeader(status int) {
	if !o.counted {
		o.counted = true
		result := "ok"
		switch {
		case status == http.StatusConflict:
			result = "conflict"
		case status >= 400:
			result = "error"
		}
		metrics.RoomOperationsTotal.WithLabelValues(o.operation, result).Inc()
	}
	o.ResponseWriter.WriteHeader(status)
}

// -----------------------------------------------------------------------
// handlers
// -----------------------------------------------------------------------

type createRoomRequest struct {
	Name                     string `json:"name"`
	MaxParticipants          int    `json:"max_num_participants"`
	IsPrivate                bool   `json:"is_private"`
	IsExcludeDifferentGender bool   `json:"is_exclude_different_gender"`
}

type roomResponse struct {
	Room            *protocol.RoomData `json:"room"`
	ShouldStartTalk bool               `json:"should_start_talk,omitempty"`
}

func (g *Gateway) handleCreateRoom(w http.ResponseWriter, r *http.Request, acct *account.Account) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body.")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Room name must not be empty.")
		return
	}
	if limit := scoring.ParticipantLimit(acct.Level); req.MaxParticipants > limit {
		writeError(w, http.StatusBadRequest, "participant_limit",
			fmt.Sprintf("Your level allows at most %d participant(s).", limit))
		return
	}

	created, err := g.rooms.Create(r.Context(), room.CreateParams{
		OwnerID:                  acct.ID,
		OwnerName:                acct.Name,
		Name:                     req.Name,
		MaxParticipants:          req.MaxParticipants,
		IsPrivate:                req.IsPrivate,
		IsExcludeDifferentGender: req.IsExcludeDifferentGender,
	})
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{Room: created.Proto()})
}

func (g *Gateway) handleGetRoom(w http.ResponseWriter, r *http.Request, acct *account.Account) {
	loaded, err := g.rooms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: loaded.Proto()})
}

func (g *Gateway) handleJoinRoom(w http.ResponseWriter, r *http.Request, acct *account.Account) {
	result, err := g.rooms.Join(r.Context(), r.PathValue("id"), acct.ID)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{
		Room:            result.Room.Proto(),
		ShouldStartTalk: result.ShouldStartTalk,
	})
}

func (g *Gateway) handleLeaveRoom(w http.ResponseWriter, r *http.Request, acct *account.Account) {
	result, err := g.rooms.Leave(r.Context(), r.PathValue("id"), acct.ID, acct.Name)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: result.Room.Proto()})
}

func (g *Gateway) handleCloseRoom(w http.ResponseWriter, r *http.Request, acct *account.Account) {
	result, err := g.rooms.Close(r.Context(), r.PathValue("id"), acct.ID)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: result.Room.Proto()})
}

// handleThanks sends the post-talk thanks notification to another account.
func (g *Gateway) handleThanks(w http.ResponseWriter, r *http.Request, acct *account.Account) {
	toID := r.PathValue("id")
	if toID == acct.ID {
		writeError(w, http.StatusBadRequest, "bad_request", "You cannot thank yourself.")
		return
	}
	if _, err := g.accounts.Get(r.Context(), toID); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Account not found.")
		} else {
			log.Printf("gateway: account lookup for %s: %v", toID, err)
			writeError(w, http.StatusInternalServerError, "internal", "Something went wrong.")
		}
		return
	}
	if g.notifier != nil {
		g.notifier.Thanks(r.Context(), acct.Name, toID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// -----------------------------------------------------------------------
// response helpers
// -----------------------------------------------------------------------

type errorResponse struct {
	Error   string `json:"error"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// writeRoomError maps lifecycle errors onto HTTP statuses. Conflicts carry
// the UI title and message so clients can show them verbatim.
func writeRoomError(w http.ResponseWriter, err error) {
	if ce, ok := room.IsConflict(err); ok {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   ce.Kind,
			Title:   ce.Title,
			Message: ce.Message,
		})
		return
	}
	switch {
	case errors.Is(err, room.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Room not found.")
	case errors.Is(err, room.ErrNotMember):
		writeError(w, http.StatusForbidden, "not_member", "You are not a member of this room.")
	default:
		log.Printf("gateway: room operation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Something went wrong.")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("gateway: encode response: %v", err)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
