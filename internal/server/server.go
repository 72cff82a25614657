// Package server is the relay backend for multiplayer sessions: a room REST
// API plus a websocket endpoint that holds state authority over each room.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gamecore/internal/auth"
	"gamecore/internal/game"
	"gamecore/internal/gameerr"
	"gamecore/internal/model"
	"gamecore/internal/protocol"
)

// Server is the HTTP server.
type Server struct {
	mux      *http.ServeMux
	variants *game.Registry
	rooms    *Rooms
	signer   *auth.Signer
	log      *zap.Logger
}

// New creates a server with all routes.
func New(variants *game.Registry, rooms *Rooms, signer *auth.Signer, log *zap.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		variants: variants,
		rooms:    rooms,
		signer:   signer,
		log:      log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/variants", s.handleListVariants)
	s.mux.HandleFunc("POST /api/rooms", s.authed(s.handleCreateRoom))
	s.mux.HandleFunc("GET /api/rooms/{id}", s.authed(s.handleGetRoom))
	s.mux.HandleFunc("POST /api/rooms/{id}/join", s.authed(s.handleJoinRoom))
	s.mux.HandleFunc("POST /api/rooms/{id}/start", s.authed(s.handleStartRoom))
	s.mux.HandleFunc("GET /ws", s.authed(s.handleWebSocket))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// authed wraps h with bearer token verification. Browsers cannot set
// headers on websocket upgrades, so an access_token query parameter is
// accepted too.
func (s *Server) authed(h func(http.ResponseWriter, *http.Request, model.Player)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = r.URL.Query().Get("access_token")
		}
		claims, err := s.signer.Verify(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "invalid or missing token"})
			return
		}
		h(w, r, model.Player{ID: claims.Subject, DisplayName: claims.DisplayName})
	}
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.variants.List())
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, player model.Player) {
	var req protocol.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid request body"})
		return
	}
	req.Variant = strings.TrimSpace(req.Variant)
	if req.Variant == "" || req.Capacity < 0 {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "variant required"})
		return
	}

	room, err := s.rooms.Create(r.Context(), req.Variant, req.Capacity, player)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room.Descriptor())
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request, _ model.Player) {
	room, ok := s.rooms.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, room.Descriptor())
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, player model.Player) {
	room, ok := s.rooms.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "room not found"})
		return
	}
	var req protocol.JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid request body"})
		return
	}
	if name := strings.TrimSpace(req.DisplayName); name != "" {
		player.DisplayName = name
	}

	seat, err := room.Join(player)
	if err != nil {
		writeError(w, err)
		return
	}
	s.rooms.Save(r.Context(), room)
	s.publish(room, "")
	writeJSON(w, http.StatusOK, protocol.Membership{RoomID: room.ID(), PlayerID: player.ID, Seat: seat})
}

func (s *Server) handleStartRoom(w http.ResponseWriter, r *http.Request, player model.Player) {
	room, ok := s.rooms.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "room not found"})
		return
	}
	if err := s.rooms.Start(r.Context(), room, player.ID); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("room started", zap.String("room", room.ID()), zap.String("by", player.ID))
	s.publish(room, protocol.TypeGameStarted)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// statusFor maps error kinds onto REST status codes.
func statusFor(err error) int {
	switch gameerr.Kind(err) {
	case gameerr.ErrNotFound:
		return http.StatusNotFound
	case gameerr.ErrUnsupportedVariant:
		return http.StatusUnprocessableEntity
	case gameerr.ErrIllegalMove:
		return http.StatusConflict
	case gameerr.ErrSessionFinished:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), protocol.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
