// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/gavel-foundation/gavel/lib/ref"
	"github.com/gavel-foundation/gavel/stream"
	"github.com/gavel-foundation/gavel/transport"
)

// streamServer is the HTTP surface over the collaboration core: the
// WebSocket stream endpoint plus a small JSON admin API.
type streamServer struct {
	service  *stream.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newStreamServer(service *stream.Service, logger *slog.Logger) *streamServer {
	return &streamServer{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *streamServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("POST /v1/membership", s.handleMembership)
	mux.HandleFunc("GET /v1/presence", s.handlePresence)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// handleStream upgrades the connection and runs the session: outbound
// frames flow through the session's pump, inbound frames are decoded
// and applied here until the client goes away.
func (s *streamServer) handleStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	principal, err := ref.ParsePrincipalID(query.Get("principal"))
	if err != nil {
		http.Error(w, "invalid principal: "+err.Error(), http.StatusBadRequest)
		return
	}
	room, err := ref.ParseRoomID(query.Get("room"))
	if err != nil {
		http.Error(w, "invalid room: "+err.Error(), http.StatusBadRequest)
		return
	}
	var lastSeen uint64
	if raw := query.Get("last_seen"); raw != "" {
		lastSeen, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid last_seen: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	ws := transport.NewWebSocket(conn)

	session, err := s.service.Connect(r.Context(), principal, room, ws, lastSeen)
	if err != nil {
		s.logger.Warn("connect failed",
			"principal", principal,
			"room", room,
			"error", err,
		)
		ws.Close()
		return
	}

	for {
		frame, err := ws.Receive()
		if err != nil {
			s.service.Disconnect(session.ID, "client disconnected")
			return
		}
		s.handleClientFrame(r, session, frame)
	}
}

// handleClientFrame applies one inbound frame. Bad frames are logged
// and dropped rather than killing the session; the client's own state
// is not at risk, only the one submission.
func (s *streamServer) handleClientFrame(r *http.Request, session *stream.Session, frame transport.Frame) {
	switch frame.Kind {
	case transport.FrameSubmit:
		var request stream.SubmitRequest
		if err := frame.DecodePayload(&request); err != nil {
			s.logger.Warn("bad submit frame", "session", session.ID, "error", err)
			return
		}
		sub, err := request.ToSubmission()
		if err != nil {
			s.logger.Warn("bad submit payload", "session", session.ID, "error", err)
			return
		}
		if _, err := s.service.Submit(r.Context(), session.ID, sub); err != nil {
			s.logger.Warn("submit rejected",
				"session", session.ID,
				"kind", request.Kind,
				"error", err,
			)
		}
	case transport.FrameActivity:
		var request stream.ActivityRequest
		if err := frame.DecodePayload(&request); err != nil {
			s.logger.Warn("bad activity frame", "session", session.ID, "error", err)
			return
		}
		if err := s.service.Activity(session.ID, request.Kind); err != nil {
			s.logger.Debug("activity dropped", "session", session.ID, "error", err)
		}
	default:
		s.logger.Warn("unexpected client frame", "session", session.ID, "kind", frame.Kind)
	}
}

// membershipRequest is the JSON body of POST /v1/membership.
type membershipRequest struct {
	Room   string `json:"room"`
	Actor  string `json:"actor"`
	Member string `json:"member"`
	Change string `json:"change"`
}

func (s *streamServer) handleMembership(w http.ResponseWriter, r *http.Request) {
	var request membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	room, err := ref.ParseRoomID(request.Room)
	if err != nil {
		http.Error(w, "invalid room: "+err.Error(), http.StatusBadRequest)
		return
	}
	actor, err := ref.ParsePrincipalID(request.Actor)
	if err != nil {
		http.Error(w, "invalid actor: "+err.Error(), http.StatusBadRequest)
		return
	}
	member, err := ref.ParsePrincipalID(request.Member)
	if err != nil {
		http.Error(w, "invalid member: "+err.Error(), http.StatusBadRequest)
		return
	}
	change := stream.MembershipChange(request.Change)
	switch change {
	case stream.MemberAdded, stream.MemberRemoved, stream.ResourceShared:
	default:
		http.Error(w, "invalid change: "+request.Change, http.StatusBadRequest)
		return
	}

	entry, err := s.service.RecordMembership(r.Context(), room, actor, stream.MembershipPayload{
		Member: member,
		Change: change,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"room":     entry.Room.String(),
		"sequence": entry.Sequence,
	})
}

// presenceResponse is one principal's state in GET /v1/presence.
type presenceResponse struct {
	Principal string `json:"principal"`
	Status    string `json:"status"`
}

func (s *streamServer) handlePresence(w http.ResponseWriter, r *http.Request) {
	room, err := ref.ParseRoomID(r.URL.Query().Get("room"))
	if err != nil {
		http.Error(w, "invalid room: "+err.Error(), http.StatusBadRequest)
		return
	}

	states := s.service.Presence(room)
	out := make([]presenceResponse, 0, len(states))
	for _, state := range states {
		out = append(out, presenceResponse{
			Principal: state.Principal.String(),
			Status:    string(state.Status),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
