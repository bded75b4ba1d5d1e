// Blitz Logger
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Blitz Logger.
//
// Blitz Logger is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Blitz Logger is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Blitz Logger.  If not, see <http://www.gnu.org/licenses/>.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ZaparooProject/blitz-logger/pkg/api/models"
	"github.com/ZaparooProject/blitz-logger/pkg/api/validation"
	"github.com/ZaparooProject/blitz-logger/pkg/boards"
	"github.com/ZaparooProject/blitz-logger/pkg/database"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const DefaultCacheLimit = 100

type SessionResponse struct {
	database.Session
	Frames int `json:"frames"`
}

type BoardsResponse struct {
	Connected  []boards.Description `json:"connected"`
	Registered []boards.Description `json:"registered"`
}

type cacheQuery struct {
	Limit int `validate:"gte=1,lte=1000"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing json response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.store.Sessions()
	if err != nil {
		log.Error().Err(err).Msg("listing sessions")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []database.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, validation.ErrInvalidParams)
		return
	}

	session, err := s.store.GetSession(id)
	if errors.Is(err, database.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		log.Error().Err(err).Int64("session", id).Msg("getting session")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	frames, err := s.store.FrameCount(id)
	if err != nil {
		log.Error().Err(err).Int64("session", id).Msg("counting session frames")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Session: session, Frames: frames})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	q := cacheQuery{Limit: DefaultCacheLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, validation.ErrInvalidParams)
			return
		}
		q.Limit = n
	}
	if err := validation.DefaultValidator.Validate(q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	values, err := s.store.LatestCache(q.Limit)
	if err != nil {
		log.Error().Err(err).Msg("reading cache")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if values == nil {
		values = []database.CachedValue{}
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleBoards(w http.ResponseWriter, _ *http.Request) {
	var connected []string
	if s.boards != nil {
		connected = s.boards.Boards()
	}

	ids := s.registry.IDs()
	registered := make([]string, 0, len(ids))
	for _, id := range ids {
		registered = append(registered, fmt.Sprintf("%02x", id))
	}

	writeJSON(w, http.StatusOK, BoardsResponse{
		Connected:  s.registry.Describe(connected),
		Registered: s.registry.Describe(registered),
	})
}
