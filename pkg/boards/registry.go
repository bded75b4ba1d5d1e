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

package boards

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// Result is the outcome of a successful decode.
type Result struct {
	Frame        *Frame
	Board        Board
	Measurements []Measurement
}

// Description pairs a board label with its human readable description.
type Description struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Registry maps board ids to boards. Boards are registered once at startup.
type Registry struct {
	boards map[uint8]Board
	mu     syncutil.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		boards: make(map[uint8]Board),
	}
}

// NewRegistryWith creates a registry and registers every given board,
// stopping at the first duplicate.
func NewRegistryWith(bs ...Board) (*Registry, error) {
	r := NewRegistry()
	for _, b := range bs {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a board under its id. Registering an id twice is an error
// and the first board is kept.
func (r *Registry) Register(b Board) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.boards[b.ID]; ok {
		log.Error().
			Uint8("id", b.ID).
			Str("existing", existing.Description).
			Str("description", b.Description).
			Msg("error registering duplicate board")
		return fmt.Errorf("%w: id %d is already registered to %q",
			ErrDuplicateRegistration, b.ID, existing.Description)
	}

	log.Info().Uint8("id", b.ID).Str("description", b.Description).Msg("registered expansion board")
	r.boards[b.ID] = b
	return nil
}

// Board looks up a registered board.
func (r *Registry) Board(id uint8) (Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[id]
	return b, ok
}

// IDs returns the registered board ids in ascending order.
func (r *Registry) IDs() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint8, 0, len(r.boards))
	for id := range r.boards {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Decode derives the board id from the first byte of the frame and decodes
// it with the matching board.
func (r *Registry) Decode(frame string) (Result, error) {
	id, err := BoardIDFromFrame(frame)
	if err != nil {
		return Result{}, err
	}
	return r.DecodeFor(frame, id)
}

// DecodeFor decodes a frame using the board registered under id.
func (r *Registry) DecodeFor(frame string, id uint8) (Result, error) {
	b, ok := r.Board(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownBoard, id)
	}

	f, err := ParseFrame(frame)
	if err != nil {
		return Result{}, err
	}

	ms, err := b.Measurements(f)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Board:        b,
		Frame:        f,
		Measurements: ms,
	}, nil
}

// Describe returns a label and description for each hex board id, marking
// ids with no registered board as unknown.
func (r *Registry) Describe(hexIDs []string) []Description {
	out := make([]Description, 0, len(hexIDs))
	for _, h := range hexIDs {
		id, err := strconv.ParseUint(h, 16, 8)
		if err != nil {
			out = append(out, Description{Label: h, Description: "Unknown"})
			continue
		}
		label := fmt.Sprintf("%d (%s)", id, h)
		if b, ok := r.Board(uint8(id)); ok {
			out = append(out, Description{Label: label, Description: b.Description})
		} else {
			out = append(out, Description{Label: label, Description: "Unknown"})
		}
	}
	return out
}
