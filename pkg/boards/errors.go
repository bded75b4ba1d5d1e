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

import "errors"

var (
	// ErrMalformedFrame is returned for frames that are too short or whose
	// header cannot be parsed. The frame should be dropped.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownBoard is returned when no board is registered for a frame's id.
	ErrUnknownBoard = errors.New("unknown board")
	// ErrDuplicateRegistration is a configuration error: two boards were
	// registered against the same id.
	ErrDuplicateRegistration = errors.New("duplicate board registration")
	// ErrInvalidFlagIndex is returned when a flag outside [0, 4] is requested.
	ErrInvalidFlagIndex = errors.New("invalid flag index")
)
