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

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRecognizedCommands(t *testing.T) {
	t.Parallel()

	for _, cmd := range []string{"START", "STOP", "DOWNLOAD 1", "STATUS", "BOARD 17 MOVE1", "LOGGING"} {
		assert.Equal(t, ReplyRecognized, Validate(cmd, ServerGrammar), cmd)
	}
}

func TestValidateUnrecognizedCommands(t *testing.T) {
	t.Parallel()

	for _, cmd := range []string{"ASDF", "STAP", "DL 1", "", "start", "DOWNLOAD", "DOWNLOAD x", "BOARD 1234 X"} {
		assert.Equal(t, ReplyUnrecognized, Validate(cmd, ServerGrammar), cmd)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cmd, err := ParseCommand("DOWNLOAD 42\r\n")
	require.NoError(t, err)
	assert.Equal(t, VerbDownload, cmd.Verb)
	ref, err := cmd.SessionRef()
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref)

	cmd, err = ParseCommand("BOARD 9 STOP")
	require.NoError(t, err)
	id, sub, err := cmd.BoardTarget()
	require.NoError(t, err)
	assert.Equal(t, uint8(9), id)
	assert.Equal(t, "STOP", sub)
	assert.Equal(t, "BOARD 9 STOP", cmd.String())

	cmd, err = ParseCommand("BOARD 300 STOP")
	require.NoError(t, err)
	_, _, err = cmd.BoardTarget()
	require.ErrorIs(t, err, ErrUnrecognizedCommand)

	_, err = ParseCommand("DL 1")
	require.ErrorIs(t, err, ErrUnrecognizedCommand)
}

func TestStatusRoundTrip(t *testing.T) {
	t.Parallel()

	st := Status{State: "LOGGING", SessionID: 3, Boards: []string{"08", "0a"}}
	assert.Equal(t, "STATUS LOGGING 3 08,0a", st.String())

	parsed, err := ParseStatus(st.String())
	require.NoError(t, err)
	assert.Equal(t, st, parsed)

	empty, err := ParseStatus("STATUS IDLE 0 -")
	require.NoError(t, err)
	assert.Empty(t, empty.Boards)

	_, err = ParseStatus("STATUS IDLE")
	require.Error(t, err)
}
