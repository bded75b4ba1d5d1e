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
	"encoding/hex"
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// basicFrame is a Basic board frame: id 8, timestamp 100, flags 10101,
// length 2 and channels 0xabc 0x123 0x456 0x789 0xfed.
const basicFrame = "08" + "00000064" + "aa" + "abc123456789fed0" + "0000000000000000000000000000"

func TestParseFrameHeader(t *testing.T) {
	t.Parallel()

	f, err := ParseFrame(basicFrame + "\r\n")
	require.NoError(t, err)

	assert.Equal(t, uint8(8), f.BoardID)
	assert.Equal(t, uint32(100), f.Timestamp)
	assert.Equal(t, uint8(2), f.Length)
	assert.Equal(t, [FlagCount]bool{true, false, true, false, true}, f.Flags)
	assert.Equal(t, uint64(8), f.Header(FieldID))
	assert.Equal(t, uint64(0b10101), f.Header(FieldFlags))
	assert.Equal(t, 22*8, f.PayloadBits())
	assert.True(t, strings.HasPrefix(f.PayloadHex(), "abc123456789fed0"))
}

func TestParseFrameMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "too short", input: basicFrame[:54]},
		{name: "odd length", input: basicFrame + "0"},
		{name: "not hex", input: "zz" + basicFrame[2:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseFrame(tt.input)
			require.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestFrameNumber(t *testing.T) {
	t.Parallel()

	f, err := ParseFrame(basicFrame)
	require.NoError(t, err)

	tests := []struct {
		name     string
		start    int
		length   int
		expected uint64
	}{
		{name: "first channel", start: 0, length: 12, expected: 0xabc},
		{name: "single bit", start: 0, length: 1, expected: 1},
		{name: "byte aligned", start: 8, length: 8, expected: 0xc1},
		{name: "full 64 bits", start: 0, length: 64, expected: 0xabc123456789fed0},
		{name: "negative start", start: -1, length: 4, expected: 0},
		{name: "zero length", start: 0, length: 0, expected: 0},
		{name: "too wide", start: 0, length: 65, expected: 0},
		{name: "past end", start: 22*8 - 4, length: 8, expected: 0},
		{name: "last padding byte", start: 22*8 - 8, length: 8, expected: 0},
		{name: "start near max int", start: math.MaxInt - 5, length: 10, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, f.Number(tt.start, tt.length))
		})
	}
}

func TestFrameFlag(t *testing.T) {
	t.Parallel()

	f, err := ParseFrame(basicFrame)
	require.NoError(t, err)

	for i, want := range []bool{true, false, true, false, true} {
		got, flagErr := f.Flag(i)
		require.NoError(t, flagErr)
		assert.Equal(t, want, got, "flag %d", i)
	}

	_, err = f.Flag(5)
	require.ErrorIs(t, err, ErrInvalidFlagIndex)
	_, err = f.Flag(-1)
	require.ErrorIs(t, err, ErrInvalidFlagIndex)
}

func TestBoardIDFromFrame(t *testing.T) {
	t.Parallel()

	id, err := BoardIDFromFrame(" 0b1234")
	require.NoError(t, err)
	assert.Equal(t, uint8(11), id)

	_, err = BoardIDFromFrame("x")
	require.ErrorIs(t, err, ErrMalformedFrame)
	_, err = BoardIDFromFrame("g0")
	require.ErrorIs(t, err, ErrMalformedFrame)
}

// TestPropertyNumberMatchesBigInt checks bit extraction against math/big
// for any in-range window of a random payload.
func TestPropertyNumberMatchesBigInt(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), MinFrameBytes-HeaderBits/8, 80).Draw(t, "payload")
		header := []byte{0x08, 0, 0, 0, 1, 0}
		raw := hex.EncodeToString(append(header, payload...))

		f, err := ParseFrame(raw)
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}

		bits := len(payload) * 8
		length := rapid.IntRange(1, 64).Draw(t, "length")
		start := rapid.IntRange(0, bits-length).Draw(t, "start")

		whole := new(big.Int).SetBytes(payload)
		shifted := new(big.Int).Rsh(whole, uint(bits-start-length))
		mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(length)), big.NewInt(1))
		want := new(big.Int).And(shifted, mask).Uint64()

		if got := f.Number(start, length); got != want {
			t.Fatalf("Number(%d, %d) = %d, want %d", start, length, got, want)
		}
	})
}

func TestPropertyNumberOutOfRangeIsZero(t *testing.T) {
	t.Parallel()

	f, err := ParseFrame(basicFrame)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		length := rapid.IntRange(1, 64).Draw(t, "length")
		start := rapid.OneOf(
			rapid.IntRange(f.PayloadBits()-length+1, f.PayloadBits()+100),
			rapid.IntRange(math.MaxInt-128, math.MaxInt),
			rapid.IntRange(math.MinInt, -1),
		).Draw(t, "start")
		if got := f.Number(start, length); got != 0 {
			t.Fatalf("Number(%d, %d) = %d, want 0", start, length, got)
		}
	})
}
