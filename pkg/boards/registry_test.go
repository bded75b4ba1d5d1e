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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func padding(bytes int) string {
	return strings.Repeat("00", bytes)
}

func measurementMap(ms []Measurement) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Category] = m.Value
	}
	return out
}

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistryWith(append(DefaultBoards(), NewMockBoard())...)
	require.NoError(t, err)
	return r
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(NewBasicBoard()))

	dup := Board{ID: BasicBoardID, Kind: KindMotor, Description: "imposter"}
	err := r.Register(dup)
	require.ErrorIs(t, err, ErrDuplicateRegistration)

	b, ok := r.Board(BasicBoardID)
	require.True(t, ok)
	assert.Equal(t, KindBasic, b.Kind)
	assert.Equal(t, "Blitz Basic Expansion Board", b.Description)
}

func TestNewRegistryWithDuplicate(t *testing.T) {
	t.Parallel()

	_, err := NewRegistryWith(NewMotorBoard(), NewMotorBoard())
	require.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestRegistryIDs(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	assert.Equal(t, []uint8{0, 8, 9, 10, 11}, r.IDs())
}

func TestDecodeBasic(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	res, err := r.Decode(basicFrame)
	require.NoError(t, err)

	assert.Equal(t, KindBasic, res.Board.Kind)
	assert.Equal(t, uint32(100), res.Frame.Timestamp)
	require.Len(t, res.Measurements, 5)
	assert.Equal(t, "adc_channel_one", res.Measurements[0].Category)
	assert.Equal(t, map[string]float64{
		"adc_channel_one":   0xabc,
		"adc_channel_two":   0x123,
		"adc_channel_three": 0x456,
		"adc_channel_four":  0x789,
		"adc_channel_five":  0xfed,
	}, measurementMap(res.Measurements))
}

func TestDecodeMotor(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	res, err := r.Decode("09" + "00000002" + "00" + "000100020003" + padding(16))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		"raw_adc":     1,
		"motor_value": 2,
		"set_point":   3,
	}, measurementMap(res.Measurements))
}

func TestDecodeNetScanner(t *testing.T) {
	t.Parallel()

	payload := "001e8480" + "002dc6c0" + padding(14*4)
	r := defaultRegistry(t)

	res, err := r.Decode("0a" + "00000001" + "00" + payload)
	require.NoError(t, err)
	require.Len(t, res.Measurements, 16)
	values := measurementMap(res.Measurements)
	assert.InDelta(t, 0.0, values["Channel_1"], 1e-9)
	assert.InDelta(t, 1.0, values["Channel_2"], 1e-9)
	assert.InDelta(t, -2.0, values["Channel_16"], 1e-9)

	res, err = r.Decode("0b" + "00000001" + "00" + payload)
	require.NoError(t, err)
	values = measurementMap(res.Measurements)
	assert.InDelta(t, 0.0, values["Channel_17"], 1e-9)
	assert.InDelta(t, 1.0, values["Channel_18"], 1e-9)
	assert.InDelta(t, -2.0, values["Channel_32"], 1e-9)
	assert.NotContains(t, values, "Channel_1")
}

func TestDecodeMock(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	res, err := r.Decode("00" + "00000000" + "f8" + "12345678" + padding(18))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		"flag_one":     1,
		"flag_two":     1,
		"flag_three":   1,
		"flag_four":    1,
		"flag_five":    1,
		"full_payload": 0x1234567800000000,
		"variable_a":   0x1234,
		"variable_b":   0x5678,
	}, measurementMap(res.Measurements))
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)

	_, err := r.Decode("07" + basicFrame[2:])
	require.ErrorIs(t, err, ErrUnknownBoard)

	_, err = r.Decode("08ff")
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = r.Decode("")
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeForOverridesFrameID(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	res, err := r.DecodeFor(basicFrame, MotorBoardID)
	require.NoError(t, err)
	assert.Equal(t, KindMotor, res.Board.Kind)
	assert.Equal(t, uint8(8), res.Frame.BoardID)
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	got := r.Describe([]string{"08", "0a", "7f", "zz"})

	assert.Equal(t, []Description{
		{Label: "8 (08)", Description: "Blitz Basic Expansion Board"},
		{Label: "10 (0a)", Description: "NetScanner Ethernet Interface Board"},
		{Label: "127 (7f)", Description: "Unknown"},
		{Label: "zz", Description: "Unknown"},
	}, got)
}
