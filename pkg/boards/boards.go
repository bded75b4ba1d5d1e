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

// Package boards decodes expansion board telemetry frames into named
// measurements and keeps the registry of known boards.
package boards

import (
	"fmt"
	"strconv"
)

// Kind is the closed set of supported board layouts.
type Kind int

const (
	KindMock Kind = iota
	KindBasic
	KindMotor
	KindNetScanner
)

func (k Kind) String() string {
	switch k {
	case KindMock:
		return "mock"
	case KindBasic:
		return "basic"
	case KindMotor:
		return "motor"
	case KindNetScanner:
		return "netscanner"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Default board ids as burned into the board firmware.
const (
	MockBoardID          uint8 = 0
	BasicBoardID         uint8 = 8
	MotorBoardID         uint8 = 9
	NetScannerBoardID    uint8 = 10
	NetScannerTwoBoardID uint8 = 11
)

const (
	netScannerChannels = 16
	netScannerWidth    = 32
	netScannerZero     = 2_000_000
	netScannerScale    = 1_000_000
)

// Measurement is a single named value produced by decoding a frame.
type Measurement struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
}

// Field describes a named bit range within the payload.
type Field struct {
	Name   string
	Start  int
	Length int
}

var basicFields = []Field{
	{Name: "adc_channel_one", Start: 0, Length: 12},
	{Name: "adc_channel_two", Start: 12, Length: 12},
	{Name: "adc_channel_three", Start: 24, Length: 12},
	{Name: "adc_channel_four", Start: 36, Length: 12},
	{Name: "adc_channel_five", Start: 48, Length: 12},
}

var motorFields = []Field{
	{Name: "raw_adc", Start: 0, Length: 16},
	{Name: "motor_value", Start: 16, Length: 16},
	{Name: "set_point", Start: 32, Length: 16},
}

var mockFields = []Field{
	{Name: "variable_a", Start: 0, Length: 16},
	{Name: "variable_b", Start: 16, Length: 16},
}

var flagNames = [FlagCount]string{"flag_one", "flag_two", "flag_three", "flag_four", "flag_five"}

// Board is a logical expansion device with a fixed message layout.
type Board struct {
	Description string
	// ChannelOffset shifts NetScanner channel names so a second board can
	// report the upper channel bank.
	ChannelOffset int
	Kind          Kind
	ID            uint8
}

func NewBasicBoard() Board {
	return Board{ID: BasicBoardID, Kind: KindBasic, Description: "Blitz Basic Expansion Board"}
}

func NewMotorBoard() Board {
	return Board{ID: MotorBoardID, Kind: KindMotor, Description: "Motor Expansion Board"}
}

func NewNetScannerBoard() Board {
	return Board{
		ID:          NetScannerBoardID,
		Kind:        KindNetScanner,
		Description: "NetScanner Ethernet Interface Board",
	}
}

// NewNetScannerBoardTwo covers channels 17-32 of a paired NetScanner setup.
func NewNetScannerBoardTwo() Board {
	return Board{
		ID:            NetScannerTwoBoardID,
		Kind:          KindNetScanner,
		ChannelOffset: netScannerChannels,
		Description:   "NetScanner Ethernet Interface Board Two",
	}
}

// NewMockBoard returns the conformance board used to exercise the codec.
func NewMockBoard() Board {
	return Board{ID: MockBoardID, Kind: KindMock, Description: "Expansion Board Mock For Testing"}
}

// DefaultBoards is the set of boards shipped with the logger.
func DefaultBoards() []Board {
	return []Board{
		NewBasicBoard(),
		NewMotorBoard(),
		NewNetScannerBoard(),
		NewNetScannerBoardTwo(),
	}
}

// Fields returns the payload layout of the board.
func (b Board) Fields() []Field {
	switch b.Kind {
	case KindBasic:
		return basicFields
	case KindMotor:
		return motorFields
	case KindMock:
		return mockFields
	case KindNetScanner:
		fields := make([]Field, 0, netScannerChannels)
		for i := range netScannerChannels {
			fields = append(fields, Field{
				Name:   netScannerChannelName(i + 1 + b.ChannelOffset),
				Start:  i * netScannerWidth,
				Length: netScannerWidth,
			})
		}
		return fields
	default:
		return nil
	}
}

// Measurements turns a parsed frame into the board's named values.
func (b Board) Measurements(f *Frame) ([]Measurement, error) {
	switch b.Kind {
	case KindBasic, KindMotor:
		return fieldMeasurements(b.Fields(), f, unsigned), nil
	case KindNetScanner:
		return fieldMeasurements(b.Fields(), f, netScannerValue), nil
	case KindMock:
		return mockMeasurements(f)
	default:
		return nil, fmt.Errorf("board %d has unsupported kind %s", b.ID, b.Kind)
	}
}

func fieldMeasurements(fields []Field, f *Frame, conv func(uint64) float64) []Measurement {
	ms := make([]Measurement, 0, len(fields))
	for _, field := range fields {
		ms = append(ms, Measurement{
			Category: field.Name,
			Value:    conv(f.Number(field.Start, field.Length)),
		})
	}
	return ms
}

func unsigned(raw uint64) float64 {
	return float64(raw)
}

// netScannerValue converts the sensor's offset fixed-point encoding.
func netScannerValue(raw uint64) float64 {
	return (float64(raw) - netScannerZero) / netScannerScale
}

func netScannerChannelName(n int) string {
	return "Channel_" + strconv.Itoa(n)
}

func mockMeasurements(f *Frame) ([]Measurement, error) {
	ms := make([]Measurement, 0, FlagCount+1+len(mockFields))
	for i, name := range flagNames {
		set, err := f.Flag(i)
		if err != nil {
			return nil, err
		}
		v := 0.0
		if set {
			v = 1
		}
		ms = append(ms, Measurement{Category: name, Value: v})
	}
	// full_payload is the leading 64 payload bits; the complete payload is
	// available from Frame.PayloadHex.
	ms = append(ms, Measurement{
		Category: "full_payload",
		Value:    float64(f.Number(0, min(64, f.PayloadBits()))),
	})
	ms = append(ms, fieldMeasurements(mockFields, f, unsigned)...)
	return ms, nil
}
