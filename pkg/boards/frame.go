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
	"errors"
	"fmt"
	"strings"
)

const (
	// MinFrameBytes is the shortest frame a board is allowed to send.
	MinFrameBytes = 28
	// HeaderBits is the size of the shared header preceding the payload.
	HeaderBits = 48
	// FlagCount is the number of boolean flags carried in the header.
	FlagCount = 5
)

// HeaderField identifies one of the fields shared by every board message.
type HeaderField int

const (
	FieldID HeaderField = iota
	FieldTimestamp
	FieldFlags
	FieldLength
)

func (f HeaderField) String() string {
	switch f {
	case FieldID:
		return "id"
	case FieldTimestamp:
		return "timestamp"
	case FieldFlags:
		return "flags"
	case FieldLength:
		return "length"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

type bitSpan struct {
	start int
	end   int
}

// headerLayout maps each header field to its bit range within the frame.
var headerLayout = map[HeaderField]bitSpan{
	FieldID:        {start: 0, end: 8},
	FieldTimestamp: {start: 8, end: 40},
	FieldFlags:     {start: 40, end: 45},
	FieldLength:    {start: 45, end: 48},
}

// Frame is a single decoded board message. It is only valid for the
// duration of a decode.
type Frame struct {
	Raw       string
	data      []byte
	Flags     [FlagCount]bool
	Timestamp uint32
	BoardID   uint8
	Length    uint8
}

// ParseFrame decodes the hex representation of a board message and splits
// out the header fields. Surrounding whitespace (including the serial line
// terminator) is ignored.
func ParseFrame(raw string) (*Frame, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < MinFrameBytes*2 {
		return nil, fmt.Errorf(
			"%w: expected at least %d bytes, found %d hex characters",
			ErrMalformedFrame, MinFrameBytes, len(raw),
		)
	}

	data, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	f := &Frame{
		Raw:  raw,
		data: data,
	}
	f.BoardID = uint8(f.Header(FieldID))
	f.Timestamp = uint32(f.Header(FieldTimestamp))
	f.Length = uint8(f.Header(FieldLength))
	flagStart := headerLayout[FieldFlags].start
	for i := range FlagCount {
		f.Flags[i] = readBits(data, flagStart+i, 1) == 1
	}

	return f, nil
}

// Header returns the raw value of a shared header field.
func (f *Frame) Header(field HeaderField) uint64 {
	span, ok := headerLayout[field]
	if !ok {
		return 0
	}
	return readBits(f.data, span.start, span.end-span.start)
}

// PayloadBits returns the number of bits following the header.
func (f *Frame) PayloadBits() int {
	return len(f.data)*8 - HeaderBits
}

// PayloadHex returns the payload as a hex string.
func (f *Frame) PayloadHex() string {
	return hex.EncodeToString(f.data[HeaderBits/8:])
}

// Number extracts an unsigned big-endian integer from payload bits
// [start, start+length). Bits are 0-indexed from the start of the payload.
// Requests that fall outside the payload, or are wider than 64 bits,
// return 0 so partially corrupted messages still decode.
func (f *Frame) Number(start, length int) uint64 {
	if start < 0 || length <= 0 || length > 64 {
		return 0
	}
	if start > f.PayloadBits()-length {
		return 0
	}
	return readBits(f.data, HeaderBits+start, length)
}

// Flag returns the n-th header flag, n in [0, 4].
func (f *Frame) Flag(n int) (bool, error) {
	if n < 0 || n >= FlagCount {
		return false, fmt.Errorf("%w: %d, should be between 0 and %d (inclusive)",
			ErrInvalidFlagIndex, n, FlagCount-1)
	}
	return f.Flags[n], nil
}

// readBits reads length bits starting at bit offset start, most significant
// bit first. Callers are responsible for bounds checking.
func readBits(data []byte, start, length int) uint64 {
	var v uint64
	for i := start; i < start+length; i++ {
		bit := (data[i/8] >> (7 - uint(i%8))) & 1
		v = v<<1 | uint64(bit)
	}
	return v
}

// BoardIDFromFrame derives the board id from the first byte of a frame.
func BoardIDFromFrame(raw string) (uint8, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 {
		return 0, fmt.Errorf("%w: frame too short to carry a board id", ErrMalformedFrame)
	}
	b, err := hex.DecodeString(raw[:2])
	if err != nil {
		return 0, errors.Join(ErrMalformedFrame, err)
	}
	return b[0], nil
}
