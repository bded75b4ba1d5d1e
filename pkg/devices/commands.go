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

package devices

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Serial command codes understood by the board firmware. A request line is
// the two digit board id followed by one of these codes.
const (
	CmdID       = "00"
	CmdStart    = "01"
	CmdStop     = "02"
	CmdTransmit = "03"
	CmdACK      = "41"
	CmdNACK     = "42"
)

const (
	DefaultBaudRate     = 57600
	DefaultReadTimeout  = 3 * time.Second
	DefaultIDTimeout    = 1 * time.Second
	DefaultUpdatePeriod = 1 * time.Second
)

var (
	// ErrDeviceNackOrTimeout covers every failed acknowledgement: a NACK,
	// an unexpected reply or no reply at all.
	ErrDeviceNackOrTimeout = errors.New("device did not acknowledge command")
	ErrAlreadyRunning      = errors.New("device manager is already logging")
	ErrNotRunning          = errors.New("device manager is not logging")
	ErrUnknownPort         = errors.New("no serial port mapped for board")
	ErrUnknownCommand      = errors.New("unknown board command")
)

// AckError carries the raw reply of a board that did not acknowledge.
type AckError struct {
	Command string
	BoardID string
	Reply   string
}

func (e *AckError) Error() string {
	if e.Reply == "" {
		return fmt.Sprintf("board %s: no reply to command %s", e.BoardID, e.Command)
	}
	return fmt.Sprintf("board %s: unexpected reply %q to command %s", e.BoardID, e.Reply, e.Command)
}

func (*AckError) Unwrap() error {
	return ErrDeviceNackOrTimeout
}

var namedCommands = map[string]string{
	"ID":       CmdID,
	"START":    CmdStart,
	"STOP":     CmdStop,
	"TRANSMIT": CmdTransmit,
}

// CommandCode resolves a board subcommand given either by name (START) or
// as a raw two digit hex code.
func CommandCode(sub string) (string, error) {
	if code, ok := namedCommands[strings.ToUpper(sub)]; ok {
		return code, nil
	}
	if len(sub) == 2 && isHex(sub) {
		return strings.ToLower(sub), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, sub)
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// isAck reports whether a reply line acknowledges a command: exactly four
// characters ending in the ACK code.
func isAck(reply string) bool {
	return len(reply) == 4 && reply[2:] == CmdACK
}
