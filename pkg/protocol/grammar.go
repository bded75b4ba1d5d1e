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

// Package protocol implements the line based control protocol spoken
// between the base station and the logger: the command grammar and the
// server and client session state machines.
package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrUnrecognizedCommand is returned for input outside the grammar.
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	// ErrProtocolMisuse is returned for calls on a closed state machine or
	// requests that are not valid in the current state.
	ErrProtocolMisuse = errors.New("protocol misuse")
)

type Verb string

const (
	VerbStart    Verb = "START"
	VerbStop     Verb = "STOP"
	VerbStatus   Verb = "STATUS"
	VerbLogging  Verb = "LOGGING"
	VerbDownload Verb = "DOWNLOAD"
	VerbBoard    Verb = "BOARD"
)

// Replies sent by the server.
const (
	ReplyACK  = "ACK"
	ReplyNACK = "NACK"
	// ReplyRecognized and ReplyUnrecognized are the validator results. The
	// naming is historical: "ERROR 1" is what a recognized command that
	// failed in the application gets, "ERROR 2" is a grammar failure.
	ReplyRecognized   = "ERROR 1"
	ReplyUnrecognized = "ERROR 2"
)

// Grammar is an ordered list of patterns a command line must match.
type Grammar []*regexp.Regexp

// ServerGrammar is the set of commands the logger accepts.
var ServerGrammar = Grammar{
	regexp.MustCompile(`^START$`),
	regexp.MustCompile(`^STOP$`),
	regexp.MustCompile(`^STATUS$`),
	regexp.MustCompile(`^LOGGING$`),
	regexp.MustCompile(`^DOWNLOAD \d+$`),
	regexp.MustCompile(`^BOARD \d{1,3} \w+$`),
}

// Matches reports whether input is a sentence of the grammar.
func (g Grammar) Matches(input string) bool {
	for _, re := range g {
		if re.MatchString(input) {
			return true
		}
	}
	return false
}

// Validate classifies input against grammar, returning ReplyRecognized or
// ReplyUnrecognized.
func Validate(input string, grammar Grammar) string {
	if grammar.Matches(strings.TrimSpace(input)) {
		return ReplyRecognized
	}
	return ReplyUnrecognized
}

type Command struct {
	Verb Verb
	Args []string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return string(c.Verb)
	}
	return string(c.Verb) + " " + strings.Join(c.Args, " ")
}

// SessionRef returns the session id argument of a DOWNLOAD command.
func (c Command) SessionRef() (int64, error) {
	if c.Verb != VerbDownload || len(c.Args) != 1 {
		return 0, fmt.Errorf("%w: %s has no session reference", ErrUnrecognizedCommand, c)
	}
	id, err := strconv.ParseInt(c.Args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid session reference: %w", ErrUnrecognizedCommand, err)
	}
	return id, nil
}

// BoardTarget returns the board id and subcommand of a BOARD command.
func (c Command) BoardTarget() (uint8, string, error) {
	if c.Verb != VerbBoard || len(c.Args) != 2 {
		return 0, "", fmt.Errorf("%w: %s has no board target", ErrUnrecognizedCommand, c)
	}
	id, err := strconv.ParseUint(c.Args[0], 10, 8)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid board id: %w", ErrUnrecognizedCommand, err)
	}
	return uint8(id), c.Args[1], nil
}

// ParseCommand validates a line against ServerGrammar and splits it.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !ServerGrammar.Matches(line) {
		return Command{}, fmt.Errorf("%w: %q", ErrUnrecognizedCommand, line)
	}
	fields := strings.Fields(line)
	return Command{Verb: Verb(fields[0]), Args: fields[1:]}, nil
}

// Status is the payload of a STATUS reply.
type Status struct {
	State     string
	Boards    []string
	SessionID int64
}

func (s Status) String() string {
	boards := "-"
	if len(s.Boards) > 0 {
		boards = strings.Join(s.Boards, ",")
	}
	return fmt.Sprintf("%s %s %d %s", VerbStatus, s.State, s.SessionID, boards)
}

// ParseStatus parses a "STATUS <state> <session> <boards>" reply.
func ParseStatus(line string) (Status, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != string(VerbStatus) {
		return Status{}, fmt.Errorf("malformed status line: %q", line)
	}
	id, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Status{}, fmt.Errorf("malformed status session id: %w", err)
	}
	st := Status{State: fields[1], SessionID: id}
	if fields[3] != "-" {
		st.Boards = strings.Split(fields[3], ",")
	}
	return st, nil
}
