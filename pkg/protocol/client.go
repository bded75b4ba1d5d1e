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
	"fmt"
	"strconv"
	"strings"

	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

type ClientState int

const (
	ClientInit ClientState = iota
	ClientIdle
	ClientStarting
	ClientLogging
	ClientStopping
	ClientDownloading
	ClientClosed

	// stay keeps the current state after a request.
	stay ClientState = -1
)

func (s ClientState) String() string {
	switch s {
	case ClientInit:
		return "INIT"
	case ClientIdle:
		return "IDLE"
	case ClientStarting:
		return "STARTING"
	case ClientLogging:
		return "LOGGING"
	case ClientStopping:
		return "STOPPING"
	case ClientDownloading:
		return "DOWNLOADING"
	case ClientClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("STATE%d", int(s))
	}
}

// ClientHooks are called outside the client lock, in the order events
// happened. Any of them may be nil.
type ClientHooks struct {
	OnStateChange func(from, to ClientState)
	OnStatus      func(Status)
	// OnDownloadLine receives every data line of a download.
	OnDownloadLine func(ref int64, line string)
	// OnDownloadDone reports the outcome and number of data lines received.
	OnDownloadDone func(ref int64, ok bool, lines int)
	// OnReply receives ACK/NACK/ERROR lines that did not drive a transition.
	OnReply func(line string)
}

// Client is the base station side state machine.
type Client struct {
	send          func(line string) error
	hooks         ClientHooks
	downloadRef   int64
	downloadLines int
	state         ClientState
	mu            syncutil.Mutex
}

// NewClient returns a client in the Init state. send writes a command line
// to the server.
func NewClient(send func(line string) error, hooks ClientHooks) *Client {
	return &Client{
		send:  send,
		hooks: hooks,
		state: ClientInit,
	}
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

type pendingHooks []func()

func (p pendingHooks) run() {
	for _, fn := range p {
		fn()
	}
}

func (c *Client) transitionLocked(to ClientState, hooks *pendingHooks) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	log.Debug().Stringer("from", from).Stringer("to", to).Msg("client state change")
	if c.hooks.OnStateChange != nil {
		*hooks = append(*hooks, func() { c.hooks.OnStateChange(from, to) })
	}
}

// Begin asks the server whether a session is already running. The reply
// moves Init to Logging or Idle.
func (c *Client) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClientInit {
		return fmt.Errorf("%w: begin from state %s", ErrProtocolMisuse, c.state)
	}
	return c.sendLocked(string(VerbLogging))
}

func (c *Client) sendLocked(line string) error {
	if err := c.send(line); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}
	return nil
}

// request sends line and moves to next when the client is in one of from.
func (c *Client) request(line string, next ClientState, from ...ClientState) error {
	var hooks pendingHooks
	defer func() { hooks.run() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	allowed := false
	for _, s := range from {
		if c.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s not valid in state %s", ErrProtocolMisuse, line, c.state)
	}

	if err := c.sendLocked(line); err != nil {
		return err
	}
	if next != stay {
		c.transitionLocked(next, &hooks)
	}
	return nil
}

// RequestStart asks the server to start logging. It is a no-op while
// already logging.
func (c *Client) RequestStart() error {
	var hooks pendingHooks
	defer func() { hooks.run() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ClientLogging, ClientStarting:
		return nil
	case ClientIdle:
		if err := c.sendLocked(string(VerbStart)); err != nil {
			return err
		}
		c.transitionLocked(ClientStarting, &hooks)
		return nil
	default:
		return fmt.Errorf("%w: start not valid in state %s", ErrProtocolMisuse, c.state)
	}
}

func (c *Client) RequestStop() error {
	return c.request(string(VerbStop), ClientStopping, ClientLogging)
}

// RequestDownload asks the server to replay a stored session. Every line
// until the closing ACK or NACK is handed to OnDownloadLine.
func (c *Client) RequestDownload(ref int64) error {
	var hooks pendingHooks
	defer func() { hooks.run() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ClientIdle {
		return fmt.Errorf("%w: download not valid in state %s", ErrProtocolMisuse, c.state)
	}
	if err := c.sendLocked(string(VerbDownload) + " " + strconv.FormatInt(ref, 10)); err != nil {
		return err
	}
	c.downloadRef = ref
	c.downloadLines = 0
	c.transitionLocked(ClientDownloading, &hooks)
	return nil
}

func (c *Client) RequestStatus() error {
	return c.request(string(VerbStatus), stay,
		ClientInit, ClientIdle, ClientStarting, ClientLogging, ClientStopping)
}

// RequestBoardCommand forwards a subcommand to one expansion board.
func (c *Client) RequestBoardCommand(boardID uint8, sub string) error {
	line := fmt.Sprintf("%s %d %s", VerbBoard, boardID, sub)
	if !ServerGrammar.Matches(line) {
		return fmt.Errorf("%w: %q", ErrUnrecognizedCommand, line)
	}
	return c.request(line, stay, ClientIdle, ClientLogging)
}

// ProcessMessage handles one line received from the server.
func (c *Client) ProcessMessage(line string) error {
	var hooks pendingHooks
	defer func() { hooks.run() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	line = strings.TrimRight(line, "\r\n")

	switch c.state {
	case ClientClosed:
		return fmt.Errorf("%w: client is closed", ErrProtocolMisuse)
	case ClientDownloading:
		c.downloadingLocked(line, &hooks)
		return nil
	default:
	}

	switch {
	case line == ReplyACK || line == ReplyNACK:
		c.replyLocked(line == ReplyACK, line, &hooks)
	case strings.HasPrefix(line, string(VerbStatus)+" "):
		st, err := ParseStatus(line)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring status reply")
			return nil
		}
		if c.hooks.OnStatus != nil {
			hooks = append(hooks, func() { c.hooks.OnStatus(st) })
		}
	case strings.HasPrefix(line, "ERROR"):
		log.Warn().Str("reply", line).Stringer("state", c.state).Msg("server reported error")
		if c.state == ClientStarting || c.state == ClientStopping {
			c.transitionLocked(ClientIdle, &hooks)
		}
		c.replyHookLocked(line, &hooks)
	default:
		log.Debug().Str("line", line).Stringer("state", c.state).Msg("ignoring unexpected line")
	}
	return nil
}

func (c *Client) replyLocked(ack bool, line string, hooks *pendingHooks) {
	switch c.state {
	case ClientInit, ClientStarting:
		if ack {
			c.transitionLocked(ClientLogging, hooks)
		} else {
			c.transitionLocked(ClientIdle, hooks)
		}
	case ClientStopping:
		if ack {
			c.transitionLocked(ClientIdle, hooks)
		} else {
			c.transitionLocked(ClientLogging, hooks)
		}
	default:
		c.replyHookLocked(line, hooks)
	}
}

func (c *Client) replyHookLocked(line string, hooks *pendingHooks) {
	if c.hooks.OnReply != nil {
		*hooks = append(*hooks, func() { c.hooks.OnReply(line) })
	}
}

func (c *Client) downloadingLocked(line string, hooks *pendingHooks) {
	ref := c.downloadRef
	if line == ReplyACK || line == ReplyNACK {
		ok := line == ReplyACK
		lines := c.downloadLines
		c.transitionLocked(ClientIdle, hooks)
		log.Info().Int64("session", ref).Bool("ok", ok).Int("lines", lines).Msg("download finished")
		if c.hooks.OnDownloadDone != nil {
			*hooks = append(*hooks, func() { c.hooks.OnDownloadDone(ref, ok, lines) })
		}
		return
	}

	c.downloadLines++
	if c.hooks.OnDownloadLine != nil {
		*hooks = append(*hooks, func() { c.hooks.OnDownloadLine(ref, line) })
	}
}

// Close moves the client to Closed. Further messages are rejected.
func (c *Client) Close() {
	var hooks pendingHooks
	defer func() { hooks.run() }()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitionLocked(ClientClosed, &hooks)
}
