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

package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/ZaparooProject/blitz-logger/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// DialTimeout is how long the CLI waits for a logger to accept.
const DialTimeout = 5 * time.Second

var (
	ErrConnectionClosed = errors.New("connection to logger closed")
	ErrRequestRejected  = errors.New("request rejected by logger")
)

type downloadResult struct {
	ref   int64
	lines int
	ok    bool
}

// Client is a base station connection. It owns the read loop and the
// protocol.Client state machine driven by it.
type Client struct {
	conn      net.Conn
	machine   *protocol.Client
	changed   chan struct{}
	done      chan struct{}
	statuses  chan protocol.Status
	downloads chan downloadResult
	// pendingReply receives the next plain reply while a board command
	// is in flight.
	pendingReply chan string
	err          error
	mu           syncutil.Mutex
}

// Dial connects to a logger and asks it for the current logging state. The
// returned client is in the Init state until the server answers, see
// WaitForState.
func Dial(ctx context.Context, addr string, hooks protocol.ClientHooks) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to logger at %s: %w", addr, err)
	}

	c := &Client{
		conn:      conn,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
		statuses:  make(chan protocol.Status, 1),
		downloads: make(chan downloadResult, 1),
	}
	c.machine = protocol.NewClient(lineWriter(conn), c.wrapHooks(hooks))

	go c.readLoop()

	if err := c.machine.Begin(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to query logging state: %w", err)
	}
	log.Debug().Str("address", addr).Msg("connected to logger")
	return c, nil
}

func (c *Client) wrapHooks(hooks protocol.ClientHooks) protocol.ClientHooks {
	wrapped := hooks
	wrapped.OnStateChange = func(from, to protocol.ClientState) {
		c.mu.Lock()
		close(c.changed)
		c.changed = make(chan struct{})
		c.mu.Unlock()
		if hooks.OnStateChange != nil {
			hooks.OnStateChange(from, to)
		}
	}
	wrapped.OnStatus = func(st protocol.Status) {
		offer(c.statuses, st)
		if hooks.OnStatus != nil {
			hooks.OnStatus(st)
		}
	}
	wrapped.OnDownloadDone = func(ref int64, ok bool, lines int) {
		offer(c.downloads, downloadResult{ref: ref, ok: ok, lines: lines})
		if hooks.OnDownloadDone != nil {
			hooks.OnDownloadDone(ref, ok, lines)
		}
	}
	wrapped.OnReply = func(line string) {
		c.mu.Lock()
		pending := c.pendingReply
		c.mu.Unlock()
		if pending != nil {
			offer(pending, line)
		}
		if hooks.OnReply != nil {
			hooks.OnReply(line)
		}
	}
	return wrapped
}

// offer replaces whatever is buffered in ch with v.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 1024), MaxLineBytes)
	for scanner.Scan() {
		if err := c.machine.ProcessMessage(scanner.Text()); err != nil {
			log.Debug().Err(err).Msg("stopped processing server lines")
			break
		}
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, net.ErrClosed) {
		err = ErrConnectionClosed
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.machine.Close()
}

func (c *Client) Machine() *protocol.Client {
	return c.machine
}

func (c *Client) State() protocol.ClientState {
	return c.machine.State()
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the read loop exited, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// WaitForState blocks until the client is in one of states.
func (c *Client) WaitForState(ctx context.Context, states ...protocol.ClientState) (protocol.ClientState, error) {
	for {
		c.mu.Lock()
		changed := c.changed
		c.mu.Unlock()

		st := c.machine.State()
		if slices.Contains(states, st) {
			return st, nil
		}
		if st == protocol.ClientClosed {
			return st, ErrConnectionClosed
		}

		select {
		case <-ctx.Done():
			return st, fmt.Errorf("waiting for state change: %w", ctx.Err())
		case <-changed:
		}
	}
}

// Start asks the logger to start a session and waits for the outcome.
func (c *Client) Start(ctx context.Context) error {
	if err := c.machine.RequestStart(); err != nil {
		return err //nolint:wrapcheck // protocol errors are already descriptive
	}
	st, err := c.WaitForState(ctx, protocol.ClientLogging, protocol.ClientIdle)
	if err != nil {
		return err
	}
	if st != protocol.ClientLogging {
		return fmt.Errorf("%w: start", ErrRequestRejected)
	}
	return nil
}

// Stop asks the logger to stop the running session and waits for the
// outcome.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.machine.RequestStop(); err != nil {
		return err //nolint:wrapcheck // protocol errors are already descriptive
	}
	st, err := c.WaitForState(ctx, protocol.ClientIdle, protocol.ClientLogging)
	if err != nil {
		return err
	}
	if st != protocol.ClientIdle {
		return fmt.Errorf("%w: stop", ErrRequestRejected)
	}
	return nil
}

// Status asks the logger for its state and waits for the reply.
func (c *Client) Status(ctx context.Context) (protocol.Status, error) {
	select {
	case <-c.statuses:
	default:
	}
	if err := c.machine.RequestStatus(); err != nil {
		return protocol.Status{}, err //nolint:wrapcheck // protocol errors are already descriptive
	}
	select {
	case st := <-c.statuses:
		return st, nil
	case <-c.done:
		return protocol.Status{}, ErrConnectionClosed
	case <-ctx.Done():
		return protocol.Status{}, fmt.Errorf("waiting for status: %w", ctx.Err())
	}
}

// Download replays session ref from the logger. Data lines go to the
// OnDownloadLine hook; the returned count is the number of lines received.
func (c *Client) Download(ctx context.Context, ref int64) (int, error) {
	select {
	case <-c.downloads:
	default:
	}
	if err := c.machine.RequestDownload(ref); err != nil {
		return 0, err //nolint:wrapcheck // protocol errors are already descriptive
	}
	select {
	case res := <-c.downloads:
		if !res.ok {
			return res.lines, fmt.Errorf("%w: download of session %d", ErrRequestRejected, ref)
		}
		return res.lines, nil
	case <-c.done:
		return 0, ErrConnectionClosed
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for download: %w", ctx.Err())
	}
}

// BoardCommand forwards a subcommand to one board and waits for the reply.
func (c *Client) BoardCommand(ctx context.Context, boardID uint8, sub string) error {
	replies := make(chan string, 1)
	c.mu.Lock()
	c.pendingReply = replies
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pendingReply = nil
		c.mu.Unlock()
	}()

	if err := c.machine.RequestBoardCommand(boardID, sub); err != nil {
		return err //nolint:wrapcheck // protocol errors are already descriptive
	}
	select {
	case reply := <-replies:
		if reply != protocol.ReplyACK {
			return fmt.Errorf("%w: board %d %s: %s", ErrRequestRejected, boardID, sub, reply)
		}
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for board reply: %w", ctx.Err())
	}
}

// Close drops the connection and waits for the read loop to exit.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
