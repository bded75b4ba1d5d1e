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

// Package devices owns all serial transport to the expansion boards: port
// discovery, acknowledged commands and the background poll loop that pulls
// telemetry frames during a logging session.
package devices

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/database"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// PortMapping maps a two digit lowercase hex board id to its port name.
type PortMapping map[string]string

// RawFrame is an undecoded telemetry line pulled from a board.
type RawFrame struct {
	Received  time.Time
	Port      string
	Data      string
	SessionID int64
	BoardID   uint8
}

type Config struct {
	BaudRate     int
	ReadTimeout  time.Duration
	IDTimeout    time.Duration
	UpdatePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaudRate:     DefaultBaudRate,
		ReadTimeout:  DefaultReadTimeout,
		IDTimeout:    DefaultIDTimeout,
		UpdatePeriod: DefaultUpdatePeriod,
	}
}

type Option func(*Manager)

func WithPortFactory(f SerialPortFactory) Option {
	return func(m *Manager) {
		m.openPort = f
	}
}

// WithPortLister replaces the OS serial port enumeration used by discovery.
func WithPortLister(f func() ([]string, error)) Option {
	return func(m *Manager) {
		m.listPorts = f
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

type pollTask struct {
	stop chan struct{}
	done chan struct{}
}

// Manager talks to every expansion board. There is one manager per
// process, owned by whoever composes the daemon.
type Manager struct {
	store     database.SessionStore
	frames    chan<- RawFrame
	openPort  SerialPortFactory
	listPorts func() ([]string, error)
	clock     clockwork.Clock
	mapping   PortMapping
	task      *pollTask
	cfg       Config
	sessionID int64
	// portMu serializes serial exchanges so a BOARD command cannot
	// interleave with a poll burst on the same port.
	portMu syncutil.Mutex
	mu     syncutil.RWMutex
}

// NewManager creates a manager that opens sessions in store and forwards
// polled frames to frames.
func NewManager(store database.SessionStore, frames chan<- RawFrame, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		frames:    frames,
		openPort:  DefaultSerialPortFactory,
		listPorts: helpers.GetSerialDeviceList,
		clock:     clockwork.NewRealClock(),
		mapping:   make(PortMapping),
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mapping returns a copy of the current port mapping.
func (m *Manager) Mapping() PortMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.mapping)
}

// SetMapping replaces the port mapping, for setups with fixed ports.
func (m *Manager) SetMapping(pm PortMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapping = make(PortMapping, len(pm))
	for id, port := range pm {
		m.mapping[strings.ToLower(id)] = port
	}
}

// Boards returns the mapped board ids in ascending order.
func (m *Manager) Boards() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.mapping))
}

func (m *Manager) Logging() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.task != nil
}

// SessionID returns the id of the running session, or 0 when idle.
func (m *Manager) SessionID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.task == nil {
		return 0
	}
	return m.sessionID
}

// exchange opens path, runs fn and closes the port again.
func (m *Manager) exchange(path string, timeout time.Duration, fn func(SerialPort, *lineReader) error) error {
	m.portMu.Lock()
	defer m.portMu.Unlock()

	port, err := m.openPort(path, &serial.Mode{BaudRate: m.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	defer func() {
		if closeErr := port.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("port", path).Msg("failed to close serial port")
		}
	}()

	if err := port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set read timeout on serial port: %w", err)
	}

	return fn(port, newLineReader(port))
}

// DiscoverPorts asks every candidate serial port for a board id and
// rebuilds the port mapping from the ports that answered.
func (m *Manager) DiscoverPorts(ctx context.Context) (PortMapping, error) {
	log.Info().Msg("scanning for expansion boards")

	candidates, err := m.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	found := make(PortMapping)
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("board discovery cancelled: %w", err)
		}

		id, ok, err := m.identify(path)
		if err != nil {
			log.Debug().Err(err).Str("port", path).Msg("skipping serial port")
			continue
		}
		if !ok {
			log.Debug().Str("port", path).Msg("no board id reply")
			continue
		}

		log.Info().Str("board", id).Str("port", path).Msg("found expansion board")
		found[id] = path
	}

	m.mu.Lock()
	m.mapping = found
	m.mu.Unlock()

	return maps.Clone(found), nil
}

func (m *Manager) identify(path string) (id string, ok bool, err error) {
	err = m.exchange(path, m.cfg.IDTimeout, func(port SerialPort, r *lineReader) error {
		// flush whatever the board had buffered
		if err := writeLine(port, ""); err != nil {
			return err
		}
		if _, _, err := r.readLine(); err != nil {
			return err
		}

		if err := writeLine(port, "00"+CmdID); err != nil {
			return err
		}
		reply, got, err := r.readLine()
		if err != nil || !got {
			return err
		}

		reply = strings.TrimSpace(reply)
		if len(reply) < 2 {
			return nil
		}
		n, parseErr := strconv.ParseUint(reply[:2], 16, 8)
		if parseErr != nil {
			return nil //nolint:nilerr // a garbled reply just means no board
		}
		id = fmt.Sprintf("%02x", n)
		ok = true
		return nil
	})
	return id, ok, err
}

// SendWithAck writes boardID+command to the port and waits for one reply
// line. It returns nil only for an ACK; any other outcome is an *AckError
// (or a transport error) wrapping ErrDeviceNackOrTimeout.
func (m *Manager) SendWithAck(command, boardID, path string) error {
	var reply string
	err := m.exchange(path, m.cfg.ReadTimeout, func(port SerialPort, r *lineReader) error {
		if err := writeLine(port, boardID+command); err != nil {
			return err
		}
		line, _, err := r.readLine()
		reply = strings.TrimSpace(line)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: board %s: %w", ErrDeviceNackOrTimeout, boardID, err)
	}
	if !isAck(reply) {
		return &AckError{Command: command, BoardID: boardID, Reply: reply}
	}
	return nil
}

// SendCommand sends an acknowledged command to a mapped board.
func (m *Manager) SendCommand(boardID uint8, command string) error {
	id := fmt.Sprintf("%02x", boardID)
	m.mu.RLock()
	path, ok := m.mapping[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPort, id)
	}
	return m.SendWithAck(command, id, path)
}

// PollOnce requests a transmission from one board and forwards every frame
// in the reply burst. It returns the number of frames forwarded.
func (m *Manager) PollOnce(boardID, path string) (int, error) {
	return m.pollOnce(boardID, path, m.SessionID(), nil)
}

func (m *Manager) pollOnce(boardID, path string, sessionID int64, stop <-chan struct{}) (int, error) {
	id, err := strconv.ParseUint(boardID, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid board id %q: %w", boardID, err)
	}

	forwarded := 0
	err = m.exchange(path, m.cfg.ReadTimeout, func(port SerialPort, r *lineReader) error {
		if err := writeLine(port, boardID+CmdTransmit); err != nil {
			return err
		}
		for {
			line, ok, err := r.readLine()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			line = strings.TrimSpace(line)
			switch {
			case len(line) < 4:
				continue
			case len(line) == 4:
				if line[2:] == CmdACK {
					return nil
				}
				log.Debug().Str("board", boardID).Str("reply", line).Msg("ignoring short reply")
				continue
			}

			frame := RawFrame{
				BoardID:   uint8(id),
				Port:      path,
				Data:      line,
				SessionID: sessionID,
				Received:  m.clock.Now(),
			}
			select {
			case m.frames <- frame:
				forwarded++
			case <-stop:
				return nil
			}
		}
	})
	return forwarded, err
}

// Start opens a new session, tells every board to start and launches the
// poll loop. Boards that fail to acknowledge are logged and skipped.
func (m *Manager) Start() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.task != nil {
		return 0, ErrAlreadyRunning
	}

	sessionID, err := m.store.StartSession()
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}

	mapping := maps.Clone(m.mapping)
	m.broadcast(CmdStart, mapping)

	task := &pollTask{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.task = task
	m.sessionID = sessionID

	go m.pollLoop(mapping, sessionID, task)

	log.Info().Int64("session", sessionID).Int("boards", len(mapping)).Msg("commenced logging session")
	return sessionID, nil
}

// Stop joins the poll loop, tells every board to stop and closes the
// session. Once it returns no more frames are forwarded.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.task == nil {
		return ErrNotRunning
	}

	close(m.task.stop)
	<-m.task.done
	m.task = nil
	log.Debug().Msg("serial polling stopped")

	m.broadcast(CmdStop, m.mapping)

	if err := m.store.StopSession(); err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}

	log.Info().Int64("session", m.sessionID).Msg("logging session stopped")
	return nil
}

func (m *Manager) broadcast(command string, mapping PortMapping) {
	for _, id := range slices.Sorted(maps.Keys(mapping)) {
		if err := m.SendWithAck(command, id, mapping[id]); err != nil {
			log.Warn().Err(err).
				Str("board", id).
				Str("command", command).
				Msg("did not receive a valid ACK from board")
		}
	}
}

func (m *Manager) pollLoop(mapping PortMapping, sessionID int64, task *pollTask) {
	defer close(task.done)

	ids := slices.Sorted(maps.Keys(mapping))
	for {
		for _, id := range ids {
			select {
			case <-task.stop:
				return
			default:
			}

			n, err := m.pollOnce(id, mapping[id], sessionID, task.stop)
			if err != nil {
				log.Warn().Err(err).Str("board", id).Msg("failed to poll board")
				continue
			}
			log.Trace().Str("board", id).Int("frames", n).Msg("polled board")
		}

		select {
		case <-task.stop:
			return
		case <-m.clock.After(m.cfg.UpdatePeriod):
		}
	}
}
