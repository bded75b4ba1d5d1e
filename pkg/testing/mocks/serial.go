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

package mocks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
)

var (
	ErrPortClosed = errors.New("port closed")
	ErrNoSuchPort = errors.New("no such serial port")
)

// Responder simulates board firmware. It receives each complete line
// written to the port (without the newline) and returns the bytes the
// board sends back.
type Responder func(line string) string

// MockSerialPort is an in-memory serial port. A read with nothing buffered
// returns (0, nil), the same way go.bug.st/serial reports a read timeout.
type MockSerialPort struct {
	ReadError  error
	WriteError error
	CloseError error
	TimeoutErr error
	Respond    Responder
	Path       string
	readBuf    []byte
	lineBuf    []byte
	written    []string
	Timeout    time.Duration
	mu         syncutil.Mutex
	closed     bool
}

func NewMockSerialPort(path string, respond Responder) *MockSerialPort {
	return &MockSerialPort{Path: path, Respond: respond}
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrPortClosed
	}
	if m.ReadError != nil {
		return 0, m.ReadError
	}
	if len(m.readBuf) == 0 {
		return 0, nil
	}
	n := copy(p, m.readBuf)
	m.readBuf = m.readBuf[n:]
	return n, nil
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrPortClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}

	for _, b := range p {
		if b != '\n' {
			m.lineBuf = append(m.lineBuf, b)
			continue
		}
		line := string(m.lineBuf)
		m.lineBuf = nil
		m.written = append(m.written, line)
		if m.Respond != nil {
			m.readBuf = append(m.readBuf, m.Respond(line)...)
		}
	}
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseError
}

func (m *MockSerialPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timeout = t
	return m.TimeoutErr
}

func (m *MockSerialPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Written returns every complete line written to the port.
func (m *MockSerialPort) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.written...)
}

// SerialBus is a set of simulated boards keyed by port path. Every Open
// returns a fresh port wired to the board's responder, matching the
// open-exchange-close pattern used against real hardware.
type SerialBus struct {
	boards map[string]Responder
	opened []*MockSerialPort
	mu     syncutil.Mutex
}

func NewSerialBus() *SerialBus {
	return &SerialBus{boards: make(map[string]Responder)}
}

func (b *SerialBus) Attach(path string, respond Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.boards[path] = respond
}

func (b *SerialBus) Open(path string) (*MockSerialPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	respond, ok := b.boards[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPort, path)
	}
	port := NewMockSerialPort(path, respond)
	b.opened = append(b.opened, port)
	return port, nil
}

// Opened returns every port handed out so far.
func (b *SerialBus) Opened() []*MockSerialPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*MockSerialPort(nil), b.opened...)
}

// Lines returns every line written to path across all opens, in order.
func (b *SerialBus) Lines(path string) []string {
	var lines []string
	for _, p := range b.Opened() {
		if p.Path == path {
			lines = append(lines, p.Written()...)
		}
	}
	return lines
}

// BoardResponder builds a responder for a board with the given two digit
// hex id. It answers identification requests with its id, acknowledges
// every command and replies to TRANSMIT with frames followed by an ACK.
// Command codes are the firmware's: 00 is ID, 03 is TRANSMIT.
func BoardResponder(idHex, ack string, transmit func() []string) Responder {
	return func(line string) string {
		switch {
		case line == "":
			return "\n"
		case strings.HasPrefix(line, "00") && len(line) == 4 && line[2:] == "00":
			return idHex + ack + "\n"
		case strings.HasSuffix(line, "03"):
			var sb strings.Builder
			if transmit != nil {
				for _, f := range transmit() {
					sb.WriteString(f + "\n")
				}
			}
			sb.WriteString(idHex + ack + "\n")
			return sb.String()
		default:
			return idHex + ack + "\n"
		}
	}
}
