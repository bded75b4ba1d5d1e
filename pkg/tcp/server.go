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

// Package tcp carries the line based control protocol over TCP. The state
// machines live in the protocol package; this package only moves lines.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/ZaparooProject/blitz-logger/pkg/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPort  = 7878
	WriteTimeout = 5 * time.Second
	// MaxLineBytes bounds a single protocol line. Frames are well under it.
	MaxLineBytes = 64 * 1024
)

var ErrServerClosed = errors.New("tcp server closed")

// Server accepts base station connections and feeds their lines to a single
// protocol.Server. Only one peer is served at a time.
type Server struct {
	machine  *protocol.Server
	listener net.Listener
	active   net.Conn
	shutdown chan struct{}
	addr     string
	wg       sync.WaitGroup
	mu       syncutil.Mutex
	closed   bool
}

func NewServer(machine *protocol.Server, addr string) *Server {
	return &Server{
		machine:  machine,
		addr:     addr,
		shutdown: make(chan struct{}),
	}
}

// Listen binds the listening socket. It is separate from Serve so callers
// can learn the bound address before serving.
func (s *Server) Listen(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	log.Info().Str("address", listener.Addr().String()).Msg("control server listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connected reports whether a peer is currently being served.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Listen is called first if it has not been already.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close control server")
		}
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}
		s.accept(conn)
	}
}

func (s *Server) accept(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	s.mu.Lock()
	if s.closed || s.active != nil {
		s.mu.Unlock()
		log.Warn().Str("remote", remote).Msg("rejecting connection, peer already connected")
		_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := conn.Write([]byte(protocol.ReplyNACK + "\n")); err != nil {
			log.Debug().Err(err).Msg("failed to send rejection")
		}
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close rejected connection")
		}
		return
	}
	s.active = conn
	s.wg.Add(1)
	s.mu.Unlock()

	s.machine.SetWriter(lineWriter(conn))
	log.Info().Str("remote", remote).Msg("base station connected")

	go s.handle(conn)
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	remote := conn.RemoteAddr().String()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024), MaxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.Debug().Str("remote", remote).Str("line", line).Msg("received command")
		if err := s.machine.ProcessMessage(line); err != nil {
			log.Warn().Err(err).Str("line", line).Msg("failed to process command")
			if errors.Is(err, protocol.ErrProtocolMisuse) {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn().Err(err).Str("remote", remote).Msg("connection read failed")
	}

	s.mu.Lock()
	if s.active == conn {
		s.active = nil
		s.machine.SetWriter(nil)
	}
	s.mu.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("failed to close connection")
	}
	log.Info().Str("remote", remote).Msg("base station disconnected")
}

// Close stops accepting, drops the active peer and shuts the protocol
// machine down. Any running session is stopped. Later calls wait for the
// first one to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.shutdown
		return nil
	}
	s.closed = true
	listener := s.listener
	active := s.active
	s.mu.Unlock()

	var err error
	if listener != nil {
		if closeErr := listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = fmt.Errorf("failed to close listener: %w", closeErr)
		}
	}
	if active != nil {
		_ = active.Close()
	}

	s.wg.Wait()
	s.machine.Shutdown()
	close(s.shutdown)
	return err
}

func lineWriter(conn net.Conn) func(string) error {
	return func(line string) error {
		if err := conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("failed to write line: %w", err)
		}
		return nil
	}
}
