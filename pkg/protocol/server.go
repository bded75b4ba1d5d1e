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
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ZaparooProject/blitz-logger/pkg/database"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

type ServerState int

const (
	ServerIdle ServerState = iota
	ServerLogging
	ServerDownloading
	ServerClosed
)

func (s ServerState) String() string {
	switch s {
	case ServerIdle:
		return "IDLE"
	case ServerLogging:
		return "LOGGING"
	case ServerDownloading:
		return "DOWNLOADING"
	case ServerClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("STATE%d", int(s))
	}
}

// Logger is the device side of a logging session.
type Logger interface {
	Start() (int64, error)
	Stop() error
	SessionID() int64
	Boards() []string
	SendCommand(boardID uint8, command string) error
}

// Archive replays the stored frames of a session.
type Archive interface {
	ReplayFrames(sessionID int64, fn func(raw string) error) (int, error)
}

// BoardCommandResolver maps a BOARD subcommand to a device command code.
type BoardCommandResolver func(sub string) (string, error)

var errDownloadAborted = errors.New("download aborted")

// Server is the logger side state machine. One instance serves the whole
// process so a reconnecting base station sees the current logging state.
type Server struct {
	logger   Logger
	archive  Archive
	resolve  BoardCommandResolver
	write    func(line string) error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	download uint64
	state    ServerState
	mu       syncutil.Mutex
}

func NewServer(logger Logger, archive Archive, resolve BoardCommandResolver) *Server {
	return &Server{
		logger:  logger,
		archive: archive,
		resolve: resolve,
		state:   ServerIdle,
	}
}

// SetWriter sets where replies go. A nil writer drops replies.
func (s *Server) SetWriter(w func(line string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write = w
}

func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) sendLocked(line string) error {
	if s.write == nil {
		log.Debug().Str("line", line).Msg("no peer connected, dropping reply")
		return nil
	}
	if err := s.write(line); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

func (s *Server) setStateLocked(to ServerState) {
	if s.state != to {
		log.Debug().Stringer("from", s.state).Stringer("to", to).Msg("server state change")
	}
	s.state = to
}

// SendMessage writes a line to the connected peer.
func (s *Server) SendMessage(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ServerClosed {
		return fmt.Errorf("%w: server is closed", ErrProtocolMisuse)
	}
	return s.sendLocked(line)
}

// ProcessMessage handles one line received from the peer and sends the
// reply. Unrecognized input is answered with ReplyUnrecognized and never
// changes state.
func (s *Server) ProcessMessage(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerClosed {
		return fmt.Errorf("%w: server is closed", ErrProtocolMisuse)
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		log.Warn().Str("line", line).Msg("received unrecognized command")
		return s.sendLocked(Validate(line, ServerGrammar))
	}

	if cmd.Verb == VerbStatus {
		return s.sendLocked(s.statusLocked().String())
	}

	switch s.state {
	case ServerIdle:
		return s.idleLocked(cmd)
	case ServerLogging:
		return s.loggingLocked(cmd)
	default:
		return s.sendLocked(ReplyNACK)
	}
}

func (s *Server) statusLocked() Status {
	st := Status{State: s.state.String(), Boards: s.logger.Boards()}
	if s.state == ServerLogging {
		st.SessionID = s.logger.SessionID()
	}
	return st
}

func (s *Server) idleLocked(cmd Command) error {
	switch cmd.Verb {
	case VerbStart:
		id, err := s.logger.Start()
		if err != nil {
			log.Error().Err(err).Msg("failed to start logging")
			return s.sendLocked(ReplyRecognized)
		}
		s.setStateLocked(ServerLogging)
		log.Info().Int64("session", id).Msg("logging started")
		return s.sendLocked(ReplyACK)
	case VerbStop:
		return s.sendLocked(ReplyACK)
	case VerbDownload:
		id, err := cmd.SessionRef()
		if err != nil {
			return s.sendLocked(ReplyNACK)
		}
		s.setStateLocked(ServerDownloading)
		s.startDownloadLocked(id)
		return nil
	case VerbBoard:
		return s.boardLocked(cmd)
	default:
		// LOGGING while idle
		return s.sendLocked(ReplyNACK)
	}
}

func (s *Server) loggingLocked(cmd Command) error {
	switch cmd.Verb {
	case VerbStart, VerbLogging:
		return s.sendLocked(ReplyACK)
	case VerbStop:
		err := s.logger.Stop()
		s.setStateLocked(ServerIdle)
		if err != nil {
			log.Error().Err(err).Msg("failed to stop logging")
			return s.sendLocked(ReplyRecognized)
		}
		log.Info().Msg("logging stopped")
		return s.sendLocked(ReplyACK)
	case VerbBoard:
		return s.boardLocked(cmd)
	default:
		// DOWNLOAD while logging
		return s.sendLocked(ReplyNACK)
	}
}

func (s *Server) boardLocked(cmd Command) error {
	id, sub, err := cmd.BoardTarget()
	if err != nil {
		return s.sendLocked(ReplyNACK)
	}
	code, err := s.resolve(sub)
	if err != nil {
		log.Warn().Err(err).Uint8("board", id).Msg("unknown board command")
		return s.sendLocked(ReplyNACK)
	}
	if err := s.logger.SendCommand(id, code); err != nil {
		log.Warn().Err(err).Uint8("board", id).Str("command", code).Msg("board command failed")
		return s.sendLocked(ReplyNACK)
	}
	return s.sendLocked(ReplyACK)
}

// startDownloadLocked replays a session in the background so the peer
// can still get STATUS replies while frames stream out.
func (s *Server) startDownloadLocked(sessionID int64) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.download++
	seq := s.download

	log.Info().Int64("session", sessionID).Msg("starting session download")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		n, err := s.archive.ReplayFrames(sessionID, func(raw string) error {
			if ctx.Err() != nil {
				return errDownloadAborted
			}
			return s.sendDownloadLine(seq, raw)
		})
		s.finishDownload(seq, sessionID, n, err)
	}()
}

func (s *Server) sendDownloadLine(seq uint64, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ServerDownloading || s.download != seq {
		return errDownloadAborted
	}
	return s.sendLocked(raw)
}

func (s *Server) finishDownload(seq uint64, sessionID int64, frames int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ServerDownloading || s.download != seq {
		log.Debug().Int64("session", sessionID).Msg("download finished after cancellation")
		return
	}

	reply := ReplyACK
	switch {
	case errors.Is(err, database.ErrSessionNotFound):
		log.Warn().Int64("session", sessionID).Msg("download requested for unknown session")
		reply = ReplyNACK
	case err != nil:
		log.Error().Err(err).Int64("session", sessionID).Int("frames", frames).Msg("session download failed")
		reply = ReplyNACK
	default:
		log.Info().Int64("session", sessionID).Int("frames", frames).Msg("session download complete")
	}

	if sendErr := s.sendLocked(reply); sendErr != nil {
		log.Warn().Err(sendErr).Msg("failed to send download result")
	}
	s.completeDownloadLocked()
}

func (s *Server) completeDownloadLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.setStateLocked(ServerIdle)
}

// DownloadComplete ends the running download and returns to Idle. Frames
// not yet sent are abandoned.
func (s *Server) DownloadComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ServerDownloading {
		return fmt.Errorf("%w: no download in progress (state %s)", ErrProtocolMisuse, s.state)
	}
	s.completeDownloadLocked()
	return nil
}

// Shutdown stops any running session or download and closes the state
// machine for good.
func (s *Server) Shutdown() {
	s.mu.Lock()
	switch s.state {
	case ServerClosed:
		s.mu.Unlock()
		return
	case ServerLogging:
		if err := s.logger.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop logging on shutdown")
		}
	case ServerDownloading:
		s.completeDownloadLocked()
	case ServerIdle:
	}
	s.setStateLocked(ServerClosed)
	s.write = nil
	s.mu.Unlock()

	s.wg.Wait()
}
