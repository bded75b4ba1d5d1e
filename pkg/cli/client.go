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

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/database/loggerdb"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/ZaparooProject/blitz-logger/pkg/ingest"
	"github.com/ZaparooProject/blitz-logger/pkg/protocol"
	"github.com/ZaparooProject/blitz-logger/pkg/service/discovery"
	"github.com/ZaparooProject/blitz-logger/pkg/tcp"
	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
)

var ErrInvalidBoardID = errors.New("board id must be two hex digits")

// ClientCLI is the command line of the base station.
type ClientCLI struct {
	Globals

	Server  string        `short:"s" env:"BLITZ_SERVER" help:"Logger address as host:port. Defaults to the config."`
	Timeout time.Duration `default:"30s" help:"Time allowed for each request."`

	Status   StatusCmd   `cmd:"" help:"Show the logger state."`
	Start    StartCmd    `cmd:"" help:"Start a logging session."`
	Stop     StopCmd     `cmd:"" help:"Stop the running logging session."`
	Download DownloadCmd `cmd:"" help:"Download a session into the local database."`
	Board    BoardCmd    `cmd:"" help:"Send a command to one expansion board."`
	Sessions SessionsCmd `cmd:"" help:"List sessions in the local database."`
	Export   ExportCmd   `cmd:"" help:"Export a local session as CSV."`
	Find     FindCmd     `cmd:"" help:"Find loggers on the local network."`
}

// dial connects to the logger and waits until it has reported whether a
// session is running.
func (e *Env) dial(ctx context.Context, hooks protocol.ClientHooks) (*tcp.Client, error) {
	client, err := tcp.Dial(ctx, e.Server, hooks)
	if err != nil {
		return nil, err //nolint:wrapcheck // already carries the address
	}
	if _, err := client.WaitForState(ctx, protocol.ClientIdle, protocol.ClientLogging); err != nil {
		closeClient(client)
		return nil, fmt.Errorf("logger did not report its state: %w", err)
	}
	return client, nil
}

func closeClient(c *tcp.Client) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close logger connection")
	}
}

func (e *Env) openClientDB(ctx context.Context) (*loggerdb.LoggerDB, error) {
	dataDir := e.DataDir
	if dataDir == "" {
		dataDir = helpers.DataDir()
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := loggerdb.OpenLoggerDB(ctx, e.Cfg.ClientDatabasePath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open client database: %w", err)
	}
	if err := db.MigrateUp(); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("error migrating client database: %w", err)
	}
	return db, nil
}

func closeDB(db *loggerdb.LoggerDB) {
	if err := db.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close client database")
	}
}

type StatusCmd struct{}

func (*StatusCmd) Run(env *Env) error {
	ctx, cancel := env.requestContext()
	defer cancel()

	client, err := env.dial(ctx, protocol.ClientHooks{})
	if err != nil {
		return err
	}
	defer closeClient(client)

	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	env.printf("state:   %s\n", st.State)
	if st.SessionID != 0 {
		env.printf("session: %d\n", st.SessionID)
	}
	boards := "none"
	if len(st.Boards) > 0 {
		boards = strings.Join(st.Boards, ", ")
	}
	env.printf("boards:  %s\n", boards)
	return nil
}

type StartCmd struct{}

func (*StartCmd) Run(env *Env) error {
	ctx, cancel := env.requestContext()
	defer cancel()

	client, err := env.dial(ctx, protocol.ClientHooks{})
	if err != nil {
		return err
	}
	defer closeClient(client)

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start logging: %w", err)
	}
	env.printf("logging started\n")
	return nil
}

type StopCmd struct{}

func (*StopCmd) Run(env *Env) error {
	ctx, cancel := env.requestContext()
	defer cancel()

	client, err := env.dial(ctx, protocol.ClientHooks{})
	if err != nil {
		return err
	}
	defer closeClient(client)

	if client.State() != protocol.ClientLogging {
		env.printf("logger is not logging\n")
		return nil
	}
	if err := client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop logging: %w", err)
	}
	env.printf("logging stopped\n")
	return nil
}

type DownloadCmd struct {
	Session int64 `arg:"" help:"Session id on the logger."`
}

// sessionRef names a logger session in the local database so a repeated
// download replaces the earlier copy.
func sessionRef(server string, session int64) string {
	return server + "/" + strconv.FormatInt(session, 10)
}

// localDownload creates the local session on the first data line, so a
// download the logger rejects leaves an earlier copy untouched.
type localDownload struct {
	db       *loggerdb.LoggerDB
	pipeline *ingest.Pipeline
	dl       *ingest.Download
	err      error
	ref      string
	localID  int64
	mu       syncutil.Mutex
}

func (l *localDownload) openLocked() error {
	if l.dl != nil || l.err != nil {
		return l.err
	}
	id, err := l.db.CreateSession(l.ref)
	if err != nil {
		l.err = fmt.Errorf("failed to create local session: %w", err)
		return l.err
	}
	l.localID = id
	l.dl = l.pipeline.NewDownload(id)
	return nil
}

func (l *localDownload) add(ctx context.Context, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openLocked(); err != nil {
		return
	}
	l.dl.Add(ctx, line)
}

// finish stores what is left. An accepted download with no frames still
// gets a local session.
func (l *localDownload) finish(ctx context.Context) (readings int, available bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if openErr := l.openLocked(); openErr != nil {
		return 0, false, openErr
	}
	return l.dl.Finish(ctx) //nolint:wrapcheck // wrapped by the caller
}

func (c *DownloadCmd) Run(env *Env) error {
	ctx, cancel := env.requestContext()
	defer cancel()

	db, err := env.openClientDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(db)

	local := &localDownload{
		db:       db,
		pipeline: ingest.NewPipeline(db, defaultRegistry()),
		ref:      sessionRef(env.Server, c.Session),
	}

	client, err := env.dial(ctx, protocol.ClientHooks{
		OnDownloadLine: func(_ int64, line string) {
			local.add(ctx, line)
		},
	})
	if err != nil {
		return err
	}
	defer closeClient(client)

	frames, err := client.Download(ctx, c.Session)
	if err != nil {
		return fmt.Errorf("failed to download session %d: %w", c.Session, err)
	}

	readings, available, err := local.finish(ctx)
	if err != nil {
		return fmt.Errorf("failed to store session %d: %w", c.Session, err)
	}

	env.printf("downloaded session %d as local session %d: %d frames, %d readings\n",
		c.Session, local.localID, frames, readings)
	if !available {
		env.printf("warning: not every frame decoded, session is incomplete\n")
	}
	return nil
}

type BoardCmd struct {
	ID      string `arg:"" help:"Board id as two hex digits."`
	Command string `arg:"" help:"Command name (START, STOP, TRANSMIT, ID) or two digit code."`
}

func parseBoardID(s string) (uint8, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBoardID, s)
	}
	id, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBoardID, s)
	}
	return uint8(id), nil
}

func (c *BoardCmd) Run(env *Env) error {
	id, err := parseBoardID(c.ID)
	if err != nil {
		return err
	}

	ctx, cancel := env.requestContext()
	defer cancel()

	client, err := env.dial(ctx, protocol.ClientHooks{})
	if err != nil {
		return err
	}
	defer closeClient(client)

	if err := client.BoardCommand(ctx, id, strings.ToUpper(c.Command)); err != nil {
		return fmt.Errorf("board command failed: %w", err)
	}
	env.printf("board %s acknowledged %s\n", strings.ToLower(c.ID), strings.ToUpper(c.Command))
	return nil
}

type SessionsCmd struct{}

func (*SessionsCmd) Run(env *Env) error {
	ctx, cancel := env.requestContext()
	defer cancel()

	db, err := env.openClientDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(db)

	sessions, err := db.Sessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		env.printf("no sessions\n")
		return nil
	}

	w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREFERENCE\tSTARTED\tFRAMES\tAVAILABLE")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%t\n",
			s.DBID, s.ReferenceID, s.StartedAt.Format(time.RFC3339), s.ExpectedReadingCount, s.Available)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write session list: %w", err)
	}
	return nil
}

type ExportCmd struct {
	Output  string `short:"o" type:"path" help:"Write CSV to this file instead of stdout."`
	Session int64  `arg:"" help:"Local session id."`
}

func (c *ExportCmd) Run(env *Env) error {
	ctx, cancel := env.requestContext()
	defer cancel()

	db, err := env.openClientDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(db)

	if _, err := db.GetSession(c.Session); err != nil {
		return fmt.Errorf("failed to export session %d: %w", c.Session, err)
	}
	readings, err := db.SessionReadings(c.Session)
	if err != nil {
		return fmt.Errorf("failed to read session %d: %w", c.Session, err)
	}

	out := env.Out
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", c.Output, err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Warn().Err(err).Str("path", c.Output).Msg("failed to close export file")
			}
		}()
		out = f
	}

	if err := gocsv.Marshal(readings, out); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	log.Info().Int64("session", c.Session).Int("readings", len(readings)).Msg("exported session")
	return nil
}

type FindCmd struct {
	Wait time.Duration `default:"3s" help:"How long to listen for loggers."`
}

func (c *FindCmd) Run(env *Env) error {
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelWait := context.WithTimeout(ctx, c.Wait)
	defer cancelWait()

	loggers, err := discovery.Browse(ctx)
	if err != nil {
		return fmt.Errorf("failed to find loggers: %w", err)
	}
	if len(loggers) == 0 {
		env.printf("no loggers found\n")
		return nil
	}

	w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	for _, l := range loggers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", l.Instance, l.Addr(), strings.Join(l.Boards, ","))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write logger list: %w", err)
	}
	return nil
}
