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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/config"
	"github.com/ZaparooProject/blitz-logger/pkg/database"
	"github.com/ZaparooProject/blitz-logger/pkg/devices"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/ZaparooProject/blitz-logger/pkg/protocol"
	"github.com/ZaparooProject/blitz-logger/pkg/tcp"
	"github.com/ZaparooProject/blitz-logger/pkg/testing/mocks"
	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

const basicFrame = "08" + "00000064" + "aa" + "abc123456789fed0" + "0000000000000000000000000000"

type fakeLogger struct {
	mu      syncutil.Mutex
	running bool
}

func (l *fakeLogger) Start() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = true
	return 5, nil
}

func (l *fakeLogger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	return nil
}

func (l *fakeLogger) SessionID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return 5
	}
	return 0
}

func (*fakeLogger) Boards() []string { return []string{"08"} }

func (*fakeLogger) SendCommand(boardID uint8, _ string) error {
	if boardID != 8 {
		return devices.ErrUnknownPort
	}
	return nil
}

type fakeArchive struct {
	sessions map[int64][]string
	mu       syncutil.Mutex
}

func (a *fakeArchive) ReplayFrames(id int64, fn func(string) error) (int, error) {
	a.mu.Lock()
	frames, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return 0, database.ErrSessionNotFound
	}
	for i, f := range frames {
		if err := fn(f); err != nil {
			return i, err
		}
	}
	return len(frames), nil
}

func (a *fakeArchive) remove(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, id)
}

type harness struct {
	env     *Env
	archive *fakeArchive
	out     *bytes.Buffer
	srv     *tcp.Server
}

// run waits for the previous command's connection to be released, since
// the logger serves one base station at a time.
func (h *harness) run(t *testing.T, cmd interface{ Run(*Env) error }) error {
	t.Helper()
	require.Eventually(t, func() bool { return !h.srv.Connected() }, 2*time.Second, 5*time.Millisecond)
	return cmd.Run(h.env)
}

// testEnv starts a logger control server and returns an Env pointed at it
// with a fresh client database.
func testEnv(t *testing.T) *harness {
	t.Helper()

	archive := &fakeArchive{sessions: map[int64][]string{5: {basicFrame, basicFrame, basicFrame}}}
	machine := protocol.NewServer(&fakeLogger{}, archive, devices.CommandCode)
	srv := tcp.NewServer(machine, "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Listen(ctx))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-served)
	})

	cfg, err := config.NewConfig(t.TempDir(), config.BaseDefaults)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	env := &Env{
		Cfg:     cfg,
		Out:     out,
		DataDir: t.TempDir(),
		Server:  srv.Addr().String(),
		Timeout: 5 * time.Second,
	}
	return &harness{env: env, archive: archive, out: out, srv: srv}
}

func TestParseClientCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		check   func(t *testing.T, app *ClientCLI)
		name    string
		command string
		args    []string
	}{
		{
			name:    "download",
			args:    []string{"download", "12"},
			command: "download <session>",
			check: func(t *testing.T, app *ClientCLI) {
				assert.Equal(t, int64(12), app.Download.Session)
			},
		},
		{
			name:    "board",
			args:    []string{"-s", "pit:7878", "board", "08", "start"},
			command: "board <id> <command>",
			check: func(t *testing.T, app *ClientCLI) {
				assert.Equal(t, "pit:7878", app.Server)
				assert.Equal(t, "08", app.Board.ID)
				assert.Equal(t, "start", app.Board.Command)
			},
		},
		{
			name:    "export",
			args:    []string{"export", "-o", "out.csv", "3"},
			command: "export <session>",
			check: func(t *testing.T, app *ClientCLI) {
				assert.Equal(t, int64(3), app.Export.Session)
				assert.Equal(t, "out.csv", filepath.Base(app.Export.Output))
				assert.Equal(t, 30*time.Second, app.Timeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var app ClientCLI
			parser, err := kong.New(&app)
			require.NoError(t, err)
			kctx, err := parser.Parse(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.command, kctx.Command())
			tt.check(t, &app)
		})
	}
}

func TestParseLoggerDefaultsToServe(t *testing.T) {
	t.Parallel()

	var app LoggerCLI
	parser, err := kong.New(&app)
	require.NoError(t, err)
	kctx, err := parser.Parse([]string{"-v"})
	require.NoError(t, err)
	assert.Equal(t, "serve", kctx.Command())
	assert.True(t, app.Verbose)
}

func TestParseBoardID(t *testing.T) {
	t.Parallel()

	id, err := parseBoardID("0A")
	require.NoError(t, err)
	assert.Equal(t, uint8(10), id)

	for _, bad := range []string{"", "8", "123", "zz"} {
		_, err := parseBoardID(bad)
		require.ErrorIs(t, err, ErrInvalidBoardID, bad)
	}
}

func TestSessionRef(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "pit:7878/42", sessionRef("pit:7878", 42))
}

func TestBoardsCmd(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	require.NoError(t, (&BoardsCmd{}).Run(&Env{Out: out}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "08")
	assert.Contains(t, lines[0], "Blitz Basic Expansion Board")
}

func TestDiscoverCmdSavesPorts(t *testing.T) {
	t.Parallel()

	bus := mocks.NewSerialBus()
	bus.Attach("/dev/ttyUSB0", mocks.BoardResponder("08", devices.CmdACK, nil))

	cfg, err := config.NewConfig(t.TempDir(), config.BaseDefaults)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	env := &Env{
		Cfg: cfg,
		Out: out,
		DeviceOptions: []devices.Option{
			devices.WithPortLister(func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil }),
			devices.WithPortFactory(func(path string, _ *serial.Mode) (devices.SerialPort, error) {
				p, err := bus.Open(path)
				if err != nil {
					return nil, err
				}
				return p, nil
			}),
		},
	}

	require.NoError(t, (&DiscoverCmd{Save: true}).Run(env))
	assert.Contains(t, out.String(), "/dev/ttyUSB0")
	assert.Equal(t, map[string]string{"08": "/dev/ttyUSB0"}, cfg.SerialPorts())

	saved, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.Contains(t, string(saved), "/dev/ttyUSB0")
}

func TestStatusStartStopCmds(t *testing.T) {
	t.Parallel()

	h := testEnv(t)

	require.NoError(t, h.run(t, &StatusCmd{}))
	assert.Contains(t, h.out.String(), "state:   IDLE")
	assert.Contains(t, h.out.String(), "boards:  08")

	h.out.Reset()
	require.NoError(t, h.run(t, &StartCmd{}))
	assert.Equal(t, "logging started\n", h.out.String())

	h.out.Reset()
	require.NoError(t, h.run(t, &StatusCmd{}))
	assert.Contains(t, h.out.String(), "session: 5")

	h.out.Reset()
	require.NoError(t, h.run(t, &StopCmd{}))
	assert.Equal(t, "logging stopped\n", h.out.String())

	h.out.Reset()
	require.NoError(t, h.run(t, &StopCmd{}))
	assert.Equal(t, "logger is not logging\n", h.out.String())
}

func TestBoardCmd(t *testing.T) {
	t.Parallel()

	h := testEnv(t)

	require.NoError(t, h.run(t, &BoardCmd{ID: "08", Command: "start"}))
	assert.Equal(t, "board 08 acknowledged START\n", h.out.String())

	err := h.run(t, &BoardCmd{ID: "09", Command: "start"})
	require.ErrorIs(t, err, tcp.ErrRequestRejected)

	err = h.run(t, &BoardCmd{ID: "x", Command: "start"})
	require.ErrorIs(t, err, ErrInvalidBoardID)
}

func TestDownloadSessionsExport(t *testing.T) {
	t.Parallel()

	h := testEnv(t)

	require.NoError(t, h.run(t, &DownloadCmd{Session: 5}))
	assert.Equal(t, "downloaded session 5 as local session 1: 3 frames, 15 readings\n", h.out.String())

	h.out.Reset()
	require.NoError(t, h.run(t, &SessionsCmd{}))
	assert.Contains(t, h.out.String(), h.env.Server+"/5")
	assert.Contains(t, h.out.String(), "true")

	h.out.Reset()
	require.NoError(t, h.run(t, &ExportCmd{Session: 1}))
	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.Len(t, lines, 16)
	assert.Equal(t, "category,session,time_logged,value", lines[0])
	assert.Equal(t, "100", strings.Split(lines[1], ",")[2], lines[1])

	path := filepath.Join(t.TempDir(), "session.csv")
	require.NoError(t, h.run(t, &ExportCmd{Session: 1, Output: path}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, h.out.String(), string(data))

	err = h.run(t, &ExportCmd{Session: 9})
	require.ErrorIs(t, err, database.ErrSessionNotFound)
}

func TestDownloadUnknownSession(t *testing.T) {
	t.Parallel()

	h := testEnv(t)

	err := h.run(t, &DownloadCmd{Session: 77})
	require.ErrorIs(t, err, tcp.ErrRequestRejected)

	db, err := h.env.openClientDB(context.Background())
	require.NoError(t, err)
	defer closeDB(db)
	sessions, err := db.Sessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRejectedDownloadKeepsEarlierCopy(t *testing.T) {
	t.Parallel()

	h := testEnv(t)

	require.NoError(t, h.run(t, &DownloadCmd{Session: 5}))
	h.archive.remove(5)

	err := h.run(t, &DownloadCmd{Session: 5})
	require.ErrorIs(t, err, tcp.ErrRequestRejected)

	db, err := h.env.openClientDB(context.Background())
	require.NoError(t, err)
	defer closeDB(db)
	sessions, err := db.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Available)
	readings, err := db.SessionReadings(sessions[0].DBID)
	require.NoError(t, err)
	assert.Len(t, readings, 15)
}

func TestDialFailure(t *testing.T) {
	t.Parallel()

	h := testEnv(t)
	h.env.Server = "127.0.0.1:1"

	err := (&StatusCmd{}).Run(h.env)
	require.Error(t, err)
	assert.False(t, errors.Is(err, tcp.ErrRequestRejected))
}
