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

// Package cli holds the kong command definitions of the blitz-logger and
// blitz-client binaries.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/boards"
	"github.com/ZaparooProject/blitz-logger/pkg/config"
	"github.com/ZaparooProject/blitz-logger/pkg/devices"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Globals are flags shared by both binaries.
type Globals struct {
	Verbose bool `short:"v" help:"Log to the console as well as the log file."`
	Debug   bool `help:"Enable debug logging."`
}

// Env is what every command runs against. It is built after flag parsing
// and bound into kong's Run.
type Env struct {
	Cfg     *config.Instance
	Out     io.Writer
	DataDir string
	Server  string
	Timeout time.Duration
	// DeviceOptions are passed to the serial device manager.
	DeviceOptions []devices.Option
}

// Setup prepares logging and loads the config. Debug logging is on when
// either the flag or the config asks for it.
//
//nolint:gocritic // config struct copied for immutability
func Setup(defaults config.Values, logFile string, g Globals) (*config.Instance, error) {
	var writers []io.Writer
	if g.Verbose {
		writers = append(writers, helpers.ConsoleWriter())
	}
	if err := helpers.InitLogging(helpers.LogDir(), logFile, writers...); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(helpers.ConfigDir(), defaults)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	if g.Debug || cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// requestContext bounds a single client request by the configured timeout
// as well as by interrupt signals.
func (e *Env) requestContext() (context.Context, context.CancelFunc) {
	ctx, stop := signalContext()
	if e.Timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, e.Timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

func (e *Env) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e.Out, format, args...)
}

func defaultRegistry() *boards.Registry {
	reg, err := boards.NewRegistryWith(boards.DefaultBoards()...)
	if err != nil {
		// built-in ids are unique
		log.Panic().Err(err).Msg("built-in boards failed to register")
	}
	return reg
}
