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

package main

import (
	"fmt"
	"os"

	"github.com/ZaparooProject/blitz-logger/pkg/cli"
	"github.com/ZaparooProject/blitz-logger/pkg/config"
	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	var app cli.LoggerCLI
	kctx := kong.Parse(&app,
		kong.Name("blitz-logger"),
		kong.Description("Field data logger daemon for Blitz expansion boards."),
		kong.UsageOnError(),
	)

	cfg, err := cli.Setup(config.BaseDefaults, "blitz-logger.log", app.Globals)
	if err != nil {
		return err //nolint:wrapcheck // Setup errors are already descriptive
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	return kctx.Run(&cli.Env{Cfg: cfg, Out: os.Stdout}) //nolint:wrapcheck // command errors are returned as is
}
