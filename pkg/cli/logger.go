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
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/ZaparooProject/blitz-logger/pkg/devices"
	"github.com/ZaparooProject/blitz-logger/pkg/service"
	"github.com/rs/zerolog/log"
)

// LoggerCLI is the command line of the logger daemon.
type LoggerCLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the logger daemon (default)."`
	Discover DiscoverCmd `cmd:"" help:"Scan serial ports for expansion boards."`
	Boards   BoardsCmd   `cmd:"" help:"List the built-in expansion boards."`
}

type ServeCmd struct{}

func (*ServeCmd) Run(env *Env) error {
	stop, done, err := service.Start(env.Cfg)
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case <-done:
		log.Warn().Msg("service exited")
	}

	if err := stop(); err != nil {
		return fmt.Errorf("error stopping service: %w", err)
	}
	return nil
}

type DiscoverCmd struct {
	Save bool `help:"Pin the boards found to their ports in the config file."`
}

func (c *DiscoverCmd) Run(env *Env) error {
	ctx, cancel := signalContext()
	defer cancel()

	opts := append([]devices.Option{devices.WithConfig(service.DeviceConfig(env.Cfg))}, env.DeviceOptions...)
	mgr := devices.NewManager(nil, nil, opts...)

	found, err := mgr.DiscoverPorts(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover boards: %w", err)
	}
	if len(found) == 0 {
		env.printf("no expansion boards found\n")
		return nil
	}

	reg := defaultRegistry()
	ids := slices.Sorted(maps.Keys(found))
	w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	for i, d := range reg.Describe(ids) {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", ids[i], found[ids[i]], d.Description)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write board list: %w", err)
	}

	if c.Save {
		env.Cfg.SetSerialPorts(found)
		if err := env.Cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		env.printf("saved %d board ports to %s\n", len(found), env.Cfg.Path())
	}
	return nil
}

type BoardsCmd struct{}

func (*BoardsCmd) Run(env *Env) error {
	reg := defaultRegistry()
	w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	for _, id := range reg.IDs() {
		b, _ := reg.Board(id)
		_, _ = fmt.Fprintf(w, "%02x\t%s\t%s\n", id, b.Kind, b.Description)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write board list: %w", err)
	}
	return nil
}
