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

// Package service composes the logger daemon: store, board registry,
// serial device manager, ingest pipeline, TCP control server, HTTP API,
// mDNS advertisement and MQTT publishers.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/ZaparooProject/blitz-logger/pkg/api"
	"github.com/ZaparooProject/blitz-logger/pkg/api/models"
	"github.com/ZaparooProject/blitz-logger/pkg/boards"
	"github.com/ZaparooProject/blitz-logger/pkg/config"
	"github.com/ZaparooProject/blitz-logger/pkg/database/loggerdb"
	"github.com/ZaparooProject/blitz-logger/pkg/devices"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers"
	"github.com/ZaparooProject/blitz-logger/pkg/ingest"
	"github.com/ZaparooProject/blitz-logger/pkg/protocol"
	"github.com/ZaparooProject/blitz-logger/pkg/service/broker"
	"github.com/ZaparooProject/blitz-logger/pkg/service/discovery"
	"github.com/ZaparooProject/blitz-logger/pkg/service/publishers"
	"github.com/ZaparooProject/blitz-logger/pkg/tcp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	frameQueueSize        = 256
	notificationQueueSize = 100
	subscriberBufferSize  = 100
)

type options struct {
	dataDir    string
	deviceOpts []devices.Option
}

type Option func(*options)

// WithDataDir stores the database under dir instead of the user data dir.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

// WithDeviceOptions passes options through to the serial device manager.
func WithDeviceOptions(opts ...devices.Option) Option {
	return func(o *options) {
		o.deviceOpts = append(o.deviceOpts, opts...)
	}
}

func setupEnvironment(dataDir string) error {
	if _, ok := helpers.HasUserDir(); ok {
		log.Info().Msg("using 'user' directory for storage")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
	}
	return nil
}

func makeDatabase(ctx context.Context, cfg *config.Instance, dataDir string) (*loggerdb.LoggerDB, error) {
	log.Debug().Msg("opening logger database")
	db, err := loggerdb.OpenLoggerDB(ctx, cfg.LoggerDatabasePath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open logger database: %w", err)
	}

	log.Debug().Msg("running logger database migrations")
	if err := db.MigrateUp(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close logger database")
		}
		return nil, fmt.Errorf("error migrating loggerdb: %w", err)
	}
	return db, nil
}

// makeRegistry registers the enabled boards, or every built-in board when
// none are listed. Ids with no built-in board are logged and skipped.
func makeRegistry(enabled []uint8) (*boards.Registry, error) {
	var selected []boards.Board
	for _, b := range boards.DefaultBoards() {
		if len(enabled) == 0 || slices.Contains(enabled, b.ID) {
			selected = append(selected, b)
		}
	}
	for _, id := range enabled {
		if !slices.ContainsFunc(selected, func(b boards.Board) bool { return b.ID == id }) {
			log.Warn().Uint8("id", id).Msg("no built-in board for enabled id")
		}
	}

	reg, err := boards.NewRegistryWith(selected...)
	if err != nil {
		return nil, fmt.Errorf("failed to register boards: %w", err)
	}
	return reg, nil
}

// DeviceConfig maps the [serial] config section onto the device manager.
func DeviceConfig(cfg *config.Instance) devices.Config {
	return devices.Config{
		BaudRate:     cfg.BaudRate(),
		ReadTimeout:  cfg.ReadTimeout(),
		IDTimeout:    cfg.IDTimeout(),
		UpdatePeriod: cfg.UpdatePeriod(),
	}
}

// mapBoards uses the pinned serial ports from config when present and
// otherwise scans every serial port for boards.
func mapBoards(ctx context.Context, cfg *config.Instance, mgr *devices.Manager) {
	if pinned := cfg.SerialPorts(); len(pinned) > 0 {
		log.Info().Int("boards", len(pinned)).Msg("using pinned serial ports")
		mgr.SetMapping(pinned)
		return
	}
	found, err := mgr.DiscoverPorts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("error discovering expansion boards")
		return
	}
	if len(found) == 0 {
		log.Warn().Msg("no expansion boards found")
	}
}

func startPublishers(cfg *config.Instance, b *broker.Broker) []*publishers.MQTTPublisher {
	var active []*publishers.MQTTPublisher
	for _, pc := range cfg.MQTTPublishers() {
		ch, _ := b.Subscribe("mqtt:"+pc.Broker, subscriberBufferSize)
		p := publishers.NewMQTTPublisher(pc.Broker, pc.Topic, pc.Filter)
		if err := p.Start(ch); err != nil {
			log.Error().Err(err).Str("broker", pc.Broker).Msg("failed to start mqtt publisher")
			continue
		}
		active = append(active, p)
	}
	return active
}

// Start runs the logger daemon in the background. stop cancels it and
// waits for cleanup, done closes once the daemon has exited.
func Start(cfg *config.Instance, opts ...Option) (stop func() error, done <-chan struct{}, err error) {
	o := options{dataDir: helpers.DataDir()}
	for _, opt := range opts {
		opt(&o)
	}

	log.Info().Str("device", cfg.DeviceID()).Msg("starting blitz logger")

	if err := setupEnvironment(o.dataDir); err != nil {
		return nil, nil, err
	}

	registry, err := makeRegistry(cfg.EnabledBoards())
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	db, err := makeDatabase(ctx, cfg, o.dataDir)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	frames := make(chan devices.RawFrame, frameQueueSize)
	ns := make(chan models.Notification, notificationQueueSize)

	deviceOpts := append([]devices.Option{devices.WithConfig(DeviceConfig(cfg))}, o.deviceOpts...)
	mgr := devices.NewManager(db, frames, deviceOpts...)
	mapBoards(ctx, cfg, mgr)

	pipeline := ingest.NewPipeline(db, registry,
		ingest.WithNotifications(ns),
		ingest.WithFrameArchive(),
	)

	notifBroker := broker.NewBroker(ns)
	machine := protocol.NewServer(mgr, db, devices.CommandCode)
	tcpServer := tcp.NewServer(machine, cfg.TCPListenAddr())

	g, gctx := errgroup.WithContext(ctx)

	if err := tcpServer.Listen(gctx); err != nil {
		cancel()
		if closeErr := db.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close logger database")
		}
		return nil, nil, fmt.Errorf("failed to start control server: %w", err)
	}

	g.Go(func() error { return notifBroker.Run(gctx) })
	g.Go(func() error { return pipeline.Run(gctx, frames) })
	g.Go(func() error { return tcpServer.Serve(gctx) })

	if cfg.APIEnabled() {
		log.Info().Str("addr", cfg.APIListenAddr()).Msg("starting API service")
		apiServer := api.NewServer(db, registry, mgr, cfg.AllowedOrigins())
		wsNotifications, _ := notifBroker.Subscribe("api", subscriberBufferSize)
		g.Go(func() error {
			apiServer.Broadcast(gctx, wsNotifications)
			return nil
		})
		g.Go(func() error { return apiServer.Serve(gctx, cfg.APIListenAddr()) })
	}

	activePublishers := startPublishers(cfg, notifBroker)

	discoveryService := discovery.New(cfg, mgr)
	if discoveryErr := discoveryService.Start(); discoveryErr != nil {
		log.Error().Err(discoveryErr).Msg("mDNS discovery failed to start (continuing without discovery)")
	}

	log.Info().Str("addr", tcpServer.Addr().String()).Msg("logger ready")

	var runErr error
	doneCh := make(chan struct{})
	go func() {
		runErr = g.Wait()
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
		if runErr != nil {
			log.Error().Err(runErr).Msg("logger service failed")
		}

		log.Info().Msg("service context cancelled, running cleanup")
		discoveryService.Stop()
		for _, p := range activePublishers {
			p.Stop()
		}
		if err := tcpServer.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing control server")
		}
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing logger database")
		}
		log.Info().Msg("service cleanup completed")
		close(doneCh)
	}()

	stop = func() error {
		cancel()
		<-doneCh
		return runErr
	}
	return stop, doneCh, nil
}
