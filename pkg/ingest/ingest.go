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

// Package ingest turns raw telemetry frames into stored measurements. Live
// frames become cached values on the logger; downloaded session frames
// become readings on the base station.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/api/models"
	"github.com/ZaparooProject/blitz-logger/pkg/api/notifications"
	"github.com/ZaparooProject/blitz-logger/pkg/boards"
	"github.com/ZaparooProject/blitz-logger/pkg/database"
	"github.com/ZaparooProject/blitz-logger/pkg/devices"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Store is the part of the logger store the pipeline writes to.
type Store interface {
	GetOrCreateCategory(name string) (int64, error)
	AddCache(timeLogged, categoryID int64, value float64) error
	AddMany(readings []database.Reading) error
	AppendFrames(sessionID int64, frames []string) error
	UpdateSessionAvailability(sessionID int64, expected int) (bool, error)
}

type Option func(*Pipeline)

func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithNotifications publishes decoded frames and availability changes to ns.
func WithNotifications(ns chan<- models.Notification) Option {
	return func(p *Pipeline) {
		p.ns = ns
	}
}

// WithFrameArchive makes Live append every frame that belongs to a session
// to the store's frame log, so the session can be downloaded later.
func WithFrameArchive() Option {
	return func(p *Pipeline) {
		p.archive = true
	}
}

type Pipeline struct {
	store        Store
	registry     *boards.Registry
	ns           chan<- models.Notification
	clock        clockwork.Clock
	categories   map[string]int64
	availability map[int64]bool
	unknownBoard rate.Sometimes
	badFrame     rate.Sometimes
	mu           syncutil.Mutex
	archive      bool
}

func NewPipeline(store Store, registry *boards.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        store,
		registry:     registry,
		clock:        clockwork.NewRealClock(),
		categories:   make(map[string]int64),
		availability: make(map[int64]bool),
		unknownBoard: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		badFrame:     rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// category resolves a category name to its id, hitting the store only the
// first time a name is seen.
func (p *Pipeline) category(name string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.categories[name]; ok {
		return id, nil
	}
	id, err := p.store.GetOrCreateCategory(name)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve category %s: %w", name, err)
	}
	p.categories[name] = id
	return id, nil
}

func (p *Pipeline) decode(raw string) (boards.Result, error) {
	res, err := p.registry.Decode(raw)
	if err == nil {
		return res, nil
	}
	switch {
	case errors.Is(err, boards.ErrUnknownBoard):
		p.unknownBoard.Do(func() {
			log.Warn().Err(err).Msg("received frame from unregistered board")
		})
	case errors.Is(err, boards.ErrMalformedFrame):
		p.badFrame.Do(func() {
			log.Warn().Err(err).Str("frame", raw).Msg("received malformed frame")
		})
	default:
		log.Error().Err(err).Msg("failed to decode frame")
	}
	return boards.Result{}, fmt.Errorf("failed to decode frame: %w", err)
}

// Live handles one frame pulled during a logging session. The raw frame is
// archived first so it survives a decode failure; each measurement is then
// cached against the wall clock.
func (p *Pipeline) Live(ctx context.Context, frame devices.RawFrame) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("live ingest cancelled: %w", err)
	}

	if p.archive && frame.SessionID != 0 {
		if err := p.store.AppendFrames(frame.SessionID, []string{frame.Data}); err != nil {
			log.Error().Err(err).Int64("session", frame.SessionID).Msg("failed to archive frame")
		}
	}

	res, err := p.decode(frame.Data)
	if err != nil {
		return err
	}
	if res.Board.ID != frame.BoardID {
		log.Debug().
			Uint8("polled", frame.BoardID).
			Uint8("header", res.Board.ID).
			Msg("frame header id differs from polled board")
	}

	now := p.clock.Now().UnixMilli()
	for _, m := range res.Measurements {
		catID, err := p.category(m.Category)
		if err != nil {
			return err
		}
		if err := p.store.AddCache(now, catID, m.Value); err != nil {
			return fmt.Errorf("failed to cache %s: %w", m.Category, err)
		}
	}

	if p.ns != nil {
		notifications.FramesDecoded(p.ns, models.FrameDecodedParams{
			Board:        res.Board.Description,
			BoardID:      res.Board.ID,
			Timestamp:    res.Frame.Timestamp,
			SessionID:    frame.SessionID,
			Measurements: res.Measurements,
		})
	}
	return nil
}

// Session stores a batch of downloaded frames as readings of sessionID,
// timestamped with each frame's device timestamp. Frames that fail to
// decode are skipped. Only frames that produced readings are appended to
// the local frame log, so its length is what availability is judged on.
func (p *Pipeline) Session(ctx context.Context, sessionID int64, frames []string) (int, error) {
	var readings []database.Reading
	decoded := make([]string, 0, len(frames))
	for _, raw := range frames {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("session ingest cancelled: %w", err)
		}
		res, err := p.decode(raw)
		if err != nil {
			continue
		}
		decoded = append(decoded, raw)
		for _, m := range res.Measurements {
			catID, err := p.category(m.Category)
			if err != nil {
				return 0, err
			}
			readings = append(readings, database.Reading{
				SessionDBID:  sessionID,
				CategoryDBID: catID,
				Category:     m.Category,
				TimeLogged:   int64(res.Frame.Timestamp),
				Value:        m.Value,
			})
		}
	}

	if len(readings) > 0 {
		if err := p.store.AddMany(readings); err != nil {
			return 0, fmt.Errorf("failed to store session readings: %w", err)
		}
	}
	if len(decoded) > 0 {
		if err := p.store.AppendFrames(sessionID, decoded); err != nil {
			return len(readings), fmt.Errorf("failed to archive session frames: %w", err)
		}
	}

	log.Info().
		Int64("session", sessionID).
		Int("frames", len(frames)).
		Int("decoded", len(decoded)).
		Int("readings", len(readings)).
		Msg("stored session readings")
	return len(readings), nil
}

// Complete marks a downloaded session available when the number of frames
// stored as readings matches expected, publishing the result whenever it
// changes.
func (p *Pipeline) Complete(ctx context.Context, sessionID int64, expected int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("session completion cancelled: %w", err)
	}

	available, err := p.store.UpdateSessionAvailability(sessionID, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update session availability: %w", err)
	}

	p.mu.Lock()
	prev, seen := p.availability[sessionID]
	p.availability[sessionID] = available
	p.mu.Unlock()

	if (!seen || prev != available) && p.ns != nil {
		notifications.SessionAvailability(p.ns, models.SessionAvailabilityParams{
			SessionID: sessionID,
			Expected:  expected,
			Available: available,
		})
	}
	return available, nil
}

// Run consumes frames until the channel closes or ctx is cancelled. Frame
// errors are logged and never stop the loop.
func (p *Pipeline) Run(ctx context.Context, frames <-chan devices.RawFrame) error {
	log.Debug().Msg("frame ingest started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("frame ingest stopped")
			return nil
		case frame, ok := <-frames:
			if !ok {
				log.Debug().Msg("frame queue closed")
				return nil
			}
			if err := p.Live(ctx, frame); err != nil {
				log.Debug().Err(err).Uint8("board", frame.BoardID).Msg("dropped frame")
			}
		}
	}
}
