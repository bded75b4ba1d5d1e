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

package ingest

import (
	"context"

	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
)

// DownloadBatchSize is how many frames are buffered before they are written
// as one batch.
const DownloadBatchSize = 500

// Download collects the lines of a session download and writes them in
// batches. Add is safe to call from the connection read loop.
type Download struct {
	p         *Pipeline
	err       error
	pending   []string
	sessionID int64
	received  int
	stored    int
	mu        syncutil.Mutex
}

// NewDownload starts collecting frames for the local session sessionID.
func (p *Pipeline) NewDownload(sessionID int64) *Download {
	return &Download{p: p, sessionID: sessionID}
}

// Add buffers one line, flushing a full batch. After the first failed
// flush further lines are counted but not stored.
func (d *Download) Add(ctx context.Context, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.received++
	if d.err != nil {
		return
	}
	d.pending = append(d.pending, line)
	if len(d.pending) >= DownloadBatchSize {
		d.flushLocked(ctx)
	}
}

func (d *Download) flushLocked(ctx context.Context) {
	if len(d.pending) == 0 {
		return
	}
	n, err := d.p.Session(ctx, d.sessionID, d.pending)
	d.pending = nil
	d.stored += n
	if err != nil {
		d.err = err
	}
}

// Finish writes what is left and updates the session availability against
// the number of lines received. A session with lines that did not decode
// is stored but not available. It returns the number of readings stored.
func (d *Download) Finish(ctx context.Context) (readings int, available bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flushLocked(ctx)
	if d.err != nil {
		return d.stored, false, d.err
	}
	available, err = d.p.Complete(ctx, d.sessionID, d.received)
	return d.stored, available, err
}
