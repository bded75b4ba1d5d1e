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

package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/api/models"
	"github.com/ZaparooProject/blitz-logger/pkg/boards"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendNotificationNonBlocking(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification)

	done := make(chan struct{})
	go func() {
		SessionAvailability(ns, models.SessionAvailabilityParams{SessionID: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notification send blocked on a full channel")
	}
}

func TestFramesDecoded(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification, 1)
	FramesDecoded(ns, models.FrameDecodedParams{
		Board:        "Basic",
		BoardID:      8,
		Timestamp:    100,
		Measurements: []boards.Measurement{{Category: "adc_channel_one", Value: 2748}},
	})

	n := <-ns
	assert.Equal(t, models.NotificationFramesDecoded, n.Method)

	var params models.FrameDecodedParams
	require.NoError(t, json.Unmarshal(n.Params, &params))
	assert.Equal(t, uint8(8), params.BoardID)
	assert.Equal(t, uint32(100), params.Timestamp)
	require.Len(t, params.Measurements, 1)
	assert.InDelta(t, 2748.0, params.Measurements[0].Value, 0)
}

func TestSessionAvailability(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification, 1)
	SessionAvailability(ns, models.SessionAvailabilityParams{SessionID: 4, Expected: 12, Available: true})

	n := <-ns
	assert.Equal(t, models.NotificationSessionsAvailability, n.Method)
	assert.JSONEq(t, `{"sessionId":4,"expected":12,"available":true}`, string(n.Params))

	env := n.Envelope()
	assert.Equal(t, "2.0", env.JSONRPC)
	assert.Equal(t, n.Method, env.Method)
}
