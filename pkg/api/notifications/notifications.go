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

	"github.com/ZaparooProject/blitz-logger/pkg/api/models"
	"github.com/rs/zerolog/log"
)

// sendNotification never blocks. A full channel drops the notification so a
// stalled consumer cannot hold up frame ingest.
func sendNotification(ns chan<- models.Notification, method string, payload any) {
	var params json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("failed to marshal notification payload")
			return
		}
		params = b
	}

	select {
	case ns <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Str("method", method).Msg("notification channel full, dropping notification")
	}
}

func FramesDecoded(ns chan<- models.Notification, payload models.FrameDecodedParams) {
	sendNotification(ns, models.NotificationFramesDecoded, payload)
}

func SessionAvailability(ns chan<- models.Notification, payload models.SessionAvailabilityParams) {
	sendNotification(ns, models.NotificationSessionsAvailability, payload)
}
