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

package models

import (
	"encoding/json"

	"github.com/ZaparooProject/blitz-logger/pkg/boards"
)

const (
	NotificationFramesDecoded        = "frames.decoded"
	NotificationSessionsAvailability = "sessions.availability"
)

const JSONRPCVersion = "2.0"

type Notification struct {
	Method string
	Params json.RawMessage
}

// NotificationObject is the JSON-RPC 2.0 envelope notifications are sent
// in over websocket and MQTT.
type NotificationObject struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (n Notification) Envelope() NotificationObject {
	return NotificationObject{
		JSONRPC: JSONRPCVersion,
		Method:  n.Method,
		Params:  n.Params,
	}
}

type FrameDecodedParams struct {
	Board        string               `json:"board"`
	Measurements []boards.Measurement `json:"measurements"`
	Timestamp    uint32               `json:"timestamp"`
	SessionID    int64                `json:"sessionId,omitempty"`
	BoardID      uint8                `json:"boardId"`
}

type SessionAvailabilityParams struct {
	SessionID int64 `json:"sessionId"`
	Expected  int   `json:"expected"`
	Available bool  `json:"available"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
