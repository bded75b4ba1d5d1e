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

package config

import (
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTCPPort      = 7878
	DefaultBaudRate     = 57600
	DefaultReadTimeout  = 3 * time.Second
	DefaultIDTimeout    = time.Second
	DefaultUpdatePeriod = time.Second
	LoggerDBFile        = "logger.db"
)

type Logger struct {
	DeviceID     string `toml:"device_id"`
	Listen       string `toml:"listen,omitempty" validate:"omitempty,ip"`
	DatabasePath string `toml:"database_path,omitempty"`
	TCPPort      int    `toml:"tcp_port" validate:"gte=1,lte=65535"`
}

type Serial struct {
	// Ports pins board ids to serial ports and skips discovery.
	Ports        map[string]string `toml:"ports,omitempty" validate:"dive,keys,boardid,endkeys,required"`
	ReadTimeout  string            `toml:"read_timeout" validate:"duration"`
	IDTimeout    string            `toml:"id_timeout" validate:"duration"`
	UpdatePeriod string            `toml:"update_period" validate:"duration"`
	BaudRate     int               `toml:"baud_rate" validate:"gt=0"`
}

// Boards limits which known boards are registered with the codec. Empty
// means every built-in board.
type Boards struct {
	Enabled []string `toml:"enabled,omitempty" validate:"dive,boardid"`
}

func (c *Instance) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Logger.DeviceID
}

func (c *Instance) TCPPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Logger.TCPPort
}

// TCPListenAddr is the address the control server binds.
func (c *Instance) TCPListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return net.JoinHostPort(c.vals.Logger.Listen, strconv.Itoa(c.vals.Logger.TCPPort))
}

// LoggerDatabasePath returns the configured database path, or the default
// file inside dataDir.
func (c *Instance) LoggerDatabasePath(dataDir string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Logger.DatabasePath != "" {
		return c.vals.Logger.DatabasePath
	}
	return filepath.Join(dataDir, LoggerDBFile)
}

func (c *Instance) BaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.BaudRate
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func (c *Instance) ReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDurationOr(c.vals.Serial.ReadTimeout, DefaultReadTimeout)
}

func (c *Instance) IDTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDurationOr(c.vals.Serial.IDTimeout, DefaultIDTimeout)
}

func (c *Instance) UpdatePeriod() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDurationOr(c.vals.Serial.UpdatePeriod, DefaultUpdatePeriod)
}

// SerialPorts returns the pinned board to port mapping with lowercase ids.
func (c *Instance) SerialPorts() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.vals.Serial.Ports))
	for id, port := range c.vals.Serial.Ports {
		out[strings.ToLower(id)] = port
	}
	return out
}

func (c *Instance) SetSerialPorts(ports map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.Ports = ports
}

// EnabledBoards returns the enabled board ids, or nil for all.
func (c *Instance) EnabledBoards() []uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.vals.Boards.Enabled) == 0 {
		return nil
	}
	ids := make([]uint8, 0, len(c.vals.Boards.Enabled))
	for _, h := range c.vals.Boards.Enabled {
		id, err := strconv.ParseUint(h, 16, 8)
		if err != nil {
			continue
		}
		ids = append(ids, uint8(id))
	}
	return ids
}
