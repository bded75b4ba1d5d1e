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
)

const (
	DefaultAPIPort = 7879
	ClientDBFile   = "client.db"
)

type API struct {
	Enabled        *bool    `toml:"enabled,omitempty"`
	Listen         string   `toml:"listen,omitempty" validate:"omitempty,ip"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
	Port           int      `toml:"port" validate:"gte=1,lte=65535"`
}

type Discovery struct {
	Enabled      *bool  `toml:"enabled,omitempty"`
	InstanceName string `toml:"instance_name,omitempty"`
}

type MQTTPublisher struct {
	Enabled *bool    `toml:"enabled,omitempty"`
	Broker  string   `toml:"broker" validate:"required"`
	Topic   string   `toml:"topic" validate:"required"`
	Filter  []string `toml:"filter,omitempty,multiline"`
}

type Client struct {
	Server       string `toml:"server,omitempty" validate:"omitempty,hostname_port"`
	DatabasePath string `toml:"database_path,omitempty"`
}

func (c *Instance) APIEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Enabled == nil {
		return true
	}
	return *c.vals.API.Enabled
}

func (c *Instance) APIListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return net.JoinHostPort(c.vals.API.Listen, strconv.Itoa(c.vals.API.Port))
}

func (c *Instance) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.API.AllowedOrigins
}

func (c *Instance) DiscoveryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Discovery.Enabled == nil {
		return true
	}
	return *c.vals.Discovery.Enabled
}

func (c *Instance) DiscoveryInstanceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Discovery.InstanceName
}

// MQTTPublishers returns the enabled MQTT publishers. A publisher without
// an explicit enabled flag is enabled.
func (c *Instance) MQTTPublishers() []MQTTPublisher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []MQTTPublisher
	for _, p := range c.vals.MQTT {
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ClientServer is the logger address the client dials by default.
func (c *Instance) ClientServer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Client.Server != "" {
		return c.vals.Client.Server
	}
	return net.JoinHostPort("localhost", strconv.Itoa(c.vals.Logger.TCPPort))
}

func (c *Instance) ClientDatabasePath(dataDir string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Client.DatabasePath != "" {
		return c.vals.Client.DatabasePath
	}
	return filepath.Join(dataDir, ClientDBFile)
}
