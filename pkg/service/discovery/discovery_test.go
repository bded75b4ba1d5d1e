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

package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

type fixedBoards []string

func (f fixedBoards) Boards() []string { return f }

func TestServiceType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "_blitz._tcp", ServiceType)
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	svc := New(nil, fixedBoards{"08"})
	svc.Stop()
	svc.Stop()

	assert.Nil(t, svc.server)
	assert.True(t, svc.stopped)
}

func TestIsVirtualInterface(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"eth0", false},
		{"wlan0", false},
		{"enp3s0", false},
		{"docker0", true},
		{"br-1a2b3c", true},
		{"veth12ab", true},
		{"WG0", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isVirtualInterface(tt.name), tt.name)
	}
}

func TestFilterInterfaces(t *testing.T) {
	t.Parallel()

	up := net.FlagUp | net.FlagMulticast
	ifaces := []net.Interface{
		{Name: "eth0", Flags: up},
		{Name: "lo", Flags: up | net.FlagLoopback},
		{Name: "eth1", Flags: net.FlagMulticast},
		{Name: "ppp0", Flags: net.FlagUp},
		{Name: "docker0", Flags: up},
		{Name: "wlan0", Flags: up},
	}

	got := filterInterfaces(ifaces)
	names := make([]string, 0, len(got))
	for _, iface := range got {
		names = append(names, iface.Name)
	}
	assert.Equal(t, []string{"eth0", "wlan0"}, names)
}

func TestFallbackInstanceName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "blitz-0123abcd", fallbackInstanceName("0123abcd-ffff"))
	assert.Equal(t, "blitz", fallbackInstanceName("abc"))
}

func TestLoggerFromEntry(t *testing.T) {
	t.Parallel()

	e := zeroconf.NewServiceEntry("pit-lane", ServiceType, "local.")
	e.HostName = "pit-lane.local."
	e.Port = 7878
	e.Text = []string{"id=abc", "boards=08,0a", "junk"}

	l := loggerFromEntry(e)
	assert.Equal(t, "pit-lane", l.Instance)
	assert.Equal(t, "pit-lane.local", l.Host)
	assert.Equal(t, "abc", l.DeviceID)
	assert.Equal(t, []string{"08", "0a"}, l.Boards)
	assert.Equal(t, "pit-lane.local:7878", l.Addr())

	e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	assert.Equal(t, "192.168.1.20:7878", loggerFromEntry(e).Addr())
}
