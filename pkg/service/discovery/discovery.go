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

// Package discovery advertises the logger's control port over mDNS and
// lets a base station find loggers on the local network.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/config"
	"github.com/ZaparooProject/blitz-logger/pkg/helpers/syncutil"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const ServiceType = "_blitz._tcp"

const (
	retryInterval    = 30 * time.Second
	maxRetryDuration = 5 * time.Minute
)

// virtualInterfacePrefixes are container and VPN interfaces that never
// reach the paddock network.
var virtualInterfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

// BoardLister reports the boards currently mapped to serial ports.
type BoardLister interface {
	Boards() []string
}

func getPreferredInterfaces() ([]net.Interface, error) {
	allIfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	return filterInterfaces(allIfaces), nil
}

// filterInterfaces keeps interfaces that are up, multicast capable, not
// loopback and not virtual.
func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var preferred []net.Interface
	for _, iface := range ifaces {
		switch {
		case iface.Flags&net.FlagUp == 0,
			iface.Flags&net.FlagLoopback != 0,
			iface.Flags&net.FlagMulticast == 0,
			isVirtualInterface(iface.Name):
			continue
		}
		preferred = append(preferred, iface)
	}
	return preferred
}

func isVirtualInterface(name string) bool {
	lowerName := strings.ToLower(name)
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(lowerName, prefix) {
			return true
		}
	}
	return false
}

// Service advertises one logger instance.
type Service struct {
	server       *zeroconf.Server
	cfg          *config.Instance
	boards       BoardLister
	cancelFunc   context.CancelFunc
	instanceName string
	stopped      bool
	mu           syncutil.Mutex
}

func New(cfg *config.Instance, boards BoardLister) *Service {
	return &Service{
		cfg:    cfg,
		boards: boards,
	}
}

// Start begins advertising. When no interface is ready yet it keeps
// retrying in the background and returns nil.
func (s *Service) Start() error {
	if !s.cfg.DiscoveryEnabled() {
		log.Info().Msg("mDNS discovery disabled by configuration")
		return nil
	}

	s.instanceName = s.resolveInstanceName()

	if s.tryRegister() {
		return nil
	}

	log.Info().
		Dur("retryInterval", retryInterval).
		Dur("maxDuration", maxRetryDuration).
		Msg("mDNS registration failed, retrying in background")

	ctx, cancel := context.WithTimeout(context.Background(), maxRetryDuration)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()

	go s.retryLoop(ctx)
	return nil
}

// txtRecords describes the logger to browsing base stations.
func (s *Service) txtRecords() []string {
	records := []string{"id=" + s.cfg.DeviceID()}
	if s.boards != nil {
		if ids := s.boards.Boards(); len(ids) > 0 {
			records = append(records, "boards="+strings.Join(ids, ","))
		}
	}
	return records
}

func (s *Service) tryRegister() bool {
	port := s.cfg.TCPPort()

	ifaces, err := getPreferredInterfaces()
	if err != nil {
		log.Debug().Err(err).Msg("failed to get network interfaces")
		return false
	}
	if len(ifaces) == 0 {
		log.Debug().Msg("no suitable network interfaces found for mDNS")
		return false
	}

	ifaceNames := make([]string, len(ifaces))
	for i, iface := range ifaces {
		ifaceNames[i] = iface.Name
	}

	server, err := zeroconf.Register(
		s.instanceName,
		ServiceType,
		"local.",
		port,
		s.txtRecords(),
		ifaces,
	)
	if err != nil {
		log.Debug().Err(err).Msg("mDNS registration attempt failed")
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		server.Shutdown()
		return false
	}
	s.server = server
	s.mu.Unlock()

	log.Info().
		Str("instance", s.instanceName).
		Int("port", port).
		Strs("interfaces", ifaceNames).
		Msg("advertising logger over mDNS")
	return true
}

func (s *Service) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.tryRegister() {
				log.Info().Msg("mDNS registration succeeded after retry")
				return
			}
		case <-ctx.Done():
			log.Warn().Msg("mDNS registration retry timed out")
			return
		}
	}
}

// Stop withdraws the advertisement. It is safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	if s.server != nil {
		log.Debug().Msg("stopping mDNS advertising")
		s.server.Shutdown()
		s.server = nil
	}
}

func (s *Service) InstanceName() string {
	return s.instanceName
}

func (s *Service) resolveInstanceName() string {
	if name := s.cfg.DiscoveryInstanceName(); name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return hostname
	}
	log.Warn().Err(err).Msg("failed to get hostname, using fallback")
	return fallbackInstanceName(s.cfg.DeviceID())
}

func fallbackInstanceName(deviceID string) string {
	if len(deviceID) >= 8 {
		return "blitz-" + deviceID[:8]
	}
	return "blitz"
}

// Logger is one advertised logger found by Browse.
type Logger struct {
	Instance string
	Host     string
	DeviceID string
	Boards   []string
	Port     int
}

// Addr is the host:port of the logger's control socket.
func (l Logger) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

func loggerFromEntry(e *zeroconf.ServiceEntry) Logger {
	l := Logger{
		Instance: e.Instance,
		Host:     strings.TrimSuffix(e.HostName, "."),
		Port:     e.Port,
	}
	switch {
	case len(e.AddrIPv4) > 0:
		l.Host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		l.Host = e.AddrIPv6[0].String()
	}
	for _, rec := range e.Text {
		key, value, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		switch key {
		case "id":
			l.DeviceID = value
		case "boards":
			if value != "" {
				l.Boards = strings.Split(value, ",")
			}
		}
	}
	return l
}

// Browse lists loggers answering on the local network until ctx ends.
func Browse(ctx context.Context) ([]Logger, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("failed to browse for loggers: %w", err)
	}

	seen := make(map[string]bool)
	found := make([]Logger, 0)
	for {
		select {
		case <-ctx.Done():
			return found, nil
		case e, ok := <-entries:
			if !ok {
				return found, nil
			}
			if seen[e.Instance] {
				continue
			}
			seen[e.Instance] = true
			l := loggerFromEntry(e)
			log.Debug().Str("instance", l.Instance).Str("addr", l.Addr()).Msg("found logger")
			found = append(found, l)
		}
	}
}
