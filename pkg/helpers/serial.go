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

package helpers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// MaxWindowsComPort is the highest COM port probed on Windows.
const MaxWindowsComPort = 256

type serialDevice struct {
	Vid string
	Pid string
}

// ignoreDevices lists USB serial adapters known not to be expansion boards.
var ignoreDevices = []serialDevice{
	// Sinden Lightgun
	{Vid: "16c0", Pid: "0f38"},
	{Vid: "16c0", Pid: "0f39"},
	{Vid: "16d0", Pid: "0f38"},
	{Vid: "16d0", Pid: "0f39"},
	// Arduino bootloaders re-enumerate as ttyACM while flashing
	{Vid: "2341", Pid: "0036"},
	{Vid: "2341", Pid: "0037"},
}

func ignoreSerialDevice(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return true
	}

	if _, err := os.Stat("/usr/bin/udevadm"); err != nil {
		log.Debug().Msg("udevadm not found, skipping ignore list check")
		return false
	}

	if !strings.HasPrefix(path, "/dev/") {
		log.Error().Str("path", path).Msg("invalid device path")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:gosec // path validated to start with /dev/
	cmd := exec.CommandContext(ctx, "/usr/bin/udevadm", "info", "--name="+path)
	out, err := cmd.Output()
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("udevadm failed")
		return false
	}

	return matchesIgnoreList(string(out))
}

// matchesIgnoreList checks udevadm info output against the ignore list.
func matchesIgnoreList(udevInfo string) bool {
	vid := ""
	pid := ""
	for _, line := range strings.Split(udevInfo, "\n") {
		switch {
		case strings.HasPrefix(line, "E: ID_VENDOR_ID="):
			vid = strings.TrimPrefix(line, "E: ID_VENDOR_ID=")
		case strings.HasPrefix(line, "E: ID_MODEL_ID="):
			pid = strings.TrimPrefix(line, "E: ID_MODEL_ID=")
		}
	}

	if vid == "" || pid == "" {
		return false
	}

	vid = strings.ToLower(strings.TrimSpace(vid))
	pid = strings.ToLower(strings.TrimSpace(pid))
	for _, v := range ignoreDevices {
		if vid == v.Vid && pid == v.Pid {
			return true
		}
	}
	return false
}

func getLinuxList(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s directory: %w", dir, err)
	}

	devices := make([]string, 0, len(entries))
	for _, v := range entries {
		if v.IsDir() {
			continue
		}
		if !isLinuxSerialName(v.Name()) {
			continue
		}
		path := filepath.Join(dir, v.Name())
		if ignoreSerialDevice(path) {
			continue
		}
		devices = append(devices, path)
	}

	return devices, nil
}

func isLinuxSerialName(name string) bool {
	return strings.HasPrefix(name, "ttyUSB") ||
		strings.HasPrefix(name, "ttyACM") ||
		strings.HasPrefix(name, "ttyS")
}

// windowsComPorts returns every COM port name that a board could be
// attached to. Ports are not checked for existence, opening a missing port
// fails quietly during discovery.
func windowsComPorts() []string {
	ports := make([]string, 0, MaxWindowsComPort)
	for i := 1; i <= MaxWindowsComPort; i++ {
		ports = append(ports, fmt.Sprintf("COM%d", i))
	}
	return ports
}

// GetSerialDeviceList returns the candidate serial ports for board discovery.
func GetSerialDeviceList() ([]string, error) {
	switch runtime.GOOS {
	case "linux":
		return getLinuxList("/dev")
	case "windows":
		return windowsComPorts(), nil
	case "darwin":
		ports, err := serial.GetPortsList()
		if err != nil {
			return nil, fmt.Errorf("failed to get serial ports list on darwin: %w", err)
		}

		devices := make([]string, 0, len(ports))
		for _, v := range ports {
			if strings.HasPrefix(v, "/dev/tty.usbserial") || strings.HasPrefix(v, "/dev/tty.usbmodem") {
				devices = append(devices, v)
			}
		}
		return devices, nil
	default:
		ports, err := serial.GetPortsList()
		if err != nil {
			return nil, fmt.Errorf("failed to get serial ports list: %w", err)
		}
		return ports, nil
	}
}
