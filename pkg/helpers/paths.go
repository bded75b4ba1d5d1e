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
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
)

const (
	AppName = "blitz"
	// UserDir next to the executable makes the install portable.
	UserDir = "user"
	// AppEnv overrides the executable path used to find UserDir.
	AppEnv  = "BLITZ_APP"
	LogsDir = "logs"
)

var (
	userDirOnce   sync.Once
	userDirCache  string
	userDirExists bool
)

// HasUserDir reports whether a "user" directory exists next to the running
// executable. The result is cached after the first call.
func HasUserDir() (string, bool) {
	userDirOnce.Do(func() {
		exe := os.Getenv(AppEnv)
		if exe == "" {
			var err error
			exe, err = os.Executable()
			if err != nil {
				return
			}
		}

		dir := filepath.Join(filepath.Dir(exe), UserDir)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return
		}

		userDirCache = dir
		userDirExists = true
	})
	return userDirCache, userDirExists
}

func ConfigDir() string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	return filepath.Join(xdg.ConfigHome, AppName)
}

func DataDir() string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	return filepath.Join(xdg.DataHome, AppName)
}

func LogDir() string {
	return filepath.Join(DataDir(), LogsDir)
}
