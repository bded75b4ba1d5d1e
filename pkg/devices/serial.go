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

package devices

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// SerialPort is the subset of go.bug.st/serial used by the manager.
type SerialPort interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// SerialPortFactory opens a serial port connection.
type SerialPortFactory func(path string, mode *serial.Mode) (SerialPort, error)

// DefaultSerialPortFactory opens real serial ports.
func DefaultSerialPortFactory(path string, mode *serial.Mode) (SerialPort, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// lineReader splits serial input into lines. A zero byte read is a read
// timeout: any partial line is returned as is, otherwise ok is false.
type lineReader struct {
	port SerialPort
	buf  []byte
}

func newLineReader(port SerialPort) *lineReader {
	return &lineReader{port: port}
}

func (r *lineReader) readLine() (line string, ok bool, err error) {
	chunk := make([]byte, 256)
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line = string(r.buf[:i])
			r.buf = r.buf[i+1:]
			return strings.TrimRight(line, "\r"), true, nil
		}

		n, err := r.port.Read(chunk)
		if err != nil {
			return "", false, fmt.Errorf("failed to read from serial port: %w", err)
		}
		if n == 0 {
			if len(r.buf) == 0 {
				return "", false, nil
			}
			line = string(r.buf)
			r.buf = nil
			return strings.TrimRight(line, "\r"), true, nil
		}
		r.buf = append(r.buf, chunk[:n]...)
	}
}

func writeLine(port SerialPort, line string) error {
	if _, err := port.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	return nil
}
