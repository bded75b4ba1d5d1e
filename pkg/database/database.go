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

// Package database holds the record types and store interfaces shared by the
// logger daemon and the base station client. The SQLite implementation lives
// in loggerdb.
package database

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNullSQL         = errors.New("logger database is not connected")
	ErrSessionNotFound = errors.New("session not found")
)

/*
 * Structs for SQL records
 */

type Session struct {
	StartedAt            time.Time  `json:"startedAt"`
	StoppedAt            *time.Time `json:"stoppedAt,omitempty"`
	ReferenceID          string     `json:"referenceId"`
	DBID                 int64      `json:"id"`
	ExpectedReadingCount int        `json:"expectedReadingCount"`
	Available            bool       `json:"available"`
}

type Category struct {
	Name string `json:"name"`
	DBID int64  `json:"id"`
}

// Reading is a measurement recorded against a session. TimeLogged is the
// device timestamp of the frame it was decoded from.
type Reading struct {
	Category     string  `csv:"category" json:"category,omitempty"`
	SessionDBID  int64   `csv:"session" json:"sessionId"`
	CategoryDBID int64   `csv:"-" json:"categoryId"`
	TimeLogged   int64   `csv:"time_logged" json:"timeLogged"`
	Value        float64 `csv:"value" json:"value"`
}

// CachedValue is the latest live measurement of a category. It never
// belongs to a session.
type CachedValue struct {
	Category     string  `json:"category,omitempty"`
	DBID         int64   `json:"id"`
	TimeLogged   int64   `json:"timeLogged"`
	CategoryDBID int64   `json:"categoryId"`
	Value        float64 `json:"value"`
}

type GenericDBI interface {
	Open() error
	UnsafeGetSQLDb() *sql.DB
	Allocate() error
	MigrateUp() error
	Close() error
	GetDBPath() string
}

// SessionStore is the part of the store driven by the serial device manager.
type SessionStore interface {
	StartSession() (int64, error)
	StopSession() error
}

// FrameArchive stores the raw frames of a session so they can be replayed
// to a base station.
type FrameArchive interface {
	AppendFrames(sessionID int64, frames []string) error
	ReplayFrames(sessionID int64, fn func(raw string) error) (int, error)
	FrameCount(sessionID int64) (int, error)
}

type LoggerStore interface {
	GenericDBI
	SessionStore
	FrameArchive
	CreateSession(referenceID string) (int64, error)
	GetSession(id int64) (Session, error)
	Sessions() ([]Session, error)
	GetOrCreateCategory(name string) (int64, error)
	AddMany(readings []Reading) error
	AddCache(timeLogged, categoryID int64, value float64) error
	LatestCache(limit int) ([]CachedValue, error)
	SessionReadings(sessionID int64) ([]Reading, error)
	UpdateSessionAvailability(sessionID int64, expected int) (bool, error)
}
