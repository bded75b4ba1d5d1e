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

// Package loggerdb is the SQLite store for sessions, readings, cached live
// values and the raw frame archive.
package loggerdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/blitz-logger/pkg/database"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteConnParams = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on"

type LoggerDB struct {
	sql  *sql.DB
	ctx  context.Context
	path string
}

var _ database.LoggerStore = (*LoggerDB)(nil)

// OpenLoggerDB opens (creating if needed) the database at path and brings
// its schema up to date.
func OpenLoggerDB(ctx context.Context, path string) (*LoggerDB, error) {
	db := &LoggerDB{ctx: ctx, path: path}
	if err := db.Open(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *LoggerDB) Open() error {
	if err := os.MkdirAll(filepath.Dir(db.path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for database: %w", err)
	}
	sqlInstance, err := sql.Open("sqlite3", db.path+sqliteConnParams)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.sql = sqlInstance
	return db.Allocate()
}

func (db *LoggerDB) GetDBPath() string {
	return db.path
}

func (db *LoggerDB) UnsafeGetSQLDb() *sql.DB {
	return db.sql
}

func (db *LoggerDB) Allocate() error {
	if db.sql == nil {
		return database.ErrNullSQL
	}
	return sqlMigrateUp(db.sql)
}

func (db *LoggerDB) MigrateUp() error {
	if db.sql == nil {
		return database.ErrNullSQL
	}
	return sqlMigrateUp(db.sql)
}

func (db *LoggerDB) Close() error {
	if db.sql == nil {
		return nil
	}
	if err := db.sql.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// SetSQLForTesting injects an existing connection and allocates the schema.
func (db *LoggerDB) SetSQLForTesting(ctx context.Context, sqlDB *sql.DB) error {
	db.sql = sqlDB
	db.ctx = ctx
	return db.Allocate()
}

func (db *LoggerDB) StartSession() (int64, error) {
	return sqlStartSession(db.ctx, db.sql)
}

func (db *LoggerDB) StopSession() error {
	return sqlStopSession(db.ctx, db.sql)
}

func (db *LoggerDB) CreateSession(referenceID string) (int64, error) {
	return sqlCreateSession(db.ctx, db.sql, referenceID)
}

func (db *LoggerDB) GetSession(id int64) (database.Session, error) {
	return sqlGetSession(db.ctx, db.sql, id)
}

func (db *LoggerDB) Sessions() ([]database.Session, error) {
	return sqlGetSessions(db.ctx, db.sql)
}

func (db *LoggerDB) GetOrCreateCategory(name string) (int64, error) {
	return sqlGetOrCreateCategory(db.ctx, db.sql, name)
}

func (db *LoggerDB) AddMany(readings []database.Reading) error {
	return sqlAddMany(db.ctx, db.sql, readings)
}

func (db *LoggerDB) AddCache(timeLogged, categoryID int64, value float64) error {
	return sqlAddCache(db.ctx, db.sql, timeLogged, categoryID, value)
}

func (db *LoggerDB) LatestCache(limit int) ([]database.CachedValue, error) {
	return sqlLatestCache(db.ctx, db.sql, limit)
}

func (db *LoggerDB) SessionReadings(sessionID int64) ([]database.Reading, error) {
	return sqlSessionReadings(db.ctx, db.sql, sessionID)
}

func (db *LoggerDB) AppendFrames(sessionID int64, frames []string) error {
	return sqlAppendFrames(db.ctx, db.sql, sessionID, frames)
}

func (db *LoggerDB) ReplayFrames(sessionID int64, fn func(raw string) error) (int, error) {
	return sqlReplayFrames(db.ctx, db.sql, sessionID, fn)
}

func (db *LoggerDB) FrameCount(sessionID int64) (int, error) {
	return sqlFrameCount(db.ctx, db.sql, sessionID)
}

func (db *LoggerDB) UpdateSessionAvailability(sessionID int64, expected int) (bool, error) {
	return sqlUpdateSessionAvailability(db.ctx, db.sql, sessionID, expected)
}
