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

// Package helpers provides testing utilities for the logger store.
//
// MockLoggerDBI is a testify mock of database.LoggerStore:
//
//	store := helpers.NewMockLoggerDBI()
//	store.On("GetOrCreateCategory", "adc_channel_one").Return(int64(1), nil)
//	store.On("AddCache", mock.Anything, int64(1), 2748.0).Return(nil)
//
//	err := pipeline.Live(ctx, frame)
//
//	require.NoError(t, err)
//	store.AssertExpectations(t)
package helpers

import (
	"database/sql"
	"fmt"

	"github.com/ZaparooProject/blitz-logger/pkg/database"
	"github.com/stretchr/testify/mock"
)

type MockLoggerDBI struct {
	mock.Mock
}

var _ database.LoggerStore = (*MockLoggerDBI)(nil)

func NewMockLoggerDBI() *MockLoggerDBI {
	return &MockLoggerDBI{}
}

func mockErr(args mock.Arguments, i int) error {
	if err := args.Error(i); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func mockInt64(args mock.Arguments) (int64, error) {
	id, _ := args.Get(0).(int64)
	return id, mockErr(args, 1)
}

// GenericDBI methods

func (m *MockLoggerDBI) Open() error {
	return mockErr(m.Called(), 0)
}

func (m *MockLoggerDBI) UnsafeGetSQLDb() *sql.DB {
	args := m.Called()
	if db, ok := args.Get(0).(*sql.DB); ok {
		return db
	}
	return nil
}

func (m *MockLoggerDBI) Allocate() error {
	return mockErr(m.Called(), 0)
}

func (m *MockLoggerDBI) MigrateUp() error {
	return mockErr(m.Called(), 0)
}

func (m *MockLoggerDBI) Close() error {
	return mockErr(m.Called(), 0)
}

func (m *MockLoggerDBI) GetDBPath() string {
	return m.Called().String(0)
}

// Session methods

func (m *MockLoggerDBI) StartSession() (int64, error) {
	return mockInt64(m.Called())
}

func (m *MockLoggerDBI) StopSession() error {
	return mockErr(m.Called(), 0)
}

func (m *MockLoggerDBI) CreateSession(referenceID string) (int64, error) {
	return mockInt64(m.Called(referenceID))
}

func (m *MockLoggerDBI) GetSession(id int64) (database.Session, error) {
	args := m.Called(id)
	s, _ := args.Get(0).(database.Session)
	return s, mockErr(args, 1)
}

func (m *MockLoggerDBI) Sessions() ([]database.Session, error) {
	args := m.Called()
	s, _ := args.Get(0).([]database.Session)
	return s, mockErr(args, 1)
}

func (m *MockLoggerDBI) UpdateSessionAvailability(sessionID int64, expected int) (bool, error) {
	args := m.Called(sessionID, expected)
	return args.Bool(0), mockErr(args, 1)
}

// Measurement methods

func (m *MockLoggerDBI) GetOrCreateCategory(name string) (int64, error) {
	return mockInt64(m.Called(name))
}

func (m *MockLoggerDBI) AddMany(readings []database.Reading) error {
	return mockErr(m.Called(readings), 0)
}

func (m *MockLoggerDBI) AddCache(timeLogged, categoryID int64, value float64) error {
	return mockErr(m.Called(timeLogged, categoryID, value), 0)
}

func (m *MockLoggerDBI) LatestCache(limit int) ([]database.CachedValue, error) {
	args := m.Called(limit)
	v, _ := args.Get(0).([]database.CachedValue)
	return v, mockErr(args, 1)
}

func (m *MockLoggerDBI) SessionReadings(sessionID int64) ([]database.Reading, error) {
	args := m.Called(sessionID)
	r, _ := args.Get(0).([]database.Reading)
	return r, mockErr(args, 1)
}

// Frame archive methods

func (m *MockLoggerDBI) AppendFrames(sessionID int64, frames []string) error {
	return mockErr(m.Called(sessionID, frames), 0)
}

// ReplayFrames feeds the frames given to Return to fn, so callers see the
// same streaming behaviour as the real store.
func (m *MockLoggerDBI) ReplayFrames(sessionID int64, fn func(raw string) error) (int, error) {
	args := m.Called(sessionID, fn)
	if err := mockErr(args, 1); err != nil {
		return 0, err
	}
	frames, _ := args.Get(0).([]string)
	for i, f := range frames {
		if err := fn(f); err != nil {
			return i, err
		}
	}
	return len(frames), nil
}

func (m *MockLoggerDBI) FrameCount(sessionID int64) (int, error) {
	args := m.Called(sessionID)
	return args.Int(0), mockErr(args, 1)
}
