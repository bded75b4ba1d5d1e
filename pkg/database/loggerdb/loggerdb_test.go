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

package loggerdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/blitz-logger/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *LoggerDB {
	t.Helper()
	db, err := OpenLoggerDB(context.Background(), filepath.Join(t.TempDir(), "data", "blitz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	id, err := db.StartSession()
	require.NoError(t, err)
	assert.Positive(t, id)

	s, err := db.GetSession(id)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ReferenceID)
	assert.Nil(t, s.StoppedAt)
	assert.False(t, s.Available)

	require.NoError(t, db.StopSession())

	s, err = db.GetSession(id)
	require.NoError(t, err)
	require.NotNil(t, s.StoppedAt)

	id2, err := db.StartSession()
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	sessions, err := db.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, id2, sessions[0].DBID)
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	_, err := db.GetSession(999)
	require.ErrorIs(t, err, database.ErrSessionNotFound)
}

func TestCategoriesAreUnique(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	a, err := db.GetOrCreateCategory("adc_channel_one")
	require.NoError(t, err)
	b, err := db.GetOrCreateCategory("adc_channel_two")
	require.NoError(t, err)
	again, err := db.GetOrCreateCategory("adc_channel_one")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}

func TestReadingsAndCache(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	sid, err := db.StartSession()
	require.NoError(t, err)
	cat, err := db.GetOrCreateCategory("raw_adc")
	require.NoError(t, err)

	require.NoError(t, db.AddMany([]database.Reading{
		{SessionDBID: sid, CategoryDBID: cat, TimeLogged: 10, Value: 1},
		{SessionDBID: sid, CategoryDBID: cat, TimeLogged: 11, Value: 2},
	}))

	readings, err := db.SessionReadings(sid)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, "raw_adc", readings[0].Category)
	assert.Equal(t, int64(10), readings[0].TimeLogged)
	assert.InDelta(t, 2.0, readings[1].Value, 0)

	require.NoError(t, db.AddCache(1000, cat, 5))
	require.NoError(t, db.AddCache(2000, cat, 6))

	cached, err := db.LatestCache(1)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, int64(2000), cached[0].TimeLogged)
	assert.Equal(t, "raw_adc", cached[0].Category)
}

func TestCacheKeepsLatestValuePerCategory(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	adc, err := db.GetOrCreateCategory("raw_adc")
	require.NoError(t, err)
	motor, err := db.GetOrCreateCategory("motor_value")
	require.NoError(t, err)

	for i := range 1000 {
		require.NoError(t, db.AddCache(int64(i), adc, float64(i)))
	}
	require.NoError(t, db.AddCache(500, motor, 7))

	var rows int
	err = db.UnsafeGetSQLDb().QueryRowContext(context.Background(),
		"select count(*) from Cache;").Scan(&rows)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	cached, err := db.LatestCache(10)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, "raw_adc", cached[0].Category)
	assert.Equal(t, int64(999), cached[0].TimeLogged)
	assert.InDelta(t, 999.0, cached[0].Value, 0)
	assert.Equal(t, "motor_value", cached[1].Category)
}

func TestFrameArchiveReplayOrder(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	sid, err := db.StartSession()
	require.NoError(t, err)

	require.NoError(t, db.AppendFrames(sid, []string{"aa", "bb"}))
	require.NoError(t, db.AppendFrames(sid, []string{"cc"}))

	var got []string
	n, err := db.ReplayFrames(sid, func(raw string) error {
		got = append(got, raw)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"aa", "bb", "cc"}, got)

	count, err := db.FrameCount(sid)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReplayFramesStopsOnCallbackError(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	sid, err := db.StartSession()
	require.NoError(t, err)
	require.NoError(t, db.AppendFrames(sid, []string{"aa", "bb", "cc"}))

	stop := errors.New("peer gone")
	n, err := db.ReplayFrames(sid, func(raw string) error {
		if raw == "bb" {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestReplayFramesUnknownSession(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	_, err := db.ReplayFrames(5, func(string) error { return nil })
	require.ErrorIs(t, err, database.ErrSessionNotFound)
}

func TestCreateSessionResetsPreviousDownload(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	id, err := db.CreateSession("12")
	require.NoError(t, err)
	cat, err := db.GetOrCreateCategory("Channel_1")
	require.NoError(t, err)
	require.NoError(t, db.AddMany([]database.Reading{{SessionDBID: id, CategoryDBID: cat, TimeLogged: 1}}))
	require.NoError(t, db.AppendFrames(id, []string{"aa"}))

	available, err := db.UpdateSessionAvailability(id, 1)
	require.NoError(t, err)
	assert.True(t, available)

	again, err := db.CreateSession("12")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	s, err := db.GetSession(id)
	require.NoError(t, err)
	assert.False(t, s.Available)
	assert.Zero(t, s.ExpectedReadingCount)

	readings, err := db.SessionReadings(id)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestUpdateSessionAvailability(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	id, err := db.CreateSession("3")
	require.NoError(t, err)
	require.NoError(t, db.AppendFrames(id, []string{"aa", "bb"}))

	available, err := db.UpdateSessionAvailability(id, 3)
	require.NoError(t, err)
	assert.False(t, available)

	s, err := db.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, 3, s.ExpectedReadingCount)
	assert.False(t, s.Available)

	available, err = db.UpdateSessionAvailability(id, 2)
	require.NoError(t, err)
	assert.True(t, available)

	_, err = db.UpdateSessionAvailability(404, 1)
	require.ErrorIs(t, err, database.ErrSessionNotFound)
}
