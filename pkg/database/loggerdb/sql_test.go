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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ZaparooProject/blitz-logger/pkg/database"
	testsqlmock "github.com/ZaparooProject/blitz-logger/pkg/testing/sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqlAddCache_Success(t *testing.T) {
	t.Parallel()
	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectPrepare(`insert into Cache.*values.*on conflict\(CategoryDBID\) do update`).
		ExpectExec().
		WithArgs(int64(1700000000000), int64(3), 12.5).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = sqlAddCache(context.Background(), db, 1700000000000, 3, 12.5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlAddCache_DatabaseError(t *testing.T) {
	t.Parallel()
	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectPrepare(`insert into Cache.*values`).
		ExpectExec().
		WillReturnError(sqlmock.ErrCancelled)

	err = sqlAddCache(context.Background(), db, 1, 3, 12.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute cache insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlAddMany_RollsBackOnError(t *testing.T) {
	t.Parallel()
	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`insert into Readings`)
	prep.ExpectExec().
		WithArgs(int64(1), int64(2), int64(100), 1.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(int64(1), int64(2), int64(101), 2.0).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = sqlAddMany(context.Background(), db, []database.Reading{
		{SessionDBID: 1, CategoryDBID: 2, TimeLogged: 100, Value: 1},
		{SessionDBID: 1, CategoryDBID: 2, TimeLogged: 101, Value: 2},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute reading insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlAddMany_Empty(t *testing.T) {
	t.Parallel()
	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, sqlAddMany(context.Background(), db, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlStopSession_DatabaseError(t *testing.T) {
	t.Parallel()
	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`update Sessions set StoppedAt`).
		WillReturnError(sqlmock.ErrCancelled)

	err = sqlStopSession(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute session stop")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlGetSession_NotFound(t *testing.T) {
	t.Parallel()
	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`select .* from Sessions where DBID`).
		WithArgs(int64(42)).
		WillReturnRows(testsqlmock.SessionRows())

	_, err = sqlGetSession(context.Background(), db, 42)
	require.ErrorIs(t, err, database.ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlReplayFrames_UnknownSession(t *testing.T) {
	t.Parallel()
	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`select .* from Sessions where DBID`).
		WithArgs(int64(7)).
		WillReturnRows(testsqlmock.SessionRows())

	n, err := sqlReplayFrames(context.Background(), db, 7, func(string) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.ErrorIs(t, err, database.ErrSessionNotFound)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlUpdateSessionAvailability_NotFound(t *testing.T) {
	t.Parallel()
	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`select count\(\*\) from Frames`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`update Sessions set ExpectedReadingCount`).
		WithArgs(3, false, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = sqlUpdateSessionAvailability(context.Background(), db, 9, 3)
	require.ErrorIs(t, err, database.ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
