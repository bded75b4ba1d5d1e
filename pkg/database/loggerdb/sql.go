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
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/blitz-logger/pkg/database"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func sqlMigrateUp(db *sql.DB) error {
	if err := database.MigrateUp(db, migrationFiles, "migrations"); err != nil {
		return fmt.Errorf("failed to run logger database migrations: %w", err)
	}
	return nil
}

func closeStmt(stmt *sql.Stmt) {
	if err := stmt.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close sql statement")
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close sql rows")
	}
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Warn().Err(err).Msg("failed to rollback transaction")
	}
}

func sqlStartSession(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, `
		insert into Sessions(ReferenceID, StartedAt) values (?, ?);
	`, uuid.New().String(), time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to execute session insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get session id: %w", err)
	}
	return id, nil
}

// sqlStopSession closes every session that is still open.
func sqlStopSession(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		update Sessions set StoppedAt = ? where StoppedAt is null;
	`, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to execute session stop: %w", err)
	}
	return nil
}

// sqlCreateSession opens the local copy of a remote session. Downloading the
// same session again discards whatever was stored by the previous attempt.
func sqlCreateSession(ctx context.Context, db *sql.DB, referenceID string) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	now := time.Now().UnixMilli()
	var id int64
	err = tx.QueryRowContext(ctx,
		`select DBID from Sessions where ReferenceID = ?;`, referenceID,
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, insertErr := tx.ExecContext(ctx, `
			insert into Sessions(ReferenceID, StartedAt) values (?, ?);
		`, referenceID, now)
		if insertErr != nil {
			return 0, fmt.Errorf("failed to execute session insert: %w", insertErr)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to get session id: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("failed to query session: %w", err)
	default:
		for _, q := range []string{
			`delete from Readings where SessionDBID = ?;`,
			`delete from Frames where SessionDBID = ?;`,
		} {
			if _, err = tx.ExecContext(ctx, q, id); err != nil {
				return 0, fmt.Errorf("failed to reset session data: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			update Sessions
			set StartedAt = ?, StoppedAt = null, ExpectedReadingCount = 0, Available = 0
			where DBID = ?;
		`, now, id)
		if err != nil {
			return 0, fmt.Errorf("failed to reset session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit session: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (database.Session, error) {
	var s database.Session
	var started int64
	var stopped sql.NullInt64
	err := row.Scan(
		&s.DBID,
		&s.ReferenceID,
		&started,
		&stopped,
		&s.ExpectedReadingCount,
		&s.Available,
	)
	if err != nil {
		return s, err //nolint:wrapcheck // wrapped by callers
	}
	s.StartedAt = time.UnixMilli(started)
	if stopped.Valid {
		t := time.UnixMilli(stopped.Int64)
		s.StoppedAt = &t
	}
	return s, nil
}

const sessionColumns = `DBID, ReferenceID, StartedAt, StoppedAt, ExpectedReadingCount, Available`

func sqlGetSession(ctx context.Context, db *sql.DB, id int64) (database.Session, error) {
	row := db.QueryRowContext(ctx,
		`select `+sessionColumns+` from Sessions where DBID = ?;`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: %d", database.ErrSessionNotFound, id)
	} else if err != nil {
		return s, fmt.Errorf("failed to scan session row: %w", err)
	}
	return s, nil
}

func sqlGetSessions(ctx context.Context, db *sql.DB) ([]database.Session, error) {
	list := make([]database.Session, 0, 16)
	rows, err := db.QueryContext(ctx,
		`select `+sessionColumns+` from Sessions order by DBID desc;`)
	if err != nil {
		return list, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer closeRows(rows)

	for rows.Next() {
		s, scanErr := scanSession(rows)
		if scanErr != nil {
			return list, fmt.Errorf("failed to scan session row: %w", scanErr)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return list, fmt.Errorf("error iterating session rows: %w", err)
	}
	return list, nil
}

func sqlGetOrCreateCategory(ctx context.Context, db *sql.DB, name string) (int64, error) {
	_, err := db.ExecContext(ctx, `
		insert into Categories(Name) values (?) on conflict(Name) do nothing;
	`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to execute category insert: %w", err)
	}

	var id int64
	err = db.QueryRowContext(ctx, `select DBID from Categories where Name = ?;`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to query category id: %w", err)
	}
	return id, nil
}

func sqlAddMany(ctx context.Context, db *sql.DB, readings []database.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	stmt, err := tx.PrepareContext(ctx, `
		insert into Readings(
			SessionDBID, CategoryDBID, TimeLogged, Value
		) values (?, ?, ?, ?);
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare reading insert statement: %w", err)
	}
	defer closeStmt(stmt)

	for _, r := range readings {
		_, err = stmt.ExecContext(ctx, r.SessionDBID, r.CategoryDBID, r.TimeLogged, r.Value)
		if err != nil {
			return fmt.Errorf("failed to execute reading insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit readings: %w", err)
	}
	return nil
}

// sqlAddCache keeps one row per category holding its latest value.
func sqlAddCache(ctx context.Context, db *sql.DB, timeLogged, categoryID int64, value float64) error {
	stmt, err := db.PrepareContext(ctx, `
		insert into Cache(TimeLogged, CategoryDBID, Value) values (?, ?, ?)
		on conflict(CategoryDBID) do update
		set TimeLogged = excluded.TimeLogged, Value = excluded.Value;
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache insert statement: %w", err)
	}
	defer closeStmt(stmt)

	if _, err := stmt.ExecContext(ctx, timeLogged, categoryID, value); err != nil {
		return fmt.Errorf("failed to execute cache insert: %w", err)
	}
	return nil
}

func sqlLatestCache(ctx context.Context, db *sql.DB, limit int) ([]database.CachedValue, error) {
	list := make([]database.CachedValue, 0, limit)
	rows, err := db.QueryContext(ctx, `
		select c.DBID, c.TimeLogged, c.CategoryDBID, c.Value, cat.Name
		from Cache c
		join Categories cat on cat.DBID = c.CategoryDBID
		order by c.TimeLogged desc, c.DBID desc
		limit ?;
	`, limit)
	if err != nil {
		return list, fmt.Errorf("failed to query cache: %w", err)
	}
	defer closeRows(rows)

	for rows.Next() {
		var v database.CachedValue
		if err := rows.Scan(&v.DBID, &v.TimeLogged, &v.CategoryDBID, &v.Value, &v.Category); err != nil {
			return list, fmt.Errorf("failed to scan cache row: %w", err)
		}
		list = append(list, v)
	}
	if err := rows.Err(); err != nil {
		return list, fmt.Errorf("error iterating cache rows: %w", err)
	}
	return list, nil
}

func sqlSessionReadings(ctx context.Context, db *sql.DB, sessionID int64) ([]database.Reading, error) {
	list := make([]database.Reading, 0, 64)
	rows, err := db.QueryContext(ctx, `
		select r.SessionDBID, r.CategoryDBID, r.TimeLogged, r.Value, cat.Name
		from Readings r
		join Categories cat on cat.DBID = r.CategoryDBID
		where r.SessionDBID = ?
		order by r.DBID;
	`, sessionID)
	if err != nil {
		return list, fmt.Errorf("failed to query readings: %w", err)
	}
	defer closeRows(rows)

	for rows.Next() {
		var r database.Reading
		if err := rows.Scan(&r.SessionDBID, &r.CategoryDBID, &r.TimeLogged, &r.Value, &r.Category); err != nil {
			return list, fmt.Errorf("failed to scan reading row: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return list, fmt.Errorf("error iterating reading rows: %w", err)
	}
	return list, nil
}

// sqlAppendFrames stores frames after any already archived for the session,
// keeping arrival order in Seq.
func sqlAppendFrames(ctx context.Context, db *sql.DB, sessionID int64, frames []string) error {
	if len(frames) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	var next int64
	err = tx.QueryRowContext(ctx,
		`select coalesce(max(Seq), -1) + 1 from Frames where SessionDBID = ?;`, sessionID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to query frame sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		insert into Frames(SessionDBID, Seq, Raw) values (?, ?, ?);
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare frame insert statement: %w", err)
	}
	defer closeStmt(stmt)

	for i, raw := range frames {
		if _, err := stmt.ExecContext(ctx, sessionID, next+int64(i), raw); err != nil {
			return fmt.Errorf("failed to execute frame insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit frames: %w", err)
	}
	return nil
}

// sqlReplayFrames calls fn for every archived frame of a session in arrival
// order and stops at the first error fn returns.
func sqlReplayFrames(
	ctx context.Context,
	db *sql.DB,
	sessionID int64,
	fn func(raw string) error,
) (int, error) {
	if _, err := sqlGetSession(ctx, db, sessionID); err != nil {
		return 0, err
	}

	rows, err := db.QueryContext(ctx, `
		select Raw from Frames where SessionDBID = ? order by Seq;
	`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to query frames: %w", err)
	}
	defer closeRows(rows)

	count := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return count, fmt.Errorf("failed to scan frame row: %w", err)
		}
		if err := fn(raw); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("error iterating frame rows: %w", err)
	}
	return count, nil
}

func sqlFrameCount(ctx context.Context, db *sql.DB, sessionID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`select count(*) from Frames where SessionDBID = ?;`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return n, nil
}

// sqlUpdateSessionAvailability records how many frames the server sent for
// a session and marks it available when that many were persisted locally.
// Only frames that decoded into readings are persisted for a download.
func sqlUpdateSessionAvailability(
	ctx context.Context,
	db *sql.DB,
	sessionID int64,
	expected int,
) (bool, error) {
	stored, err := sqlFrameCount(ctx, db, sessionID)
	if err != nil {
		return false, err
	}
	available := stored == expected

	res, err := db.ExecContext(ctx, `
		update Sessions set ExpectedReadingCount = ?, Available = ? where DBID = ?;
	`, expected, available, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to execute session availability update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, fmt.Errorf("%w: %d", database.ErrSessionNotFound, sessionID)
	}
	return available, nil
}
