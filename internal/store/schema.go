package store

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS teachers (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		student_id   TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		subject_code TEXT NOT NULL,
		PRIMARY KEY (student_id, subject_code)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id                TEXT PRIMARY KEY,
		student_id        TEXT NOT NULL,
		subject_code      TEXT NOT NULL,
		day               TEXT NOT NULL,
		status            TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late')),
		marked_by         TEXT NOT NULL CHECK (marked_by IN ('student', 'teacher')),
		marker_id         TEXT NOT NULL,
		location_verified BOOLEAN NOT NULL DEFAULT FALSE,
		notes             TEXT,
		distance_meters   DOUBLE PRECISION,
		marked_at         TIMESTAMPTZ NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		UNIQUE (student_id, subject_code, day)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_subject_day ON attendance_records(subject_code, day)`,
	`CREATE TABLE IF NOT EXISTS attendance_audit (
		id                 TEXT PRIMARY KEY,
		record_id          TEXT NOT NULL,
		student_id         TEXT NOT NULL,
		subject_code       TEXT NOT NULL,
		day                TEXT NOT NULL,
		status             TEXT NOT NULL,
		marked_by          TEXT NOT NULL,
		marker_id          TEXT NOT NULL,
		location_verified  BOOLEAN NOT NULL,
		distance_meters    DOUBLE PRECISION,
		accuracy_meters    DOUBLE PRECISION,
		previous_status    TEXT,
		previous_marked_by TEXT,
		occurred_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_student ON attendance_audit(student_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		actor_id   TEXT NOT NULL,
		role       TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS teachers (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		student_id   TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		subject_code TEXT NOT NULL,
		PRIMARY KEY (student_id, subject_code)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id                TEXT PRIMARY KEY,
		student_id        TEXT NOT NULL,
		subject_code      TEXT NOT NULL,
		day               TEXT NOT NULL,
		status            TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late')),
		marked_by         TEXT NOT NULL CHECK (marked_by IN ('student', 'teacher')),
		marker_id         TEXT NOT NULL,
		location_verified BOOLEAN NOT NULL DEFAULT 0,
		notes             TEXT,
		distance_meters   REAL,
		marked_at         DATETIME NOT NULL,
		created_at        DATETIME NOT NULL,
		updated_at        DATETIME NOT NULL,
		UNIQUE (student_id, subject_code, day)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_subject_day ON attendance_records(subject_code, day)`,
	`CREATE TABLE IF NOT EXISTS attendance_audit (
		id                 TEXT PRIMARY KEY,
		record_id          TEXT NOT NULL,
		student_id         TEXT NOT NULL,
		subject_code       TEXT NOT NULL,
		day                TEXT NOT NULL,
		status             TEXT NOT NULL,
		marked_by          TEXT NOT NULL,
		marker_id          TEXT NOT NULL,
		location_verified  BOOLEAN NOT NULL,
		distance_meters    REAL,
		accuracy_meters    REAL,
		previous_status    TEXT,
		previous_marked_by TEXT,
		occurred_at        DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_student ON attendance_audit(student_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		actor_id   TEXT NOT NULL,
		role       TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT 0
	)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *DB) error {
	schema := postgresSchema
	if db.Dialect == SQLite {
		schema = sqliteSchema
	}
	for i, stmt := range schema {
		if _, err := db.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s step %d: %w", db.Dialect, i, err)
		}
	}
	return nil
}
