package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/store"
)

// Repository persists attendance data in Postgres or SQLite. It is the SQL Ledger,
// the Roster and the home of the audit trail and refresh tokens.
type Repository struct {
	db      *sql.DB
	dialect store.Dialect
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db.Client, dialect: db.Dialect}
}

func (r *Repository) q(query string) string { return r.dialect.Rebind(query) }

const recordColumns = `id, student_id, subject_code, day, status, marked_by, marker_id,
	location_verified, notes, distance_meters, marked_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec      Record
		notes    sql.NullString
		distance sql.NullFloat64
	)
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.SubjectCode, &rec.Day, &rec.Status, &rec.MarkedBy, &rec.MarkerID,
		&rec.LocationVerified, &notes, &distance, &rec.MarkedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	if notes.Valid {
		rec.Notes = &notes.String
	}
	if distance.Valid {
		rec.DistanceMeters = &distance.Float64
	}
	return rec, nil
}

// Upsert runs decide inside a transaction that holds a lock scoped to the key.
// Postgres takes a transaction-level advisory lock on the key; SQLite transactions
// are BEGIN IMMEDIATE and already exclusive for writers. The unique constraint on
// (student_id, subject_code, day) backs both.
func (r *Repository) Upsert(ctx context.Context, key Key, decide DecideFunc) (*Record, Reason, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := `SELECT ` + recordColumns + ` FROM attendance_records
		WHERE student_id = $1 AND subject_code = $2 AND day = $3`
	if r.dialect == store.Postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
			return nil, "", unavailable("lock", err)
		}
		selectQuery += ` FOR UPDATE`
	}

	var existing *Record
	rec, err := scanRecord(tx.QueryRowContext(ctx, r.q(selectQuery), key.StudentID, key.SubjectCode, key.Day))
	switch {
	case err == nil:
		existing = &rec
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, "", unavailable("read", err)
	}

	next, reason := decide(existing)
	if reason != "" {
		return existing, reason, nil
	}

	_, err = tx.ExecContext(ctx, r.q(`
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (student_id, subject_code, day) DO UPDATE SET
			status = EXCLUDED.status,
			marked_by = EXCLUDED.marked_by,
			marker_id = EXCLUDED.marker_id,
			location_verified = EXCLUDED.location_verified,
			notes = EXCLUDED.notes,
			distance_meters = EXCLUDED.distance_meters,
			marked_at = EXCLUDED.marked_at,
			updated_at = EXCLUDED.updated_at
	`), next.ID, next.StudentID, next.SubjectCode, next.Day, string(next.Status), string(next.MarkedBy), next.MarkerID,
		next.LocationVerified, next.Notes, next.DistanceMeters, next.MarkedAt.UTC(), next.CreatedAt.UTC(), next.UpdatedAt.UTC())
	if err != nil {
		return nil, "", unavailable("write", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, "", unavailable("commit", err)
	}
	return &next, "", nil
}

// Get returns the record for a key, or nil when there is none.
func (r *Repository) Get(ctx context.Context, key Key) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.q(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE student_id = $1 AND subject_code = $2 AND day = $3
	`), key.StudentID, key.SubjectCode, key.Day))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("get", err)
	}
	return &rec, nil
}

// ListForSubjectAndDay returns every record of one subject on one day.
func (r *Repository) ListForSubjectAndDay(ctx context.Context, subjectCode, day string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE subject_code = $1 AND day = $2
		ORDER BY student_id
	`), subjectCode, day)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("list", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return res, nil
}

// -------- Roster --------

// IsEnrolled reports whether the student takes the subject.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, subjectCode string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND subject_code = $2)
	`), studentID, subjectCode).Scan(&ok)
	if err != nil {
		return false, unavailable("roster", err)
	}
	return ok, nil
}

// ActorExists reports whether a student or teacher with the id is on the roster.
func (r *Repository) ActorExists(ctx context.Context, role Authority, id string) (bool, error) {
	var table string
	switch role {
	case AuthorityStudent:
		table = "students"
	case AuthorityTeacher:
		table = "teachers"
	default:
		return false, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}
	var ok bool
	err := r.db.QueryRowContext(ctx, r.q(`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`), id).Scan(&ok)
	if err != nil {
		return false, unavailable("roster", err)
	}
	return ok, nil
}

// UpsertStudent creates or renames a student.
func (r *Repository) UpsertStudent(ctx context.Context, id, name string) error {
	return r.upsertPerson(ctx, "students", id, name)
}

// UpsertTeacher creates or renames a teacher.
func (r *Repository) UpsertTeacher(ctx context.Context, id, name string) error {
	return r.upsertPerson(ctx, "teachers", id, name)
}

func (r *Repository) upsertPerson(ctx context.Context, table, id, name string) error {
	if id == "" {
		return fmt.Errorf("%w: id required", ErrInvalidRequest)
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO `+table+` (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`), id, name)
	return err
}

// Enroll adds a student to a subject. Enrolling twice is a no-op.
func (r *Repository) Enroll(ctx context.Context, studentID, subjectCode string) error {
	if studentID == "" || subjectCode == "" {
		return fmt.Errorf("%w: student and subject required", ErrInvalidRequest)
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO enrollments (student_id, subject_code) VALUES ($1, $2)
		ON CONFLICT (student_id, subject_code) DO NOTHING
	`), studentID, subjectCode)
	return err
}

// -------- Audit --------

// InsertAudit appends one entry to the mark audit trail. Replaying the same
// entry is a no-op.
func (r *Repository) InsertAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var prevStatus, prevBy *string
	if e.PreviousStatus != "" {
		s := string(e.PreviousStatus)
		prevStatus = &s
	}
	if e.PreviousMarkedBy != "" {
		s := string(e.PreviousMarkedBy)
		prevBy = &s
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO attendance_audit (id, record_id, student_id, subject_code, day, status, marked_by, marker_id,
			location_verified, distance_meters, accuracy_meters, previous_status, previous_marked_by, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`), e.ID, e.RecordID, e.StudentID, e.SubjectCode, e.Day, string(e.Status), string(e.MarkedBy), e.MarkerID,
		e.LocationVerified, e.DistanceMeters, e.AccuracyMeters, prevStatus, prevBy, e.OccurredAt.UTC())
	if err != nil {
		return unavailable("audit", err)
	}
	return nil
}

// ListAudit returns audit entries, newest first, with optional filters.
func (r *Repository) ListAudit(ctx context.Context, studentID, subjectCode string, limit, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, record_id, student_id, subject_code, day, status, marked_by, marker_id, location_verified,
		distance_meters, accuracy_meters, previous_status, previous_marked_by, occurred_at FROM attendance_audit`
	args := []any{}
	clauses := []string{}
	if studentID != "" {
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, studentID)
	}
	if subjectCode != "" {
		clauses = append(clauses, fmt.Sprintf("subject_code = $%d", len(args)+1))
		args = append(args, subjectCode)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, unavailable("audit", err)
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var (
			e              AuditEntry
			distance, acc  sql.NullFloat64
			prevSt, prevBy sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RecordID, &e.StudentID, &e.SubjectCode, &e.Day, &e.Status, &e.MarkedBy, &e.MarkerID,
			&e.LocationVerified, &distance, &acc, &prevSt, &prevBy, &e.OccurredAt); err != nil {
			return nil, unavailable("audit", err)
		}
		if distance.Valid {
			e.DistanceMeters = &distance.Float64
		}
		if acc.Valid {
			e.AccuracyMeters = &acc.Float64
		}
		e.PreviousStatus = Status(prevSt.String)
		e.PreviousMarkedBy = Authority(prevBy.String)
		res = append(res, e)
	}
	return res, rows.Err()
}

// -------- Refresh tokens --------

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, actorID string, role Authority, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO refresh_tokens (token, actor_id, role, expires_at)
		VALUES ($1, $2, $3, $4)
	`), token, actorID, string(role), expiresAt.UTC())
	return err
}

// ConsumeRefreshToken revokes an active token and reports whether it was active.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND revoked = FALSE AND expires_at > $2
	`), token, now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// PurgeRefreshTokens deletes revoked and expired tokens.
func (r *Repository) PurgeRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		DELETE FROM refresh_tokens WHERE revoked = TRUE OR expires_at <= $1
	`), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
