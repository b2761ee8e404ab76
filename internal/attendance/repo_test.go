package attendance

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/geo"
	"geoattend/internal/store"
)

func newSQLiteRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))
	return NewRepository(db)
}

func countRows(t *testing.T, r *Repository, key Key) int {
	t.Helper()
	var n int
	require.NoError(t, r.db.QueryRow(
		r.q(`SELECT COUNT(*) FROM attendance_records WHERE student_id = $1 AND subject_code = $2 AND day = $3`),
		key.StudentID, key.SubjectCode, key.Day,
	).Scan(&n))
	return n
}

func TestRepositoryUpsertCreatesThenUpdatesInPlace(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	key := Key{StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-02"}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mark := Mark{Key: key, Authority: AuthorityStudent, ActorID: "s1", At: at, Verdict: verdict(true, 7.5, 4)}
	first, reason, err := r.Upsert(ctx, key, func(existing *Record) (Record, Reason) {
		assert.Nil(t, existing)
		return Policy{}.Decide(existing, mark)
	})
	require.NoError(t, err)
	require.Empty(t, reason)

	notes := "medical"
	override := Mark{Key: key, Authority: AuthorityTeacher, ActorID: "t1", At: at.Add(5 * time.Minute), Status: StatusAbsent, Notes: &notes}
	second, reason, err := r.Upsert(ctx, key, func(existing *Record) (Record, Reason) {
		require.NotNil(t, existing)
		assert.Equal(t, first.ID, existing.ID)
		require.NotNil(t, existing.DistanceMeters)
		assert.Equal(t, 7.5, *existing.DistanceMeters)
		return Policy{}.Decide(existing, override)
	})
	require.NoError(t, err)
	require.Empty(t, reason)
	assert.Equal(t, first.ID, second.ID)

	got, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusAbsent, got.Status)
	assert.Equal(t, AuthorityTeacher, got.MarkedBy)
	assert.False(t, got.LocationVerified)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "medical", *got.Notes)
	assert.Nil(t, got.DistanceMeters)
	assert.True(t, got.MarkedAt.Equal(at.Add(5*time.Minute)))
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Equal(t, 1, countRows(t, r, key))
}

func TestRepositoryRejectionLeavesRowUntouched(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	key := Key{StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-02"}
	at := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)

	_, _, err := r.Upsert(ctx, key, func(existing *Record) (Record, Reason) {
		return Policy{}.Decide(existing, Mark{Key: key, Authority: AuthorityTeacher, ActorID: "t1", At: at, Status: StatusAbsent})
	})
	require.NoError(t, err)

	current, reason, err := r.Upsert(ctx, key, func(existing *Record) (Record, Reason) {
		return Policy{}.Decide(existing, Mark{Key: key, Authority: AuthorityStudent, ActorID: "s1", At: at.Add(5 * time.Minute), Verdict: verdict(true, 0, 3)})
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonTeacherLocked, reason)
	require.NotNil(t, current)
	assert.Equal(t, StatusAbsent, current.Status)

	got, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, AuthorityTeacher, got.MarkedBy)
	assert.True(t, got.MarkedAt.Equal(at))
}

func TestRepositoryConcurrentUpsertsKeepOneRow(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	key := Key{StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-02"}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Upsert(ctx, key, func(existing *Record) (Record, Reason) {
				return Policy{}.Decide(existing, Mark{Key: key, Authority: AuthorityStudent, ActorID: "s1", At: at, Verdict: verdict(true, 1, 1)})
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, countRows(t, r, key))
}

// raceUpserts runs n upserts for key spread over repos, alternating student and
// teacher marks.
func raceUpserts(t *testing.T, repos []*Repository, key Key, n int) {
	t.Helper()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		r := repos[i%len(repos)]
		mark := Mark{Key: key, Authority: AuthorityStudent, ActorID: key.StudentID, At: at, Verdict: verdict(true, 1, 1)}
		if i%4 == 3 {
			mark = Mark{Key: key, Authority: AuthorityTeacher, ActorID: "t1", At: at, Status: StatusLate}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Upsert(context.Background(), key, func(existing *Record) (Record, Reason) {
				return Policy{}.Decide(existing, mark)
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestRepositoryUpsertAcrossConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	var repos []*Repository
	for i := 0; i < 2; i++ {
		db, err := store.NewSQLite(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, store.Migrate(context.Background(), db))
		repos = append(repos, NewRepository(db))
	}
	key := Key{StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-02"}

	raceUpserts(t, repos, key, 20)

	assert.Equal(t, 1, countRows(t, repos[0], key))
	got, err := repos[1].Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, AuthorityTeacher, got.MarkedBy)
	assert.Equal(t, StatusLate, got.Status)
}

// Set GEOATTEND_TEST_DATABASE_URL to a scratch Postgres database to exercise the
// advisory lock path.
func TestRepositoryUpsertPostgres(t *testing.T) {
	dsn := os.Getenv("GEOATTEND_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GEOATTEND_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	var repos []*Repository
	for i := 0; i < 2; i++ {
		db, err := store.NewDB(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, store.Migrate(ctx, db))
		repos = append(repos, NewRepository(db))
	}
	key := Key{StudentID: "pg-" + uuid.NewString(), SubjectCode: "CS101", Day: "2026-03-02"}
	t.Cleanup(func() {
		_, _ = repos[0].db.Exec(`DELETE FROM attendance_records WHERE student_id = $1`, key.StudentID)
	})

	raceUpserts(t, repos, key, 40)

	assert.Equal(t, 1, countRows(t, repos[0], key))
	got, err := repos[1].Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, AuthorityTeacher, got.MarkedBy)
}

func TestRepositoryListForSubjectAndDay(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for _, k := range []Key{
		{StudentID: "s2", SubjectCode: "CS101", Day: "2026-03-02"},
		{StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-02"},
		{StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-03"},
		{StudentID: "s1", SubjectCode: "MA200", Day: "2026-03-02"},
	} {
		k := k
		_, _, err := r.Upsert(ctx, k, func(existing *Record) (Record, Reason) {
			return Policy{}.Decide(existing, Mark{Key: k, Authority: AuthorityTeacher, ActorID: "t1", At: at, Status: StatusPresent})
		})
		require.NoError(t, err)
	}

	recs, err := r.ListForSubjectAndDay(ctx, "CS101", "2026-03-02")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s1", recs[0].StudentID)
	assert.Equal(t, "s2", recs[1].StudentID)

	missing, err := r.Get(ctx, Key{StudentID: "s3", SubjectCode: "CS101", Day: "2026-03-02"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryRoster(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, r.UpsertStudent(ctx, "s1", "Ada"))
	require.NoError(t, r.UpsertTeacher(ctx, "t1", "Grace"))
	require.NoError(t, r.Enroll(ctx, "s1", "CS101"))
	require.NoError(t, r.Enroll(ctx, "s1", "CS101"))

	ok, err := r.IsEnrolled(ctx, "s1", "CS101")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.IsEnrolled(ctx, "s1", "MA200")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.ActorExists(ctx, AuthorityTeacher, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ActorExists(ctx, AuthorityStudent, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = r.ActorExists(ctx, "admin", "t1")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Error(t, r.Enroll(ctx, "ghost", "CS101"))
}

func TestRepositoryServiceEndToEnd(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertStudent(ctx, "s1", "Ada"))
	require.NoError(t, r.Enroll(ctx, "s1", "CS101"))

	clock := &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc := NewService(r, r, nil, Options{Geofence: campus, Location: time.UTC, Now: clock.Now})

	sample := &geo.Sample{Latitude: 40.7128, Longitude: -74.0060, AccuracyMeters: 8, CapturedAt: clock.Now()}
	d, err := svc.SubmitStudentAttendance(ctx, "s1", "CS101", sample)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	d, err = svc.SubmitTeacherAttendance(ctx, "t1", "s1", "CS101", StatusAbsent, nil)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	d, err = svc.SubmitStudentAttendance(ctx, "s1", "CS101", sample)
	require.NoError(t, err)
	assert.Equal(t, ReasonTeacherLocked, d.Reason)

	d, err = svc.SubmitStudentAttendance(ctx, "s9", "CS101", sample)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotEnrolled, d.Reason)

	rec, err := svc.TodayStatus(ctx, "s1", "CS101")
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, rec.Status)
	assert.Equal(t, AuthorityTeacher, rec.MarkedBy)
}

func TestRepositoryAuditTrail(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d := 4.0

	first := AuditEntry{ID: "a1", RecordID: "r1", StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-02",
		Status: StatusPresent, MarkedBy: AuthorityStudent, MarkerID: "s1", LocationVerified: true, DistanceMeters: &d, OccurredAt: at}
	second := AuditEntry{ID: "a2", RecordID: "r1", StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-02",
		Status: StatusAbsent, MarkedBy: AuthorityTeacher, MarkerID: "t1", PreviousStatus: StatusPresent,
		PreviousMarkedBy: AuthorityStudent, OccurredAt: at.Add(5 * time.Minute)}
	require.NoError(t, r.InsertAudit(ctx, first))
	require.NoError(t, r.InsertAudit(ctx, second))
	require.NoError(t, r.InsertAudit(ctx, second))

	entries, err := r.ListAudit(ctx, "s1", "CS101", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a2", entries[0].ID)
	assert.Equal(t, StatusPresent, entries[0].PreviousStatus)
	assert.Equal(t, AuthorityStudent, entries[0].PreviousMarkedBy)
	assert.Nil(t, entries[0].DistanceMeters)
	require.NotNil(t, entries[1].DistanceMeters)
	assert.Equal(t, 4.0, *entries[1].DistanceMeters)
	assert.Empty(t, entries[1].PreviousStatus)

	none, err := r.ListAudit(ctx, "s2", "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepositoryRefreshTokens(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.SaveRefreshToken(ctx, "s1", AuthorityStudent, "tok-1", now.Add(time.Hour)))
	require.NoError(t, r.SaveRefreshToken(ctx, "s1", AuthorityStudent, "tok-old", now.Add(-time.Hour)))

	ok, err := r.ConsumeRefreshToken(ctx, "tok-1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ConsumeRefreshToken(ctx, "tok-1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.ConsumeRefreshToken(ctx, "tok-old", now)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := r.PurgeRefreshTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
