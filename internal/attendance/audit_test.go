package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/queue"
)

type flakyAuditStore struct {
	mu       sync.Mutex
	failures int
	fatal    bool
	calls    int
	saved    []AuditEntry
}

func (s *flakyAuditStore) InsertAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fatal {
		return errors.New("constraint violated")
	}
	if s.failures > 0 {
		s.failures--
		return unavailable("audit", errors.New("connection reset"))
	}
	s.saved = append(s.saved, e)
	return nil
}

func TestAuditEntryFromMarks(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.SubmitStudentAttendance(ctx, "s1", "CS101", f.north(10))
	require.NoError(t, err)
	_, err = f.svc.SubmitTeacherAttendance(ctx, "t1", "s1", "CS101", StatusLate, nil)
	require.NoError(t, err)

	entries := f.pub.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].RecordID, entries[1].RecordID)
	assert.Equal(t, AuthorityStudent, entries[0].MarkedBy)
	require.NotNil(t, entries[0].AccuracyMeters)
	assert.Empty(t, entries[0].PreviousStatus)
	assert.Equal(t, StatusLate, entries[1].Status)
	assert.Equal(t, StatusPresent, entries[1].PreviousStatus)
	assert.Equal(t, AuthorityStudent, entries[1].PreviousMarkedBy)
	assert.Nil(t, entries[1].AccuracyMeters)
}

func TestRunAuditWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(8)
	body, err := EncodeAudit(AuditEntry{ID: "a1", StudentID: "s1", SubjectCode: "CS101", Day: "2026-03-02", OccurredAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other", Body: []byte("x")}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: queue.TypeMark, Body: []byte("{not json")}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: queue.TypeMark, Body: body}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	store := &flakyAuditStore{failures: 1}
	done := make(chan struct{})
	go func() {
		RunAuditWriter(ctx, msgs, store, 3)
		close(done)
	}()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.saved) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "a1", store.saved[0].ID)
	assert.Equal(t, 2, store.calls)
}

func TestWriteAuditStopsOnPermanentError(t *testing.T) {
	store := &flakyAuditStore{fatal: true}
	err := writeAudit(context.Background(), store, AuditEntry{ID: "a1"}, 5)
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
}
