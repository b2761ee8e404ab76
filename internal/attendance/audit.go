package attendance

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/metrics"
	"geoattend/internal/queue"
)

// AuditEntry describes one accepted mark and the state it replaced.
type AuditEntry struct {
	ID               string    `json:"id"`
	RecordID         string    `json:"record_id"`
	StudentID        string    `json:"student_id"`
	SubjectCode      string    `json:"subject_code"`
	Day              string    `json:"day"`
	Status           Status    `json:"status"`
	MarkedBy         Authority `json:"marked_by"`
	MarkerID         string    `json:"marker_id"`
	LocationVerified bool      `json:"location_verified"`
	DistanceMeters   *float64  `json:"distance_meters,omitempty"`
	AccuracyMeters   *float64  `json:"accuracy_meters,omitempty"`
	PreviousStatus   Status    `json:"previous_status,omitempty"`
	PreviousMarkedBy Authority `json:"previous_marked_by,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func newAuditEntry(rec Record, previous *Record, m Mark) AuditEntry {
	e := AuditEntry{
		ID:               uuid.NewString(),
		RecordID:         rec.ID,
		StudentID:        rec.StudentID,
		SubjectCode:      rec.SubjectCode,
		Day:              rec.Day,
		Status:           rec.Status,
		MarkedBy:         rec.MarkedBy,
		MarkerID:         rec.MarkerID,
		LocationVerified: rec.LocationVerified,
		DistanceMeters:   rec.DistanceMeters,
		OccurredAt:       rec.MarkedAt,
	}
	if m.Verdict != nil {
		acc := m.Verdict.Sample.AccuracyMeters
		e.AccuracyMeters = &acc
	}
	if previous != nil {
		e.PreviousStatus = previous.Status
		e.PreviousMarkedBy = previous.MarkedBy
	}
	return e
}

// EncodeAudit serializes an entry for the mark queue.
func EncodeAudit(e AuditEntry) ([]byte, error) { return json.Marshal(e) }

// DecodeAudit parses an entry read from the mark queue.
func DecodeAudit(b []byte) (AuditEntry, error) {
	var e AuditEntry
	err := json.Unmarshal(b, &e)
	return e, err
}

// AuditStore persists audit entries.
type AuditStore interface {
	InsertAudit(ctx context.Context, e AuditEntry) error
}

// RunAuditWriter drains mark messages into store until msgs is closed. Entries
// that fail with a retryable error are tried again up to attempts times.
func RunAuditWriter(ctx context.Context, msgs <-chan queue.Message, store AuditStore, attempts int) {
	if attempts < 1 {
		attempts = 1
	}
	for msg := range msgs {
		if msg.Type != queue.TypeMark {
			metrics.AuditWrites.WithLabelValues("skipped").Inc()
			continue
		}
		e, err := DecodeAudit(msg.Body)
		if err != nil {
			log.Printf("audit: decode failed: %v", err)
			metrics.AuditWrites.WithLabelValues("invalid").Inc()
			continue
		}
		if err := writeAudit(ctx, store, e, attempts); err != nil {
			log.Printf("audit: entry %s for %s/%s/%s dropped: %v", e.ID, e.StudentID, e.SubjectCode, e.Day, err)
			metrics.AuditWrites.WithLabelValues("failed").Inc()
			continue
		}
		metrics.AuditWrites.WithLabelValues("ok").Inc()
	}
}

func writeAudit(ctx context.Context, store AuditStore, e AuditEntry, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.InsertAudit(ctx, e); err == nil || !IsRetryable(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
