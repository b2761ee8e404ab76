package attendance

import (
	"time"

	"github.com/google/uuid"

	"geoattend/internal/geo"
)

// Mark is one request to record attendance for a key.
type Mark struct {
	Key       Key
	Authority Authority
	ActorID   string
	At        time.Time

	// Status and Notes are set by teachers only; student marks are always present.
	Status Status
	Notes  *string

	// Verdict is required for student marks; nil means no usable location.
	Verdict *geo.Verdict
}

// Policy decides whether a mark may be written given the current record.
type Policy struct {
	// MaxAccuracyMeters rejects student fixes reporting a worse accuracy.
	// Zero disables the check.
	MaxAccuracyMeters float64
}

// Decide applies the precedence rules for one key. existing is nil when no record
// exists yet. On acceptance it returns the record to store and an empty reason;
// otherwise the zero Record and the rejection reason.
//
// Teachers always win. A student may only create or refresh a student-marked
// record, and only from inside the geofence.
func (p Policy) Decide(existing *Record, m Mark) (Record, Reason) {
	switch m.Authority {
	case AuthorityTeacher:
		rec := p.base(existing, m)
		rec.Status = m.Status
		rec.LocationVerified = false
		rec.Notes = m.Notes
		rec.DistanceMeters = nil
		return rec, ""

	case AuthorityStudent:
		if existing != nil && existing.MarkedBy == AuthorityTeacher {
			return Record{}, ReasonTeacherLocked
		}
		if m.Verdict == nil {
			return Record{}, ReasonLocationUnavailable
		}
		if p.MaxAccuracyMeters > 0 && m.Verdict.Sample.AccuracyMeters > p.MaxAccuracyMeters {
			return Record{}, ReasonAccuracyTooLow
		}
		if !m.Verdict.Inside {
			return Record{}, ReasonLocationFailed
		}
		rec := p.base(existing, m)
		rec.Status = StatusPresent
		rec.LocationVerified = true
		rec.Notes = nil
		d := m.Verdict.DistanceMeters
		rec.DistanceMeters = &d
		return rec, ""
	}
	return Record{}, ReasonNotPermitted
}

func (p Policy) base(existing *Record, m Mark) Record {
	rec := Record{
		StudentID:   m.Key.StudentID,
		SubjectCode: m.Key.SubjectCode,
		Day:         m.Key.Day,
		MarkedBy:    m.Authority,
		MarkerID:    m.ActorID,
		MarkedAt:    m.At,
		UpdatedAt:   m.At,
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.ID = uuid.NewString()
		rec.CreatedAt = m.At
	}
	return rec
}
