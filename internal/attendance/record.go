package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"geoattend/internal/geo"
)

// DayLayout is the calendar-day format of the natural key.
const DayLayout = "2006-01-02"

// Status of one attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

// ParseStatus accepts the three status literals, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPresent, StatusAbsent, StatusLate:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, s)
}

// Authority is who marked a record.
type Authority string

const (
	AuthorityStudent Authority = "student"
	AuthorityTeacher Authority = "teacher"
)

// Key is the natural key of a record: one per student, subject and day.
type Key struct {
	StudentID   string
	SubjectCode string
	Day         string
}

func (k Key) String() string {
	return k.StudentID + "|" + k.SubjectCode + "|" + k.Day
}

// Validate checks that every key part is set and the day parses.
func (k Key) Validate() error {
	if k.StudentID == "" || k.SubjectCode == "" {
		return fmt.Errorf("%w: student and subject required", ErrInvalidRequest)
	}
	if _, err := time.Parse(DayLayout, k.Day); err != nil {
		return fmt.Errorf("%w: bad day %q", ErrInvalidRequest, k.Day)
	}
	return nil
}

// Record is the single live attendance record for a Key.
type Record struct {
	ID               string    `json:"id"`
	StudentID        string    `json:"student_id"`
	SubjectCode      string    `json:"subject_code"`
	Day              string    `json:"day"`
	Status           Status    `json:"status"`
	MarkedBy         Authority `json:"marked_by"`
	MarkerID         string    `json:"marker_id"`
	LocationVerified bool      `json:"location_verified"`
	Notes            *string   `json:"notes,omitempty"`
	DistanceMeters   *float64  `json:"distance_meters,omitempty"`
	MarkedAt         time.Time `json:"marked_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (r Record) Key() Key {
	return Key{StudentID: r.StudentID, SubjectCode: r.SubjectCode, Day: r.Day}
}

// Reason explains a policy rejection.
type Reason string

const (
	ReasonLocationUnavailable Reason = "location_unavailable"
	ReasonLocationFailed      Reason = "location_failed"
	ReasonAccuracyTooLow      Reason = "accuracy_too_low"
	ReasonTeacherLocked       Reason = "teacher_locked"
	ReasonNotEnrolled         Reason = "not_enrolled"
	ReasonNotPermitted        Reason = "not_permitted"
)

// Message is the human-readable form of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonLocationUnavailable:
		return "location unavailable"
	case ReasonLocationFailed:
		return "location verification failed"
	case ReasonAccuracyTooLow:
		return "location accuracy too low"
	case ReasonTeacherLocked:
		return "attendance already marked by teacher"
	case ReasonNotEnrolled:
		return "student is not enrolled in this subject"
	case ReasonNotPermitted:
		return "actor may not mark attendance"
	}
	return string(r)
}

// Decision is the outcome of one submission. A rejected decision is a normal
// result, not an error.
type Decision struct {
	Accepted bool         `json:"accepted"`
	Reason   Reason       `json:"reason,omitempty"`
	Record   *Record      `json:"record,omitempty"`
	Verdict  *geo.Verdict `json:"verdict,omitempty"`
}

// ErrInvalidRequest wraps malformed input; it is neither a rejection nor retryable.
var ErrInvalidRequest = errors.New("invalid attendance request")

// UnavailableError marks a storage failure the caller may retry.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return "attendance storage unavailable: " + e.Op + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable storage failure. Resubmission is
// idempotent per key.
func IsRetryable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

func unavailable(op string, err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}
