package attendance

import (
	"context"
	"fmt"
	"log"
	"time"

	"geoattend/internal/geo"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
)

// Roster answers enrollment questions.
type Roster interface {
	IsEnrolled(ctx context.Context, studentID, subjectCode string) (bool, error)
}

// Publisher forwards accepted marks, e.g. to the audit worker.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Options configures a Service.
type Options struct {
	Geofence geo.Geofence
	Policy   Policy
	// MaxSampleAge rejects submitted samples captured longer ago. Zero disables it.
	MaxSampleAge time.Duration
	// Location is the campus time zone that defines the calendar day.
	Location *time.Location
	Now      func() time.Time
}

// Service coordinates geofence checks, precedence rules and the ledger.
type Service struct {
	ledger       Ledger
	roster       Roster
	pub          Publisher
	fence        geo.Geofence
	policy       Policy
	maxSampleAge time.Duration
	loc          *time.Location
	now          func() time.Time
}

// NewService creates a service. A nil roster skips enrollment checks and a nil
// publisher drops audit events.
func NewService(ledger Ledger, roster Roster, pub Publisher, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		ledger:       ledger,
		roster:       roster,
		pub:          pub,
		fence:        opts.Geofence,
		policy:       opts.Policy,
		maxSampleAge: opts.MaxSampleAge,
		loc:          opts.Location,
		now:          opts.Now,
	}
}

// Geofence returns the configured campus boundary.
func (s *Service) Geofence() geo.Geofence { return s.fence }

func (s *Service) today() (time.Time, string) {
	now := s.now().In(s.loc)
	return now, now.Format(DayLayout)
}

// SubmitStudentAttendance records a self-mark for today. sample may be nil when
// the device has no fix; the mark is then rejected as location unavailable.
func (s *Service) SubmitStudentAttendance(ctx context.Context, studentID, subjectCode string, sample *geo.Sample) (Decision, error) {
	if studentID == "" || subjectCode == "" {
		return Decision{}, fmt.Errorf("%w: student and subject required", ErrInvalidRequest)
	}
	if sample != nil {
		if err := sample.Validate(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	now, day := s.today()
	mark := Mark{
		Key:       Key{StudentID: studentID, SubjectCode: subjectCode, Day: day},
		Authority: AuthorityStudent,
		ActorID:   studentID,
		At:        now,
	}
	if sample != nil && s.fresh(*sample, now) {
		v := geo.Evaluate(*sample, s.fence)
		metrics.GeofenceDistance.Observe(v.DistanceMeters)
		mark.Verdict = &v
	}
	return s.submit(ctx, mark)
}

// SubmitTeacherAttendance records a teacher override for today. Policy never
// blocks a teacher for an enrolled student.
func (s *Service) SubmitTeacherAttendance(ctx context.Context, teacherID, studentID, subjectCode string, status Status, notes *string) (Decision, error) {
	if teacherID == "" || studentID == "" || subjectCode == "" {
		return Decision{}, fmt.Errorf("%w: teacher, student and subject required", ErrInvalidRequest)
	}
	st, err := ParseStatus(string(status))
	if err != nil {
		return Decision{}, err
	}
	now, day := s.today()
	return s.submit(ctx, Mark{
		Key:       Key{StudentID: studentID, SubjectCode: subjectCode, Day: day},
		Authority: AuthorityTeacher,
		ActorID:   teacherID,
		At:        now,
		Status:    st,
		Notes:     notes,
	})
}

// MaxClockSkew is how far a sample's capture time may run ahead of the server
// clock before it is treated as unusable.
const MaxClockSkew = 30 * time.Second

func (s *Service) fresh(sample geo.Sample, now time.Time) bool {
	if sample.CapturedAt.IsZero() || sample.CapturedAt.After(now.Add(MaxClockSkew)) {
		return false
	}
	return s.maxSampleAge <= 0 || now.Sub(sample.CapturedAt) <= s.maxSampleAge
}

func (s *Service) submit(ctx context.Context, mark Mark) (Decision, error) {
	if s.roster != nil {
		ok, err := s.roster.IsEnrolled(ctx, mark.Key.StudentID, mark.Key.SubjectCode)
		if err != nil {
			metrics.LedgerErrors.WithLabelValues("roster").Inc()
			return Decision{}, unavailable("roster", err)
		}
		if !ok {
			return s.reject(mark, nil, ReasonNotEnrolled), nil
		}
	}

	var previous *Record
	rec, reason, err := s.ledger.Upsert(ctx, mark.Key, func(existing *Record) (Record, Reason) {
		previous = existing
		return s.policy.Decide(existing, mark)
	})
	if err != nil {
		metrics.LedgerErrors.WithLabelValues("upsert").Inc()
		return Decision{}, unavailable("upsert", err)
	}
	if reason != "" {
		return s.reject(mark, rec, reason), nil
	}

	metrics.ObserveDecision(string(mark.Authority), "")
	log.Printf("attendance: %s %s marked %s/%s/%s %s", mark.Authority, mark.ActorID,
		mark.Key.StudentID, mark.Key.SubjectCode, mark.Key.Day, rec.Status)
	s.publish(ctx, newAuditEntry(*rec, previous, mark))
	return Decision{Accepted: true, Record: rec, Verdict: mark.Verdict}, nil
}

func (s *Service) reject(mark Mark, current *Record, reason Reason) Decision {
	metrics.ObserveDecision(string(mark.Authority), string(reason))
	log.Printf("attendance: %s %s rejected for %s/%s/%s: %s", mark.Authority, mark.ActorID,
		mark.Key.StudentID, mark.Key.SubjectCode, mark.Key.Day, reason)
	return Decision{Reason: reason, Record: current, Verdict: mark.Verdict}
}

func (s *Service) publish(ctx context.Context, e AuditEntry) {
	if s.pub == nil {
		return
	}
	body, err := EncodeAudit(e)
	if err != nil {
		log.Printf("attendance: encode audit %s: %v", e.ID, err)
		return
	}
	if err := s.pub.Publish(ctx, queue.Message{Type: queue.TypeMark, Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

// TodayStatus returns today's record for the student and subject, or nil.
func (s *Service) TodayStatus(ctx context.Context, studentID, subjectCode string) (*Record, error) {
	_, day := s.today()
	key := Key{StudentID: studentID, SubjectCode: subjectCode, Day: day}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.ledger.Get(ctx, key)
	return rec, unavailable("get", err)
}

// SubjectDay lists the records of one subject on a day; an empty day means today.
func (s *Service) SubjectDay(ctx context.Context, subjectCode, day string) ([]Record, error) {
	if day == "" {
		_, day = s.today()
	}
	if err := (Key{StudentID: "-", SubjectCode: subjectCode, Day: day}).Validate(); err != nil {
		return nil, err
	}
	recs, err := s.ledger.ListForSubjectAndDay(ctx, subjectCode, day)
	return recs, unavailable("list", err)
}
