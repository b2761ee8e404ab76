package geo

import (
	"context"
	"sync"
	"time"
)

// Tracker owns one push-fed Sampler per client session.
type Tracker struct {
	cfg     TrackingConfig
	now     func() time.Time
	observe func(Availability)

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	sampler  *Sampler
	source   *ReportSource
	lastSeen time.Time
}

// NewTracker creates a tracker. observe, when non-nil, sees every availability
// change of every session.
func NewTracker(cfg TrackingConfig, now func() time.Time, observe func(Availability)) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{cfg: cfg, now: now, observe: observe, sessions: make(map[string]*session)}
}

func (t *Tracker) session(id string) (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.lastSeen = t.now()
		return s, nil
	}
	src := NewReportSource()
	s := &session{sampler: NewSampler(src, t.now), source: src, lastSeen: t.now()}
	if t.observe != nil {
		ch, _ := s.sampler.Subscribe(8)
		go func() {
			for a := range ch {
				t.observe(a)
			}
		}()
	}
	// sessions outlive the request that opened them
	if err := s.sampler.Start(context.Background(), t.cfg); err != nil {
		return nil, err
	}
	t.sessions[id] = s
	return s, nil
}

// Report feeds a client fix into the session, starting tracking if needed.
func (t *Tracker) Report(id string, s Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	sess, err := t.session(id)
	if err != nil {
		return err
	}
	sess.source.Push(s)
	return nil
}

// ReportError feeds a client sensor failure into the session.
func (t *Tracker) ReportError(id string, cause error) error {
	sess, err := t.session(id)
	if err != nil {
		return err
	}
	sess.source.Fail(cause)
	return nil
}

// Current returns the session's latest fresh sample.
func (t *Tracker) Current(id string) (Sample, bool) {
	t.mu.Lock()
	s, ok := t.sessions[id]
	t.mu.Unlock()
	if !ok {
		return Sample{}, false
	}
	return s.sampler.Current()
}

// Stop ends tracking for one session. Unknown sessions are ignored.
func (t *Tracker) Stop(id string) {
	t.mu.Lock()
	s, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if ok {
		s.sampler.Stop()
	}
}

// StopIdle ends sessions that have not reported anything for longer than maxIdle
// and returns how many were stopped.
func (t *Tracker) StopIdle(maxIdle time.Duration) int {
	cutoff := t.now().Add(-maxIdle)
	var idle []*session
	t.mu.Lock()
	for id, s := range t.sessions {
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, s)
			delete(t.sessions, id)
		}
	}
	t.mu.Unlock()
	for _, s := range idle {
		s.sampler.Stop()
	}
	return len(idle)
}

// Len returns the number of active sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// StopAll ends every session.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	all := t.sessions
	t.sessions = make(map[string]*session)
	t.mu.Unlock()
	for _, s := range all {
		s.sampler.Stop()
	}
}
