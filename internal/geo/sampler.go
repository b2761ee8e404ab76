package geo

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrPermissionDenied    = errors.New("geo: permission denied")
	ErrPositionUnavailable = errors.New("geo: position unavailable")
	ErrTimeout             = errors.New("geo: timeout")
	ErrStopped             = errors.New("geo: sampler stopped")
	ErrAlreadyTracking     = errors.New("geo: already tracking")
)

// Tracking defaults applied when a TrackingConfig leaves a field unset.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultInterval = 5 * time.Second
	DefaultMaxAge   = 30 * time.Second
)

// Source produces position fixes, typically from a device sensor.
type Source interface {
	Fix(ctx context.Context, highAccuracy bool) (Sample, error)
	Close() error
}

// TrackingConfig controls a Sampler.
type TrackingConfig struct {
	// HighAccuracy requests the best precision the source offers.
	HighAccuracy bool
	// Timeout aborts a single fix attempt.
	Timeout time.Duration
	// MaxAge is the staleness ceiling; older samples count as unavailable.
	MaxAge time.Duration
	// Interval between watch fixes after the first one.
	Interval time.Duration
}

func (c TrackingConfig) withDefaults() TrackingConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Availability is delivered to subscribers after every fix attempt.
type Availability struct {
	Available bool
	Sample    Sample
	Err       error
	At        time.Time
}

// Sampler keeps the latest fix of one tracking session.
type Sampler struct {
	src Source
	now func() time.Time

	mu      sync.RWMutex
	cfg     TrackingConfig
	latest  *Sample
	subs    map[int]chan Availability
	nextSub int
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSampler creates a sampler reading from src. A nil clock means time.Now.
func NewSampler(src Source, now func() time.Time) *Sampler {
	if now == nil {
		now = time.Now
	}
	return &Sampler{src: src, now: now, subs: make(map[int]chan Availability)}
}

// Start takes one immediate fix and then keeps watching at cfg.Interval until Stop
// is called or ctx is cancelled.
func (s *Sampler) Start(ctx context.Context, cfg TrackingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyTracking
	}
	s.cfg = cfg.withDefaults()
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.watch(ctx, s.cfg, s.done)
	return nil
}

func (s *Sampler) watch(ctx context.Context, cfg TrackingConfig, done chan struct{}) {
	defer close(done)

	s.sample(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx, cfg)
		}
	}
}

func (s *Sampler) sample(ctx context.Context, cfg TrackingConfig) {
	fixCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	fix, err := s.src.Fix(fixCtx, cfg.HighAccuracy)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = fix.Validate()
		if err != nil {
			err = errors.Join(ErrPositionUnavailable, err)
		}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		s.notify(Availability{Err: err, At: s.now()})
		return
	}
	// fixes are ordered by arrival; a device clock running ahead is clamped so the
	// MaxAge ceiling still applies
	if now := s.now(); fix.CapturedAt.IsZero() || fix.CapturedAt.After(now) {
		fix.CapturedAt = now
	}

	s.mu.Lock()
	s.latest = &fix
	s.mu.Unlock()

	s.notify(Availability{Available: true, Sample: fix, At: s.now()})
}

// Current returns the latest sample, or false when none is known or it is older
// than the configured MaxAge.
func (s *Sampler) Current() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Sample{}, false
	}
	if s.cfg.MaxAge > 0 && s.now().Sub(s.latest.CapturedAt) > s.cfg.MaxAge {
		return Sample{}, false
	}
	return *s.latest, true
}

// Subscribe registers for availability changes. Slow subscribers miss events rather
// than block sampling. The returned func unsubscribes.
func (s *Sampler) Subscribe(buffer int) (<-chan Availability, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Availability, buffer)
	if s.stopped {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Sampler) notify(a Availability) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- a:
		default:
		}
	}
}

// Stop ends tracking and releases the source. It is safe to call more than once.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	_ = s.src.Close()

	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
}
