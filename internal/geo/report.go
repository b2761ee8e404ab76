package geo

import (
	"context"
	"sync"
)

// ErrorFromCode maps a browser geolocation error code to a sampler error.
func ErrorFromCode(code int) error {
	switch code {
	case 1:
		return ErrPermissionDenied
	case 3:
		return ErrTimeout
	default:
		return ErrPositionUnavailable
	}
}

// ReportSource is a Source fed by fixes the client pushes to the server.
// A high-accuracy Fix waits for a push newer than the last one served; otherwise the
// last known push is returned immediately.
type ReportSource struct {
	mu      sync.Mutex
	latest  Sample
	seq     uint64
	served  uint64
	pending error
	wake    chan struct{}
	closed  bool
}

// NewReportSource returns an empty push-fed source.
func NewReportSource() *ReportSource {
	return &ReportSource{wake: make(chan struct{})}
}

// Push records a new fix reported by the client.
func (r *ReportSource) Push(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.latest = s
	r.seq++
	r.pending = nil
	r.signal()
}

// Fail records a client-side sensor failure; the next Fix returns it.
func (r *ReportSource) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending = err
	r.signal()
}

func (r *ReportSource) signal() {
	close(r.wake)
	r.wake = make(chan struct{})
}

func (r *ReportSource) Fix(ctx context.Context, highAccuracy bool) (Sample, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return Sample{}, ErrPositionUnavailable
		}
		if err := r.pending; err != nil {
			r.pending = nil
			r.mu.Unlock()
			return Sample{}, err
		}
		if r.seq > r.served || (!highAccuracy && r.seq > 0) {
			r.served = r.seq
			s := r.latest
			r.mu.Unlock()
			return s, nil
		}
		wake := r.wake
		r.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
}

func (r *ReportSource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.signal()
	}
	return nil
}
