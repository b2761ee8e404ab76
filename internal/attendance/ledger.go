package attendance

import (
	"context"
	"sort"
	"sync"
)

// DecideFunc inspects the current record for a key (nil when none) and returns the
// record to write, or a rejection reason to leave storage untouched.
type DecideFunc func(existing *Record) (Record, Reason)

// Ledger owns the canonical attendance records.
//
// Upsert runs decide and the resulting write atomically for one key: concurrent
// callers for the same key are serialized, so two "no record yet" reads can never
// both insert. On rejection it returns the existing record (possibly nil) with the
// reason. Storage failures are returned as *UnavailableError.
type Ledger interface {
	Upsert(ctx context.Context, key Key, decide DecideFunc) (*Record, Reason, error)
	Get(ctx context.Context, key Key) (*Record, error)
	ListForSubjectAndDay(ctx context.Context, subjectCode, day string) ([]Record, error)
}

// MemoryLedger is an in-process Ledger with per-key locking.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[Key]Record

	lockMu sync.Mutex
	locks  map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[Key]Record), locks: make(map[Key]*keyLock)}
}

func (l *MemoryLedger) lock(key Key) func() {
	l.lockMu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.lockMu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.lockMu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.lockMu.Unlock()
	}
}

func (l *MemoryLedger) Upsert(ctx context.Context, key Key, decide DecideFunc) (*Record, Reason, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", unavailable("upsert", err)
	}
	unlock := l.lock(key)
	defer unlock()

	existing, _ := l.Get(ctx, key)
	rec, reason := decide(existing)
	if reason != "" {
		return existing, reason, nil
	}

	l.mu.Lock()
	l.records[key] = rec
	l.mu.Unlock()
	return &rec, "", nil
}

func (l *MemoryLedger) Get(_ context.Context, key Key) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *MemoryLedger) ListForSubjectAndDay(_ context.Context, subjectCode, day string) ([]Record, error) {
	l.mu.RLock()
	var out []Record
	for k, rec := range l.records {
		if k.SubjectCode == subjectCode && k.Day == day {
			out = append(out, rec)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// Len returns the number of stored records.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
