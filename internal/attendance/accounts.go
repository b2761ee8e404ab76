package attendance

import (
	"context"
	"sync"
	"time"
)

// MemoryAccounts serves token issuance when no roster database is configured.
// Every non-empty actor id of a known role is accepted.
type MemoryAccounts struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewMemoryAccounts returns an open in-process account store.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{tokens: make(map[string]time.Time)}
}

func (a *MemoryAccounts) ActorExists(_ context.Context, role Authority, id string) (bool, error) {
	return id != "" && (role == AuthorityStudent || role == AuthorityTeacher), nil
}

// SaveRefreshToken remembers token until it is consumed or expires.
func (a *MemoryAccounts) SaveRefreshToken(_ context.Context, _ string, _ Authority, token string, expiresAt time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = expiresAt
	return nil
}

// ConsumeRefreshToken forgets an active token and reports whether it was active.
func (a *MemoryAccounts) ConsumeRefreshToken(_ context.Context, token string, now time.Time) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	exp, ok := a.tokens[token]
	if !ok {
		return false, nil
	}
	delete(a.tokens, token)
	return exp.After(now), nil
}

// PurgeRefreshTokens drops expired tokens.
func (a *MemoryAccounts) PurgeRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for tok, exp := range a.tokens {
		if !exp.After(now) {
			delete(a.tokens, tok)
			n++
		}
	}
	return n, nil
}
