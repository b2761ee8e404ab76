package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAccounts(t *testing.T) {
	a := NewMemoryAccounts()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	ok, err := a.ActorExists(ctx, AuthorityStudent, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = a.ActorExists(ctx, AuthorityTeacher, "")
	assert.False(t, ok)
	ok, _ = a.ActorExists(ctx, Authority("admin"), "x")
	assert.False(t, ok)

	require.NoError(t, a.SaveRefreshToken(ctx, "s1", AuthorityStudent, "live", now.Add(time.Hour)))
	require.NoError(t, a.SaveRefreshToken(ctx, "s1", AuthorityStudent, "old", now.Add(-time.Minute)))

	ok, err = a.ConsumeRefreshToken(ctx, "live", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = a.ConsumeRefreshToken(ctx, "live", now)
	assert.False(t, ok)
	ok, _ = a.ConsumeRefreshToken(ctx, "missing", now)
	assert.False(t, ok)

	n, err := a.PurgeRefreshTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ok, _ = a.ConsumeRefreshToken(ctx, "old", now)
	assert.False(t, ok)
}
