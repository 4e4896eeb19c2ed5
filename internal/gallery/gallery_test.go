package gallery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectsentinel/sentineld/internal/domain"
)

func vec(v ...float64) domain.Embedding {
	return domain.NewEmbedding(append([]float64(nil), v...))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(Config{StateDir: t.TempDir(), MinEnrolled: 1, MaxAdaptive: 5, MaxAge: 45 * 24 * time.Hour})

	g := domain.Gallery{
		User:      "alice",
		Enrolled:  []domain.Embedding{vec(1, 0, 0), vec(0, 1, 0)},
		CreatedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.Save(g))

	got, ok, err := store.Load("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Enrolled, 2)
	assert.WithinDuration(t, g.CreatedAt, got.CreatedAt, time.Second)
}

func TestLoadMissingIsUnenrolled(t *testing.T) {
	store := NewStore(Config{StateDir: t.TempDir(), MinEnrolled: 1})
	_, ok, err := store.Load("nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendAdaptiveEvictsFIFO(t *testing.T) {
	store := NewStore(Config{StateDir: t.TempDir(), MaxAdaptive: 2})
	g := &domain.Gallery{User: "bob"}
	store.AppendAdaptive(g, vec(1, 0))
	store.AppendAdaptive(g, vec(0, 1))
	store.AppendAdaptive(g, vec(1, 1))

	require.Len(t, g.Adaptive, 2)
	assert.Equal(t, vec(0, 1).Vector, g.Adaptive[0].Vector)
	assert.Equal(t, vec(1, 1).Vector, g.Adaptive[1].Vector)
}

func TestMatchPicksClosestUser(t *testing.T) {
	store := NewStore(Config{StateDir: t.TempDir(), MinEnrolled: 1, MaxAge: 45 * 24 * time.Hour})

	require.NoError(t, store.Save(domain.Gallery{
		User: "alice", Enrolled: []domain.Embedding{vec(1, 0, 0)}, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Save(domain.Gallery{
		User: "bob", Enrolled: []domain.Embedding{vec(0, 1, 0)}, CreatedAt: time.Now(),
	}))

	probe := vec(0.99, 0.05, 0)
	result, ok, err := store.Match(probe, []string{"alice", "bob"}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", result.User)
}

func TestMatchSkipsUnusableGallery(t *testing.T) {
	store := NewStore(Config{StateDir: t.TempDir(), MinEnrolled: 5, MaxAge: 45 * 24 * time.Hour})
	require.NoError(t, store.Save(domain.Gallery{
		User: "alice", Enrolled: []domain.Embedding{vec(1, 0, 0)}, CreatedAt: time.Now(),
	}))

	_, ok, err := store.Match(vec(1, 0, 0), []string{"alice"}, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchSkipsExpiredGallery(t *testing.T) {
	store := NewStore(Config{StateDir: t.TempDir(), MinEnrolled: 1, MaxAge: 45 * 24 * time.Hour})
	now := time.Now()
	require.NoError(t, store.Save(domain.Gallery{
		User: "alice", Enrolled: []domain.Embedding{vec(1, 0, 0)}, CreatedAt: now.Add(-100 * 24 * time.Hour),
	}))

	_, ok, err := store.Match(vec(1, 0, 0), []string{"alice"}, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiryBoundary(t *testing.T) {
	store := NewStore(Config{MaxAge: 45 * 24 * time.Hour})
	now := time.Now()
	g := domain.Gallery{CreatedAt: now.Add(-45 * 24 * time.Hour)}
	assert.False(t, store.Expired(g, now))

	g2 := domain.Gallery{CreatedAt: now.Add(-45*24*time.Hour - time.Second)}
	assert.True(t, store.Expired(g2, now))
}

func TestListUsers(t *testing.T) {
	store := NewStore(Config{StateDir: t.TempDir(), MinEnrolled: 1})
	require.NoError(t, store.Save(domain.Gallery{User: "alice", Enrolled: []domain.Embedding{vec(1, 0)}, CreatedAt: time.Now()}))
	require.NoError(t, store.Save(domain.Gallery{User: "bob", Enrolled: []domain.Embedding{vec(0, 1)}, CreatedAt: time.Now()}))

	users, err := store.ListUsers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}

func TestEnrolledUsersExcludesExpired(t *testing.T) {
	store := NewStore(Config{StateDir: t.TempDir(), MinEnrolled: 1, MaxAge: 45 * 24 * time.Hour})
	now := time.Now()
	require.NoError(t, store.Save(domain.Gallery{User: "alice", Enrolled: []domain.Embedding{vec(1, 0)}, CreatedAt: now}))
	require.NoError(t, store.Save(domain.Gallery{User: "bob", Enrolled: []domain.Embedding{vec(0, 1)}, CreatedAt: now.Add(-100 * 24 * time.Hour)}))

	users, err := store.EnrolledUsers(now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice"}, users)
}
