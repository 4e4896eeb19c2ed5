package blacklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectsentinel/sentineld/internal/domain"
)

func vec(v ...float64) domain.Embedding {
	return domain.NewEmbedding(append([]float64(nil), v...))
}

func TestQuarantineThenPreMatchHits(t *testing.T) {
	m := NewManager(Config{QuarantineDir: t.TempDir(), MatchThreshold: 0.1})
	entry, err := m.Quarantine(vec(1, 0, 0), []byte("jpegbytes"))
	require.NoError(t, err)

	id, dist, hit := m.PreMatch(vec(1, 0, 0))
	assert.True(t, hit)
	assert.Equal(t, entry.ID, id)
	assert.InDelta(t, 0, dist, 1e-9)

	m.RecordHit(id)
	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].HitCount)
}

func TestPreMatchMissAboveThreshold(t *testing.T) {
	m := NewManager(Config{QuarantineDir: t.TempDir(), MatchThreshold: 0.01})
	_, err := m.Quarantine(vec(1, 0, 0), nil)
	require.NoError(t, err)

	_, _, hit := m.PreMatch(vec(0, 1, 0))
	assert.False(t, hit)
}

func TestConfirmAndListIntrusion(t *testing.T) {
	m := NewManager(Config{QuarantineDir: t.TempDir(), MatchThreshold: 0.1})
	entry, err := m.Quarantine(vec(1, 0, 0), nil)
	require.NoError(t, err)

	require.NoError(t, m.ConfirmIntrusion(entry.ID))
	list := m.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Confirmed)
}

func TestDeleteIntrusionRemovesFromIndex(t *testing.T) {
	m := NewManager(Config{QuarantineDir: t.TempDir(), MatchThreshold: 0.1})
	entry, err := m.Quarantine(vec(1, 0, 0), nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteIntrusion(entry.ID))
	assert.Empty(t, m.List())
}

func TestLoadRehydratesFromDisk(t *testing.T) {
	dir := t.TempDir()
	m1 := NewManager(Config{QuarantineDir: dir, MatchThreshold: 0.1})
	entry, err := m1.Quarantine(vec(0, 1, 0), nil)
	require.NoError(t, err)

	m2 := NewManager(Config{QuarantineDir: dir, MatchThreshold: 0.1})
	require.NoError(t, m2.Load())

	id, _, hit := m2.PreMatch(vec(0, 1, 0))
	assert.True(t, hit)
	assert.Equal(t, entry.ID, id)
}
