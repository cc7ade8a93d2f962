package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAndGet(t *testing.T) {
	m := New()
	assert.Equal(t, 42.0, m.Get("temp", 42))
	m.Update("temp", 80)
	assert.Equal(t, 80.0, m.Get("temp", 42))
}

func TestUpdateAllAndCurrentIsDefensiveCopy(t *testing.T) {
	m := New()
	m.UpdateAll(map[string]float64{"a": 1, "b": 2})
	cur := m.Current()
	cur["a"] = 999
	assert.Equal(t, 1.0, m.Get("a", 0))
}

func TestSnapshotAssignsIncreasingSeq(t *testing.T) {
	m := New()
	m.Update("a", 1)
	seq0 := m.Snapshot()
	m.Update("a", 2)
	seq1 := m.Snapshot()
	assert.Equal(t, int64(0), seq0)
	assert.Equal(t, int64(1), seq1)
}

func TestHistoryReturnsOldestFirst(t *testing.T) {
	m := New()
	for i := 1; i <= 5; i++ {
		m.Update("a", float64(i))
		m.Snapshot()
	}
	h := m.History("a", 3)
	require.Len(t, h, 3)
	assert.Equal(t, []float64{3, 4, 5}, h)
}

func TestHistoryCapsAtCapacity(t *testing.T) {
	m := New()
	for i := 0; i < historyCapacity+20; i++ {
		m.Update("a", float64(i))
		m.Snapshot()
	}
	h := m.History("a", historyCapacity+20)
	assert.Len(t, h, historyCapacity)
	assert.Equal(t, float64(historyCapacity+19), h[len(h)-1])
}

func TestHistorySkipsUnsetStates(t *testing.T) {
	m := New()
	m.Update("a", 1)
	m.Snapshot()
	m.Update("b", 2)
	m.Snapshot()
	h := m.History("b", 5)
	assert.Equal(t, []float64{2}, h)
}

func TestHistoryEmptyWhenNeverSnapshotted(t *testing.T) {
	m := New()
	assert.Nil(t, m.History("a", 5))
}

func TestJitter(t *testing.T) {
	assert.Equal(t, 0.0, Jitter(nil))
	assert.Equal(t, 0.0, Jitter([]float64{1}))
	assert.InDelta(t, 0, Jitter([]float64{5, 5, 5}), 1e-9)
	assert.Greater(t, Jitter([]float64{1, 10, 1, 10}), 0.0)
}

func TestTrend(t *testing.T) {
	assert.Equal(t, 0.0, Trend(nil))
	assert.InDelta(t, 1, Trend([]float64{1, 2, 3, 4}), 1e-9)
	assert.InDelta(t, -1, Trend([]float64{4, 3, 2, 1}), 1e-9)
	assert.InDelta(t, 0, Trend([]float64{5, 5, 5}), 1e-9)
}

func TestNormalizeDefaultRange(t *testing.T) {
	m := New()
	assert.InDelta(t, 0.5, m.Normalize("temp", 50), 1e-9)
	assert.Equal(t, 0.0, m.Normalize("temp", -10))
	assert.Equal(t, 1.0, m.Normalize("temp", 200))
}

func TestNormalizeWithMetadata(t *testing.T) {
	m := New()
	min, max := 0.0, 10.0
	m.SetMetadata("speed", Metadata{Min: &min, Max: &max})
	assert.InDelta(t, 0.5, m.Normalize("speed", 5), 1e-9)
}

func TestNormalizeDegenerateRange(t *testing.T) {
	m := New()
	min, max := 10.0, 10.0
	m.SetMetadata("x", Metadata{Min: &min, Max: &max})
	assert.Equal(t, 0.5, m.Normalize("x", 10))
}
