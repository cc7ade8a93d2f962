// Package state implements the current-value store, bounded history ring
// and derived statistics (jitter, trend, normalization) described in
// §4.3. It generalizes the teacher's "current vs. desired snapshot" shape
// (schema.Generator held a pair of static slices) to a single live,
// bounded time series per named state.
package state

import (
	"math"
)

const historyCapacity = 100

// Snapshot is one recorded instant: a timestamp (as a monotonic tick
// counter, not a wall-clock time — the engine is the only caller that
// cares about wall-clock, and it stamps TickResult separately) and a copy
// of every state's value at that instant.
type Snapshot struct {
	Seq    int64
	Values map[string]float64
}

// Metadata holds per-state bounds/unit hints used by Normalize.
type Metadata struct {
	Min  *float64
	Max  *float64
	Unit string
}

// Manager holds the live value of every declared state, a bounded ring of
// past snapshots, and per-state normalization metadata.
type Manager struct {
	current  map[string]float64
	metadata map[string]Metadata
	history  []Snapshot
	head     int
	size     int
	nextSeq  int64
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		current:  make(map[string]float64),
		metadata: make(map[string]Metadata),
		history:  make([]Snapshot, historyCapacity),
	}
}

// SetMetadata records bounds/unit hints for name, consulted by Normalize.
func (m *Manager) SetMetadata(name string, md Metadata) {
	m.metadata[name] = md
}

// Update records a single state's latest sample.
func (m *Manager) Update(name string, v float64) {
	m.current[name] = v
}

// UpdateAll records multiple states' latest samples at once.
func (m *Manager) UpdateAll(values map[string]float64) {
	for k, v := range values {
		m.current[k] = v
	}
}

// Get returns name's latest sample, or def if it has never been set.
func (m *Manager) Get(name string, def float64) float64 {
	if v, ok := m.current[name]; ok {
		return v
	}
	return def
}

// Current returns a defensive copy of every state's latest sample.
func (m *Manager) Current() map[string]float64 {
	out := make(map[string]float64, len(m.current))
	for k, v := range m.current {
		out[k] = v
	}
	return out
}

// Snapshot copies the current values into history, evicting the oldest
// entry once the ring is full, and returns the sequence number assigned to
// this snapshot.
func (m *Manager) Snapshot() int64 {
	seq := m.nextSeq
	m.nextSeq++

	snap := Snapshot{Seq: seq, Values: m.Current()}
	m.history[m.head] = snap
	m.head = (m.head + 1) % historyCapacity
	if m.size < historyCapacity {
		m.size++
	}
	return seq
}

// History returns up to the last n snapshots of name's value, oldest
// first. Snapshots where name was never recorded are skipped.
func (m *Manager) History(name string, n int) []float64 {
	if n <= 0 || m.size == 0 {
		return nil
	}
	if n > m.size {
		n = m.size
	}

	out := make([]float64, 0, n)
	// Walk backward from the most recent entry, collecting up to n
	// samples, then reverse into chronological order.
	idx := (m.head - 1 + historyCapacity) % historyCapacity
	collected := 0
	for i := 0; i < m.size && collected < n; i++ {
		snap := m.history[idx]
		if v, ok := snap.Values[name]; ok {
			out = append(out, v)
			collected++
		}
		idx = (idx - 1 + historyCapacity) % historyCapacity
	}
	// out is newest-first; reverse to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Jitter returns the (population) standard deviation of samples.
// Returns 0 for fewer than two samples.
func Jitter(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range samples {
		mean += v
	}
	mean /= float64(len(samples))

	variance := 0.0
	for _, v := range samples {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	return math.Sqrt(variance)
}

// Trend returns the slope of the least-squares line fit to samples,
// treating their index as x. Returns 0 if fewer than two samples or if the
// x-variance is zero (which cannot happen for len>=2 integer indices, but
// is guarded for robustness against degenerate callers).
func Trend(samples []float64) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range samples {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (nf*sumXY - sumX*sumY) / denom
}

// Normalize maps v into [0,1] using the metadata registered for name
// (defaults min=0, max=100). The output is clamped to [0,1]; a degenerate
// range (min >= max) returns 0.5.
func (m *Manager) Normalize(name string, v float64) float64 {
	min, max := 0.0, 100.0
	if md, ok := m.metadata[name]; ok {
		if md.Min != nil {
			min = *md.Min
		}
		if md.Max != nil {
			max = *md.Max
		}
	}
	if min >= max {
		return 0.5
	}
	n := (v - min) / (max - min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
