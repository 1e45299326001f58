package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock() (*time.Time, func() time.Time) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	return &now, func() time.Time { return now }
}

func TestMeterRateAndETA(t *testing.T) {
	now, clock := fixedClock()
	m := NewMeterWithNow(clock)
	m.Start(2000)

	*now = now.Add(1 * time.Second)
	m.Add(1000)

	stats := m.Snapshot()
	assert.Equal(t, int64(1000), stats.BytesDone)
	assert.InDelta(t, 1000, stats.RateBps, 100)
	assert.InDelta(t, float64(time.Second), float64(stats.ETA), float64(100*time.Millisecond))
	assert.InDelta(t, 50, stats.Percent, 0.001)
}

func TestMeterEWMASmoothing(t *testing.T) {
	now, clock := fixedClock()
	m := NewMeterWithNow(clock)
	m.Start(10000)

	*now = now.Add(1 * time.Second)
	m.Add(1000)

	*now = now.Add(1 * time.Second)
	m.Add(3000)

	assert.InDelta(t, 1400, m.Snapshot().RateBps, 100)
}

func TestMeterNoRateNoETA(t *testing.T) {
	_, clock := fixedClock()
	m := NewMeterWithNow(clock)
	m.Start(1000)

	stats := m.Snapshot()
	assert.Zero(t, stats.RateBps)
	assert.Zero(t, stats.ETA)
}

func TestMeterAdvanceKeepsRate(t *testing.T) {
	now, clock := fixedClock()
	m := NewMeterWithNow(clock)
	m.Start(10000)

	m.Advance(5000)
	*now = now.Add(1 * time.Second)
	m.Add(1000)

	stats := m.Snapshot()
	assert.Equal(t, int64(6000), stats.BytesDone)
	assert.InDelta(t, 1000, stats.RateBps, 1)
}
