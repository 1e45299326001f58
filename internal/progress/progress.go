// Package progress accounts bytes hashed and sent for one file and reports
// them to an observer. It never writes to the console itself.
package progress

import (
	"sync"
	"time"
)

// Phase identifies which pass over the file the stats belong to
type Phase int

const (
	PhaseHashing Phase = iota
	PhaseUploading
)

func (p Phase) String() string {
	if p == PhaseHashing {
		return "Hashing"
	}
	return "Uploading"
}

// Observer receives progress snapshots. Calls for one tracker are
// serialized and BytesDone never decreases between them.
type Observer interface {
	Update(phase Phase, s Stats)
	Finish(phase Phase, s Stats)
}

// Nop discards all progress
type Nop struct{}

func (Nop) Update(Phase, Stats) {}
func (Nop) Finish(Phase, Stats) {}

// Tracker aggregates bytes sent by concurrent chunk uploads into one
// monotonic total. Each chunk is credited with the most bytes any single
// attempt has sent for it, capped at the chunk length, so retries and
// rewound request bodies never count twice.
type Tracker struct {
	mu       sync.Mutex
	phase    Phase
	meter    *Meter
	observer Observer
	chunkLen func(index int) int64
	credit   map[int]int64
	attempt  map[int]int64
}

// NewTracker returns a tracker over total bytes. chunkLen reports the length
// of a chunk; observer may be nil.
func NewTracker(phase Phase, total int64, chunkLen func(index int) int64, observer Observer, now func() time.Time) *Tracker {
	if observer == nil {
		observer = Nop{}
	}
	meter := NewMeterWithNow(now)
	meter.Start(total)
	return &Tracker{
		phase:    phase,
		meter:    meter,
		observer: observer,
		chunkLen: chunkLen,
		credit:   make(map[int]int64),
		attempt:  make(map[int]int64),
	}
}

// Done credits a chunk completed before this run without affecting the rate
func (t *Tracker) Done(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.chunkLen(index) - t.credit[index]
	if n <= 0 {
		return
	}
	t.credit[index] += n
	t.meter.Advance(n)
}

// StartAttempt resets the per-attempt counter of a chunk
func (t *Tracker) StartAttempt(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt[index] = 0
}

// Sent records n more bytes sent by the current attempt of a chunk
func (t *Tracker) Sent(index int, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt[index] += int64(n)
	t.raise(index, t.attempt[index])
}

// Complete credits the full length of an accepted chunk
func (t *Tracker) Complete(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempt, index)
	t.raise(index, t.chunkLen(index))
}

func (t *Tracker) raise(index int, sent int64) {
	sent = min(sent, t.chunkLen(index))
	delta := sent - t.credit[index]
	if delta <= 0 {
		return
	}
	t.credit[index] = sent
	t.meter.Add(delta)
	t.observer.Update(t.phase, t.meter.Snapshot())
}

// Snapshot returns the current stats
func (t *Tracker) Snapshot() Stats {
	return t.meter.Snapshot()
}

// Finish reports the final stats to the observer
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer.Finish(t.phase, t.meter.Snapshot())
}

// Reader reports cumulative progress of a single sequential pass, such as
// hashing, to an observer.
type Reader struct {
	mu       sync.Mutex
	phase    Phase
	meter    *Meter
	observer Observer
	last     int64
}

// NewReader returns a sequential progress reporter over total bytes
func NewReader(phase Phase, total int64, observer Observer, now func() time.Time) *Reader {
	if observer == nil {
		observer = Nop{}
	}
	meter := NewMeterWithNow(now)
	meter.Start(total)
	return &Reader{phase: phase, meter: meter, observer: observer}
}

// Progress records the cumulative byte count; smaller values are ignored
func (r *Reader) Progress(cumulative int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cumulative <= r.last {
		return
	}
	r.meter.Add(cumulative - r.last)
	r.last = cumulative
	r.observer.Update(r.phase, r.meter.Snapshot())
}

// Finish reports the final stats to the observer
func (r *Reader) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer.Finish(r.phase, r.meter.Snapshot())
}
