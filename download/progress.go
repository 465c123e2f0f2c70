// Package download implements the segment worker pool and the muxer-driven
// assembly of decrypted parts into the final episode file.
package download

import (
	"sync"
	"sync/atomic"
	"time"
)

// speedWindow bounds the sample history used for instantaneous speed.
const speedWindow = 5 * time.Second

// Snapshot is one progress observation. Done and Total count segments — the
// engine's unit for a whole job — while SpeedBPS measures decrypted bytes
// per second.
type Snapshot struct {
	Done     int64
	Total    int64
	SpeedBPS int64
	Elapsed  time.Duration
}

// Tracker accumulates monotonic progress from concurrent segment workers and
// derives instantaneous speed from a sliding window of completion samples.
type Tracker struct {
	start time.Time
	done  atomic.Int64
	total atomic.Int64

	mu      sync.Mutex
	samples []sample
}

type sample struct {
	at    time.Time
	bytes int64
}

// NewTracker starts a tracker expecting the given number of segments.
func NewTracker(total int64) *Tracker {
	t := &Tracker{start: time.Now()}
	t.total.Store(total)
	return t
}

// CompleteSegment records one finished segment of the given decrypted size.
// The done counter only ever grows.
func (t *Tracker) CompleteSegment(bytes int64) {
	t.done.Add(1)

	t.mu.Lock()
	t.samples = append(t.samples, sample{at: time.Now(), bytes: bytes})
	t.mu.Unlock()
}

// Snapshot reports current progress. Speed is the windowed byte rate.
func (t *Tracker) Snapshot() Snapshot {
	now := time.Now()
	cutoff := now.Add(-speedWindow)

	t.mu.Lock()
	trimmed := t.samples[:0]
	var windowed int64
	for _, s := range t.samples {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
			windowed += s.bytes
		}
	}
	t.samples = trimmed
	var oldest time.Time
	if len(trimmed) > 0 {
		oldest = trimmed[0].at
	}
	t.mu.Unlock()

	var speed int64
	if !oldest.IsZero() {
		span := now.Sub(oldest)
		if span < time.Second {
			span = time.Second
		}
		speed = int64(float64(windowed) / span.Seconds())
	}

	return Snapshot{
		Done:     t.done.Load(),
		Total:    t.total.Load(),
		SpeedBPS: speed,
		Elapsed:  now.Sub(t.start),
	}
}
