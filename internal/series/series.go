// Package series provides a capacity-bounded, timestamp-ordered candle
// container for one timeframe. Storage is a preallocated circular buffer:
// append and revise-latest are O(1), out-of-order backfill is a sorted
// insert. When the series exceeds capacity the single oldest candle is
// evicted (FIFO by timestamp, not by insertion order).
package series

import (
	"sort"

	"chartcore/internal/model"
)

const defaultCapacity = 1000

// Series is a bounded candle history, sorted ascending by unique timestamp.
// Not goroutine-safe: the owning store serializes all access.
type Series struct {
	buf   []model.Candle
	cap   int
	head  int // physical index of the oldest candle
	count int
}

// New creates a series with the given capacity.
func New(capacity int) *Series {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Series{
		buf: make([]model.Candle, capacity),
		cap: capacity,
	}
}

// phys converts a logical index (0 = oldest) to a physical buffer index.
func (s *Series) phys(logical int) int {
	return (s.head + logical) % s.cap
}

// Add inserts or revises a candle and reports whether the series evicted its
// oldest entry to stay within capacity.
//
// A timestamp equal to the latest candle's replaces it in place (the
// revise-the-forming-bar path). A newer timestamp appends. An older
// timestamp is backfill: sorted insert, replacing any existing candle with
// the same timestamp.
func (s *Series) Add(c model.Candle) (evicted bool) {
	if s.count == 0 {
		s.buf[s.head] = c
		s.count = 1
		return false
	}

	last := &s.buf[s.phys(s.count-1)]
	switch {
	case c.TS == last.TS:
		*last = c
		return false

	case c.TS > last.TS:
		if s.count == s.cap {
			// Full: the slot of the oldest candle becomes the newest.
			s.buf[s.head] = c
			s.head = (s.head + 1) % s.cap
			return true
		}
		s.buf[s.phys(s.count)] = c
		s.count++
		return false
	}

	return s.insertSorted(c)
}

// insertSorted places an out-of-order candle at its timestamp position.
func (s *Series) insertSorted(c model.Candle) bool {
	pos := sort.Search(s.count, func(i int) bool {
		return s.buf[s.phys(i)].TS >= c.TS
	})

	if pos < s.count && s.buf[s.phys(pos)].TS == c.TS {
		s.buf[s.phys(pos)] = c
		return false
	}

	if s.count == s.cap {
		if pos == 0 {
			// The candle would become the oldest entry and be evicted
			// immediately; inserting it is a no-op.
			return false
		}
		// Evict the oldest: shift everything before pos left by one slot.
		for i := 0; i < pos-1; i++ {
			s.buf[s.phys(i)] = s.buf[s.phys(i+1)]
		}
		s.buf[s.phys(pos-1)] = c
		return true
	}

	for i := s.count; i > pos; i-- {
		s.buf[s.phys(i)] = s.buf[s.phys(i-1)]
	}
	s.buf[s.phys(pos)] = c
	s.count++
	return false
}

// Latest returns a copy of the most recent candle.
func (s *Series) Latest() (model.Candle, bool) {
	if s.count == 0 {
		return model.Candle{}, false
	}
	return s.buf[s.phys(s.count-1)], true
}

// LatestRef returns a mutable reference to the most recent candle, used by
// the aggregation hot path to merge forming-bucket updates in place.
// Returns nil when empty.
func (s *Series) LatestRef() *model.Candle {
	if s.count == 0 {
		return nil
	}
	return &s.buf[s.phys(s.count-1)]
}

// At returns a copy of the candle at logical index i (0 = oldest).
func (s *Series) At(i int) (model.Candle, bool) {
	if i < 0 || i >= s.count {
		return model.Candle{}, false
	}
	return s.buf[s.phys(i)], true
}

// Find returns a mutable reference to the candle with the given timestamp,
// or nil. Used for merging backfill into an already-closed bucket.
func (s *Series) Find(ts int64) *model.Candle {
	pos := sort.Search(s.count, func(i int) bool {
		return s.buf[s.phys(i)].TS >= ts
	})
	if pos < s.count && s.buf[s.phys(pos)].TS == ts {
		return &s.buf[s.phys(pos)]
	}
	return nil
}

// Candles returns an immutable snapshot of the whole history, oldest first.
func (s *Series) Candles() []model.Candle {
	out := make([]model.Candle, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.buf[s.phys(i)]
	}
	return out
}

// Count returns the number of candles held.
func (s *Series) Count() int { return s.count }

// Capacity returns the configured maximum size.
func (s *Series) Capacity() int { return s.cap }

// Full reports whether the series is at capacity.
func (s *Series) Full() bool { return s.count == s.cap }

// PriceRange returns (min low, max high) across all held candles.
func (s *Series) PriceRange() (low, high float64, ok bool) {
	if s.count == 0 {
		return 0, 0, false
	}
	first := s.buf[s.head]
	low, high = first.Low, first.High
	for i := 1; i < s.count; i++ {
		c := &s.buf[s.phys(i)]
		if c.Low < low {
			low = c.Low
		}
		if c.High > high {
			high = c.High
		}
	}
	return low, high, true
}

// TimeBounds returns the first and last timestamps.
func (s *Series) TimeBounds() (first, last int64, ok bool) {
	if s.count == 0 {
		return 0, 0, false
	}
	return s.buf[s.head].TS, s.buf[s.phys(s.count-1)].TS, true
}

// Reset empties the series without releasing its buffer.
func (s *Series) Reset() {
	s.head = 0
	s.count = 0
}
