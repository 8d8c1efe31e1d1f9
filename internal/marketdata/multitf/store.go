// Package multitf maintains bounded candle histories and incremental
// indicator state across multiple timeframes derived from one
// base-resolution stream.
//
// Every incoming base candle is routed through a small per-timeframe state
// machine: no bucket open → bucket open (forming) → bucket closed. A candle
// whose bucket is newer than the lane's latest opens a new bucket and
// commits its close; a candle in the current bucket merges in place and
// revises the last commit; an older candle is backfill and touches the
// series only. This keeps the "exactly one commit slot per bar" invariant
// auditable in one place.
package multitf

import (
	"sort"
	"sync"

	"chartcore/internal/indicator"
	"chartcore/internal/marketdata/agg"
	"chartcore/internal/model"
	"chartcore/internal/series"
)

// lane is the per-timeframe state: one bounded series, one indicator
// engine, and the currently forming bucket.
//
// A base bar can itself be revised (the feed re-sends the forming bar with
// the same timestamp). To fold such revisions into a coarser bucket without
// double-counting volume, the lane keeps the bucket aggregate as it was
// before the latest base bar was merged; a revision rebuilds the bucket
// from that saved aggregate instead of merging on top.
type lane struct {
	tf     model.Timeframe
	series *series.Series
	engine *indicator.Engine

	baseTS     int64        // timestamp of the latest base bar in the forming bucket
	pending    model.Candle // bucket aggregate excluding that base bar
	hasPending bool         // false while the bucket holds a single base bar
}

// Config configures a Store.
type Config struct {
	Symbol   string
	Base     model.Timeframe   // resolution of the incoming stream
	Derived  []model.Timeframe // coarser timeframes to maintain
	Capacity int               // per-series candle capacity
	// Indicators selects the per-lane indicator set; nil = defaults
	// (SMA 20/50/200, EMA 12/26).
	Indicators []indicator.Config
}

// Store owns all per-timeframe state for one symbol and is the single
// entry point for the base-resolution stream. All mutations run under one
// coarse lock; readers receive point-in-time copies.
type Store struct {
	mu     sync.Mutex
	symbol string
	lanes  []*lane // lanes[0] is the base timeframe
	byTF   map[model.Timeframe]*lane

	// Hooks for the downstream pipeline (persistence, publication,
	// gateway). Called synchronously under the store lock; consumers must
	// hand off to channels rather than block. Suppressed during bulk load.
	OnFinalize   func(tf model.Timeframe, c model.Candle)
	OnForming    func(tf model.Timeframe, c model.Candle)
	OnIndicators func(results []model.IndicatorResult)
	OnEvict      func(tf model.Timeframe)
}

// New creates a Store. Derived timeframes equal to the base are ignored;
// duplicates collapse.
func New(cfg Config) *Store {
	s := &Store{
		symbol: cfg.Symbol,
		byTF:   make(map[model.Timeframe]*lane),
	}
	add := func(tf model.Timeframe) {
		if _, dup := s.byTF[tf]; dup {
			return
		}
		l := &lane{
			tf:     tf,
			series: series.New(cfg.Capacity),
			engine: indicator.NewEngine(cfg.Indicators),
		}
		s.lanes = append(s.lanes, l)
		s.byTF[tf] = l
	}
	add(cfg.Base)
	for _, tf := range cfg.Derived {
		add(tf)
	}
	return s
}

// Symbol returns the symbol this store tracks.
func (s *Store) Symbol() string { return s.symbol }

// Timeframes returns the maintained timeframes, base first.
func (s *Store) Timeframes() []model.Timeframe {
	tfs := make([]model.Timeframe, len(s.lanes))
	for i, l := range s.lanes {
		tfs[i] = l.tf
	}
	return tfs
}

// Apply routes one base-resolution candle through every lane. Lanes are
// independent: each lane's update completes fully before the next starts,
// so a misbehaving timeframe cannot corrupt another's state.
func (s *Store) Apply(c model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lanes {
		s.applyLane(l, c, false)
	}
}

// applyLane runs the bucket state machine for one lane.
func (s *Store) applyLane(l *lane, c model.Candle, quiet bool) {
	bucket := l.tf.BucketStart(c.TS)
	latest := l.series.LatestRef()

	switch {
	case latest == nil || latest.TS < bucket:
		// New bucket. The previous forming bucket, if any, is finalized
		// by this transition.
		if latest != nil && !quiet && s.OnFinalize != nil {
			s.OnFinalize(l.tf, *latest)
		}
		nc := agg.Single(c, l.tf)
		if l.series.Add(nc) {
			// Oldest evicted while full: the window advanced. With
			// commit-on-open every bucket's observation is already
			// committed, so eviction needs no extra finalize here;
			// it is surfaced for metrics only.
			if !quiet && s.OnEvict != nil {
				s.OnEvict(l.tf)
			}
		}
		l.baseTS = c.TS
		l.hasPending = false
		l.engine.Commit(nc.Close)
		if !quiet && s.OnIndicators != nil {
			s.OnIndicators(l.engine.Results(s.symbol, l.tf.String(), bucket, false))
		}

	case latest.TS == bucket:
		// Forming bucket.
		switch {
		case c.TS == l.baseTS:
			// Revision of the base bar already in the bucket: rebuild
			// from the aggregate saved before it was merged, so its old
			// contribution is replaced, not added to.
			if l.hasPending {
				cur := l.pending
				agg.Merge(&cur, c)
				*latest = cur
			} else {
				*latest = agg.Single(c, l.tf)
			}
		case c.TS > l.baseTS:
			// Next base bar of the same bucket.
			l.pending = *latest
			l.hasPending = true
			l.baseTS = c.TS
			agg.Merge(latest, c)
		default:
			// A base bar older than the bucket's newest: only the
			// extremes and volume can still be improved.
			mergeLate(latest, c)
			if l.hasPending {
				mergeLate(&l.pending, c)
			}
		}
		l.engine.Revise(latest.Close)
		if !quiet {
			if s.OnForming != nil {
				s.OnForming(l.tf, *latest)
			}
			if s.OnIndicators != nil {
				s.OnIndicators(l.engine.Results(s.symbol, l.tf.String(), bucket, true))
			}
		}

	default:
		// Backfill: the candle's bucket is older than the lane's newest.
		// The series absorbs it structurally; indicator state tracks the
		// forward logical stream only.
		if existing := l.series.Find(bucket); existing != nil {
			mergeLate(existing, c)
			return
		}
		if l.series.Add(agg.Single(c, l.tf)) && !quiet && s.OnEvict != nil {
			s.OnEvict(l.tf)
		}
	}
}

// mergeLate folds a late candle into an already-closed bucket. Open and
// close are owned by the bucket's in-order stream; only the extremes and
// volume can still be improved by late data.
func mergeLate(dst *model.Candle, src model.Candle) {
	if src.High > dst.High {
		dst.High = src.High
	}
	if src.Low < dst.Low {
		dst.Low = src.Low
	}
	dst.Volume += src.Volume
}

// SetHistoricalData resets every lane and replays the given candles, in
// timestamp order, through the same transition rule used for live ticks.
// Bulk-loaded state is therefore indistinguishable from having received
// the same candles live. Pipeline hooks are suppressed during the replay.
func (s *Store) SetHistoricalData(candles []model.Candle) {
	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	// Stable: equal timestamps keep arrival order, so the latest revision
	// of a bar wins, same as live.
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lanes {
		l.series.Reset()
		l.engine.Reset()
		l.hasPending = false
		l.baseTS = 0
	}
	for _, c := range sorted {
		for _, l := range s.lanes {
			s.applyLane(l, c, true)
		}
	}
}

// withLane runs fn under the lock for a known timeframe.
func (s *Store) withLane(tf model.Timeframe, fn func(l *lane)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byTF[tf]
	if !ok {
		return false
	}
	fn(l)
	return true
}

// Candles returns an immutable snapshot of a timeframe's history, oldest
// first. ok is false for an unknown timeframe.
func (s *Store) Candles(tf model.Timeframe) (out []model.Candle, ok bool) {
	ok = s.withLane(tf, func(l *lane) { out = l.series.Candles() })
	return out, ok
}

// Latest returns the most recent candle of a timeframe.
func (s *Store) Latest(tf model.Timeframe) (c model.Candle, ok bool) {
	found := s.withLane(tf, func(l *lane) { c, ok = l.series.Latest() })
	return c, found && ok
}

// Count returns the number of candles held for a timeframe.
func (s *Store) Count(tf model.Timeframe) int {
	var n int
	s.withLane(tf, func(l *lane) { n = l.series.Count() })
	return n
}

// PriceRange returns (min low, max high) across a timeframe's history.
func (s *Store) PriceRange(tf model.Timeframe) (low, high float64, ok bool) {
	found := s.withLane(tf, func(l *lane) { low, high, ok = l.series.PriceRange() })
	return low, high, found && ok
}

// TimeBounds returns the first and last timestamps of a timeframe's history.
func (s *Store) TimeBounds(tf model.Timeframe) (first, last int64, ok bool) {
	found := s.withLane(tf, func(l *lane) { first, last, ok = l.series.TimeBounds() })
	return first, last, found && ok
}

// Sequences returns copies of a timeframe's committed indicator output
// sequences, keyed by indicator name ("SMA_20", "EMA_12", ...).
func (s *Store) Sequences(tf model.Timeframe) (seqs map[string][]float64, ok bool) {
	ok = s.withLane(tf, func(l *lane) { seqs = l.engine.Sequences() })
	return seqs, ok
}

// Sequence returns a copy of one committed output sequence.
func (s *Store) Sequence(tf model.Timeframe, name string) []float64 {
	var seq []float64
	s.withLane(tf, func(l *lane) { seq = l.engine.Sequence(name) })
	return seq
}

// PeekSMA projects what the SMA would become if a provisional close were
// committed on the given timeframe, without mutating any state. Used to
// draw a continuously updating indicator line for the open bar.
func (s *Store) PeekSMA(tf model.Timeframe, period int, close float64) (float64, bool) {
	var v float64
	var ready bool
	found := s.withLane(tf, func(l *lane) { v, ready = l.engine.PeekSMA(period, close) })
	return v, found && ready
}

// IndicatorResults returns the current indicator values for a timeframe's
// latest bar.
func (s *Store) IndicatorResults(tf model.Timeframe) (results []model.IndicatorResult, ok bool) {
	ok = s.withLane(tf, func(l *lane) {
		ts := int64(0)
		if latest, found := l.series.Latest(); found {
			ts = latest.TS
		}
		results = l.engine.Results(s.symbol, l.tf.String(), ts, false)
	})
	return results, ok
}

// SnapshotIndicators captures every lane's engine state for checkpointing,
// keyed by timeframe label.
func (s *Store) SnapshotIndicators() map[string]*indicator.EngineSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*indicator.EngineSnapshot, len(s.lanes))
	for _, l := range s.lanes {
		out[l.tf.String()] = l.engine.Snapshot()
	}
	return out
}

// RestoreIndicators restores engine state from a checkpoint taken by
// SnapshotIndicators. Lanes without a snapshot keep their current state.
func (s *Store) RestoreIndicators(snaps map[string]*indicator.EngineSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lanes {
		snap, ok := snaps[l.tf.String()]
		if !ok {
			continue
		}
		engine, err := indicator.RestoreEngine(snap)
		if err != nil {
			return err
		}
		l.engine = engine
	}
	return nil
}
