package multitf

import (
	"math"
	"math/rand"
	"testing"

	"chartcore/internal/indicator"
	"chartcore/internal/marketdata/agg"
	"chartcore/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: got %.10f, want %.10f", label, got, want)
	}
}

func makeCandle(ts int64, close float64) model.Candle {
	return model.Candle{
		Symbol: "BTCUSDT",
		TS:     ts,
		Open:   close,
		High:   close + 0.5,
		Low:    close - 0.5,
		Close:  close,
		Volume: 1,
	}
}

// buildMinuteSubticks builds minutes*perMinute base candles, perMinute
// sub-ticks per minute. Within minute m the closes are
// 100+m, 100+m+0.25, 100+m+0.5 — so each minute's final close is
// 100+m+0.25*(perMinute-1).
func buildMinuteSubticks(minutes, perMinute int) []model.Candle {
	var out []model.Candle
	for m := 0; m < minutes; m++ {
		start := int64(m) * 60_000
		base := 100.0 + float64(m)
		for p := 0; p < perMinute; p++ {
			ts := start + int64(p)*(60_000/int64(perMinute))
			close := base + float64(p)*0.25
			open := base
			if p > 0 {
				open = base + float64(p-1)*0.25
			}
			out = append(out, model.Candle{
				Symbol: "BTCUSDT",
				TS:     ts,
				Open:   open,
				High:   close + 0.5,
				Low:    math.Min(open, close) - 0.5,
				Close:  close,
				Volume: 1 + float64(m)*0.1 + float64(p)*0.1,
			})
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Minute aggregation + SMA length (sub-tick example)
// ────────────────────────────────────────────────────────────

func TestStore_MinuteAggregationFromSubticks(t *testing.T) {
	const minutes, perMinute = 25, 3
	base := model.Timeframe(60_000 / perMinute)

	s := New(Config{
		Symbol:   "BTCUSDT",
		Base:     base,
		Derived:  []model.Timeframe{model.TF1m},
		Capacity: 512,
	})

	candles := buildMinuteSubticks(minutes, perMinute)
	for _, c := range candles {
		s.Apply(c)
	}

	minute, ok := s.Candles(model.TF1m)
	if !ok || len(minute) != minutes {
		t.Fatalf("minute candles=%d, want %d", len(minute), minutes)
	}

	for m, mc := range minute {
		if mc.TS != int64(m)*60_000 {
			t.Errorf("minute %d: TS=%d, want %d", m, mc.TS, int64(m)*60_000)
		}
		wantClose := 100 + float64(m) + 0.25*float64(perMinute-1)
		assertClose(t, "minute close", mc.Close, wantClose)

		// Each finalized bucket equals Aggregate over exactly its base
		// candles.
		want, _ := agg.Aggregate(candles[m*perMinute:(m+1)*perMinute], model.TF1m)
		if mc != want {
			t.Errorf("minute %d: %+v != aggregate %+v", m, mc, want)
		}
	}

	// SMA(20) over 25 minute bars: 25-20+1 = 6 values.
	seqs, _ := s.Sequences(model.TF1m)
	if len(seqs["SMA_20"]) != 6 {
		t.Errorf("SMA_20 length=%d, want 6", len(seqs["SMA_20"]))
	}
	if len(seqs["EMA_12"]) != minutes {
		t.Errorf("EMA_12 length=%d, want %d", len(seqs["EMA_12"]), minutes)
	}
	if len(seqs["SMA_50"]) != 0 {
		t.Errorf("SMA_50 length=%d, want 0", len(seqs["SMA_50"]))
	}
}

// ────────────────────────────────────────────────────────────
// Forming-bucket merge
// ────────────────────────────────────────────────────────────

func TestStore_FormingBucketMergesInPlace(t *testing.T) {
	s := New(Config{Symbol: "X", Base: model.Timeframe(20_000), Derived: []model.Timeframe{model.TF1m}, Capacity: 16})

	s.Apply(model.Candle{Symbol: "X", TS: 0, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1})
	s.Apply(model.Candle{Symbol: "X", TS: 20_000, Open: 100.5, High: 107, Low: 100, Close: 106, Volume: 2})
	s.Apply(model.Candle{Symbol: "X", TS: 40_000, Open: 106, High: 106.5, Low: 94, Close: 95, Volume: 3})

	if n := s.Count(model.TF1m); n != 1 {
		t.Fatalf("minute count=%d, want 1 (single forming bucket)", n)
	}
	mc, _ := s.Latest(model.TF1m)
	if mc.Open != 100 || mc.High != 107 || mc.Low != 94 || mc.Close != 95 || mc.Volume != 6 {
		t.Errorf("forming merge wrong: %+v", mc)
	}
}

// ────────────────────────────────────────────────────────────
// Capacity overflow: indicators follow the logical stream
// ────────────────────────────────────────────────────────────

func TestStore_IndicatorsSurviveEviction(t *testing.T) {
	// Capacity-40 base series overflowed with 1260 two-second candles:
	// SMA/EMA must still be computed from the full logical stream, not
	// from the 40 survivors.
	const capacity = 40
	const total = capacity*30 + 60 // 1260
	base := model.Timeframe(2_000)

	s := New(Config{
		Symbol:   "BTCUSDT",
		Base:     base,
		Derived:  []model.Timeframe{model.TF1m},
		Capacity: capacity,
	})

	for i := 0; i < total; i++ {
		ts := int64(i) * 2_000
		s.Apply(model.Candle{Symbol: "BTCUSDT", TS: ts, Open: float64(i), High: float64(i), Low: float64(i), Close: float64(i), Volume: 1})
	}

	if n := s.Count(base); n != capacity {
		t.Fatalf("base count=%d, want capacity %d", n, capacity)
	}

	seqs, _ := s.Sequences(base)
	if len(seqs["EMA_12"]) != total {
		t.Errorf("base EMA_12 length=%d, want %d", len(seqs["EMA_12"]), total)
	}
	if len(seqs["SMA_20"]) != total-20+1 {
		t.Errorf("base SMA_20 length=%d, want %d", len(seqs["SMA_20"]), total-20+1)
	}
	// Last SMA(20) = mean of closes 1240..1259 = 1249.5.
	last := seqs["SMA_20"][len(seqs["SMA_20"])-1]
	assertClose(t, "base SMA_20 last", last, 1249.5)

	// Minute lane: 1260 × 2s = 42 full minutes; minute m's final close is
	// 30m+29.
	mseqs, _ := s.Sequences(model.TF1m)
	if len(mseqs["EMA_12"]) != 42 {
		t.Errorf("minute EMA_12 length=%d, want 42", len(mseqs["EMA_12"]))
	}
	if len(mseqs["SMA_20"]) != 42-20+1 {
		t.Errorf("minute SMA_20 length=%d, want %d", len(mseqs["SMA_20"]), 42-20+1)
	}
	sum := 0.0
	for m := 22; m <= 41; m++ {
		sum += float64(30*m + 29)
	}
	assertClose(t, "minute SMA_20 last", mseqs["SMA_20"][len(mseqs["SMA_20"])-1], sum/20)
}

// ────────────────────────────────────────────────────────────
// Bulk load ≡ live replay
// ────────────────────────────────────────────────────────────

func TestStore_BulkLoadMatchesLive(t *testing.T) {
	cfg := Config{
		Symbol:   "BTCUSDT",
		Base:     model.Timeframe(20_000),
		Derived:  []model.Timeframe{model.TF1m, model.TF5m},
		Capacity: 256,
	}
	live := New(cfg)
	bulk := New(cfg)

	candles := buildMinuteSubticks(30, 3)
	for _, c := range candles {
		live.Apply(c)
	}

	// Any input order: the loader sorts.
	shuffled := make([]model.Candle, len(candles))
	copy(shuffled, candles)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	bulk.SetHistoricalData(shuffled)

	for _, tf := range cfg.Timeframes() {
		lc, _ := live.Candles(tf)
		bc, _ := bulk.Candles(tf)
		if len(lc) != len(bc) {
			t.Fatalf("%s: live=%d candles, bulk=%d", tf, len(lc), len(bc))
		}
		for i := range lc {
			if lc[i] != bc[i] {
				t.Fatalf("%s candle %d differs: live=%+v bulk=%+v", tf, i, lc[i], bc[i])
			}
		}

		ls, _ := live.Sequences(tf)
		bs, _ := bulk.Sequences(tf)
		for name := range ls {
			if len(ls[name]) != len(bs[name]) {
				t.Fatalf("%s %s: live len=%d, bulk len=%d", tf, name, len(ls[name]), len(bs[name]))
			}
			for i := range ls[name] {
				assertClose(t, tf.String()+" "+name, bs[name][i], ls[name][i])
			}
		}
	}
}

// Timeframes on Config mirrors the store lanes for test iteration.
func (c Config) Timeframes() []model.Timeframe {
	tfs := []model.Timeframe{c.Base}
	return append(tfs, c.Derived...)
}

// ────────────────────────────────────────────────────────────
// Revisions of the same base bar (equal timestamps)
// ────────────────────────────────────────────────────────────

func TestStore_EqualTimestampRevisesBar(t *testing.T) {
	base := model.TF1m
	s := New(Config{Symbol: "X", Base: base, Derived: []model.Timeframe{model.TF5m}, Capacity: 64})

	// A live feed sends the forming 1m bar repeatedly with the same open
	// time, then the closed version.
	s.Apply(makeCandle(0, 100))
	s.Apply(makeCandle(0, 103))
	s.Apply(makeCandle(0, 101))

	if n := s.Count(base); n != 1 {
		t.Fatalf("base count=%d, want 1 (revisions must not add bars)", n)
	}
	latest, _ := s.Latest(base)
	assertClose(t, "revised close", latest.Close, 101)

	// The revision replaces the bar's contribution in the 5m bucket too:
	// volume must not accumulate across re-sends of the same bar.
	five, _ := s.Latest(model.TF5m)
	assertClose(t, "5m volume after revisions", five.Volume, 1)
	assertClose(t, "5m close after revisions", five.Close, 101)

	// Indicator state must behave as if only the final close existed.
	twin := New(Config{Symbol: "X", Base: base, Derived: []model.Timeframe{model.TF5m}, Capacity: 64})
	twin.Apply(makeCandle(0, 101))

	for _, tf := range []model.Timeframe{base, model.TF5m} {
		a, _ := s.Sequences(tf)
		b, _ := twin.Sequences(tf)
		for name := range a {
			if len(a[name]) != len(b[name]) {
				t.Fatalf("%s %s lengths differ", tf, name)
			}
			for i := range a[name] {
				assertClose(t, "revision-neutral "+name, a[name][i], b[name][i])
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// Backfill
// ────────────────────────────────────────────────────────────

func TestStore_BackfillKeepsSeriesOrdered(t *testing.T) {
	base := model.TF1m
	s := New(Config{Symbol: "X", Base: base, Capacity: 5000})

	for m := 50; m < 60; m++ {
		s.Apply(makeCandle(int64(m)*60_000, float64(m)))
	}
	for m := 49; m >= 40; m-- { // reverse-order backfill
		s.Apply(makeCandle(int64(m)*60_000, float64(m)))
	}

	candles, _ := s.Candles(base)
	if len(candles) != 20 {
		t.Fatalf("count=%d, want 20", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].TS-candles[i-1].TS != 60_000 {
			t.Fatalf("gap at %d", i)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Peek / hooks
// ────────────────────────────────────────────────────────────

func TestStore_PeekSMADoesNotMutate(t *testing.T) {
	base := model.TF1m
	s := New(Config{Symbol: "X", Base: base, Capacity: 64,
		Indicators: []indicator.Config{{Type: "SMA", Period: 3}}})

	for m := 0; m < 3; m++ {
		s.Apply(makeCandle(int64(m)*60_000, 100+float64(m)))
	}

	// Window holds 100,101,102; peeking 110 slides out 100.
	v, ok := s.PeekSMA(base, 3, 110)
	if !ok {
		t.Fatal("PeekSMA not ok")
	}
	assertClose(t, "peek", v, (101+102+110)/3.0)

	before := s.Sequence(base, "SMA_3")
	for i := 0; i < 5; i++ {
		s.PeekSMA(base, 3, float64(i*13))
	}
	after := s.Sequence(base, "SMA_3")
	if len(before) != len(after) {
		t.Fatal("peek mutated committed sequence")
	}
}

func TestStore_HooksFireOncePerClosedBucket(t *testing.T) {
	base := model.Timeframe(20_000)
	s := New(Config{Symbol: "X", Base: base, Derived: []model.Timeframe{model.TF1m}, Capacity: 64})

	finalized := make(map[model.Timeframe]int)
	s.OnFinalize = func(tf model.Timeframe, c model.Candle) { finalized[tf]++ }

	// 4 full minutes of 3 sub-ticks, plus one tick opening minute 5.
	for _, c := range buildMinuteSubticks(4, 3) {
		s.Apply(c)
	}
	s.Apply(makeCandle(4*60_000, 104))

	// Minute lane: buckets 0..3 closed when their successors opened.
	if finalized[model.TF1m] != 4 {
		t.Errorf("minute finalizations=%d, want 4", finalized[model.TF1m])
	}
	// Base lane: every new timestamp closes the previous bar: 13 candles
	// → 12 closed.
	if finalized[base] != 12 {
		t.Errorf("base finalizations=%d, want 12", finalized[base])
	}
}

func TestStore_SnapshotRestoreContinues(t *testing.T) {
	cfg := Config{Symbol: "X", Base: model.TF1m, Derived: []model.Timeframe{model.TF5m}, Capacity: 64}
	s := New(cfg)
	for m := 0; m < 30; m++ {
		s.Apply(makeCandle(int64(m)*60_000, 100+float64(m)))
	}

	snap := s.SnapshotIndicators()
	restored := New(cfg)
	if err := restored.RestoreIndicators(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// Both continue with the same stream; indicator sequences must agree
	// even though the restored store has an empty series.
	for m := 30; m < 40; m++ {
		c := makeCandle(int64(m)*60_000, 100+float64(m))
		s.Apply(c)
		restored.Apply(c)
	}
	a, _ := s.Sequences(model.TF5m)
	b, _ := restored.Sequences(model.TF5m)
	for name := range a {
		if len(a[name]) != len(b[name]) {
			t.Fatalf("%s lengths differ after restore", name)
		}
		for i := range a[name] {
			assertClose(t, "restored "+name, b[name][i], a[name][i])
		}
	}
}
