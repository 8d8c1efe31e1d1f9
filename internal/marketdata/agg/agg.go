// Package agg reduces base-resolution candles into coarser timeframe
// buckets. Aggregate handles the batch case; Merge is the O(1) hot path
// used to extend a forming bucket with each incoming base candle.
package agg

import "chartcore/internal/model"

// Aggregate combines candles belonging to the same bucket into a single
// candle for the given timeframe: open of the earliest input, close of the
// latest, max high, min low, summed volume. The result timestamp is the
// bucket start of the earliest input. Returns ok=false for empty input.
func Aggregate(candles []model.Candle, tf model.Timeframe) (model.Candle, bool) {
	if len(candles) == 0 {
		return model.Candle{}, false
	}

	first := candles[0]
	out := model.Candle{
		Symbol: first.Symbol,
		TS:     tf.BucketStart(first.TS),
		Open:   first.Open,
		High:   first.High,
		Low:    first.Low,
		Close:  first.Close,
		Volume: first.Volume,
	}
	for _, c := range candles[1:] {
		if c.High > out.High {
			out.High = c.High
		}
		if c.Low < out.Low {
			out.Low = c.Low
		}
		out.Close = c.Close
		out.Volume += c.Volume
	}
	return out, true
}

// Single buckets one base candle into the given timeframe. This is the
// common case: the base stream is reduced one candle at a time.
func Single(c model.Candle, tf model.Timeframe) model.Candle {
	c.TS = tf.BucketStart(c.TS)
	return c
}

// Merge extends a forming bucket in place with a later candle from the same
// bucket: high/low widen, close and volume roll forward. The bucket's open
// and timestamp are never touched.
func Merge(dst *model.Candle, src model.Candle) {
	if src.High > dst.High {
		dst.High = src.High
	}
	if src.Low < dst.Low {
		dst.Low = src.Low
	}
	dst.Close = src.Close
	dst.Volume += src.Volume
}
