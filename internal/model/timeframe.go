package model

import (
	"fmt"
	"sort"
	"strings"
)

// Timeframe is a candle bucket duration in milliseconds.
// Bucketing is purely arithmetic: a timestamp belongs to the bucket
// [BucketStart, BucketStart+tf).
type Timeframe int64

// Supported timeframes. The month value is a fixed 30-day approximation,
// matching the upstream exchange kline convention.
const (
	TF1m  Timeframe = 60_000
	TF5m  Timeframe = 5 * 60_000
	TF15m Timeframe = 15 * 60_000
	TF30m Timeframe = 30 * 60_000
	TF1h  Timeframe = 60 * 60_000
	TF4h  Timeframe = 4 * 60 * 60_000
	TF1d  Timeframe = 24 * 60 * 60_000
	TF1w  Timeframe = 7 * 24 * 60 * 60_000
	TF1mo Timeframe = 30 * 24 * 60 * 60_000
)

var tfNames = map[Timeframe]string{
	TF1m:  "1m",
	TF5m:  "5m",
	TF15m: "15m",
	TF30m: "30m",
	TF1h:  "1h",
	TF4h:  "4h",
	TF1d:  "1d",
	TF1w:  "1w",
	TF1mo: "1M",
}

// String returns the short label ("1m", "5m", "1h", ...). Unlisted durations
// are rendered as raw milliseconds.
func (tf Timeframe) String() string {
	if s, ok := tfNames[tf]; ok {
		return s
	}
	return fmt.Sprintf("%dms", int64(tf))
}

// Millis returns the duration in milliseconds.
func (tf Timeframe) Millis() int64 { return int64(tf) }

// BucketStart returns the start of the bucket containing ts (epoch ms).
func (tf Timeframe) BucketStart(ts int64) int64 {
	if tf <= 0 {
		return ts
	}
	return ts - ts%int64(tf)
}

// ParseTimeframe parses a short label into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	for tf, name := range tfNames {
		if name == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("unknown timeframe %q", s)
}

// ParseTimeframes parses a comma-separated list of labels (e.g. "1m,5m,1h")
// into a sorted, de-duplicated slice. Invalid entries are skipped with an
// error listing them; the valid prefix is still returned.
func ParseTimeframes(list string) ([]Timeframe, error) {
	var bad []string
	seen := make(map[Timeframe]bool)
	var tfs []Timeframe
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tf, err := ParseTimeframe(p)
		if err != nil {
			bad = append(bad, p)
			continue
		}
		if !seen[tf] {
			seen[tf] = true
			tfs = append(tfs, tf)
		}
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i] < tfs[j] })
	if len(bad) > 0 {
		return tfs, fmt.Errorf("invalid timeframes: %s", strings.Join(bad, ", "))
	}
	return tfs, nil
}
