package model

import "encoding/json"

// Candle represents one OHLCV price bar for a single symbol.
// TS is the bucket start time in epoch milliseconds. Two candles with the
// same (Symbol, TS) are the same logical bar at different points in its
// life: forming snapshots arrive repeatedly with the same TS until the
// bucket closes.
type Candle struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"` // bucket start, epoch ms
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Valid reports whether the OHLCV invariants hold:
// high >= max(open, close, low), low <= min(open, close, high), volume >= 0.
func (c *Candle) Valid() bool {
	return c.High >= c.Open && c.High >= c.Close && c.High >= c.Low &&
		c.Low <= c.Open && c.Low <= c.Close &&
		c.Volume >= 0
}

// Bullish reports whether the bar closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the bar closed below its open.
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// BodySize returns the absolute open-to-close distance.
func (c *Candle) BodySize() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// IndicatorResult holds a computed indicator value for a symbol + timeframe.
type IndicatorResult struct {
	Name   string  `json:"name"` // e.g. "SMA_20", "EMA_12"
	Symbol string  `json:"symbol"`
	TF     string  `json:"tf"` // timeframe label, e.g. "5m"
	Value  float64 `json:"value"`
	TS     int64   `json:"ts"`    // candle timestamp that produced this value
	Ready  bool    `json:"ready"` // true when the indicator has enough data
	Live   bool    `json:"live"`  // true for preview values from forming bars
}

// StreamKey returns the Redis stream key: "ind:{name}:{tf}:{symbol}".
func (r *IndicatorResult) StreamKey() string {
	return "ind:" + r.Name + ":" + r.TF + ":" + r.Symbol
}

// LatestKey returns the Redis key holding the most recent confirmed value.
func (r *IndicatorResult) LatestKey() string {
	return "ind:" + r.Name + ":" + r.TF + ":latest:" + r.Symbol
}

// PubSubChannel returns the Redis PubSub channel for live updates.
func (r *IndicatorResult) PubSubChannel() string {
	return "pub:ind:" + r.Name + ":" + r.TF + ":" + r.Symbol
}

// JSON returns the JSON-encoded indicator result.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
