package model

// ClosedCandle is a finalized bucket tagged with its timeframe. It is the
// unit broadcast to persistence and gateway consumers once a bucket can no
// longer change.
type ClosedCandle struct {
	TF     Timeframe `json:"tf"`
	Candle Candle    `json:"candle"`
}

// Key returns the lane identity: "{tf}:{symbol}".
func (cc *ClosedCandle) Key() string {
	return cc.TF.String() + ":" + cc.Candle.Symbol
}

// StreamKey returns the Redis stream key: "candle:{tf}:{symbol}".
func (cc *ClosedCandle) StreamKey() string {
	return "candle:" + cc.Key()
}

// LatestKey returns the Redis key holding the most recent closed candle.
func (cc *ClosedCandle) LatestKey() string {
	return "candle:" + cc.TF.String() + ":latest:" + cc.Candle.Symbol
}

// PubSubChannel returns the Redis PubSub channel for live updates.
func (cc *ClosedCandle) PubSubChannel() string {
	return "pub:candle:" + cc.Key()
}
