// Package indicator provides incrementally-maintained technical indicators
// (simple and exponential moving averages) over a stream of bar closes.
//
// The correctness contract is commit/revise/peek separation:
//
//   - Commit persists exactly one observation per bar slot.
//   - Revise re-derives the most recent slot from state saved before its
//     commit; the final state depends only on the last value supplied for
//     the bar, never on intermediate revisions.
//   - Peek is a pure projection and never mutates state.
//
// Streaming ticks revise the same open bar many times before it closes.
// Treating each revision as a fresh observation would double-count
// intra-bar updates in the sliding-window sums and the EMA recurrence;
// the three-operation split makes that misuse an API-level mistake.
package indicator

// Indicator is the interface implemented by all incremental indicators.
type Indicator interface {
	// Name returns the indicator name with period, e.g. "SMA_20".
	Name() string

	// Commit persists a bar close as a new observation.
	Commit(close float64)

	// Revise replaces the most recently committed observation with a new
	// close. No-op before the first Commit. Any number of revisions
	// followed by a final Revise(x) leaves state identical to having
	// committed x directly.
	Revise(close float64)

	// Value returns the current indicator value. Returns 0 if not ready.
	Value() float64

	// Ready reports whether enough observations have been committed.
	Ready() bool

	// Peek returns what Value() would become if close were committed
	// next, without mutating state. ok is false when there is not yet
	// enough history for a projection.
	Peek(close float64) (v float64, ok bool)

	// Sequence returns the committed output sequence, oldest first.
	// The returned slice is owned by the indicator; callers copy.
	Sequence() []float64

	// Reset clears all state for reuse.
	Reset()
}

// Config specifies a single indicator to compute.
type Config struct {
	Type   string `json:"type"` // "SMA" or "EMA"
	Period int    `json:"period"`
}

// DefaultConfigs returns the standard chart overlay set:
// SMA 20/50/200 and EMA 12/26.
func DefaultConfigs() []Config {
	return []Config{
		{Type: "SMA", Period: 20},
		{Type: "SMA", Period: 50},
		{Type: "SMA", Period: 200},
		{Type: "EMA", Period: 12},
		{Type: "EMA", Period: 26},
	}
}

// New creates an indicator instance for a config. Unknown types fall back
// to SMA.
func New(cfg Config) Indicator {
	switch cfg.Type {
	case "EMA":
		return NewEMA(cfg.Period)
	default:
		return NewSMA(cfg.Period)
	}
}

// itoa is a minimal int-to-string without importing strconv in the hot path.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
