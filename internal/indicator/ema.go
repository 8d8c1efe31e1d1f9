package indicator

// EMA maintains an Exponential Moving Average. O(1) per commit, no window
// storage. The first committed close seeds the average directly, so EMA
// emits a value from the very first observation (unlike SMA).
type EMA struct {
	period     int
	multiplier float64 // 2 / (period + 1)
	current    float64
	prev       float64 // value before the last commit, for Revise
	count      int
	out        []float64
}

// NewEMA creates an EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + itoa(e.period) }

func (e *EMA) Commit(close float64) {
	e.prev = e.current
	if e.count == 0 {
		e.current = close
	} else {
		e.current = close*e.multiplier + e.current*(1-e.multiplier)
	}
	e.count++
	e.out = append(e.out, e.current)
}

func (e *EMA) Revise(close float64) {
	if e.count == 0 {
		return
	}
	if e.count == 1 {
		e.current = close
	} else {
		// Recompute from the value saved before the last commit, so the
		// result is the same as if close had been committed directly.
		e.current = close*e.multiplier + e.prev*(1-e.multiplier)
	}
	e.out[len(e.out)-1] = e.current
}

func (e *EMA) Value() float64 { return e.current }

// Ready reports whether the average has absorbed a full period of closes.
// Values are emitted earlier, but are still dominated by the seed.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Peek projects the EMA as if close were committed next.
func (e *EMA) Peek(close float64) (float64, bool) {
	if e.count == 0 {
		return close, true
	}
	return close*e.multiplier + e.current*(1-e.multiplier), true
}

func (e *EMA) Sequence() []float64 { return e.out }

func (e *EMA) Reset() {
	e.current = 0
	e.prev = 0
	e.count = 0
	e.out = nil
}
