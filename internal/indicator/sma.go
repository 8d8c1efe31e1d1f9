package indicator

// SMA maintains a Simple Moving Average over a rolling window of committed
// closes. Uses a preallocated circular buffer and a running sum for a
// zero-allocation hot path; the committed window stays correct regardless
// of how many candles the visible series has evicted.
type SMA struct {
	period  int
	buf     []float64 // circular window of committed closes
	idx     int       // next write position
	count   int       // total observations committed
	sum     float64
	current float64
	out     []float64 // one value per commit once the window is full
}

// NewSMA creates an SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA_" + itoa(s.period) }

func (s *SMA) Commit(close float64) {
	if s.count >= s.period {
		// Window full: the slot being overwritten leaves the sum.
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = close
	s.sum += close
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
		s.out = append(s.out, s.current)
	}
}

func (s *SMA) Revise(close float64) {
	if s.count == 0 {
		return
	}
	last := (s.idx - 1 + s.period) % s.period
	s.sum += close - s.buf[last]
	s.buf[last] = close

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
		s.out[len(s.out)-1] = s.current
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// Peek projects the SMA as if close were committed next. Requires at least
// period-1 prior observations; before that there is no full window to show.
func (s *SMA) Peek(close float64) (float64, bool) {
	if s.count < s.period-1 {
		return 0, false
	}
	removed := 0.0
	if s.count >= s.period {
		// Oldest value in the window, about to slide out.
		removed = s.buf[s.idx]
	}
	return (s.sum + close - removed) / float64(s.period), true
}

func (s *SMA) Sequence() []float64 { return s.out }

func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	s.out = nil
	for i := range s.buf {
		s.buf[i] = 0
	}
}
