package indicator

import "fmt"

// IndicatorSnapshot holds the serialized state of a single indicator
// instance, including its committed output sequence.
type IndicatorSnapshot struct {
	Type   string `json:"type"` // "SMA" or "EMA"
	Period int    `json:"period"`

	// SMA fields
	Buf []float64 `json:"buf,omitempty"`
	Idx int       `json:"idx,omitempty"`
	Sum float64   `json:"sum,omitempty"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`
	Prev       float64 `json:"prev,omitempty"`

	// Shared
	Count   int       `json:"count"`
	Current float64   `json:"current"`
	Out     []float64 `json:"out,omitempty"`
}

// EngineSnapshot holds the full state of one engine lane.
type EngineSnapshot struct {
	Version    int                 `json:"version"` // schema version for forward compat
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// Snapshot serializes the SMA state for checkpoint persistence.
func (s *SMA) Snapshot() IndicatorSnapshot {
	buf := make([]float64, len(s.buf))
	copy(buf, s.buf)
	out := make([]float64, len(s.out))
	copy(out, s.out)
	return IndicatorSnapshot{
		Type:    "SMA",
		Period:  s.period,
		Buf:     buf,
		Idx:     s.idx,
		Sum:     s.sum,
		Count:   s.count,
		Current: s.current,
		Out:     out,
	}
}

// RestoreFromSnapshot restores SMA state from a checkpoint.
func (s *SMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Type != "SMA" {
		return fmt.Errorf("snapshot type %q is not SMA", snap.Type)
	}
	s.period = snap.Period
	s.idx = snap.Idx
	s.sum = snap.Sum
	s.count = snap.Count
	s.current = snap.Current
	if len(snap.Buf) > 0 {
		s.buf = make([]float64, len(snap.Buf))
		copy(s.buf, snap.Buf)
	} else {
		s.buf = make([]float64, snap.Period)
	}
	s.out = make([]float64, len(snap.Out))
	copy(s.out, snap.Out)
	return nil
}

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() IndicatorSnapshot {
	out := make([]float64, len(e.out))
	copy(out, e.out)
	return IndicatorSnapshot{
		Type:       "EMA",
		Period:     e.period,
		Multiplier: e.multiplier,
		Prev:       e.prev,
		Count:      e.count,
		Current:    e.current,
		Out:        out,
	}
}

// RestoreFromSnapshot restores EMA state from a checkpoint.
func (e *EMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Type != "EMA" {
		return fmt.Errorf("snapshot type %q is not EMA", snap.Type)
	}
	e.period = snap.Period
	e.multiplier = snap.Multiplier
	if e.multiplier == 0 {
		e.multiplier = 2.0 / float64(snap.Period+1)
	}
	e.prev = snap.Prev
	e.count = snap.Count
	e.current = snap.Current
	e.out = make([]float64, len(snap.Out))
	copy(e.out, snap.Out)
	return nil
}

// snapshottable is implemented by indicators supporting serialization.
type snapshottable interface {
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(IndicatorSnapshot) error
}

// Snapshot captures the state of every indicator in the engine.
func (e *Engine) Snapshot() *EngineSnapshot {
	snap := &EngineSnapshot{Version: 1}
	for _, ind := range e.inds {
		if s, ok := ind.(snapshottable); ok {
			snap.Indicators = append(snap.Indicators, s.Snapshot())
		}
	}
	return snap
}

// RestoreEngine rebuilds an engine from a checkpoint.
func RestoreEngine(snap *EngineSnapshot) (*Engine, error) {
	configs := make([]Config, len(snap.Indicators))
	for i, is := range snap.Indicators {
		configs[i] = Config{Type: is.Type, Period: is.Period}
	}
	e := NewEngine(configs)
	for i, is := range snap.Indicators {
		s, ok := e.inds[i].(snapshottable)
		if !ok {
			return nil, fmt.Errorf("indicator %d (%s) does not support restore", i, is.Type)
		}
		if err := s.RestoreFromSnapshot(is); err != nil {
			return nil, fmt.Errorf("restore indicator %d: %w", i, err)
		}
	}
	return e, nil
}
