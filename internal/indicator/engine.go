package indicator

import "chartcore/internal/model"

// Engine maintains a set of indicators for one timeframe lane. It relays
// the commit/revise/peek contract of the individual indicators across the
// whole set. Designed for single-goroutine usage — the owning store
// serializes access.
type Engine struct {
	configs []Config
	inds    []Indicator
}

// NewEngine creates an engine computing the given indicator configs.
// A nil config slice selects DefaultConfigs (SMA 20/50/200, EMA 12/26).
func NewEngine(configs []Config) *Engine {
	if configs == nil {
		configs = DefaultConfigs()
	}
	inds := make([]Indicator, len(configs))
	for i, cfg := range configs {
		inds[i] = New(cfg)
	}
	return &Engine{configs: configs, inds: inds}
}

// Commit persists a finalized bar close into every indicator.
func (e *Engine) Commit(close float64) {
	for _, ind := range e.inds {
		ind.Commit(close)
	}
}

// Revise replaces the most recent committed close in every indicator.
func (e *Engine) Revise(close float64) {
	for _, ind := range e.inds {
		ind.Revise(close)
	}
}

// PeekSMA projects the SMA with the given period as if close were
// committed next. Pure; ok is false when the period is not configured or
// history is insufficient.
func (e *Engine) PeekSMA(period int, close float64) (float64, bool) {
	for i, cfg := range e.configs {
		if cfg.Type == "SMA" && cfg.Period == period {
			return e.inds[i].Peek(close)
		}
	}
	return 0, false
}

// Results builds indicator results for every configured indicator at the
// given bar timestamp. live marks preview values from a forming bar.
func (e *Engine) Results(symbol, tf string, ts int64, live bool) []model.IndicatorResult {
	out := make([]model.IndicatorResult, 0, len(e.inds))
	for _, ind := range e.inds {
		out = append(out, model.IndicatorResult{
			Name:   ind.Name(),
			Symbol: symbol,
			TF:     tf,
			Value:  ind.Value(),
			TS:     ts,
			Ready:  ind.Ready(),
			Live:   live,
		})
	}
	return out
}

// Sequence returns a copy of the committed output sequence for the named
// indicator (e.g. "SMA_20"), or nil if not configured.
func (e *Engine) Sequence(name string) []float64 {
	for _, ind := range e.inds {
		if ind.Name() == name {
			seq := ind.Sequence()
			out := make([]float64, len(seq))
			copy(out, seq)
			return out
		}
	}
	return nil
}

// Sequences returns copies of all committed output sequences keyed by
// indicator name.
func (e *Engine) Sequences() map[string][]float64 {
	out := make(map[string][]float64, len(e.inds))
	for _, ind := range e.inds {
		seq := ind.Sequence()
		cp := make([]float64, len(seq))
		copy(cp, seq)
		out[ind.Name()] = cp
	}
	return out
}

// Configs returns the engine's indicator configuration.
func (e *Engine) Configs() []Config { return e.configs }

// Reset clears all indicator state.
func (e *Engine) Reset() {
	for _, ind := range e.inds {
		ind.Reset()
	}
}
