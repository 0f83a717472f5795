package stock

import "time"

// Trigger delivers flush ticks to a Flusher.
type Trigger interface {
	Ticks() <-chan time.Time
	Stop()
}

type intervalTrigger struct {
	ticker *time.Ticker
}

func NewIntervalTrigger(d time.Duration) Trigger {
	return &intervalTrigger{ticker: time.NewTicker(d)}
}

func (t *intervalTrigger) Ticks() <-chan time.Time { return t.ticker.C }

func (t *intervalTrigger) Stop() { t.ticker.Stop() }

// ManualTrigger ticks only when Fire is called. Fire blocks until the
// receiving loop has taken the tick, which happens only after any previous
// flush it started has finished.
type ManualTrigger struct {
	ch chan time.Time
}

func NewManualTrigger() *ManualTrigger {
	return &ManualTrigger{ch: make(chan time.Time)}
}

func (m *ManualTrigger) Fire() { m.ch <- time.Now() }

func (m *ManualTrigger) Ticks() <-chan time.Time { return m.ch }

func (m *ManualTrigger) Stop() {}
