package clock

import "time"

// Clock supplies the current instant. It is injected everywhere the
// session window matters so that boundary transitions can be tested at
// exact instants instead of waiting on wall time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns the wall clock, in UTC.
func System() Clock {
	return systemClock{}
}

// Fixed is a manually controlled clock for tests.
type Fixed struct {
	t time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

func (f *Fixed) Now() time.Time {
	return f.t
}

func (f *Fixed) Set(t time.Time) {
	f.t = t
}

func (f *Fixed) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}
