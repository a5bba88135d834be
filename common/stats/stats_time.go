package stats

import (
	"time"
)

// StatsTicker wraps time.Ticker so tests can drive ticks.
type StatsTicker interface {
	C() <-chan time.Time
	Stop()
}

type statsTicker struct {
	*time.Ticker
}

func (s *statsTicker) C() <-chan time.Time { return s.Ticker.C }

func NewStatsTicker(dur time.Duration) StatsTicker {
	return &statsTicker{time.NewTicker(dur)}
}

// StatsTime is every call this package makes into the time package.
type StatsTime interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) StatsTicker
}

type defaultStatsTime struct{}

func (defaultStatsTime) Now() time.Time                        { return time.Now() }
func (defaultStatsTime) Since(t time.Time) time.Duration       { return time.Since(t) }
func (defaultStatsTime) NewTicker(d time.Duration) StatsTicker { return NewStatsTicker(d) }

func DefaultStatsTime() StatsTime { return defaultStatsTime{} }

// testStatsTime always reports the same now and elapsed time, and ticks
// whenever the test writes to ch.
type testStatsTime struct {
	now   time.Time
	since time.Duration
	ch    <-chan time.Time
}

type testStatsTicker struct {
	ch <-chan time.Time
}

func (t testStatsTime) Now() time.Time                      { return t.now }
func (t testStatsTime) Since(time.Time) time.Duration       { return t.since }
func (t testStatsTime) NewTicker(time.Duration) StatsTicker { return &testStatsTicker{ch: t.ch} }
func (t *testStatsTicker) C() <-chan time.Time              { return t.ch }
func (t *testStatsTicker) Stop()                            {}

func NewTestTime(now time.Time, since time.Duration, ch <-chan time.Time) StatsTime {
	return testStatsTime{now, since, ch}
}
