package stats

import "time"

// Mirror returns a receiver that records into local and adds every counter
// increment and latency sample to shared as well. Gauges, Remove and Render
// stay local: a gauge describes its owner only.
func Mirror(local, shared StatsReceiver) StatsReceiver {
	return &mirrorStatsReceiver{local: local, shared: shared}
}

type mirrorStatsReceiver struct {
	local  StatsReceiver
	shared StatsReceiver
}

func (s *mirrorStatsReceiver) Scope(scope ...string) StatsReceiver {
	return Mirror(s.local.Scope(scope...), s.shared.Scope(scope...))
}

func (s *mirrorStatsReceiver) Precision(precision time.Duration) StatsReceiver {
	return Mirror(s.local.Precision(precision), s.shared.Precision(precision))
}

func (s *mirrorStatsReceiver) Counter(name ...string) Counter {
	return &mirrorCounter{local: s.local.Counter(name...), shared: s.shared.Counter(name...)}
}

func (s *mirrorStatsReceiver) Gauge(name ...string) Gauge {
	return s.local.Gauge(name...)
}

func (s *mirrorStatsReceiver) Latency(name ...string) Latency {
	return &mirrorLatency{local: s.local.Latency(name...), shared: s.shared.Latency(name...)}
}

func (s *mirrorStatsReceiver) Remove(name ...string) { s.local.Remove(name...) }

func (s *mirrorStatsReceiver) Render(pretty bool) []byte { return s.local.Render(pretty) }

type mirrorCounter struct {
	local  Counter
	shared Counter
}

func (c *mirrorCounter) Capture() Counter { return c.local.Capture() }
func (c *mirrorCounter) Count() int64     { return c.local.Count() }
func (c *mirrorCounter) Inc(i int64) {
	c.local.Inc(i)
	c.shared.Inc(i)
}

// Update sets the local count and moves the shared one by the same amount.
func (c *mirrorCounter) Update(i int64) {
	delta := i - c.local.Count()
	c.local.Update(i)
	c.shared.Inc(delta)
}

type mirrorLatency struct {
	local  Latency
	shared Latency
}

func (l *mirrorLatency) Capture() Latency            { return l.local.Capture() }
func (l *mirrorLatency) GetPrecision() time.Duration { return l.local.GetPrecision() }
func (l *mirrorLatency) Time() Latency {
	l.local.Time()
	l.shared.Time()
	return l
}
func (l *mirrorLatency) Stop() {
	l.local.Stop()
	l.shared.Stop()
}
func (l *mirrorLatency) Precision(p time.Duration) Latency {
	l.local.Precision(p)
	l.shared.Precision(p)
	return l
}
