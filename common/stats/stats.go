// Package stats is a small layer over go-metrics. Components get a
// StatsReceiver passed down the call tree and scope it to themselves, so a
// node, each job it hosts and each worker can record into one registry or
// into their own.
//
// Instruments render in the Finagle flat-JSON style ("name.p99" etc.) when
// the registry is a finagle registry, and in go-metrics' own style otherwise.
package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// Time is overridable for tests.
var Time StatsTime = DefaultStatsTime()

var StatReportIntvl = 500 * time.Millisecond

// Overridable instrument creation.
var NewCounter func() Counter = newMetricCounter
var NewGauge func() Gauge = newMetricGauge
var NewLatency func() Latency = newLatency

type MarshalerPretty interface {
	MarshalJSONPretty() ([]byte, error)
}

// StatsRegistry is the subset of a go-metrics registry we rely on.
type StatsRegistry interface {
	// The second argument is either the metric or a func returning it.
	GetOrRegister(string, interface{}) interface{}
	Unregister(string)
	Each(func(string, interface{}))
}

// StatsReceiver records instruments under '/'-separated hierarchical names.
// Name elements containing '/' have it replaced by "_SLASH_".
type StatsReceiver interface {
	// Scope("a", "b").Counter("c") is Counter("a", "b", "c").
	Scope(scope ...string) StatsReceiver

	// Precision sets the display precision of latencies created through the
	// returned receiver. Values below 1ns are treated as 1ns.
	Precision(time.Duration) StatsReceiver

	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	Latency(name ...string) Latency
	Remove(name ...string)

	// Render marshals the whole registry to JSON and resets latencies.
	Render(pretty bool) []byte
}

// DefaultStatsReceiver records into a plain go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return NewCustomStatsReceiver(nil)
}

// FinagleStatsReceiver records into a finagle registry.
func FinagleStatsReceiver() StatsReceiver {
	return NewCustomStatsReceiver(NewFinagleStatsRegistry)
}

func NewCustomStatsReceiver(makeRegistry func() StatsRegistry) StatsReceiver {
	if makeRegistry == nil {
		makeRegistry = func() StatsRegistry { return metrics.NewRegistry() }
	}
	return &defaultStatsReceiver{registry: makeRegistry(), precision: time.Millisecond}
}

type defaultStatsReceiver struct {
	registry  StatsRegistry
	precision time.Duration
	scope     []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{s.registry, s.precision, s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Precision(precision time.Duration) StatsReceiver {
	if precision < 1 {
		precision = 1
	}
	return &defaultStatsReceiver{s.registry, precision, s.scope}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), NewCounter).(Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), NewGauge).(Gauge)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	// go-metrics registries cannot cast a factory's return value, so no lazy instantiation here.
	return s.registry.GetOrRegister(s.scopedName(name...), NewLatency().Precision(s.precision)).(Latency)
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.scopedName(name...))
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	var err error
	var bytes []byte
	if mp, ok := s.registry.(MarshalerPretty); ok && pretty {
		bytes, err = mp.MarshalJSONPretty()
	} else {
		bytes, err = json.Marshal(s.registry)
	}
	if err != nil {
		panic("StatsRegistry bug, cannot be marshaled")
	}
	clearLatencies(s.registry)
	return bytes
}

func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	out := make([]string, 0, len(s.scope)+len(scope))
	out = append(out, s.scope...)
	for _, e := range scope {
		out = append(out, strings.Replace(e, "/", "_SLASH_", -1))
	}
	return out
}

func (s *defaultStatsReceiver) scopedName(scope ...string) string {
	return strings.Join(s.scoped(scope...), "/")
}

func clearLatencies(reg StatsRegistry) {
	reg.Each(func(name string, i interface{}) {
		if l, ok := i.(*metricLatency); ok {
			l.Clear()
		}
	})
}

// Snapshot flattens the receiver's registry into name -> rendered value,
// without resetting anything. Only the finagle registry can be flattened;
// other registries yield an empty map. A Mirror yields its local registry.
func Snapshot(s StatsReceiver) map[string]string {
	if m, ok := s.(*mirrorStatsReceiver); ok {
		return Snapshot(m.local)
	}
	out := map[string]string{}
	d, ok := s.(*defaultStatsReceiver)
	if !ok {
		return out
	}
	f, ok := d.registry.(*finagleStatsRegistry)
	if !ok {
		return out
	}
	for name, v := range f.MarshalAll() {
		out[name] = fmt.Sprint(v)
	}
	return out
}

// NilStatsReceiver ignores everything.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver             { return s }
func (s *nilStatsReceiver) Precision(precision time.Duration) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter {
	return &metricCounter{metrics.NilCounter{}}
}
func (s *nilStatsReceiver) Gauge(name ...string) Gauge {
	return &metricGauge{metrics.NilGauge{}}
}
func (s *nilStatsReceiver) Latency(name ...string) Latency { return &nilLatency{} }
func (s *nilStatsReceiver) Remove(name ...string)          {}
func (s *nilStatsReceiver) Render(pretty bool) []byte      { return []byte{} }

type Counter interface {
	Capture() Counter
	Count() int64
	Inc(int64)
	Update(int64)
}
type metricCounter struct{ metrics.Counter }

func (m *metricCounter) Capture() Counter { return &metricCounter{m.Snapshot()} }
func (m *metricCounter) Update(i int64)   { m.Inc(i - m.Count()) }
func newMetricCounter() Counter           { return &metricCounter{metrics.NewCounter()} }

type Gauge interface {
	Capture() Gauge
	Update(int64)
	Value() int64
}
type metricGauge struct{ metrics.Gauge }

func (m *metricGauge) Capture() Gauge { return &metricGauge{m.Snapshot()} }
func newMetricGauge() Gauge           { return &metricGauge{metrics.NewGauge()} }

type HistogramView interface {
	Mean() float64
	Count() int64
	Max() int64
	Min() int64
	Sum() int64
	Percentiles(ps []float64) []float64
}

// Latency is a histogram of durations. Time() and Stop() bracket one sample.
type Latency interface {
	Capture() Latency
	Time() Latency
	Stop()
	GetPrecision() time.Duration
	Precision(time.Duration) Latency
}

type metricLatency struct {
	metrics.Histogram
	mu        sync.Mutex
	start     time.Time
	precision time.Duration
}

func (l *metricLatency) Time() Latency {
	l.mu.Lock()
	l.start = Time.Now()
	l.mu.Unlock()
	return l
}
func (l *metricLatency) Stop() {
	l.mu.Lock()
	start := l.start
	l.mu.Unlock()
	l.Update(Time.Since(start).Nanoseconds())
}
func (l *metricLatency) Capture() Latency {
	return &metricLatency{Histogram: l.Histogram.Snapshot(), start: l.start, precision: l.precision}
}
func (l *metricLatency) GetPrecision() time.Duration { return l.precision }
func (l *metricLatency) Precision(p time.Duration) Latency {
	if p < 1 {
		p = 1
	}
	l.precision = p
	return l
}
func newLatency() Latency {
	return &metricLatency{Histogram: metrics.NewHistogram(metrics.NewUniformSample(1000)), precision: time.Nanosecond}
}

type nilLatency struct{}

func (l *nilLatency) Time() Latency                   { return l }
func (l *nilLatency) Stop()                           {}
func (l *nilLatency) Capture() Latency                { return l }
func (l *nilLatency) GetPrecision() time.Duration     { return 0 }
func (l *nilLatency) Precision(time.Duration) Latency { return l }

// finagleStatsRegistry renders every instrument as flat "name[.suffix]": value pairs.
type finagleStatsRegistry struct {
	metrics.Registry
}

func NewFinagleStatsRegistry() StatsRegistry {
	return &finagleStatsRegistry{metrics.NewRegistry()}
}

type jsonMap map[string]interface{}

func (r *finagleStatsRegistry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.MarshalAll())
}

func (r *finagleStatsRegistry) MarshalJSONPretty() ([]byte, error) {
	return json.MarshalIndent(r.MarshalAll(), "", "  ")
}

func (r *finagleStatsRegistry) MarshalAll() jsonMap {
	data := jsonMap{}
	r.Each(func(name string, i interface{}) {
		switch stat := i.(type) {
		case Counter:
			data[name] = stat.Count()
		case Gauge:
			data[name] = stat.Value()
		case Latency:
			l := stat.Capture()
			marshalHistogram(data, name, l.(HistogramView), l.GetPrecision())
		default:
			log.Infof("Unrecognized marshal instrument %s: %T", name, i)
		}
	})
	return data
}

var defaultPercentiles = []float64{0.5, 0.9, 0.95, 0.99, 0.999, 0.9999}
var defaultPercentileLabels = []string{"p50", "p90", "p95", "p99", "p999", "p9999"}

func marshalHistogram(data jsonMap, name string, hist HistogramView, precision time.Duration) {
	f64p := float64(precision)
	i64p := int64(precision)
	data[name+".avg"] = hist.Mean() / f64p
	data[name+".count"] = hist.Count()
	data[name+".max"] = hist.Max() / i64p
	data[name+".min"] = hist.Min() / i64p
	data[name+".sum"] = hist.Sum() / i64p
	for i, pctl := range hist.Percentiles(defaultPercentiles) {
		data[name+"."+defaultPercentileLabels[i]] = pctl / f64p
	}
}

// Names lists the registered instrument names in order, mostly for debugging.
func Names(s StatsReceiver) []string {
	var names []string
	if d, ok := s.(*defaultStatsReceiver); ok {
		d.registry.Each(func(name string, _ interface{}) { names = append(names, name) })
	}
	sort.Strings(names)
	return names
}

// StartUptimeReporting updates the uptime gauge until stop is closed.
func StartUptimeReporting(stat StatsReceiver, statName string, stop <-chan struct{}) {
	startTime := Time.Now()
	ticker := Time.NewTicker(StatReportIntvl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			stat.Gauge(statName).Update(int64(Time.Since(startTime) / time.Millisecond))
		case <-stop:
			return
		}
	}
}
