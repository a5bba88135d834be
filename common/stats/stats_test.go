package stats

import (
	"testing"
	"time"
)

func TestPrecisionChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if stat.precision != time.Millisecond {
		t.Fatal("Default precision should be millis.")
	}

	statp := stat.Precision(time.Microsecond).(*defaultStatsReceiver)
	if stat.precision != time.Millisecond {
		t.Fatal("Default precision should still be millis.")
	}
	if statp.precision != time.Microsecond {
		t.Fatal("New stat precision should be micros.")
	}
	if stat.Precision(0).(*defaultStatsReceiver).precision != time.Nanosecond {
		t.Fatal("Precision below 1ns should be 1ns.")
	}
}

func TestScopeChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should be empty.")
	}

	statp := stat.Scope("job/1", "node").(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should still be empty.")
	}
	if len(statp.scope) != 2 || statp.scope[0] != "job_SLASH_1" || statp.scope[1] != "node" {
		t.Fatal("Invalid scope value: ", statp.scope)
	}
	if statp.scopedName("x") != "job_SLASH_1/node/x" {
		t.Fatal("Invalid scope name: " + statp.scopedName("x"))
	}

	// Sibling scopes must not share a backing array.
	a := statp.Scope("a").(*defaultStatsReceiver)
	b := statp.Scope("b").(*defaultStatsReceiver)
	if a.scopedName() != "job_SLASH_1/node/a" || b.scopedName() != "job_SLASH_1/node/b" {
		t.Fatal("Sibling scopes clobbered each other: ", a.scope, b.scope)
	}
}

func TestMarshal(t *testing.T) {
	ct := make(chan time.Time, 2)
	Time = NewTestTime(time.Unix(0, 0), time.Nanosecond*5, ct)
	defer func() { Time = DefaultStatsTime() }()

	reg := NewFinagleStatsRegistry()
	reg.GetOrRegister("counter", NewCounter()).(Counter).Inc(1)
	reg.GetOrRegister("gauge", NewGauge()).(Gauge).Update(2)

	reg.GetOrRegister("latency", NewLatency()).(Latency).Time().Stop()
	Time = NewTestTime(time.Unix(0, 0), time.Nanosecond*10, ct)
	reg.GetOrRegister("latency", NewLatency()).(Latency).Time().Stop()

	bytes, err := reg.(MarshalerPretty).MarshalJSONPretty()
	expected :=
		`{
  "counter": 1,
  "gauge": 2,
  "latency.avg": 7.5,
  "latency.count": 2,
  "latency.max": 10,
  "latency.min": 5,
  "latency.p50": 7.5,
  "latency.p90": 10,
  "latency.p95": 10,
  "latency.p99": 10,
  "latency.p999": 10,
  "latency.p9999": 10,
  "latency.sum": 15
}`
	if string(bytes) != expected {
		t.Fatal("Wrong json marshal output: ", string(bytes), err)
	}
}

func TestRender(t *testing.T) {
	stat := DefaultStatsReceiver()
	stat.Counter("counter").Inc(1)

	rendered := string(stat.Render(false))
	if rendered != `{"counter":{"count":1}}` {
		t.Fatal("Expected current stats in render", rendered)
	}
}

func TestSnapshot(t *testing.T) {
	stat := FinagleStatsReceiver()
	stat.Scope("job").Counter(GridWorkersGrantedCounter).Inc(3)
	stat.Gauge(GridConstituentsGauge).Update(2)

	snap := Snapshot(stat)
	if snap["job/"+GridWorkersGrantedCounter] != "3" || snap[GridConstituentsGauge] != "2" {
		t.Fatal("Unexpected snapshot: ", snap)
	}
	if len(Snapshot(DefaultStatsReceiver())) != 0 || len(Snapshot(NilStatsReceiver())) != 0 {
		t.Fatal("Only finagle registries can be flattened")
	}
}

func TestNilReceiver(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Counter("c").Inc(1)
	stat.Latency("l").Time().Stop()
	if stat.Counter("c").Count() != 0 {
		t.Fatal("Nil counters should not count")
	}
	if len(stat.Render(true)) != 0 {
		t.Fatal("Nil receiver should render nothing")
	}
}

func TestMirror(t *testing.T) {
	node := FinagleStatsReceiver()
	job1 := Mirror(FinagleStatsReceiver(), node)
	job2 := Mirror(FinagleStatsReceiver(), node)

	job1.Counter("granted").Inc(2)
	job2.Counter("granted").Inc(1)
	job2.Counter("granted").Update(5)
	job1.Gauge("workers").Update(7)
	job1.Latency("call").Time().Stop()

	if n := job1.Counter("granted").Count(); n != 2 {
		t.Fatalf("job counter should stay local, got %d", n)
	}
	if n := node.Counter("granted").Count(); n != 7 {
		t.Fatalf("node should see every job's increments, got %d", n)
	}
	if v := node.Gauge("workers").Value(); v != 0 {
		t.Fatalf("gauges should not be mirrored, got %d", v)
	}
	snap := Snapshot(job1)
	if snap["granted"] != "2" || snap["workers"] != "7" {
		t.Fatalf("unexpected job snapshot %v", snap)
	}
	if _, ok := Snapshot(node)["call.count"]; !ok {
		t.Fatalf("latency sample not mirrored: %v", Snapshot(node))
	}
}
