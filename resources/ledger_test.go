package resources

import (
	"testing"
)

func TestLedgerClaimRelease(t *testing.T) {
	l := NewLedger(New(1, 4, 4096, 0))
	perWorker := New(0, 1, 1024, 0)

	if n := l.NrOfResourceSetsAvailable(perWorker); n != 4 {
		t.Fatalf("expected 4 sets available, got %d", n)
	}
	for i := 0; i < 3; i++ {
		if !l.Claim("job1", perWorker) {
			t.Fatalf("claim %d should have succeeded", i)
		}
	}
	if !l.Claim("job2", perWorker) {
		t.Fatal("claim for job2 should have succeeded")
	}
	if l.Claim("job2", perWorker) {
		t.Fatal("claim beyond capacity should fail")
	}
	if n := l.NrOfResourceSetsAvailable(perWorker); n != 0 {
		t.Fatalf("expected 0 sets available, got %d", n)
	}
	if c := l.Claimed("job1"); c != perWorker.Mult(3) {
		t.Fatalf("expected job1 to hold %v, got %v", perWorker.Mult(3), c)
	}

	l.Release("job1", perWorker)
	if n := l.NrOfResourceSetsAvailable(perWorker); n != 1 {
		t.Fatalf("expected 1 set available after release, got %d", n)
	}
	l.ReleaseAll("job1")
	if n := l.NrOfResourceSetsAvailable(perWorker); n != 3 {
		t.Fatalf("expected 3 sets available after release all, got %d", n)
	}
	l.Release("job2", perWorker.Mult(5))
	if !l.Free().Subtract(l.Capacity()).IsZero() {
		t.Fatalf("expected everything free, got %v", l.Free())
	}
}

func TestLedgerZeroRequest(t *testing.T) {
	l := NewLedger(New(1, 4, 4096, 0))
	if n := l.NrOfResourceSetsAvailable(Zero()); n != 0 {
		t.Fatalf("zero request should yield 0, got %d", n)
	}
	if l.Claim("job", New(0, -1, 0, 0)) {
		t.Fatal("negative claims must be refused")
	}
}
