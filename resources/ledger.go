package resources

import (
	"sync"
)

// Ledger tracks the resources committed on one node, keyed by job ID.
// Every claim is checked against the node's capacity before it is recorded,
// so the sum of all claims never exceeds the capacity.
type Ledger struct {
	mu        sync.Mutex
	available Resources
	claims    map[string]Resources
}

func NewLedger(available Resources) *Ledger {
	return &Ledger{available: available, claims: map[string]Resources{}}
}

// Capacity returns the total resources of the node.
func (l *Ledger) Capacity() Resources {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Claim commits r to key if the remainder stays non-negative.
func (l *Ledger) Claim(key string, r Resources) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.Negative() || l.free().WouldGoNegative(r) {
		return false
	}
	l.claims[key] = l.claims[key].Add(r)
	return true
}

// Release returns r from key's claim to the pool. Releasing more than was
// claimed drops the claim entirely.
func (l *Ledger) Release(key string, r Resources) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.claims[key]
	if !ok {
		return
	}
	c = c.Subtract(r)
	if c.IsZero() || c.Negative() {
		delete(l.claims, key)
		return
	}
	l.claims[key] = c
}

// ReleaseAll drops every claim made by key.
func (l *Ledger) ReleaseAll(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, key)
}

// Claimed returns what key currently has committed.
func (l *Ledger) Claimed(key string) Resources {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claims[key]
}

// Free returns capacity minus the sum of all claims.
func (l *Ledger) Free() Resources {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.free()
}

// NrOfResourceSetsAvailable returns how many more copies of request the node
// could commit right now.
func (l *Ledger) NrOfResourceSetsAvailable(request Resources) int {
	return l.Free().Fits(request)
}

func (l *Ledger) free() Resources {
	free := l.available
	for _, c := range l.claims {
		free = free.Subtract(c)
	}
	return free
}
