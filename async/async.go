// Package async runs work on goroutines and hands the results back to the
// one goroutine that owns some state. A control loop starts calls with
// RunAsync and applies their outcomes when it calls ProcessMessages, so the
// callbacks never race with the loop.
package async

import (
	"sync"
)

// AsyncError is a future holding the error a piece of async work ended with.
type AsyncError struct {
	errCh     chan error
	val       error
	completed bool
}

func newAsyncError() *AsyncError {
	return &AsyncError{errCh: make(chan error, 1)}
}

// SetValue completes the future. Calling it twice panics.
func (e *AsyncError) SetValue(err error) {
	e.errCh <- err
	close(e.errCh)
}

// TryGetValue reports whether the future completed, and with what.
func (e *AsyncError) TryGetValue() (bool, error) {
	if e.completed {
		return true, e.val
	}
	select {
	case err := <-e.errCh:
		e.val = err
		e.completed = true
		return true, err
	default:
		return false, nil
	}
}

// AsyncErrorResponseHandler is invoked with the outcome of the work.
type AsyncErrorResponseHandler func(error)

type message struct {
	err      *AsyncError
	callback AsyncErrorResponseHandler
}

// Mailbox pairs futures with their callbacks. It is not safe for
// concurrent use, only the owning goroutine touches it.
type Mailbox struct {
	msgs []message
}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

func (bx *Mailbox) Count() int {
	return len(bx.msgs)
}

// NewAsyncError returns a future whose callback runs on the first
// ProcessMessages after it completes.
func (bx *Mailbox) NewAsyncError(cb AsyncErrorResponseHandler) *AsyncError {
	msg := message{err: newAsyncError(), callback: cb}
	bx.msgs = append(bx.msgs, msg)
	return msg.err
}

// ProcessMessages runs the callbacks of every completed future, in the
// order the futures were created, and forgets them.
func (bx *Mailbox) ProcessMessages() {
	var pending []message
	for _, msg := range bx.msgs {
		if ok, err := msg.err.TryGetValue(); ok {
			msg.callback(err)
		} else {
			pending = append(pending, msg)
		}
	}
	bx.msgs = pending
}

// Runner spawns work and tracks it in a Mailbox. Like the mailbox, a Runner
// belongs to one goroutine; only the spawned work runs elsewhere.
type Runner struct {
	bx *Mailbox
	wg *sync.WaitGroup
}

func NewRunner() Runner {
	return Runner{bx: NewMailbox(), wg: &sync.WaitGroup{}}
}

// NumRunning counts work whose callback has not run yet.
func (r *Runner) NumRunning() int {
	return r.bx.Count()
}

// RunAsync runs f on its own goroutine. cb gets f's result during a later
// ProcessMessages.
func (r *Runner) RunAsync(f func() error, cb AsyncErrorResponseHandler) {
	asyncErr := r.bx.NewAsyncError(cb)
	r.wg.Add(1)
	go func(rsp *AsyncError) {
		defer r.wg.Done()
		rsp.SetValue(f())
	}(asyncErr)
}

func (r *Runner) ProcessMessages() {
	r.bx.ProcessMessages()
}

// Drain waits for all spawned work and runs the remaining callbacks.
func (r *Runner) Drain() {
	r.wg.Wait()
	r.bx.ProcessMessages()
}
