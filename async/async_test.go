package async

import (
	"errors"
	"testing"
)

func TestAsyncError(t *testing.T) {
	err := newAsyncError()
	if ok, retErr := err.TryGetValue(); ok || retErr != nil {
		t.Fatal("Expected an uncompleted AsyncError to be pending")
	}

	testErr := errors.New("Test Error!")
	err.SetValue(testErr)
	for i := 0; i < 2; i++ {
		ok, retErr := err.TryGetValue()
		if !ok || retErr != testErr {
			t.Fatalf("Expected completed value %v, got %v, %v", testErr, ok, retErr)
		}
	}
}

func TestAsyncError_CallingSetValueMoreThanOncePanics(t *testing.T) {
	err := newAsyncError()
	err.SetValue(nil)

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected calling SetValue twice to cause a panic")
		}
	}()
	err.SetValue(nil)
}

func TestMailboxRunsCallbacksOnProcess(t *testing.T) {
	mailbox := NewMailbox()
	var got []error
	first := mailbox.NewAsyncError(func(err error) { got = append(got, err) })
	second := mailbox.NewAsyncError(func(err error) { got = append(got, err) })

	second.SetValue(errors.New("second"))
	mailbox.ProcessMessages()
	if len(got) != 1 || got[0].Error() != "second" || mailbox.Count() != 1 {
		t.Fatalf("Expected only the completed callback to run, got %v", got)
	}

	first.SetValue(nil)
	mailbox.ProcessMessages()
	if len(got) != 2 || got[1] != nil || mailbox.Count() != 0 {
		t.Fatalf("Expected both callbacks to have run, got %v", got)
	}
}

// Three writes to replicas, stored once two of them succeed.
func TestRunnerQuorum(t *testing.T) {
	runner := NewRunner()
	succeeded, returned := 0, 0
	cb := func(err error) {
		if err == nil {
			succeeded++
		}
		returned++
	}
	runner.RunAsync(func() error { return nil }, cb)
	runner.RunAsync(func() error { return errors.New("replica down") }, cb)
	runner.RunAsync(func() error { return nil }, cb)

	for succeeded < 2 && returned < 3 {
		runner.ProcessMessages()
	}
	if succeeded < 2 {
		t.Fatalf("Expected a quorum of writes, got %d of %d", succeeded, returned)
	}

	runner.Drain()
	if returned != 3 || runner.NumRunning() != 0 {
		t.Fatalf("Expected every callback after Drain, got %d", returned)
	}
}
