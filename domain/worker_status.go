package domain

import (
	"fmt"
)

// WorkerStatus is the lifecycle state of one supervised execution.
// The order matters: everything from WorkerDone on is finished, everything
// from WorkerUserError on is failed.
type WorkerStatus int

const (
	WorkerInit WorkerStatus = iota
	WorkerPreStage
	WorkerRunning
	WorkerPostStage
	WorkerDone
	WorkerKilled
	WorkerUserError
	WorkerFailed
	WorkerError
)

var workerStatusNames = []string{
	"INIT",
	"PRE_STAGE",
	"RUNNING",
	"POST_STAGE",
	"DONE",
	"KILLED",
	"USER_ERROR",
	"FAILED",
	"ERROR",
}

func (s WorkerStatus) String() string {
	if s < WorkerInit || int(s) >= len(workerStatusNames) {
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
	return workerStatusNames[s]
}

func (s WorkerStatus) Finished() bool {
	return s >= WorkerDone
}

func (s WorkerStatus) Failed() bool {
	return s >= WorkerUserError
}

func (s WorkerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *WorkerStatus) UnmarshalText(b []byte) error {
	for i, n := range workerStatusNames {
		if n == string(b) {
			*s = WorkerStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown worker status %q", string(b))
}
