package domain

import (
	uuid "github.com/nu7hatch/gouuid"
)

// NewJobID generates a process-wide unique job ID.
func NewJobID() string {
	return newUUID()
}

// NewWorkerID generates a worker ID. Copies pick candidate IDs themselves, so
// they must be unique across nodes and not just within one.
func NewWorkerID() string {
	return newUUID()
}

func newUUID() string {
	// uuid.NewV4() only fails if crypto/rand fails.
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}
