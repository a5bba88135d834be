package domain

import (
	"time"

	"github.com/scootdev/grid/resources"
)

// DynamicState is the replicated part of a job. The Primary attaches it to
// every reply and pushes it to constituents when it changes.
type DynamicState struct {
	Stats                   map[string]string `json:"stats"`
	Attributes              Attributes        `json:"attributes"`
	Phase                   Phase             `json:"phase"`
	Constituents            []Endpoint        `json:"constituents"`
	RemainingDeadlineMillis int64             `json:"remainingDeadlineMillis"`
}

// RemainingDeadline converts the millisecond count back to a duration.
func (s DynamicState) RemainingDeadline() time.Duration {
	return time.Duration(s.RemainingDeadlineMillis) * time.Millisecond
}

// StaticState is what a replica needs once, at registration, to run workers.
type StaticState struct {
	JobID           string              `json:"jobID"`
	Description     Description         `json:"description"`
	WorkerResources resources.Resources `json:"workerResources"`
}

type WorkerInfo struct {
	ID       string       `json:"id"`
	Status   WorkerStatus `json:"status"`
	ExitCode int          `json:"exitCode"`
}

// JobStatus is what the status surface reports for every job a node hosts.
type JobStatus struct {
	JobID                   string            `json:"jobID"`
	Role                    Role              `json:"role"`
	Node                    Endpoint          `json:"node"`
	Phase                   Phase             `json:"phase"`
	Attributes              Attributes        `json:"attributes"`
	Stats                   map[string]string `json:"stats"`
	Constituents            []Endpoint        `json:"constituents,omitempty"`
	RemainingDeadlineMillis int64             `json:"remainingDeadlineMillis"`
	Workers                 []WorkerInfo      `json:"workers,omitempty"`
	Started                 *time.Time        `json:"started,omitempty"`
	Stopped                 *time.Time        `json:"stopped,omitempty"`
}
