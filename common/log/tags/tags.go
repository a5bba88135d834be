// Package tags carries the identifiers every log line about a job should have.
package tags

import (
	log "github.com/sirupsen/logrus"
)

type LogTags struct {
	JobID    string
	WorkerID string
	Node     string
}

func (t LogTags) Fields() log.Fields {
	f := log.Fields{}
	if t.JobID != "" {
		f["jobID"] = t.JobID
	}
	if t.WorkerID != "" {
		f["workerID"] = t.WorkerID
	}
	if t.Node != "" {
		f["node"] = t.Node
	}
	return f
}

// Entry starts a log entry with the tags already set.
func (t LogTags) Entry() *log.Entry {
	return log.WithFields(t.Fields())
}

func (t LogTags) WithWorker(workerID string) LogTags {
	t.WorkerID = workerID
	return t
}
