package hooks

import (
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

type jobKey struct {
	jobID string
	node  string
}

// JobHook copies every entry tagged with a registered jobID and node to that
// job's writer. Jobs come and go through Add and Remove; the hook itself is
// added to a logger once.
type JobHook struct {
	mu        sync.Mutex
	outs      map[jobKey]io.Writer
	formatter log.Formatter
}

func NewJobHook() *JobHook {
	return &JobHook{
		outs:      map[jobKey]io.Writer{},
		formatter: &log.TextFormatter{DisableColors: true, FullTimestamp: true},
	}
}

var (
	stdJobHook     *JobHook
	stdJobHookOnce sync.Once
)

// JobLogs returns the JobHook of the standard logger, adding it on first use.
func JobLogs() *JobHook {
	stdJobHookOnce.Do(func() {
		stdJobHook = NewJobHook()
		log.AddHook(stdJobHook)
	})
	return stdJobHook
}

// Add starts copying the entries of jobID on node to out, replacing any
// earlier writer for them.
func (h *JobHook) Add(jobID, node string, out io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outs[jobKey{jobID, node}] = out
}

func (h *JobHook) Remove(jobID, node string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.outs, jobKey{jobID, node})
}

// Len is the number of jobs currently logged.
func (h *JobHook) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.outs)
}

func (h *JobHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *JobHook) Fire(entry *log.Entry) error {
	jobID, _ := entry.Data["jobID"].(string)
	node, _ := entry.Data["node"].(string)
	if jobID == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out, ok := h.outs[jobKey{jobID, node}]
	if !ok {
		return nil
	}
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
