package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// contextHook adds the caller's file:line to every entry.
type contextHook struct {
}

func NewContextHook() contextHook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	lines := strings.Split(string(debug.Stack()), "\n")
	// Frames come in pairs of lines (function, file:line). Skip logrus' own
	// frames and report the first one past them.
	foundLogrus := false
	for i := 1; i+1 < len(lines); i += 2 {
		file := strings.TrimSpace(lines[i+1])
		inLogrus := strings.Contains(file, "sirupsen/logrus")
		if inLogrus {
			foundLogrus = true
			continue
		}
		if foundLogrus {
			ctx := strings.Split(file, "grid/")
			entry.Data["file:line"] = strings.Split(ctx[len(ctx)-1], " ")[0]
			return nil
		}
	}
	return nil
}
