// Package endpoints serves a node's admin HTTP surface: health, metrics and
// the status of every hosted job.
package endpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/scootdev/grid/common/stats"
	"github.com/scootdev/grid/domain"
)

// StatusFunc returns the status of every job a node hosts.
type StatusFunc func() []domain.JobStatus

func NewTwitterServer(addr string, stats stats.StatsReceiver, jobs StatusFunc) *TwitterServer {
	return &TwitterServer{Addr: addr, Stats: stats, Jobs: jobs}
}

type TwitterServer struct {
	Addr  string
	Stats stats.StatsReceiver
	Jobs  StatusFunc
}

func (s *TwitterServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", helpHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	mux.HandleFunc("/jobs", s.jobsHandler)
	return mux
}

// Serve blocks until the server fails.
func (s *TwitterServer) Serve() error {
	log.Infof("Serving http & stats on %s", s.Addr)
	return http.ListenAndServe(s.Addr, s.Handler())
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json', '/jobs', '/jobs?id={JOB_ID}'", http.StatusNotImplemented)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

const contentTypeHdr = "Content-Type"
const contentTypeVal = "application/json; charset=utf-8"

func (s *TwitterServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(contentTypeHdr, contentTypeVal)
	pretty := r.URL.Query().Get("pretty") == "true"
	if _, err := io.Copy(w, bytes.NewBuffer(s.Stats.Render(pretty))); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *TwitterServer) jobsHandler(w http.ResponseWriter, r *http.Request) {
	var jobs []domain.JobStatus
	if s.Jobs != nil {
		jobs = s.Jobs()
	}
	if id := r.URL.Query().Get("id"); id != "" {
		var matched []domain.JobStatus
		for _, j := range jobs {
			if j.JobID == id {
				matched = append(matched, j)
			}
		}
		if len(matched) == 0 {
			http.Error(w, fmt.Sprintf("no job %s on this node", id), http.StatusNotFound)
			return
		}
		jobs = matched
	}
	if jobs == nil {
		jobs = []domain.JobStatus{}
	}
	w.Header().Set(contentTypeHdr, contentTypeVal)
	enc := json.NewEncoder(w)
	if r.URL.Query().Get("pretty") == "true" {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(jobs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// MakeStatsReceiver is the receiver a node records into and serves from.
func MakeStatsReceiver(scope string) stats.StatsReceiver {
	return stats.FinagleStatsReceiver().Scope(scope)
}
