package dashboard

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fortiblox/bci/pkg/runlog"
)

// API response types

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	ProgramCount  uint64  `json:"programCount"`
	RunCount      uint64  `json:"runCount"`
	Runs          uint64  `json:"runsSinceStart"`
	Completed     uint64  `json:"completedSinceStart"`
	Faulted       uint64  `json:"faultedSinceStart"`
	Steps         uint64  `json:"stepsSinceStart"`
	RunsPerSec    float64 `json:"runsPerSec"`
	MaxSteps      uint64  `json:"maxSteps"`
	Workers       int     `json:"workers"`
}

// ProgramBrief is a brief program summary.
type ProgramBrief struct {
	ProgramID  string `json:"programId"`
	Name       string `json:"name,omitempty"`
	Size       int    `json:"size"`
	StoredSize int    `json:"storedSize"`
	CreatedAt  int64  `json:"createdAt"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	// Memory stats
	MemAlloc     uint64 `json:"memAlloc"`     // Currently allocated heap memory
	MemSys       uint64 `json:"memSys"`       // Memory obtained from OS
	MemHeapInuse uint64 `json:"memHeapInuse"` // Heap memory in use
	NumGC        uint32 `json:"numGC"`        // Number of GC cycles

	// Runtime stats
	NumGoroutine int    `json:"numGoroutine"`
	NumCPU       int    `json:"numCPU"`
	GoVersion    string `json:"goVersion"`

	// Store stats
	ProgramCount uint64 `json:"programCount"`
	StoredBytes  uint64 `json:"storedBytes"`
	DatabaseSize int64  `json:"databaseSize"`
	RunCount     uint64 `json:"runCount"`

	Uptime float64 `json:"uptimeSeconds"`
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.getStatus())
}

// handleAPIPrograms handles GET /api/programs.
func (d *Dashboard) handleAPIPrograms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.programs == nil {
		writeError(w, "Program store not configured", http.StatusServiceUnavailable)
		return
	}

	metas, err := d.programs.List()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	briefs := make([]ProgramBrief, 0, len(metas))
	for _, m := range metas {
		briefs = append(briefs, ProgramBrief{
			ProgramID:  m.ID.String(),
			Name:       m.Name,
			Size:       m.Size,
			StoredSize: m.StoredSize,
			CreatedAt:  m.CreatedAt.Unix(),
		})
	}
	writeJSON(w, briefs)
}

// handleAPIRun handles GET /api/runs/:id.
func (d *Dashboard) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.journal == nil {
		writeError(w, "Run journal not configured", http.StatusServiceUnavailable)
		return
	}

	runID, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/api/runs/"), 10, 64)
	if err != nil {
		writeError(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	rec, err := d.journal.Get(runID)
	if errors.Is(err, runlog.ErrNotFound) {
		writeError(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mem := getMemStats()
	resp := MetricsResponse{
		MemAlloc:     mem.Alloc,
		MemSys:       mem.Sys,
		MemHeapInuse: mem.HeapInuse,
		NumGC:        mem.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		Uptime:       time.Since(d.startTime).Seconds(),
	}

	if d.programs != nil {
		if stats, err := d.programs.GetStats(); err == nil {
			resp.ProgramCount = stats.ProgramCount
			resp.StoredBytes = stats.StoredBytes
			resp.DatabaseSize = stats.DatabaseSize
		}
	}
	if d.journal != nil {
		resp.RunCount = d.journal.Count()
	}

	writeJSON(w, resp)
}
