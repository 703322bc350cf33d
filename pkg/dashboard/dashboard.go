// Package dashboard provides an embedded web dashboard for the bytecode
// interpreter service.
//
// The dashboard provides:
// - Service status and executor counters
// - Stored program browser with disassembly
// - Recent runs and run details from the journal
// - Runtime metrics (memory, goroutines, uptime)
//
// Templates and styles are compiled into the binary.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fortiblox/bci/internal/types"
	"github.com/fortiblox/bci/pkg/executor"
	"github.com/fortiblox/bci/pkg/programstore"
	"github.com/fortiblox/bci/pkg/runlog"
	"github.com/fortiblox/bci/pkg/vm"
)

// Config holds dashboard configuration options.
type Config struct {
	// Addr is the listen address (host:port).
	// Default: "127.0.0.1:8080"
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration

	// RecentRuns is the number of runs shown on the runs page.
	RecentRuns int
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		RecentRuns:   25,
	}
}

// Journal is the read side of the run journal used by the dashboard.
type Journal interface {
	Get(id uint64) (*runlog.Record, error)
	ListByProgram(id types.ProgramID, limit int) ([]*runlog.Record, error)
	Count() uint64
	LastID() uint64
}

// Dashboard is the web dashboard server.
type Dashboard struct {
	config   Config
	server   *http.Server
	exec     *executor.Executor
	programs programstore.Store
	journal  Journal

	// Cached templates
	templates *template.Template

	// State
	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// New creates a new dashboard server.
func New(config Config, exec *executor.Executor, programs programstore.Store, journal Journal) (*Dashboard, error) {
	// Apply defaults
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.RecentRuns <= 0 {
		config.RecentRuns = def.RecentRuns
	}

	d := &Dashboard{
		config:    config,
		exec:      exec,
		programs:  programs,
		journal:   journal,
		startTime: time.Now(),
	}

	tmpl, err := d.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	d.templates = tmpl

	return d, nil
}

// parseTemplates parses all embedded templates.
func (d *Dashboard) parseTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatBytes":    formatBytes,
		"formatTime":     formatTime,
		"truncateHash":   truncateHash,
	}

	tmpl := template.New("").Funcs(funcMap)

	if _, err := tmpl.New("layout").Parse(layoutTemplate); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	templates := map[string]string{
		"home":     homeTemplate,
		"programs": programsTemplate,
		"program":  programDetailTemplate,
		"runs":     runsTemplate,
		"run":      runDetailTemplate,
	}

	for name, content := range templates {
		if _, err := tmpl.New(name).Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}

	return tmpl, nil
}

// Handler returns the dashboard's HTTP handler.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static assets
	mux.HandleFunc("/static/", d.handleStatic)

	// Page routes
	mux.HandleFunc("/", d.handleHome)
	mux.HandleFunc("/programs", d.handlePrograms)
	mux.HandleFunc("/programs/", d.handleProgramDetail)
	mux.HandleFunc("/runs", d.handleRuns)
	mux.HandleFunc("/runs/", d.handleRunDetail)

	// API routes
	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/programs", d.handleAPIPrograms)
	mux.HandleFunc("/api/runs/", d.handleAPIRun)
	mux.HandleFunc("/api/metrics", d.handleAPIMetrics)

	return mux
}

// Start starts the dashboard HTTP server and blocks until ctx is canceled.
func (d *Dashboard) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.config.Addr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve serves the dashboard on ln until ctx is canceled.
func (d *Dashboard) Serve(ctx context.Context, ln net.Listener) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		ln.Close()
		return fmt.Errorf("dashboard already running")
	}
	d.running = true
	d.server = &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	srv := d.server
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the dashboard server.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	srv := d.server
	d.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

// handleHome renders the overview page.
func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	d.renderPage(w, "home", d.getStatus())
}

// handlePrograms renders the stored program list.
func (d *Dashboard) handlePrograms(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{}
	if d.programs == nil {
		data["Error"] = "Program store not configured"
	} else if metas, err := d.programs.List(); err != nil {
		data["Error"] = fmt.Sprintf("List programs: %v", err)
	} else {
		data["Programs"] = metas
	}
	d.renderPage(w, "programs", data)
}

// handleProgramDetail renders one program: metadata, listing and runs.
func (d *Dashboard) handleProgramDetail(w http.ResponseWriter, r *http.Request) {
	// Extract ID from path: /programs/{id}
	idStr := strings.TrimPrefix(r.URL.Path, "/programs/")
	if idStr == "" {
		http.Redirect(w, r, "/programs", http.StatusFound)
		return
	}

	data := map[string]interface{}{"ProgramID": idStr}
	id, err := types.ProgramIDFromBase58(idStr)
	if err != nil {
		data["Error"] = fmt.Sprintf("Invalid program ID: %v", err)
		d.renderPage(w, "program", data)
		return
	}
	if d.programs == nil {
		data["Error"] = "Program store not configured"
		d.renderPage(w, "program", data)
		return
	}

	prog, err := d.programs.Get(id)
	if err != nil {
		data["Error"] = fmt.Sprintf("Program not found: %v", err)
		d.renderPage(w, "program", data)
		return
	}
	data["Program"] = prog.Meta
	data["Listing"] = vm.Disassemble(prog.Code)

	if d.journal != nil {
		runs, err := d.journal.ListByProgram(id, d.config.RecentRuns)
		if err == nil {
			data["Runs"] = runs
		}
	}
	d.renderPage(w, "program", data)
}

// handleRuns renders the most recent runs.
func (d *Dashboard) handleRuns(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{}
	if d.journal == nil {
		data["Error"] = "Run journal not configured"
	} else {
		data["Runs"] = d.getRecentRuns(d.config.RecentRuns)
	}
	d.renderPage(w, "runs", data)
}

// handleRunDetail renders a single run.
func (d *Dashboard) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/runs/")
	if idStr == "" {
		http.Redirect(w, r, "/runs", http.StatusFound)
		return
	}

	runID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	data := map[string]interface{}{"RunID": runID}
	if d.journal == nil {
		data["Error"] = "Run journal not configured"
	} else if rec, err := d.journal.Get(runID); err != nil {
		data["Error"] = fmt.Sprintf("Run not found: %v", err)
	} else {
		data["Run"] = rec
	}
	d.renderPage(w, "run", data)
}

// handleStatic serves embedded static assets.
func (d *Dashboard) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/static/")

	content, contentType, ok := getStaticAsset(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write([]byte(content))
}

// getStatus collects the current service status.
func (d *Dashboard) getStatus() StatusResponse {
	uptime := time.Since(d.startTime)
	s := StatusResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
	}

	if d.programs != nil {
		s.ProgramCount = d.programs.Count()
	}
	if d.journal != nil {
		s.RunCount = d.journal.Count()
	}
	if d.exec != nil {
		es := d.exec.Stats()
		s.Runs = es.Runs
		s.Completed = es.Completed
		s.Faulted = es.Faulted
		s.Steps = es.Steps
		s.MaxSteps = d.exec.Config().MaxSteps
		s.Workers = d.exec.Config().Workers
	}
	if uptime.Seconds() > 0 {
		s.RunsPerSec = float64(s.Runs) / uptime.Seconds()
	}
	return s
}

// getRecentRuns returns up to n runs, newest first. IDs are contiguous, so
// it walks back from the last assigned ID.
func (d *Dashboard) getRecentRuns(n int) []*runlog.Record {
	var runs []*runlog.Record
	for id := d.journal.LastID(); id > 0 && len(runs) < n; id-- {
		rec, err := d.journal.Get(id)
		if err != nil {
			continue
		}
		runs = append(runs, rec)
	}
	return runs
}

// renderPage renders a page template inside the layout.
func (d *Dashboard) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	// First render the content template into a buffer
	var contentBuf strings.Builder
	if err := d.templates.ExecuteTemplate(&contentBuf, name, data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}

	pageData := map[string]interface{}{
		"PageName": name,
		"Content":  template.HTML(contentBuf.String()),
	}

	if err := d.templates.ExecuteTemplate(w, "layout", pageData); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Template helper functions

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func formatNumber(n interface{}) string {
	switch v := n.(type) {
	case int:
		return formatInt(int64(v))
	case int64:
		return formatInt(v)
	case uint64:
		return formatInt(int64(v))
	case float64:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%v", n)
	}
}

func formatInt(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}

func formatBytes(bytes int) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

func truncateHash(s string, n int) string {
	if len(s) <= n*2+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}

// getMemStats returns current memory statistics.
func getMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}
