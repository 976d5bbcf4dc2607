package dashboard

import (
	"encoding/hex"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/fortiblox/stackvm/pkg/executor"
)

// API response types

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptimeSeconds"`
	Hash          string         `json:"hash"`
	MaxSteps      uint64         `json:"maxSteps"`
	Stats         executor.Stats `json:"stats"`
	CacheHitRate  float64        `json:"cacheHitRate"`
	FailureKinds  []KindCount    `json:"failureKinds"`
}

// KindCount is a failure count for one error kind.
type KindCount struct {
	Kind  string `json:"kind"`
	Count uint64 `json:"count"`
}

// ProgramResponse is the response for GET /api/program.
type ProgramResponse struct {
	ProgramID    string   `json:"programId,omitempty"`
	Size         int      `json:"size"`
	Instructions []string `json:"instructions"`
	Error        string   `json:"error,omitempty"`
	ErrorKind    string   `json:"errorKind,omitempty"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	MemAlloc      uint64 `json:"memAlloc"`
	MemTotalAlloc uint64 `json:"memTotalAlloc"`
	MemSys        uint64 `json:"memSys"`
	MemHeapInuse  uint64 `json:"memHeapInuse"`
	NumGC         uint32 `json:"numGC"`
	NumGoroutine  int    `json:"numGoroutine"`
	NumCPU        int    `json:"numCPU"`
	GoVersion     string `json:"goVersion"`
}

// status collects the data shown on the overview page.
func (d *Dashboard) status() StatusResponse {
	stats := d.exec.Stats()
	cfg := d.exec.Config()
	uptime := time.Since(d.startTime)

	resp := StatusResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
		Hash:          string(cfg.Hash),
		MaxSteps:      cfg.MaxSteps,
		Stats:         stats,
	}
	if stats.Executions > 0 {
		resp.CacheHitRate = float64(stats.CacheHits) / float64(stats.Executions)
	}
	for kind, n := range stats.FailuresByKind {
		resp.FailureKinds = append(resp.FailureKinds, KindCount{Kind: kind, Count: n})
	}
	sort.Slice(resp.FailureKinds, func(i, j int) bool {
		return resp.FailureKinds[i].Kind < resp.FailureKinds[j].Kind
	})
	return resp
}

// inspect digests and disassembles a hex-encoded program.
func (d *Dashboard) inspect(src string) ProgramResponse {
	var resp ProgramResponse

	program, err := hex.DecodeString(strings.Join(strings.Fields(src), ""))
	if err != nil {
		resp.Error = "invalid hex: " + err.Error()
		return resp
	}
	resp.Size = len(program)

	if id, err := d.exec.ProgramID(program); err == nil {
		resp.ProgramID = id.String()
	}

	instrs, err := d.exec.Disassemble(program)
	resp.Instructions = make([]string, len(instrs))
	for i, in := range instrs {
		resp.Instructions[i] = in.String()
	}
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = executor.ErrorKind(err)
	}
	return resp
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.status())
}

// handleAPIProgram handles GET /api/program?hex=....
func (d *Dashboard) handleAPIProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	src := r.URL.Query().Get("hex")
	if src == "" {
		writeError(w, "missing hex parameter", http.StatusBadRequest)
		return
	}
	writeJSON(w, d.inspect(src))
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, MetricsResponse{
		MemAlloc:      memStats.Alloc,
		MemTotalAlloc: memStats.TotalAlloc,
		MemSys:        memStats.Sys,
		MemHeapInuse:  memStats.HeapInuse,
		NumGC:         memStats.NumGC,
		NumGoroutine:  runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GoVersion:     runtime.Version(),
	})
}
