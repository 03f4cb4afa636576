package dashboard

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/notemirror/notemirror/internal/daemon"
	"github.com/notemirror/notemirror/internal/graph"
	"github.com/notemirror/notemirror/internal/schema"
	nmsync "github.com/notemirror/notemirror/internal/sync"
)

// StatsData contains snapshot and run statistics
type StatsData struct {
	Total  int                 `json:"total"`
	ByKind map[schema.Kind]int `json:"by_kind"`

	LastSync  time.Time      `json:"last_sync,omitempty"`
	LastRun   *nmsync.Report `json:"last_run,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Syncing   bool           `json:"syncing"`

	Backoff      string    `json:"backoff"`
	BackoffUntil time.Time `json:"backoff_until,omitempty"`

	Daemon *daemon.Status `json:"daemon,omitempty"`
}

// BackoffData is broadcast when the rate-limit controller changes state
type BackoffData struct {
	State    string        `json:"state"`
	Cooldown time.Duration `json:"cooldown"`
	Until    time.Time     `json:"until,omitempty"`
}

// Handler turns sync engine, rate-limit and daemon events into dashboard
// messages. Its methods are safe for concurrent use.
type Handler struct {
	server *Server
	logger *log.Logger

	mu      sync.Mutex
	stats   StatsData
	trigger func()
}

// NewHandler creates a new event handler connected to a dashboard server
// and registers the /api routes on it.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
		stats: StatsData{
			ByKind:  make(map[schema.Kind]int),
			Backoff: graph.Flowing.String(),
		},
	}
	server.Handle("/api/status", h.handleStatus)
	server.Handle("/api/sync", h.handleSync)
	return h
}

// SetTrigger installs the function /api/sync calls to request a run.
func (h *Handler) SetTrigger(fn func()) {
	h.mu.Lock()
	h.trigger = fn
	h.mu.Unlock()
}

// OnSyncEvent handles sync engine events. It matches sync.Observer.
func (h *Handler) OnSyncEvent(ev nmsync.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("Failed to marshal sync event: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeSync, Timestamp: ev.At, Data: data})

	h.mu.Lock()
	changed := true
	switch ev.Type {
	case nmsync.EventRunStarted:
		h.stats.Syncing = true
	case nmsync.EventRunFinished:
		h.stats.Syncing = false
		h.stats.LastRun = ev.Report
		h.stats.LastError = ""
		if ev.Report != nil && !ev.Report.Partial() {
			h.stats.LastSync = ev.Report.StartedAt
		}
	case nmsync.EventRunFailed:
		h.stats.Syncing = false
		h.stats.LastRun = ev.Report
		h.stats.LastError = ev.Error
	default:
		changed = false
	}
	h.mu.Unlock()

	if changed {
		h.broadcastStats()
	}
}

// OnBackoff handles rate-limit state changes. It matches the signature
// graph.Backoff.Subscribe expects.
func (h *Handler) OnBackoff(ev graph.BackoffEvent) {
	data := BackoffData{State: ev.State.String(), Cooldown: ev.Cooldown}
	if ev.State == graph.Suspended {
		data.Until = ev.At.Add(ev.Cooldown)
		h.logger.Printf("Rate limited, pausing requests for %s", ev.Cooldown)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal backoff data: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeBackoff, Timestamp: ev.At, Data: dataJSON})

	h.mu.Lock()
	h.stats.Backoff = data.State
	h.stats.BackoffUntil = data.Until
	h.mu.Unlock()
	h.broadcastStats()
}

// OnDaemonStatus publishes the daemon's state after a run.
func (h *Handler) OnDaemonStatus(st daemon.Status) {
	dataJSON, err := json.Marshal(st)
	if err != nil {
		h.logger.Printf("Failed to marshal daemon status: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeDaemon, Data: dataJSON})

	h.mu.Lock()
	h.stats.Daemon = &st
	h.mu.Unlock()
	h.broadcastStats()
}

// UpdateCounts replaces the per-kind node counts, typically after a commit.
func (h *Handler) UpdateCounts(counts map[schema.Kind]int, lastSync time.Time) {
	h.mu.Lock()
	h.stats.ByKind = make(map[schema.Kind]int, len(counts))
	h.stats.Total = 0
	for kind, n := range counts {
		h.stats.ByKind[kind] = n
		h.stats.Total += n
	}
	if !lastSync.IsZero() {
		h.stats.LastSync = lastSync
	}
	h.mu.Unlock()

	h.broadcastStats()
}

// GetStats returns a copy of the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := h.stats
	stats.ByKind = make(map[schema.Kind]int, len(h.stats.ByKind))
	for k, v := range h.stats.ByKind {
		stats.ByKind[k] = v
	}
	return stats
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	dataJSON, err := json.Marshal(h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeStats, Data: dataJSON})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, h.GetStats())
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	h.mu.Lock()
	trigger := h.trigger
	h.mu.Unlock()

	if trigger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no daemon attached"})
		return
	}
	trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync requested"})
}
