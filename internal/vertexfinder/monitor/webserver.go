package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/zvertex/internal/monitoring"
	"github.com/banshee-data/zvertex/internal/vertexfinder"
)

// WebServer serves the debug pages of a vertex finder run. It keeps the
// most recently recorded event for the chart and summary pages.
type WebServer struct {
	address string
	runID   string
	metrics *monitoring.Metrics
	server  *http.Server

	mu     sync.RWMutex
	last   *eventSnapshot
	events int
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	RunID   string
	Metrics *monitoring.Metrics
}

type eventSnapshot struct {
	Index    int
	Recorded time.Time
	Tracks   []vertexfinder.Track
	Result   *vertexfinder.Result
}

// NewWebServer creates the server; Start begins listening.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		runID:   config.RunID,
		metrics: config.Metrics,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Record makes an event the one shown by the debug pages.
func (ws *WebServer) Record(index int, tracks []vertexfinder.Track, res *vertexfinder.Result) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.last = &eventSnapshot{Index: index, Recorded: time.Now(), Tracks: tracks, Result: res}
	ws.events++
}

func (ws *WebServer) snapshot() (*eventSnapshot, int) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.last, ws.events
}

// Handler returns the server's routes.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting debug HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("debug server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down debug HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)

	debug := tsweb.Debugger(mux)
	debug.HandleFunc("zvertex", "Last event: tracks and vertices along z", ws.handleEventChart)
	debug.HandleFunc("zvertex.json", "Last event: vertices as JSON", ws.handleEventJSON)
	if ws.metrics != nil {
		debug.Handle("zvertex-metrics", "Vertex finder metrics (Prometheus format)", ws.metrics.Handler())
	}
	return mux
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, n := ws.snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"service":   "zvertex",
		"run_id":    ws.runID,
		"events":    n,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (ws *WebServer) handleEventChart(w http.ResponseWriter, r *http.Request) {
	last, _ := ws.snapshot()
	if last == nil {
		http.Error(w, "no event processed yet", http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	title := fmt.Sprintf("Event %d", last.Index)
	if err := RenderEventChart(&buf, title, last.Result, last.Tracks); err != nil {
		http.Error(w, "failed to render chart", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (ws *WebServer) handleEventJSON(w http.ResponseWriter, r *http.Request) {
	last, _ := ws.snapshot()
	if last == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no event processed yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		RunID    string               `json:"run_id"`
		Event    int                  `json:"event"`
		Recorded time.Time            `json:"recorded"`
		Result   *vertexfinder.Result `json:"result"`
	}{ws.runID, last.Index, last.Recorded, last.Result})
}
