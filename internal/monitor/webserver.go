// Package monitor serves the HTTP observability surface: current stats,
// snapshot history, a delay chart, and live SQL access to the stats
// database. It observes the correlator only through published snapshots
// and never touches its state.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/skew.report/internal/correlate"
	"github.com/banshee-data/skew.report/internal/httputil"
	"github.com/banshee-data/skew.report/internal/monitoring"
	"github.com/banshee-data/skew.report/internal/store"
)

// historyLimit bounds the in-memory snapshot history: one hour at the 10s
// stats period.
const historyLimit = 360

// Config configures the web server.
type Config struct {
	// Address is the HTTP listen address, e.g. ":8080".
	Address string
	// Store, if non-nil, is exposed read-only through the debug SQL
	// endpoint.
	Store *store.Store
	// StorePath labels the debug SQL connection.
	StorePath string
}

// WebServer is the HTTP monitor. It implements correlate.Reporter so it can
// be wired straight into the engine's reporter fan-out.
type WebServer struct {
	address string
	server  *http.Server

	mu      sync.Mutex
	latest  *correlate.Snapshot
	history []correlate.Snapshot
}

// NewWebServer creates the monitor server and registers its routes.
func NewWebServer(cfg Config) *WebServer {
	ws := &WebServer{address: cfg.Address}
	ws.server = &http.Server{
		Addr:    cfg.Address,
		Handler: ws.setupRoutes(cfg.Store, cfg.StorePath),
	}
	return ws
}

// RecordMatch implements correlate.Reporter. Matches are visible through
// snapshot counters; nothing to do per match.
func (ws *WebServer) RecordMatch(correlate.PacketID, time.Duration) {}

// PublishStats implements correlate.Reporter, keeping the latest snapshot
// and a bounded history for the chart.
func (ws *WebServer) PublishStats(s correlate.Snapshot) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.latest = &s
	ws.history = append(ws.history, s)
	if len(ws.history) > historyLimit {
		ws.history = ws.history[len(ws.history)-historyLimit:]
	}
}

// Start runs the server until ctx is cancelled, then shuts it down.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("monitor listening on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("monitor server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("monitor shutdown error: %v", err)
		return ws.server.Close()
	}
	return nil
}

// Handler exposes the route mux for tests.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

func (ws *WebServer) setupRoutes(st *store.Store, storePath string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/stats/history", ws.handleHistory)
	mux.HandleFunc("/debug/chart/delay", ws.handleDelayChart)

	if st != nil {
		ws.attachDebugSQL(mux, st, storePath)
	}
	return mux
}

// attachDebugSQL mounts the tsweb debugger with a tailsql browser over the
// stats database.
func (ws *WebServer) attachDebugSQL(mux *http.ServeMux, st *store.Store, storePath string) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("debug sql disabled: %v", err)
		return
	}
	tsql.SetDB("sqlite://"+storePath, st.DB(), &tailsql.DBOptions{
		Label: "Skew stats DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ws.mu.Lock()
	latest := ws.latest
	ws.mu.Unlock()

	if latest == nil {
		httputil.NotFound(w, "no stats published yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, latest)
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	ws.mu.Lock()
	history := append([]correlate.Snapshot(nil), ws.history...)
	ws.mu.Unlock()

	httputil.WriteJSON(w, http.StatusOK, history)
}
