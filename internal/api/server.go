// Package api provides the HTTP API for observing and steering a run.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/constraints"
	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/persistence"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

const (
	maxSSEConns  = 4
	maxObservers = 8
)

// Server serves the simulation over HTTP.
type Server struct {
	Sim       *engine.Simulation
	Eng       *engine.Engine
	Manager   *constraints.Manager // optional
	DB        *persistence.DB      // optional
	Port      int
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.
	StreamKey string // Bearer token for the SSE stream. Empty = stream is public.

	// Regenerate builds the grid used by POST /api/v1/regenerate. Nil
	// disables the endpoint.
	Regenerate func() (*world.Grid, error)

	sseConns  atomic.Int32
	observers atomic.Int32
	upgrader  websocket.Upgrader
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	readLimiter := NewRateLimiter(600, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", RateLimitMiddleware(readLimiter, s.handleStatus))
	mux.HandleFunc("/api/v1/snapshot", RateLimitMiddleware(readLimiter, s.handleSnapshot))
	mux.HandleFunc("/api/v1/grid", RateLimitMiddleware(readLimiter, s.handleGrid))
	mux.HandleFunc("/api/v1/agents", RateLimitMiddleware(readLimiter, s.handleAgents))
	mux.HandleFunc("/api/v1/agent/", RateLimitMiddleware(readLimiter, s.handleAgentDetail))
	mux.HandleFunc("/api/v1/items", RateLimitMiddleware(readLimiter, s.handleItems))
	mux.HandleFunc("/api/v1/groups", RateLimitMiddleware(readLimiter, s.handleGroups))
	mux.HandleFunc("/api/v1/groups/history", RateLimitMiddleware(readLimiter, s.handleGroupHistory))
	mux.HandleFunc("/api/v1/events", RateLimitMiddleware(readLimiter, s.handleEvents))
	mux.HandleFunc("/api/v1/stats", RateLimitMiddleware(readLimiter, s.handleStats))

	// Streaming endpoints.
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/observe", s.handleObserve)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/save", s.adminOnly(s.handleSave))
	mux.HandleFunc("/api/v1/regenerate", s.adminOnly(s.handleRegenerate))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server can
// be shut down by the caller.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "stream_auth", s.StreamKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerMatches(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no GRIDSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !bearerMatches(r, s.AdminKey) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()
	roles := map[string]int{}
	blocked := 0
	for _, a := range snap.Agents {
		roles[a.Role.String()]++
		if a.State == agents.StateBlocked {
			blocked++
		}
	}

	status := map[string]any{
		"run_id":    snap.RunID,
		"tick":      snap.Tick,
		"rows":      snap.Rows,
		"cols":      snap.Cols,
		"agents":    roles,
		"blocked":   blocked,
		"items":     len(snap.Items),
		"delivered": len(snap.Delivered),
		"stats":     snap.Stats,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	if s.Manager != nil {
		status["scenario"] = s.Manager.Scenario().Name()
		status["groups"] = len(s.Manager.Groups())
	}
	writeJSON(w, status)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot())
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()
	writeJSON(w, map[string]any{
		"rows":  snap.Rows,
		"cols":  snap.Cols,
		"cells": snap.Cells,
		"zones": snap.Zones,
	})
}

type agentSummary struct {
	ID      agents.AgentID  `json:"id"`
	Name    string          `json:"name"`
	Role    string          `json:"role"`
	Row     int             `json:"row"`
	Col     int             `json:"col"`
	State   string          `json:"state"`
	Dwell   int             `json:"dwell"`
	Item    *agents.ItemID  `json:"item,omitempty"`
	Invalid bool            `json:"invalid,omitempty"`
	Hint    *world.Position `json:"hint,omitempty"`
}

func summarize(a agents.Agent) agentSummary {
	sum := agentSummary{
		ID:      a.ID,
		Name:    a.Name,
		Role:    a.Role.String(),
		Row:     a.Pos.Row,
		Col:     a.Pos.Col,
		State:   a.State.String(),
		Dwell:   a.Dwell,
		Invalid: a.Invalid,
		Hint:    a.Hint,
	}
	if a.Item != nil {
		id := a.Item.ID
		sum.Item = &id
	}
	return sum
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	var filter *agents.Role
	if rs := r.URL.Query().Get("role"); rs != "" {
		role, err := agents.ParseRole(rs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = &role
	}

	snap := s.Sim.Snapshot()
	out := make([]agentSummary, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		if filter != nil && a.Role != *filter {
			continue
		}
		out = append(out, summarize(a))
	}
	writeJSON(w, out)
}

// handleAgentDetail serves GET /api/v1/agent/:id.
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/agent/"), "/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	for _, a := range s.Sim.Snapshot().Agents {
		if a.ID == agents.AgentID(id) {
			writeJSON(w, a)
			return
		}
	}
	http.Error(w, "agent not found", http.StatusNotFound)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()
	items := snap.Items
	if items == nil {
		items = []agents.Item{}
	}
	delivered := snap.Delivered
	if delivered == nil {
		delivered = []agents.Delivery{}
	}
	writeJSON(w, map[string]any{"items": items, "delivered": delivered})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if s.Manager == nil {
		writeJSON(w, []any{})
		return
	}
	type groupSummary struct {
		*constraints.Group
		Formula string `json:"formula"`
		Relaxed bool   `json:"relaxed"`
	}
	groups := s.Manager.Groups()
	out := make([]groupSummary, len(groups))
	for i, g := range groups {
		out[i] = groupSummary{Group: g, Formula: g.Current.Formula(), Relaxed: g.Relaxed()}
	}
	writeJSON(w, out)
}

func (s *Server) handleGroupHistory(w http.ResponseWriter, r *http.Request) {
	if s.Manager == nil {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, s.Manager.Memory(limitParam(r, 50, constraints.DefaultMemoryRecords)))
}

func limitParam(r *http.Request, def, max int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

// handleEvents serves recent events from memory, or from the database with
// ?source=db. ?category= filters.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50, 500)
	category := r.URL.Query().Get("category")

	var events []engine.Event
	if r.URL.Query().Get("source") == "db" {
		if s.DB == nil {
			http.Error(w, "database not available", http.StatusServiceUnavailable)
			return
		}
		var err error
		if events, err = s.DB.RecentEvents(limit); err != nil {
			slog.Error("event query failed", "error", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
	} else {
		events = s.Sim.RecentEvents(0)
	}

	if category != "" {
		var filtered []engine.Event
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	out := events[start:]
	if out == nil {
		out = []engine.Event{}
	}
	writeJSON(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	snap := s.Sim.Snapshot()
	var groups []*constraints.Group
	if s.Manager != nil {
		groups = s.Manager.Groups()
	}
	if err := s.DB.SaveWorldState(snap, groups); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    snap.Tick,
		"message": "state saved",
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Regenerate == nil {
		http.Error(w, "regeneration not configured", http.StatusServiceUnavailable)
		return
	}
	g, err := s.Regenerate()
	if err != nil {
		slog.Warn("regeneration rejected", "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	rep, err := s.Sim.Regenerate(g)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	slog.Info("grid regenerated via API", "invalid_agents", len(rep.Invalid), "dropped_items", len(rep.DroppedItems))
	writeJSON(w, rep)
}

// handleStream provides an SSE endpoint for real-time event streaming.
// Limits concurrent connections.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.StreamKey != "" && !bearerMatches(r, s.StreamKey) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	current := s.sseConns.Add(1)
	defer s.sseConns.Add(-1)
	if current > maxSSEConns {
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ch := s.Sim.Subscribe()
	defer s.Sim.Unsubscribe(subID)

	// Catch-up: the last 50 events.
	for _, e := range s.Sim.RecentEvents(50) {
		writeSSEEvent(w, e)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, e engine.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Category, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
