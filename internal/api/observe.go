package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
)

const (
	observeWriteWait = 5 * time.Second
	observeReadWait  = 60 * time.Second
	observePingEvery = 25 * time.Second
)

// observeMsg is one frame sent to a websocket observer.
type observeMsg struct {
	Type     string           `json:"type"` // "snapshot" or "event"
	Snapshot *engine.Snapshot `json:"snapshot,omitempty"`
	Event    *engine.Event    `json:"event,omitempty"`
}

// handleObserve upgrades to a websocket and pushes the current snapshot,
// then one snapshot per completed tick and every event as it happens.
// Slow observers miss frames rather than stall the simulation.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	current := s.observers.Add(1)
	defer s.observers.Add(-1)
	if current > maxObservers {
		http.Error(w, "too many observers", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	snapID, snaps := s.Sim.SubscribeSnapshots()
	defer s.Sim.UnsubscribeSnapshots(snapID)
	evID, events := s.Sim.Subscribe()
	defer s.Sim.Unsubscribe(evID)

	slog.Info("observer connected", "remote", r.RemoteAddr)

	// Reader: handles pongs and close frames. Observers send nothing else.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(observeReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(observeReadWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(m observeMsg) bool {
		data, err := json.Marshal(m)
		if err != nil {
			return false
		}
		conn.SetWriteDeadline(time.Now().Add(observeWriteWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	first := s.Sim.Snapshot()
	if !send(observeMsg{Type: "snapshot", Snapshot: &first}) {
		return
	}

	ping := time.NewTicker(observePingEvery)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-snaps:
			if !ok || !send(observeMsg{Type: "snapshot", Snapshot: &snap}) {
				return
			}
		case e, ok := <-events:
			if !ok || !send(observeMsg{Type: "event", Event: &e}) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(observeWriteWait)); err != nil {
				return
			}
		case <-closed:
			slog.Info("observer disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			return
		}
	}
}
