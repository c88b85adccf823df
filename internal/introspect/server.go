// Package introspect exposes a buffer pool's live statistics over HTTP, for
// the benchmark CLI's --http flag. Read-only: it never drives the pool.
package introspect

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/coredb/bufferpool/bufferpool"
	"github.com/coredb/bufferpool/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves read-only JSON and WebSocket views of a Manager's stats.
type Server struct {
	mgr *bufferpool.Manager
}

func New(mgr *bufferpool.Manager) *Server {
	return &Server{mgr: mgr}
}

// Router builds the chi mux: GET /stats, GET /frames, GET /ws/stats.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", s.handleStats)
	r.Get("/frames", s.handleFrames)
	r.Get("/ws/stats", s.handleStatsStream)
	return r
}

type statsPayload struct {
	Snapshot  bufferpool.Snapshot `json:"snapshot"`
	Available int                 `json:"available"`
	PoolSize  int                 `json:"pool_size"`
	HitRatio  float64             `json:"hit_ratio"`
}

func (s *Server) snapshot() statsPayload {
	snap := s.mgr.Stats()
	return statsPayload{
		Snapshot:  snap,
		Available: s.mgr.Available(),
		PoolSize:  s.mgr.PoolSize(),
		HitRatio:  snap.HitRatio(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		logger.Warnf("introspect: encode stats: %v", err)
	}
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.mgr.FrameSnapshot()); err != nil {
		logger.Warnf("introspect: encode frames: %v", err)
	}
}

// handleStatsStream pushes a stats snapshot over a WebSocket every tick
// until the client disconnects, the same push-on-interval shape as the
// teacher's change stream connection.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("introspect: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.snapshot()); err != nil {
				return
			}
		}
	}
}
