// Package monitor provides an HTTP/websocket status endpoint for the
// motion host: live runtime position/velocity snapshots over websocket,
// queue introspection, and the Prometheus metrics surface.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cnc-motion/pkg/log"
	"cnc-motion/pkg/metrics"
	"cnc-motion/pkg/planner"
)

// Snapshot is one status sample pushed to websocket clients.
type Snapshot struct {
	Time        float64    `json:"time"`
	Position    [6]float64 `json:"position"`
	Velocity    float64    `json:"velocity"`
	LineNumber  uint32     `json:"line_number"`
	QueueDepth  int        `json:"queue_depth"`
	MotionState int        `json:"motion_state"`
	HoldState   int        `json:"hold_state"`
	Busy        bool       `json:"busy"`
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP address to listen on (e.g., ":7130").
	Addr string

	// Interval between pushed snapshots. Default 250ms.
	Interval time.Duration
}

// Server is the status endpoint.
type Server struct {
	p  *planner.Planner
	mx *metrics.MotionMetrics

	addr     string
	interval time.Duration
	logger   *log.Logger

	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	wsClients  map[int64]*websocket.Conn
	wsClientMu sync.Mutex
	nextWSID   int64

	running   atomic.Bool
	startTime time.Time
	done      chan struct{}
}

// New creates a status server for the planner.
func New(cfg Config, p *planner.Planner, mx *metrics.MotionMetrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = 250 * time.Millisecond
	}
	s := &Server{
		p:         p,
		mx:        mx,
		addr:      cfg.Addr,
		interval:  interval,
		logger:    logger,
		wsClients: make(map[int64]*websocket.Conn),
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Start begins serving and pushing snapshots.
func (s *Server) Start() error {
	if s.running.Swap(true) {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("monitor server: %v", err)
		}
	}()
	go s.broadcastLoop()
	s.logger.Info("monitor listening on %s", s.addr)
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.done)
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	s.wsClientMu.Lock()
	for id, conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, id)
	}
	s.wsClientMu.Unlock()
}

func (s *Server) snapshot() Snapshot {
	var pos [6]float64
	for i := 0; i < planner.NumAxes; i++ {
		pos[i] = s.p.RuntimePosition(i)
	}
	return Snapshot{
		Time:        time.Since(s.startTime).Seconds(),
		Position:    pos,
		Velocity:    s.p.RuntimeVelocity(),
		LineNumber:  s.p.RuntimeLineNumber(),
		QueueDepth:  s.p.QueueDepth(),
		MotionState: int(s.p.MotionState()),
		HoldState:   int(s.p.HoldState()),
		Busy:        s.p.IsBusy(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.p.QueuedBlocks())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if s.mx != nil {
		w.Write([]byte(s.mx.Gather()))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}
	s.wsClientMu.Lock()
	s.nextWSID++
	id := s.nextWSID
	s.wsClients[id] = conn
	s.wsClientMu.Unlock()
	s.logger.Debug("websocket client %d connected", id)

	// drain (and discard) client messages so pings are answered
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.removeClient(id)
				return
			}
		}
	}()
}

func (s *Server) removeClient(id int64) {
	s.wsClientMu.Lock()
	if conn, ok := s.wsClients[id]; ok {
		conn.Close()
		delete(s.wsClients, id)
	}
	s.wsClientMu.Unlock()
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		snap := s.snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		s.wsClientMu.Lock()
		for id, conn := range s.wsClients {
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				delete(s.wsClients, id)
			}
		}
		s.wsClientMu.Unlock()
	}
}
