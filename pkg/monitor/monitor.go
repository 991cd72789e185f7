// Package monitor serves the read-only observation surface of the host:
// a JSON status snapshot, a live WebSocket event feed mirroring the run
// journal, and the Prometheus metrics endpoint. It never commands the
// robot; the control loop stays single-threaded and owns all motion.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pipetbot-go/pkg/log"
	"pipetbot-go/pkg/metrics"
)

// RackStatus is one tip rack's inventory snapshot.
type RackStatus struct {
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
	Capacity  int    `json:"capacity"`
}

// InstrumentStatus is one instrument's snapshot.
type InstrumentStatus struct {
	Name       string  `json:"name"`
	Model      string  `json:"model"`
	Mount      string  `json:"mount"`
	HasTip     bool    `json:"has_tip"`
	HeldVolume float64 `json:"held_volume"`
}

// Status is the full host snapshot served at /status.
type Status struct {
	State       string             `json:"state"` // idle, running, completed, failed
	Protocol    string             `json:"protocol,omitempty"`
	Step        string             `json:"step,omitempty"`
	Instruments []InstrumentStatus `json:"instruments"`
	Racks       []RackStatus       `json:"racks"`
	Refills     int64              `json:"refills"`
	Time        time.Time          `json:"time"`
}

// StatusFunc produces the current snapshot. It is called from monitor
// goroutines, so it must only read state that is safe to read
// concurrently with the run (rack counters are internally locked).
type StatusFunc func() Status

// Event is one feed message.
type Event struct {
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
	Time   time.Time      `json:"time"`
}

// Server is the HTTP + WebSocket monitor.
type Server struct {
	addr     string
	status   StatusFunc
	registry *metrics.Registry
	logger   *log.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientMu sync.RWMutex
	clients  map[int64]*wsClient
	nextID   int64

	running atomic.Bool
}

// New builds a monitor server. Pass nil for the default metrics registry.
func New(addr string, status StatusFunc, registry *metrics.Registry) *Server {
	if registry == nil {
		registry = metrics.DefaultRegistry()
	}
	return &Server{
		addr:     addr,
		status:   status,
		registry: registry,
		logger:   log.GetLogger("monitor"),
		clients:  make(map[int64]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the route table; Start serves it, tests mount it
// directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start serves until Stop or a listener error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.running.Store(true)
	s.logger.Info("monitor listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop disconnects all feed clients and closes the listener.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Publish fans an event out to every connected feed client. Slow clients
// drop messages rather than stalling the run.
func (s *Server) Publish(kind string, fields map[string]any) {
	event := Event{Kind: kind, Fields: fields, Time: time.Now()}
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	for _, c := range s.clients {
		c.send(event)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		s.logger.Error("encode status: %v", err)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.registry.Gather()))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// wsClient is one feed subscriber with a buffered write pump.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan Event
	done   chan struct{}
	mu     sync.Mutex
	logger *log.Logger
}

func (c *wsClient) send(e Event) {
	select {
	case c.sendCh <- e:
	case <-c.done:
	default:
		c.logger.Warn("feed client %d lagging, event dropped", c.id)
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case e := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("feed upgrade: %v", err)
		return
	}
	client := &wsClient{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		sendCh: make(chan Event, 64),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	s.clientMu.Lock()
	s.clients[client.id] = client
	s.clientMu.Unlock()
	s.logger.Debug("feed client %d connected", client.id)

	go client.writePump()

	// The feed is one-way; the read loop only notices disconnects.
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientMu.Lock()
	delete(s.clients, client.id)
	s.clientMu.Unlock()
	client.close()
	s.logger.Debug("feed client %d disconnected", client.id)
}
