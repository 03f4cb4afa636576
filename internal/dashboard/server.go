// Package dashboard provides a real-time WebSocket view of sync activity.
//
// The dashboard broadcasts sync progress, rate-limit state changes and
// snapshot statistics to connected WebSocket clients, and exposes a small
// JSON API for status and "sync now" requests.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSync carries a sync engine event
	MessageTypeSync MessageType = "sync"

	// MessageTypeBackoff indicates the rate-limit controller changed state
	MessageTypeBackoff MessageType = "backoff"

	// MessageTypeStats carries the current snapshot statistics
	MessageTypeStats MessageType = "stats"

	// MessageTypeDaemon carries the daemon status after a run
	MessageTypeDaemon MessageType = "daemon"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// clientQueue is the number of encoded messages buffered per client. A
// client that falls further behind is disconnected.
const clientQueue = 64

const writeTimeout = 5 * time.Second

// client is one WebSocket connection with its own outgoing queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server fans dashboard messages out to WebSocket clients.
type Server struct {
	addr     string
	mux      *http.ServeMux
	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	welcome []byte // latest stats message, sent first to new clients
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8765). Port 0 picks a free port.
	Addr string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns the loopback listener on port 8765.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8765",
		Logger: log.Default(),
	}
}

// NewServer creates a server. Routes are registered immediately; nothing
// listens before Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:    config.Addr,
		mux:     http.NewServeMux(),
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
	s.welcome, _ = json.Marshal(Message{Type: MessageTypeStats})

	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/", s.handleRoot)
	return s
}

// Handle registers an additional route. Must be called before Start.
func (s *Server) Handle(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		s.dropLocked(c)
		conns = append(conns, c.conn)
	}
	s.mu.Unlock()

	// Cancelling first aborts pending reads so Close does not wait for
	// clients to answer the close handshake.
	s.cancel()
	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", serr)
		}
	}
	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return err
}

// Broadcast queues msg for every connected client without blocking. Stats
// messages are also kept as the welcome message for later clients.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Type == MessageTypeStats {
		s.welcome = data
	}
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Println("WARNING: client too slow, disconnecting")
			s.dropLocked(c)
			go c.conn.Close(websocket.StatusPolicyViolation, "too slow")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}

	// Queueing the welcome and registering under one lock keeps broadcasts
	// from overtaking it.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	c.send <- s.welcome
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Printf("Client connected (total: %d)", count)

	s.wg.Add(1)
	go s.writeLoop(c)

	// Client messages are ignored; reading detects disconnects.
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			break
		}
	}
	s.remove(c)
}

func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for data := range c.send {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.remove(c)
			// Drain so Broadcast never blocks on a dead client.
			for range c.send {
			}
			return
		}
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		s.dropLocked(c)
	}
	count := len(s.clients)
	s.mu.Unlock()

	if ok {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", count)
	}
}

// dropLocked unregisters c and ends its writer. s.mu must be held.
func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot serves a minimal live view.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, rootPage)
}

const rootPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>notemirror</title>
</head>
<body>
    <h1>notemirror</h1>
    <p>Status: <a href="/api/status">/api/status</a>, health: <a href="/health">/health</a></p>
    <button id="sync">Sync now</button>
    <pre id="log"></pre>
    <script>
    const out = document.getElementById("log");
    document.getElementById("sync").onclick = () => fetch("/api/sync", {method: "POST"});
    const ws = new WebSocket("ws://" + location.host + "/ws");
    ws.onmessage = (ev) => { out.textContent = ev.data + "\n" + out.textContent; };
    </script>
</body>
</html>`

// GetAddr returns the listening address, or the configured one before
// Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
