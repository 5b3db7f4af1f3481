// Package events streams sync engine activity to WebSocket clients.
//
// Clients connect to /ws and receive one JSON Message per engine event:
// attempts saved and pushed, refreshes, ranking updates and sweeps. A client
// that connects to /ws?user=<uid> receives only the events of that user plus
// the events that concern no user in particular. The first message on every
// connection is a stats snapshot.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8787; 0 picks a free port)
	Port int

	// SendQueue is how many messages may wait for one client before the
	// client is disconnected (default: 64)
	SendQueue int

	// WriteTimeout bounds a single write to a client (default: 5s)
	WriteTimeout time.Duration

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:         8787,
		SendQueue:    64,
		WriteTimeout: 5 * time.Second,
		Logger:       log.Default(),
	}
}

// Server fans messages out to connected subscribers. Each subscriber has its
// own queue and writer, so one slow client never delays the others.
type Server struct {
	addr         string
	sendQueue    int
	writeTimeout time.Duration
	logger       *log.Logger

	listener net.Listener
	http     *http.Server
	welcome  func() Message

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscriber struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte

	closeOnce sync.Once
}

// wants reports whether msg is delivered to this subscriber.
func (sub *subscriber) wants(msg Message) bool {
	return sub.userID == "" || msg.UserID == "" || msg.UserID == sub.userID
}

func (sub *subscriber) close(code websocket.StatusCode, reason string) {
	sub.closeOnce.Do(func() {
		_ = sub.conn.Close(code, reason)
	})
}

// NewServer creates a new event server
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.SendQueue <= 0 {
		config.SendQueue = defaults.SendQueue
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:         fmt.Sprintf("127.0.0.1:%d", config.Port),
		sendQueue:    config.SendQueue,
		writeTimeout: config.WriteTimeout,
		logger:       config.Logger,
		welcome:      func() Message { return Message{Type: MessageTypeStats} },
		subs:         make(map[*subscriber]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Event server listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every subscriber and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
		s.removeLocked(sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.close(websocket.StatusGoingAway, "server shutting down")
	}

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	s.logger.Println("Event server stopped")
	return err
}

// Broadcast queues msg for every subscriber that wants it. It never blocks.
// A subscriber whose queue is full is disconnected.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	var slow []*subscriber
	s.mu.Lock()
	for sub := range s.subs {
		if !sub.wants(msg) {
			continue
		}
		select {
		case sub.send <- data:
		default:
			s.removeLocked(sub)
			slow = append(slow, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range slow {
		s.logger.Printf("Dropping slow client (user %q)", sub.userID)
		sub.close(websocket.StatusPolicyViolation, "client too slow")
	}
}

// removeLocked unregisters sub and ends its writer. s.mu must be held.
func (s *Server) removeLocked(sub *subscriber) {
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.send)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	sub := &subscriber{
		conn:   conn,
		userID: r.URL.Query().Get("user"),
		send:   make(chan []byte, s.sendQueue),
	}

	// The welcome is written before the subscriber is registered, so it is
	// always the first message.
	welcome := s.welcome()
	if welcome.Timestamp.IsZero() {
		welcome.Timestamp = time.Now()
	}
	data, _ := json.Marshal(welcome)
	if err := s.write(s.ctx, sub, data); err != nil {
		sub.close(websocket.StatusInternalError, "")
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		sub.close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.subs[sub] = struct{}{}
	s.wg.Add(1)
	count := len(s.subs)
	s.mu.Unlock()
	s.logger.Printf("Client connected (user %q, total: %d)", sub.userID, count)

	defer s.wg.Done()
	s.serve(sub)
}

// serve writes queued messages until the client leaves, the subscriber is
// dropped, or the server stops. Client messages are discarded.
func (s *Server) serve(sub *subscriber) {
	ctx := sub.conn.CloseRead(s.ctx)
	defer func() {
		s.mu.Lock()
		s.removeLocked(sub)
		count := len(s.subs)
		s.mu.Unlock()
		sub.close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", count)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sub.send:
			if !ok {
				return
			}
			if err := s.write(ctx, sub, data); err != nil {
				s.logger.Printf("Failed to send to client: %v", err)
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, sub *subscriber, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return sub.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	clients := len(s.subs)
	users := make(map[string]struct{})
	for sub := range s.subs {
		if sub.userID != "" {
			users[sub.userID] = struct{}{}
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": clients,
		"users":   len(users),
	})
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
