// Package gateway owns the connection hub: WebSocket upgrade, origin and
// capacity policy, the active-connection table keyed by (adventureId, token),
// the heartbeat sweep, and the small public HTTP surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/fable/internal/agent"
	"github.com/nextlevelbuilder/fable/internal/compact"
	"github.com/nextlevelbuilder/fable/internal/config"
	"github.com/nextlevelbuilder/fable/internal/session"
	"github.com/nextlevelbuilder/fable/internal/state"
	"github.com/nextlevelbuilder/fable/pkg/protocol"
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 60 * time.Second
	drainGrace        = 100 * time.Millisecond
)

// connKey identifies one binding in the connection table. Two tabs loading
// the same adventure with the same token collide; the newest wins.
type connKey struct {
	adventureID string
	token       string
}

// Options wires the server's collaborators.
type Options struct {
	Config    *config.Config
	Agent     agent.Client
	Compactor *compact.Compactor
	Images    session.ImageService
	Version   string
}

// Server is the connection hub.
type Server struct {
	opts Options

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[connKey]*Client
	draining bool

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer builds the hub. Start or Handler must be called to serve.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:    opts,
		clients: make(map[connKey]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates browser connections against the configured
// allow-list. Non-browser clients send no Origin header and are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.opts.Config.Server.AllowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway.origin_rejected", "origin", origin)
	return false
}

// Handler builds and caches the HTTP mux with all routes registered.
func (s *Server) Handler() http.Handler {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("POST /adventure/new", s.handleNewAdventure)
	mux.HandleFunc("GET /adventure/{id}", s.handleAdventureMetadata)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	if root := s.opts.Config.Server.StaticRoot; root != "" {
		fs := http.FileServer(http.Dir(root))
		mux.Handle("GET /", fs)
		mux.Handle("GET /backgrounds/", fs)
	}

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then drains connections and shuts
// the listener down.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Config.Server.Host, s.opts.Config.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go s.heartbeatLoop(heartbeatCtx)

	slog.Info("gateway.starting", "addr", addr, "max_connections", s.opts.Config.Server.MaxConnections)

	go func() {
		<-ctx.Done()
		stopHeartbeat()
		s.drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades, enforces capacity, binds the connection, and
// kicks off the asynchronous session initialization.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Origin rejections already produced a 403 response.
		slog.Error("gateway.upgrade_failed", "error", err)
		return
	}

	client := newClient(conn, s)

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		client.sendError(protocol.ErrGM, "Server is shutting down.", true, "")
		client.closeWith(protocol.CloseAtCapacity, "Shutting down")
		return
	}
	if len(s.clients) >= s.opts.Config.Server.MaxConnections {
		s.mu.Unlock()
		slog.Warn("gateway.at_capacity", "max", s.opts.Config.Server.MaxConnections)
		client.sendError(protocol.ErrGM, "Server at capacity. Please try again shortly.", true, "")
		client.closeWith(protocol.CloseAtCapacity, "Server at capacity")
		return
	}
	s.mu.Unlock()

	adventureID := r.URL.Query().Get("adventureId")
	token := r.URL.Query().Get("token")
	if adventureID == "" || token == "" {
		client.sendError(protocol.ErrInvalidToken, "adventureId and token query parameters are required.", false, "")
		client.closeWith(protocol.CloseAuthFailure, "Missing credentials")
		return
	}

	key := connKey{adventureID: adventureID, token: token}
	s.bind(key, client)
	defer s.unbind(key, client)

	sess := session.New(session.Options{
		Send:      client,
		Client:    s.opts.Agent,
		Compactor: s.opts.Compactor,
		Images:    s.opts.Images,
		Config:    s.opts.Config,
	})
	client.attachSession(sess, token)
	defer sess.Close()

	// Initialization happens off the read path so a slow disk never blocks
	// ping handling.
	go s.initializeSession(client, sess, adventureID, token)

	client.run()
}

// initializeSession authenticates and loads the adventure, emitting either
// adventure_loaded plus the theme snapshot or a classified fatal error.
func (s *Server) initializeSession(client *Client, sess *session.Session, adventureID, token string) {
	adv, history, err := sess.Initialize(context.Background(), adventureID, token)
	if err != nil {
		code, msg := classifyInitError(err)
		slog.Warn("gateway.session_init_failed", "adventure", adventureID, "code", code, "error", err)
		client.sendError(code, msg, false, err.Error())
		client.closeWith(protocol.CloseAuthFailure, "Authentication failed")
		return
	}

	client.Send(protocol.NewMessage(protocol.TypeAdventureLoaded, protocol.AdventureLoadedPayload{
		AdventureID: adv.ID,
		History:     historyPayload(history.Entries),
	}))
	client.Send(protocol.NewMessage(protocol.TypeThemeChange, protocol.ThemeChangePayload{
		Mood:          adv.CurrentTheme.Mood,
		Genre:         adv.CurrentTheme.Genre,
		Region:        adv.CurrentTheme.Region,
		BackgroundURL: adv.CurrentTheme.BackgroundURL,
	}))
	slog.Info("gateway.adventure_loaded", "adventure", adv.ID, "history_entries", len(history.Entries))
}

// bind inserts the client into the connection table. An existing binding
// under the same key is superseded: the older connection closes.
func (s *Server) bind(key connKey, c *Client) {
	s.mu.Lock()
	prev := s.clients[key]
	s.clients[key] = c
	count := len(s.clients)
	s.mu.Unlock()

	if prev != nil {
		slog.Info("gateway.connection_superseded", "adventure", key.adventureID)
		prev.closeWith(websocket.CloseNormalClosure, "Superseded by new connection")
	}
	slog.Info("gateway.client_connected", "adventure", key.adventureID, "active", count)
}

// unbind removes the client, unless the slot was already superseded by a
// newer connection.
func (s *Server) unbind(key connKey, c *Client) {
	s.mu.Lock()
	if s.clients[key] == c {
		delete(s.clients, key)
	}
	count := len(s.clients)
	s.mu.Unlock()
	slog.Info("gateway.client_disconnected", "adventure", key.adventureID, "active", count)
}

// ActiveConnections reports the current size of the connection table.
func (s *Server) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// heartbeatLoop sweeps the connection table every 30 s and closes
// connections that have not pinged for over a minute.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStale()
		}
	}
}

func (s *Server) sweepStale() {
	s.mu.RLock()
	snapshot := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.RUnlock()

	cutoff := time.Now().Add(-heartbeatTimeout)
	for _, c := range snapshot {
		if c.lastPingTime().Before(cutoff) {
			slog.Info("gateway.heartbeat_timeout")
			c.closeWith(protocol.CloseHeartbeatTimeout, "Heartbeat timeout")
		}
	}
}

// drain refuses new connections and gives in-flight writes a moment to
// flush before the listener closes.
func (s *Server) drain() {
	s.mu.Lock()
	s.draining = true
	snapshot := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	slog.Info("gateway.draining", "connections", len(snapshot))
	for _, c := range snapshot {
		c.closeWith(websocket.CloseGoingAway, "Server shutting down")
	}
	time.Sleep(drainGrace)
}

// classifyInitError maps a session initialization failure onto the wire
// error surface.
func classifyInitError(err error) (code, message string) {
	var corrupt *state.CorruptError
	switch {
	case errors.Is(err, state.ErrInvalidToken):
		return protocol.ErrInvalidToken, "Invalid session token."
	case errors.Is(err, state.ErrNotFound), errors.Is(err, state.ErrInvalidID):
		return protocol.ErrAdventureNotFound, "Adventure not found."
	case errors.As(err, &corrupt):
		return protocol.ErrStateCorrupted, "Adventure state is corrupted and cannot be loaded."
	default:
		return protocol.ErrGM, "Failed to load adventure."
	}
}

// historyPayload converts persisted entries to their wire shape.
func historyPayload(entries []state.HistoryEntry) []protocol.HistoryEntry {
	out := make([]protocol.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.HistoryEntry{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Type:      e.Type,
			Content:   e.Content,
		}
	}
	return out
}
