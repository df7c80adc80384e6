// Package server exposes the coordinator over a local websocket endpoint.
// Panels send requests and get exactly one reply each; tab executors
// register under their tab identifier and answer EXECUTE_FUNCTION requests.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/router"
)

// ErrTabClosed fails a pending request whose tab disconnected before
// answering.
var ErrTabClosed = errors.New("tab connection closed")

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// conn is one websocket client. Writes are serialized: gorilla allows a
// single concurrent writer.
type conn struct {
	ws      *websocket.Conn
	role    string
	tabID   string
	writeMu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

type pendingReq struct {
	tabID string
	ch    chan router.Envelope
}

// Server owns the websocket endpoint and the tab connection registry
type Server struct {
	router   *router.Router
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu      sync.Mutex
	boundTo string
	tabs    map[string]*conn
	pending map[string]*pendingReq
}

// New creates a server dispatching into the given router
func New(r *router.Router) *Server {
	return &Server{
		router: r,
		upgrader: websocket.Upgrader{
			// Extension pages carry browser-specific origins; the daemon
			// binds to loopback, so origin filtering buys nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		tabs:    make(map[string]*conn),
		pending: make(map[string]*pendingReq),
	}
}

// Start listens on addr and serves websocket connections on /ws until
// Shutdown. It returns once the listener is bound.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpSrv = &http.Server{Handler: mux}
	s.mu.Lock()
	s.boundTo = ln.Addr().String()
	s.mu.Unlock()
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("server: serve failed", "error", err)
		}
	}()
	L_info("server: listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, useful when addr had port 0
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundTo
}

// Shutdown stops accepting connections and closes existing ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_warn("server: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &conn{
		ws:    ws,
		role:  r.URL.Query().Get("role"),
		tabID: r.URL.Query().Get("tabId"),
	}
	if c.role == "" {
		c.role = "panel"
	}
	if c.role == "tab" && c.tabID == "" {
		L_warn("server: tab connection without tabId rejected", "remote", r.RemoteAddr)
		ws.Close()
		return
	}
	if c.role == "tab" {
		s.registerTab(c)
	}
	L_info("server: client connected", "role", c.role, "tab", c.tabID, "remote", r.RemoteAddr)

	// Deadline and pong handler belong to the read path: set them before
	// the first ReadJSON, never from the ping goroutine.
	ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	go s.keepAlive(c)
	s.readLoop(c)

	if c.role == "tab" {
		s.unregisterTab(c)
	}
	ws.Close()
	L_info("server: client disconnected", "role", c.role, "tab", c.tabID)
}

func (s *Server) keepAlive(c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := c.ping(); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(c *conn) {
	for {
		var env router.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				L_debug("server: read ended", "role", c.role, "tab", c.tabID, "error", err)
			}
			return
		}
		if c.tabID != "" && env.TabID == "" {
			env.TabID = c.tabID
		}

		if s.resolvePending(env) {
			continue
		}

		// Each request runs on its own goroutine: a tool-calling run can
		// take minutes and must not block this connection's reads.
		go func(env router.Envelope) {
			resp, ok := s.router.Dispatch(context.Background(), env)
			if !ok {
				return
			}
			if err := c.writeJSON(resp); err != nil {
				L_warn("server: reply write failed", "type", resp.Type, "requestId", resp.RequestID, "error", err)
			}
		}(env)
	}
}

// resolvePending hands a reply to the waiter for its requestId. Replies
// without a waiter fall through to normal dispatch.
func (s *Server) resolvePending(env router.Envelope) bool {
	if env.RequestID == "" {
		return false
	}
	if env.Type != router.TypeFunctionResponse && env.Type != router.TypeError {
		return false
	}
	s.mu.Lock()
	req, ok := s.pending[env.RequestID]
	if ok {
		delete(s.pending, env.RequestID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	req.ch <- env
	return true
}

func (s *Server) registerTab(c *conn) {
	s.mu.Lock()
	old := s.tabs[c.tabID]
	s.tabs[c.tabID] = c
	s.mu.Unlock()
	if old != nil {
		L_warn("server: replacing existing tab connection", "tab", c.tabID)
		old.ws.Close()
	}
}

// unregisterTab drops the tab and fails every request still waiting on it
func (s *Server) unregisterTab(c *conn) {
	s.mu.Lock()
	if s.tabs[c.tabID] == c {
		delete(s.tabs, c.tabID)
	}
	var orphaned []*pendingReq
	for id, req := range s.pending {
		if req.tabID == c.tabID {
			orphaned = append(orphaned, req)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
	for _, req := range orphaned {
		close(req.ch)
	}
}

// TabConnected reports whether the tab currently has an executor attached
func (s *Server) TabConnected(tabID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabs[tabID] != nil
}

// SendRequest forwards an envelope to the tab's executor and waits for the
// reply carrying the same requestId. The tab disconnecting while the
// request is in flight yields ErrTabClosed.
func (s *Server) SendRequest(ctx context.Context, tabID string, env router.Envelope) (router.Envelope, error) {
	s.mu.Lock()
	c := s.tabs[tabID]
	if c == nil {
		s.mu.Unlock()
		return router.Envelope{}, fmt.Errorf("tab %s has no connected executor", tabID)
	}
	req := &pendingReq{tabID: tabID, ch: make(chan router.Envelope, 1)}
	s.pending[env.RequestID] = req
	s.mu.Unlock()

	if err := c.writeJSON(env); err != nil {
		s.dropPending(env.RequestID)
		return router.Envelope{}, fmt.Errorf("failed to send to tab %s: %w", tabID, err)
	}

	select {
	case resp, ok := <-req.ch:
		if !ok {
			return router.Envelope{}, fmt.Errorf("%w: tab %s", ErrTabClosed, tabID)
		}
		return resp, nil
	case <-ctx.Done():
		s.dropPending(env.RequestID)
		return router.Envelope{}, ctx.Err()
	}
}

func (s *Server) dropPending(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

// Broadcast pushes an envelope to every connected tab executor. Used for
// signals that are not replies, like settings changes.
func (s *Server) Broadcast(env router.Envelope) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.tabs))
	for _, c := range s.tabs {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.writeJSON(env); err != nil {
			L_debug("server: broadcast write failed", "tab", c.tabID, "error", err)
		}
	}
}
