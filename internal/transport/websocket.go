package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ecan-ai/ecan/internal/session"
)

const (
	// wsPingInterval is how often the server sends WebSocket ping frames.
	wsPingInterval = 30 * time.Second
	// wsPongTimeout is the maximum time to wait for a pong after a ping.
	wsPongTimeout = 10 * time.Second

	defaultMaxFrameBytes = 1024 * 1024
)

// FrameHandler turns one text frame into an optional reply frame. The
// connection id lets the dispatcher resolve session bindings.
type FrameHandler func(ctx context.Context, connID string, raw []byte) []byte

// ConnHook observes connection lifecycle by connection id.
type ConnHook func(connID string)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

type wsConn struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time

	mu           sync.Mutex // guards writes and lastActivity
	lastActivity time.Time
}

func (c *wsConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSOptions configures the WebSocket transport.
type WSOptions struct {
	AllowedOrigins []string
	MaxFrameBytes  int64
}

// WS is the network transport: a WebSocket endpoint whose frames carry the
// same envelopes the embedded transport exchanges in-process.
type WS struct {
	sessions *session.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
	maxFrame int64

	mu           sync.RWMutex
	conns        map[string]*wsConn
	frameHandler FrameHandler
	handler      MessageHandler
	onConnect    ConnHook
	onDisconnect ConnHook
	started      bool
}

// NewWS builds the WebSocket transport. sessions is used to unbind closing
// connections and to resolve directed sends.
func NewWS(sessions *session.Manager, logger *slog.Logger, opts WSOptions) *WS {
	maxFrame := opts.MaxFrameBytes
	if maxFrame == 0 {
		maxFrame = defaultMaxFrameBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WS{
		sessions: sessions,
		logger:   logger.With("component", "transport", "mode", "web"),
		upgrader: makeUpgrader(opts.AllowedOrigins),
		maxFrame: maxFrame,
		conns:    make(map[string]*wsConn),
	}
}

// SetFrameHandler installs the connection-aware dispatch callback. It takes
// precedence over SetMessageHandler.
func (s *WS) SetFrameHandler(fn FrameHandler) {
	s.mu.Lock()
	s.frameHandler = fn
	s.mu.Unlock()
}

// SetConnHooks installs connection lifecycle observers. Call before Start.
// The hooks fire off the manager lock, after the connection table is updated.
func (s *WS) SetConnHooks(onConnect, onDisconnect ConnHook) {
	s.mu.Lock()
	s.onConnect = onConnect
	s.onDisconnect = onDisconnect
	s.mu.Unlock()
}

func (s *WS) SetMessageHandler(fn MessageHandler) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *WS) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameHandler == nil && s.handler == nil {
		return fmt.Errorf("websocket transport started without a message handler")
	}
	s.started = true
	s.logger.Info("websocket transport started")
	return nil
}

// Stop closes every live connection.
func (s *WS) Stop() error {
	s.mu.Lock()
	s.started = false
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*wsConn)
	s.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
	s.logger.Info("websocket transport stopped", "closed", len(conns))
	return nil
}

func (s *WS) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns) > 0
}

// ConnectionCount reports the number of live connections.
func (s *WS) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// HandleWS upgrades an HTTP request and runs the connection's read loop
// until the peer goes away.
func (s *WS) HandleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(s.maxFrame)

	now := time.Now()
	wc := &wsConn{
		id:           uuid.New().String(),
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
	}

	s.mu.Lock()
	s.conns[wc.id] = wc
	onConnect := s.onConnect
	s.mu.Unlock()

	s.logger.Info("client connected", "conn_id", wc.id, "remote", req.RemoteAddr)
	if onConnect != nil {
		onConnect(wc.id)
	}

	stopPing := s.startKeepalive(wc)
	defer func() {
		stopPing()
		s.dropConn(wc.id)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("read error", "conn_id", wc.id, "error", err)
			return
		}
		wc.mu.Lock()
		wc.lastActivity = time.Now()
		wc.mu.Unlock()

		// Each frame runs on its own goroutine so a slow handler never
		// stalls the read loop. Replies are serialized by the write mutex
		// and delivered in completion order.
		go s.handleFrame(req.Context(), wc, msg)
	}
}

func (s *WS) handleFrame(ctx context.Context, wc *wsConn, msg []byte) {
	s.mu.RLock()
	frameFn := s.frameHandler
	msgFn := s.handler
	s.mu.RUnlock()

	var reply []byte
	switch {
	case frameFn != nil:
		reply = frameFn(ctx, wc.id, msg)
	case msgFn != nil:
		reply = msgFn(ctx, msg)
	default:
		s.logger.Error("frame received before handler installed", "conn_id", wc.id)
		return
	}
	if reply == nil {
		return
	}
	if err := wc.write(reply); err != nil {
		s.logger.Warn("reply send failed, dropping connection", "conn_id", wc.id, "error", err)
		s.dropConn(wc.id)
		_ = wc.conn.Close()
	}
}

// startKeepalive pings every wsPingInterval; a peer that misses the pong
// window fails the read deadline and the read loop tears the connection down.
func (s *WS) startKeepalive(wc *wsConn) (cancel func()) {
	deadline := wsPingInterval + wsPongTimeout
	_ = wc.conn.SetReadDeadline(time.Now().Add(deadline))
	wc.conn.SetPongHandler(func(string) error {
		return wc.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				wc.mu.Lock()
				err := wc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsPongTimeout))
				wc.mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}

// dropConn removes a connection from the table and unbinds it from its
// session. The session itself survives for later reconnects.
func (s *WS) dropConn(connID string) {
	s.mu.Lock()
	_, present := s.conns[connID]
	delete(s.conns, connID)
	onDisconnect := s.onDisconnect
	s.mu.Unlock()
	if !present {
		return
	}

	if sid, ok := s.sessions.UnbindConnection(connID); ok {
		s.logger.Info("client disconnected", "conn_id", connID, "session_id", sid)
	} else {
		s.logger.Info("client disconnected", "conn_id", connID)
	}
	if onDisconnect != nil {
		onDisconnect(connID)
	}
}

// SendToFrontend broadcasts msg to every live connection. Connections that
// fail the write are removed from the table.
func (s *WS) SendToFrontend(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	s.mu.RLock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			s.logger.Warn("broadcast send failed, dropping connection", "conn_id", c.id, "error", err)
			s.dropConn(c.id)
			_ = c.conn.Close()
		}
	}
	return nil
}

// SendToConnection delivers msg to one connection id.
func (s *WS) SendToConnection(connID string, msg any) error {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s not found", connID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	if err := c.write(data); err != nil {
		s.dropConn(connID)
		_ = c.conn.Close()
		return fmt.Errorf("send to connection %s: %w", connID, err)
	}
	return nil
}

// SendToUser delivers msg to every connection bound to any of the user's
// sessions. Returns the number of connections reached.
func (s *WS) SendToUser(userID string, msg any) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal outbound message: %w", err)
	}

	sent := 0
	for _, sid := range s.sessions.SessionsForUser(userID) {
		for _, connID := range s.sessions.ConnectionsForSession(sid) {
			s.mu.RLock()
			c, ok := s.conns[connID]
			s.mu.RUnlock()
			if !ok {
				continue
			}
			if err := c.write(data); err != nil {
				s.logger.Warn("directed send failed, dropping connection", "conn_id", connID, "error", err)
				s.dropConn(connID)
				_ = c.conn.Close()
				continue
			}
			sent++
		}
	}
	return sent, nil
}

var _ Transport = (*WS)(nil)
