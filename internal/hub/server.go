// Package hub implements the broadcast server: it generates messages,
// persists them and pushes them to every connected websocket client.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

const (
	DefaultPort              = 8080
	DefaultHeartbeatInterval = 10 * time.Second
	previewLen               = 100
)

// MessageStore is the persistence the server writes generated messages to.
type MessageStore interface {
	InsertMessage(m chat.Message) error
	UpdateChatLastMessage(chatID, ts int64, preview string) error
}

// Config holds the listener and timing settings.
type Config struct {
	Host              string
	Port              int
	HeartbeatInterval time.Duration
}

// BindError is returned by Start when the listen address is unavailable.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Stats is a point-in-time view of the server.
type Stats struct {
	Connections   int
	LastMessageID int64
	Uptime        time.Duration
}

// Server is the event broadcast server.
type Server struct {
	cfg    Config
	store  MessageStore
	gen    Generator
	ids    *IDIssuer
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[uuid.UUID]*Connection
	stopping bool

	httpSrv   *http.Server
	listener  net.Listener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// New creates a server. Routes may be added through Router before Start.
func New(cfg Config, st MessageStore, gen Generator, ids *IDIssuer, b *bus.Bus, logger *zap.Logger) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = NewIDIssuer(0)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cfg:    cfg,
		store:  st,
		gen:    gen,
		ids:    ids,
		bus:    b,
		logger: logger,
		now:    time.Now,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*Connection),
	}
	engine.GET("/ws", s.handleWebSocket)
	return s
}

// Router exposes the HTTP router so the pull API can share the listener.
func (s *Server) Router() gin.IRouter {
	return s.engine
}

// Handler returns the HTTP handler serving /ws and the registered routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and starts serving, emitting and heartbeating.
// It returns a *BindError if the address cannot be bound. The loops run
// until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.startedAt = s.now()
	s.httpSrv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		s.emitLoop(loopCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(loopCtx)
	}()
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop cancels the loops, closes every connection and shuts the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	s.stopping = true
	for id, c := range s.conns {
		c.close(websocket.CloseGoingAway, "server stopping")
		delete(s.conns, id)
	}
	s.mu.Unlock()

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.wg.Wait()
	s.logger.Info("server stopped")
	return err
}

// SimulateDisconnect drops every live connection and clears the registry.
// The registry lock is held throughout, so no connection can register
// mid-operation. It returns how many connections were dropped.
func (s *Server) SimulateDisconnect() int {
	s.mu.Lock()
	n := len(s.conns)
	for id, c := range s.conns {
		c.close(websocket.CloseGoingAway, "simulated disconnect")
		delete(s.conns, id)
	}
	s.mu.Unlock()

	s.logger.Warn("simulated disconnect", zap.Int("dropped", n))
	s.bus.PublishNow(bus.KindFaultInjected, n)
	return n
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	st := Stats{
		Connections:   s.ConnectionCount(),
		LastMessageID: s.ids.Last(),
	}
	if !s.startedAt.IsZero() {
		st.Uptime = s.now().Sub(s.startedAt)
	}
	return st
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newConnection(ws)
	if err := s.register(conn); err != nil {
		s.logger.Debug("connection rejected", zap.String("conn", conn.ID.String()), zap.Error(err))
		conn.close(websocket.CloseGoingAway, "server stopping")
		return
	}
	defer s.unregister(conn)

	s.logger.Info("client connected",
		zap.String("conn", conn.ID.String()),
		zap.String("remote", c.Request.RemoteAddr),
	)
	s.readLoop(conn)
}

// register adds conn and writes the connected ack. The connection's write
// lock is taken before it becomes visible to broadcasters, so the ack is
// always the first frame on the wire.
func (s *Server) register(conn *Connection) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return errors.New("server stopping")
	}
	conn.writeMu.Lock()
	s.conns[conn.ID] = conn
	s.mu.Unlock()
	defer conn.writeMu.Unlock()

	data, err := wire.Encode(wire.Connected(s.now().UnixMilli()))
	if err != nil {
		return err
	}
	return conn.writeLocked(data)
}

func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	if cur, ok := s.conns[conn.ID]; ok && cur == conn {
		delete(s.conns, conn.ID)
	}
	s.mu.Unlock()
	conn.close(websocket.CloseNormalClosure, "")
	s.logger.Info("client disconnected", zap.String("conn", conn.ID.String()))
}

func (s *Server) readLoop(conn *Connection) {
	conn.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.String("conn", conn.ID.String()), zap.Error(err))
			}
			return
		}

		f, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", zap.String("conn", conn.ID.String()), zap.Error(err))
			continue
		}

		switch f.Type {
		case wire.TypePing:
			if err := conn.send(wire.Pong(s.now().UnixMilli())); err != nil {
				s.logger.Debug("pong failed", zap.String("conn", conn.ID.String()), zap.Error(err))
				return
			}
		default:
			s.logger.Debug("ignoring frame", zap.String("conn", conn.ID.String()), zap.String("type", string(f.Type)))
		}
	}
}

// broadcast sends f to every registered connection. A failed write drops
// that connection only.
func (s *Server) broadcast(f wire.Frame) int {
	data, err := wire.Encode(f)
	if err != nil {
		s.logger.Error("encode frame", zap.Error(err))
		return 0
	}

	s.mu.Lock()
	targets := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	sent := 0
	for _, c := range targets {
		c.writeMu.Lock()
		err := c.writeLocked(data)
		c.writeMu.Unlock()
		if err != nil {
			s.logger.Debug("broadcast write failed", zap.String("conn", c.ID.String()), zap.Error(err))
			s.mu.Lock()
			if cur, ok := s.conns[c.ID]; ok && cur == c {
				delete(s.conns, c.ID)
			}
			s.mu.Unlock()
			c.close(websocket.CloseAbnormalClosure, "")
			continue
		}
		sent++
	}
	return sent
}

func (s *Server) emitLoop(ctx context.Context) {
	timer := time.NewTimer(s.gen.NextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := s.emit(); err != nil {
			s.logger.Error("emit failed", zap.Error(err))
		}
		timer.Reset(s.gen.NextDelay())
	}
}

// emit generates, persists and broadcasts one message. Emission continues
// whether or not any client is connected.
func (s *Server) emit() (chat.Message, error) {
	d := s.gen.Next()
	m := chat.Message{
		ID:        s.ids.Next(),
		ChatID:    d.ChatID,
		Timestamp: s.now().UnixMilli(),
		Sender:    d.Sender,
		Body:      d.Body,
	}
	if err := s.store.InsertMessage(m); err != nil {
		return m, fmt.Errorf("insert message %d: %w", m.ID, err)
	}
	if err := s.store.UpdateChatLastMessage(m.ChatID, m.Timestamp, chat.Preview(m.Body, previewLen)); err != nil {
		return m, fmt.Errorf("update chat %d: %w", m.ChatID, err)
	}

	sent := s.broadcast(wire.NewMessageFrame(m))
	s.logger.Debug("message emitted",
		zap.Int64("id", m.ID),
		zap.Int64("chat_id", m.ChatID),
		zap.Int("body_len", len(m.Body)),
		zap.Int("recipients", sent),
	)
	return m, nil
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(wire.Heartbeat(s.now().UnixMilli()))
		}
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/ws" {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
