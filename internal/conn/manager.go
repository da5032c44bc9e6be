// Package conn implements the client connection manager: a single goroutine
// that owns the websocket, drives the status machine and reconnects with
// exponential backoff.
package conn

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

const DefaultPingInterval = 10 * time.Second

// MessageSink receives pushed messages.
type MessageSink interface {
	MergeNewMessage(m chat.Message) bool
}

// Config holds the manager settings.
type Config struct {
	URL          string
	PingInterval time.Duration
	Backoff      BackoffConfig
}

type inputKind int

const (
	inConnect inputKind = iota
	inOpened
	inDialFailed
	inClosed
	inFrame
	inBackoff
	inPing
	inTeardown
)

func (k inputKind) String() string {
	switch k {
	case inConnect:
		return "connect"
	case inOpened:
		return "opened"
	case inDialFailed:
		return "dial_failed"
	case inClosed:
		return "closed"
	case inFrame:
		return "frame"
	case inBackoff:
		return "backoff"
	case inPing:
		return "ping"
	case inTeardown:
		return "teardown"
	}
	return "unknown"
}

// input is one event for the manager goroutine. gen identifies the socket
// the event belongs to; events from older sockets are dropped.
type input struct {
	kind inputKind
	gen  uint64
	sock Socket
	data []byte
	err  error
}

// Manager keeps one connection to the server alive until Close.
type Manager struct {
	cfg     Config
	dialer  Dialer
	machine *status.Machine
	sink    MessageSink
	logger  *zap.Logger

	// after schedules f once after d and returns a cancel func.
	after  func(d time.Duration, f func()) (stop func())
	jitter func() time.Duration

	inputs    chan input
	done      chan struct{}
	startOnce sync.Once

	// Owned by the run goroutine.
	ctx         context.Context
	gen         uint64
	sock        Socket
	dialing     bool
	cancelDial  context.CancelFunc
	stopBackoff func()
	stopPing    func()
}

// NewManager creates a manager in the Disconnected state. It does nothing
// until Start and Connect are called.
func NewManager(cfg Config, dialer Dialer, machine *status.Machine, sink MessageSink, logger *zap.Logger) *Manager {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:     cfg,
		dialer:  dialer,
		machine: machine,
		sink:    sink,
		logger:  logger,
		after: func(d time.Duration, f func()) func() {
			t := time.AfterFunc(d, f)
			return func() { t.Stop() }
		},
		inputs: make(chan input, 64),
		done:   make(chan struct{}),
	}
	m.jitter = func() time.Duration {
		if m.cfg.Backoff.Jitter <= 0 {
			return 0
		}
		return rand.N(m.cfg.Backoff.Jitter)
	}
	return m
}

// Start launches the manager goroutine. Cancelling ctx tears the
// connection down the same way Close does.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.ctx = ctx
		go m.run(ctx)
	})
}

// Connect opens the connection. It is a no-op while a socket is open or a
// dial is in flight; while waiting to reconnect it dials immediately.
func (m *Manager) Connect() {
	m.send(input{kind: inConnect})
}

// Close cancels any pending reconnect and ping, closes the socket and moves
// to Closed. It returns once the manager goroutine has exited.
func (m *Manager) Close() {
	m.startOnce.Do(func() {
		close(m.done)
		_ = m.machine.Transition(status.Closed)
	})
	m.send(input{kind: inTeardown})
	<-m.done
}

// Done is closed when the manager has shut down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) send(in input) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.inputs <- in:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return
		case in := <-m.inputs:
			if in.kind == inTeardown {
				m.teardown()
				return
			}
			m.handle(in)
		}
	}
}

func (m *Manager) handle(in input) {
	switch in.kind {
	case inConnect:
		m.onConnect()
	case inBackoff:
		if in.gen != m.gen {
			return
		}
		m.stopBackoff = nil
		if m.machine.Current() == status.Reconnecting && m.sock == nil && !m.dialing {
			m.dial()
		}
	case inOpened:
		m.onOpened(in)
	case inDialFailed:
		if in.gen != m.gen || !m.dialing {
			return
		}
		m.dialing = false
		m.cancelDial = nil
		m.logger.Warn("dial failed", zap.String("url", m.cfg.URL), zap.Error(in.err))
		m.scheduleReconnect()
	case inClosed:
		if in.gen != m.gen || m.sock == nil || in.sock != m.sock {
			return
		}
		m.dropSocket()
		m.logger.Warn("connection lost", zap.Error(in.err))
		m.scheduleReconnect()
	case inFrame:
		if in.gen != m.gen || m.sock == nil {
			return
		}
		m.onFrame(in.data)
	case inPing:
		if in.gen != m.gen || m.sock == nil {
			return
		}
		m.onPing()
	default:
		m.logger.Debug("unhandled input", zap.Stringer("kind", in.kind))
	}
}

func (m *Manager) onConnect() {
	if m.sock != nil || m.dialing {
		return
	}
	switch m.machine.Current() {
	case status.Disconnected:
		m.dial()
	case status.Reconnecting:
		if m.stopBackoff != nil {
			m.stopBackoff()
			m.stopBackoff = nil
		}
		m.dial()
	}
}

// dial moves to Connecting and starts a dial for a fresh generation.
func (m *Manager) dial() {
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.logger.Error("transition failed", zap.Error(err))
		return
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(m.ctx)
	m.dialing = true
	m.cancelDial = cancel

	m.logger.Info("connecting", zap.String("url", m.cfg.URL), zap.Uint64("gen", gen))
	go func() {
		sock, err := m.dialer.Dial(ctx, m.cfg.URL)
		if err != nil {
			m.send(input{kind: inDialFailed, gen: gen, err: err})
			return
		}
		if !m.send(input{kind: inOpened, gen: gen, sock: sock}) {
			_ = sock.Close()
		}
	}()
}

func (m *Manager) onOpened(in input) {
	if in.gen != m.gen || !m.dialing {
		_ = in.sock.Close()
		return
	}
	m.dialing = false
	m.cancelDial = nil
	m.sock = in.sock
	if err := m.machine.Transition(status.Connected); err != nil {
		m.logger.Error("transition failed", zap.Error(err))
	}
	m.logger.Info("connected", zap.String("url", m.cfg.URL), zap.Uint64("gen", in.gen))

	go m.readLoop(in.gen, in.sock)
	m.schedulePing()
}

func (m *Manager) readLoop(gen uint64, sock Socket) {
	for {
		data, err := sock.Read()
		if err != nil {
			m.send(input{kind: inClosed, gen: gen, sock: sock, err: err})
			return
		}
		if !m.send(input{kind: inFrame, gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager) onFrame(data []byte) {
	f, err := wire.Decode(data)
	if err != nil {
		var de *wire.DecodeError
		if errors.As(err, &de) {
			m.logger.Warn("dropping malformed frame", zap.Int("size", de.Size), zap.Error(de.Err))
		}
		return
	}
	switch f.Type {
	case wire.TypeNewMessage:
		msg := f.Data.Message()
		if !m.sink.MergeNewMessage(msg) {
			m.logger.Debug("duplicate delivery", zap.Int64("id", msg.ID))
		}
	case wire.TypeHeartbeat, wire.TypePong:
		m.machine.SetHeartbeat(f.Timestamp)
	case wire.TypeConnected:
		m.logger.Debug("server acknowledged connection", zap.Int64("ts", f.Timestamp))
	default:
		m.logger.Debug("ignoring frame", zap.String("type", string(f.Type)))
	}
}

func (m *Manager) schedulePing() {
	gen := m.gen
	m.stopPing = m.after(m.cfg.PingInterval, func() {
		m.send(input{kind: inPing, gen: gen})
	})
}

func (m *Manager) onPing() {
	data, err := wire.Encode(wire.Ping())
	if err == nil {
		err = m.sock.Write(data)
	}
	if err != nil {
		// The reader sees the broken socket and reports inClosed.
		m.logger.Debug("ping failed", zap.Error(err))
	}
	m.schedulePing()
}

// scheduleReconnect enters Reconnecting and arms the backoff timer. The
// timer fires for the current generation only.
func (m *Manager) scheduleReconnect() {
	if err := m.machine.Transition(status.Reconnecting); err != nil {
		m.logger.Error("transition failed", zap.Error(err))
		return
	}
	attempt := m.machine.NextAttempt()
	delay := Backoff(attempt, m.jitter(), m.cfg.Backoff)
	gen := m.gen
	m.stopBackoff = m.after(delay, func() {
		m.send(input{kind: inBackoff, gen: gen})
	})
	m.logger.Info("reconnect scheduled", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
}

func (m *Manager) dropSocket() {
	if m.stopPing != nil {
		m.stopPing()
		m.stopPing = nil
	}
	if m.sock != nil {
		_ = m.sock.Close()
		m.sock = nil
	}
}

func (m *Manager) teardown() {
	if m.stopBackoff != nil {
		m.stopBackoff()
		m.stopBackoff = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.dialing = false
	m.dropSocket()
	m.gen++
	if m.machine.Current() != status.Closed {
		if err := m.machine.Transition(status.Closed); err != nil {
			m.logger.Error("transition failed", zap.Error(err))
		}
	}
	m.logger.Info("connection manager closed")
}
