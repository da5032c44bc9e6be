package hub

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/wire"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	msgs []chat.Message
	last map[int64]int64
	fail error
}

func newMemStore() *memStore {
	return &memStore{last: make(map[int64]int64)}
}

func (m *memStore) InsertMessage(msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memStore) UpdateChatLastMessage(chatID, ts int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[chatID] = max(m.last[chatID], ts)
	return nil
}

type seqGen struct {
	mu     sync.Mutex
	drafts []Draft
	i      int
	delay  time.Duration
}

func (g *seqGen) Next() Draft {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.drafts[g.i%len(g.drafts)]
	g.i++
	return d
}

func (g *seqGen) NextDelay() time.Duration { return g.delay }

func newTestServer(t *testing.T, st MessageStore) (*Server, string) {
	t.Helper()
	gen := &seqGen{drafts: []Draft{{ChatID: 5, Sender: "Alice", Body: "Hi"}}, delay: time.Hour}
	s := New(Config{}, st, gen, NewIDIssuer(1000), nil, nil)
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) wire.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := wire.Decode(data)
	require.NoError(t, err)
	return f
}

func TestConnectedAckIsFirstFrame(t *testing.T) {
	s, url := newTestServer(t, newMemStore())
	ws := dial(t, url)

	f := readFrame(t, ws)
	require.Equal(t, wire.TypeConnected, f.Type)
	require.Equal(t, int64(1_700_000_000_000), f.Timestamp)
	require.Equal(t, 1, s.ConnectionCount())
}

func TestEmitPersistsAndBroadcasts(t *testing.T) {
	st := newMemStore()
	s, url := newTestServer(t, st)
	a := dial(t, url)
	b := dial(t, url)
	readFrame(t, a)
	readFrame(t, b)

	m, err := s.emit()
	require.NoError(t, err)
	require.Equal(t, int64(1001), m.ID)

	for _, ws := range []*websocket.Conn{a, b} {
		f := readFrame(t, ws)
		require.Equal(t, wire.TypeNewMessage, f.Type)
		require.NotNil(t, f.Data)
		require.Equal(t, m, f.Data.Message())
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.msgs, 1)
	require.Equal(t, m.Timestamp, st.last[5])
}

func TestEmitWithoutClients(t *testing.T) {
	st := newMemStore()
	s, _ := newTestServer(t, st)

	for range 3 {
		_, err := s.emit()
		require.NoError(t, err)
	}
	require.Equal(t, int64(1003), s.Stats().LastMessageID)
}

func TestEmitSkipsBroadcastWhenInsertFails(t *testing.T) {
	st := newMemStore()
	st.fail = errors.New("disk full")
	s, url := newTestServer(t, st)
	ws := dial(t, url)
	readFrame(t, ws)

	_, err := s.emit()
	require.Error(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err, "no frame expected after a failed insert")
}

func TestPingGetsPong(t *testing.T) {
	_, url := newTestServer(t, newMemStore())
	ws := dial(t, url)
	readFrame(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	f := readFrame(t, ws)
	require.Equal(t, wire.TypePong, f.Type)
	require.NotZero(t, f.Timestamp)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	s, url := newTestServer(t, newMemStore())
	ws := dial(t, url)
	readFrame(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	f := readFrame(t, ws)
	require.Equal(t, wire.TypePong, f.Type)
	require.Equal(t, 1, s.ConnectionCount())
}

func TestSimulateDisconnectEmptiesRegistry(t *testing.T) {
	s, url := newTestServer(t, newMemStore())
	clients := []*websocket.Conn{dial(t, url), dial(t, url), dial(t, url)}
	for _, ws := range clients {
		readFrame(t, ws)
	}
	require.Equal(t, 3, s.ConnectionCount())

	require.Equal(t, 3, s.SimulateDisconnect())
	require.Equal(t, 0, s.ConnectionCount())

	for _, ws := range clients {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := ws.ReadMessage()
		require.Error(t, err)
		require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)
	}

	// Clients may reconnect afterwards.
	ws := dial(t, url)
	require.Equal(t, wire.TypeConnected, readFrame(t, ws).Type)
	require.Equal(t, 1, s.ConnectionCount())
}

func TestHeartbeatLoop(t *testing.T) {
	s, url := newTestServer(t, newMemStore())
	s.cfg.HeartbeatInterval = 20 * time.Millisecond
	ws := dial(t, url)
	readFrame(t, ws)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.heartbeatLoop(ctx)
		close(done)
	}()

	f := readFrame(t, ws)
	require.Equal(t, wire.TypeHeartbeat, f.Type)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}

func TestStartBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	s := New(Config{Host: "127.0.0.1", Port: port}, newMemStore(), &seqGen{drafts: []Draft{{ChatID: 1}}, delay: time.Hour}, nil, nil, nil)
	err = s.Start(context.Background())

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	require.Contains(t, bindErr.Addr, "127.0.0.1")
}

func TestStartAndStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	st := newMemStore()
	gen := &seqGen{drafts: []Draft{{ChatID: 2, Sender: "Bob", Body: "yo"}}, delay: 10 * time.Millisecond}
	s := New(Config{Host: "127.0.0.1", Port: port}, st, gen, nil, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	require.Equal(t, wire.TypeConnected, readFrame(t, ws).Type)
	require.Equal(t, wire.TypeNewMessage, readFrame(t, ws).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.Equal(t, 0, s.ConnectionCount())
}

func TestIDIssuerUniqueUnderConcurrency(t *testing.T) {
	ids := NewIDIssuer(41)
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				id := ids.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("id %d issued twice", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 16*500 {
		t.Errorf("issued %d ids, want %d", len(seen), 16*500)
	}
	if seen[41] {
		t.Error("seed id 41 was reissued")
	}
	if got := ids.Last(); got != 41+16*500 {
		t.Errorf("Last() = %d, want %d", got, 41+16*500)
	}
}

func TestRandomGeneratorRanges(t *testing.T) {
	g := NewRandomGenerator(rand.New(rand.NewPCG(7, 7)), 200, time.Second, 3*time.Second)
	for range 5000 {
		d := g.Next()
		if d.ChatID < 1 || d.ChatID > 200 {
			t.Fatalf("ChatID = %d, want [1,200]", d.ChatID)
		}
		if d.Sender == "" || d.Body == "" {
			t.Fatalf("empty draft %+v", d)
		}
		delay := g.NextDelay()
		if delay < time.Second || delay >= 3*time.Second {
			t.Fatalf("NextDelay() = %v, want [1s,3s)", delay)
		}
	}
}
