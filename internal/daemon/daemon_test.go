package daemon

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/admin"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/hub"
	"github.com/matheus3301/chatsync/internal/instance"
	"github.com/matheus3301/chatsync/internal/pull"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func testParams(t *testing.T) Params {
	t.Helper()
	// Use a short path to avoid macOS 104-char Unix socket limit.
	home, err := os.MkdirTemp("/tmp", "chatsync-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv("CHATSYNC_HOME", home)

	cfg := config.Default().Server
	cfg.Port = freePort(t)
	cfg.EmitMinDelay.Duration = 5 * time.Millisecond
	cfg.EmitMaxDelay.Duration = 10 * time.Millisecond
	cfg.ChatCount = 20
	return Params{Instance: "test", Config: cfg}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	p := testParams(t)
	app := fx.New(Module(p), fx.NopLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	// A client receives pushed messages.
	machine := status.NewMachine(nil)
	cache := intsync.NewStore(nil, nil)
	url := "ws://127.0.0.1:" + strconv.Itoa(p.Config.Port) + "/ws"
	mgr := conn.NewManager(conn.Config{URL: url}, conn.NewWSDialer(), machine, cache, nil)
	mgr.Start(context.Background())
	defer mgr.Close()
	mgr.Connect()

	waitFor(t, 5*time.Second, func() bool { return machine.Current() == status.Connected }, "connected")
	waitFor(t, 5*time.Second, func() bool { return len(cache.LoadedChats()) > 0 }, "pushed message")

	// The pull API shares the listener.
	pc := pull.New("http://127.0.0.1:"+strconv.Itoa(p.Config.Port), nil)
	chats, err := pc.GetChats(ctx, 0, 50)
	if err != nil {
		t.Fatalf("GetChats() error = %v", err)
	}
	if len(chats) != 20 {
		t.Errorf("len(chats) = %d, want 20 seeded", len(chats))
	}

	// Fault injection through the admin socket drops the client.
	ac, err := admin.Dial(instance.SocketPath(p.Instance))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ac.Close() }()

	n, err := ac.SimulateDisconnect(ctx)
	if err != nil {
		t.Fatalf("SimulateDisconnect() error = %v", err)
	}
	if n != 1 {
		t.Errorf("dropped = %d, want 1", n)
	}
	waitFor(t, 2*time.Second, func() bool { return machine.Current() != status.Connected }, "client leaves Connected")
	waitFor(t, 5*time.Second, func() bool { return machine.Current() == status.Connected }, "client reconnects")

	stats, err := ac.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats["connections"] != float64(1) {
		t.Errorf("connections = %v, want 1", stats["connections"])
	}
	if id, _ := stats["last_message_id"].(float64); id < 1 {
		t.Errorf("last_message_id = %v, want > 0", stats["last_message_id"])
	}
}

func TestSecondDaemonFailsOnLock(t *testing.T) {
	p := testParams(t)
	first := fx.New(Module(p), fx.NopLogger)
	if err := first.Err(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Stop(context.Background()) }()

	p2 := p
	p2.Config.Port = freePort(t)
	second := fx.New(Module(p2), fx.NopLogger)
	err := second.Err()
	if err == nil || !strings.Contains(err.Error(), "instance lock held") {
		t.Errorf("second daemon error = %v, want lock held", err)
	}
}

func TestBindFailureAbortsStart(t *testing.T) {
	p := testParams(t)
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(p.Config.Port))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	app := fx.New(Module(p), fx.NopLogger)
	err = app.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bind") {
		t.Errorf("Start() error = %v, want bind error", err)
	}
	_ = app.Stop(context.Background())
}

func TestIDsResumeAfterRestart(t *testing.T) {
	p := testParams(t)

	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := app.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	db, err := openStore(instance.DBPath(p.Instance), p.Config.ChatCount, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	before, err := db.MaxMessageID()
	_ = db.Close()
	if err != nil || before == 0 {
		t.Fatalf("MaxMessageID() = %d, %v; want > 0", before, err)
	}

	p.Config.Port = freePort(t)
	var ids *hub.IDIssuer
	app = fx.New(Module(p), fx.NopLogger, fx.Populate(&ids))
	if err := app.Err(); err != nil {
		t.Fatal(err)
	}
	if got := ids.Last(); got != before {
		t.Errorf("issuer resumes after %d, want %d", got, before)
	}
	if got := ids.Next(); got != before+1 {
		t.Errorf("first id after restart = %d, want %d", got, before+1)
	}
	_ = app.Stop(context.Background())
}
