package client

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// fakePuller serves pages the way the store does: offset counts back from
// the newest message and each page is oldest first.
type fakePuller struct {
	mu        sync.Mutex
	chats     []chat.Summary
	msgs      map[int64][]chat.Message
	chatCalls int
	err       error
}

func (p *fakePuller) GetChats(_ context.Context, offset, limit int) ([]chat.Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatCalls++
	if p.err != nil {
		return nil, p.err
	}
	if offset >= len(p.chats) {
		return nil, nil
	}
	return slices.Clone(p.chats[offset:min(offset+limit, len(p.chats))]), nil
}

func (p *fakePuller) GetMessages(_ context.Context, chatID int64, offset, limit int) ([]chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	all := p.msgs[chatID]
	end := len(all) - offset
	if end <= 0 {
		return nil, nil
	}
	return slices.Clone(all[max(end-limit, 0):end]), nil
}

func (p *fakePuller) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatCalls
}

func history(chatID int64, n int) []chat.Message {
	out := make([]chat.Message, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, chat.Message{ID: int64(i), ChatID: chatID, Timestamp: int64(i) * 1000, Sender: "Alice", Body: "m"})
	}
	return out
}

func TestRepairFillsGapAfterOutage(t *testing.T) {
	all := history(7, 120)
	p := &fakePuller{
		chats: []chat.Summary{{ChatID: 7, Name: "Chat 7", LastMessageAt: 120_000, UnreadCount: 70}},
		msgs:  map[int64][]chat.Message{7: all},
	}
	cache := intsync.NewStore(nil, nil)
	cache.MergeMessagesPage(7, all[:50])

	r := NewRepairer(p, cache, bus.New(), nil, 0, 50)
	res := r.Repair(context.Background())

	if res.Messages != 70 {
		t.Errorf("repaired messages = %d, want 70", res.Messages)
	}
	got := cache.Messages(7)
	if len(got) != 120 {
		t.Fatalf("cached = %d, want 120", len(got))
	}
	for i, m := range got {
		if m.ID != int64(i+1) {
			t.Fatalf("message %d has id %d, cache has a gap", i, m.ID)
		}
	}
	sum, _ := cache.Summary(7)
	if sum.LastMessageAt != 120_000 {
		t.Errorf("LastMessageAt = %d, want 120000", sum.LastMessageAt)
	}
}

func TestRepairPagesThroughChats(t *testing.T) {
	p := &fakePuller{msgs: map[int64][]chat.Message{}}
	for i := int64(1); i <= 120; i++ {
		p.chats = append(p.chats, chat.Summary{ChatID: i, LastMessageAt: 1000 - i})
	}
	cache := intsync.NewStore(nil, nil)

	r := NewRepairer(p, cache, nil, nil, 0, 50)
	res := r.Repair(context.Background())

	if res.Chats != 120 || len(cache.Chats()) != 120 {
		t.Errorf("chats = %d (cached %d), want 120", res.Chats, len(cache.Chats()))
	}
	if p.calls() != 3 {
		t.Errorf("GetChats calls = %d, want 3", p.calls())
	}
}

func TestRepairIncludesActiveChat(t *testing.T) {
	p := &fakePuller{msgs: map[int64][]chat.Message{3: history(3, 5)}}
	cache := intsync.NewStore(nil, nil)
	cache.Open(3)

	NewRepairer(p, cache, nil, nil, 0, 50).Repair(context.Background())
	if n := cache.Len(3); n != 5 {
		t.Errorf("Len(3) = %d, want 5", n)
	}
}

func TestRepairStopsOnError(t *testing.T) {
	p := &fakePuller{err: errors.New("unreachable")}
	cache := intsync.NewStore(nil, nil)
	res := NewRepairer(p, cache, nil, nil, 0, 50).Repair(context.Background())
	if res != (RepairResult{}) {
		t.Errorf("Repair() = %+v, want zero", res)
	}
}

func TestRepairRunsOnReconnect(t *testing.T) {
	b := bus.New()
	machine := status.NewMachine(b)
	p := &fakePuller{msgs: map[int64][]chat.Message{}}
	r := NewRepairer(p, intsync.NewStore(b, nil), b, nil, 0, 50)

	repaired, unsub := b.Subscribe(bus.KindChatsRepaired, 4)
	defer unsub()

	r.Start(context.Background())
	defer r.Stop()

	_ = machine.Transition(status.Connecting)
	_ = machine.Transition(status.Connected)

	select {
	case <-repaired:
	case <-time.After(2 * time.Second):
		t.Fatal("no repair after reaching Connected")
	}
	if p.calls() != 1 {
		t.Errorf("GetChats calls = %d, want 1", p.calls())
	}
}

func TestRepairRunsPeriodically(t *testing.T) {
	b := bus.New()
	p := &fakePuller{msgs: map[int64][]chat.Message{}}
	r := NewRepairer(p, intsync.NewStore(nil, nil), b, nil, 20*time.Millisecond, 50)
	r.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for p.calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	if p.calls() < 2 {
		t.Errorf("GetChats calls = %d, want >= 2", p.calls())
	}
}

func TestLoadChatAndOlder(t *testing.T) {
	p := &fakePuller{msgs: map[int64][]chat.Message{9: history(9, 80)}}
	cache := intsync.NewStore(nil, nil)
	r := NewRepairer(p, cache, nil, nil, 0, 50)

	if n, err := r.LoadChat(context.Background(), 9); err != nil || n != 50 {
		t.Fatalf("LoadChat() = %d, %v; want 50", n, err)
	}
	if first := cache.Messages(9)[0].ID; first != 31 {
		t.Errorf("oldest loaded = %d, want 31", first)
	}
	if n, err := r.LoadOlder(context.Background(), 9); err != nil || n != 30 {
		t.Fatalf("LoadOlder() = %d, %v; want 30", n, err)
	}
	if n := cache.Len(9); n != 80 {
		t.Errorf("Len(9) = %d, want 80", n)
	}
}
