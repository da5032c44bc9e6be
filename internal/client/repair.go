// Package client wires the sync client: connection manager, cache, status
// model and the repairer that pulls history to close gaps.
package client

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

const (
	maxChatPages    = 20
	maxMessagePages = 10
)

// Puller is the pull API as seen by the repairer.
type Puller interface {
	GetChats(ctx context.Context, offset, limit int) ([]chat.Summary, error)
	GetMessages(ctx context.Context, chatID int64, offset, limit int) ([]chat.Message, error)
}

// Cache is the part of the sync store the repairer writes to.
type Cache interface {
	MergeChatsPage(page []chat.Summary)
	MergeMessagesPage(chatID int64, page []chat.Message) int
	LoadedChats() []int64
	Active() int64
	Len(chatID int64) int
}

// RepairResult is the payload of cache.repaired events.
type RepairResult struct {
	Chats    int
	Messages int
}

// Repairer re-fetches chats and recent messages after every reconnect and
// on a fixed interval. Messages pushed while the client was offline are
// never replayed, so this is how gaps get filled.
type Repairer struct {
	pull     Puller
	cache    Cache
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	pageSize int

	mu     sync.Mutex // serializes repair passes
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRepairer creates a repairer. Interval <= 0 disables the periodic pass.
func NewRepairer(p Puller, c Cache, b *bus.Bus, logger *zap.Logger, interval time.Duration, pageSize int) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Repairer{
		pull:     p,
		cache:    c,
		bus:      b,
		logger:   logger,
		interval: interval,
		pageSize: pageSize,
	}
}

// Start begins watching the connection status and the repair ticker.
func (r *Repairer) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	events, unsub := r.bus.Subscribe(bus.KindStatusChanged, 16)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		defer unsub()
		r.loop(ctx, events)
	}()
}

// Stop stops the repair loop and waits for an in-flight pass to finish.
func (r *Repairer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

func (r *Repairer) loop(ctx context.Context, events <-chan bus.Event) {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case evt := <-events:
			change, ok := evt.Payload.(status.StatusChange)
			if !ok || change.To != status.Connected || change.From == status.Connected {
				continue
			}
			r.Repair(ctx)
		case <-tick:
			r.Repair(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Repair runs one pass: the chat list, then the newest pages of every chat
// that has cached messages or is open.
func (r *Repairer) Repair(ctx context.Context) RepairResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res RepairResult
	for page := range maxChatPages {
		chats, err := r.pull.GetChats(ctx, page*r.pageSize, r.pageSize)
		if err != nil {
			r.logger.Warn("repair: get chats failed", zap.Error(err))
			return res
		}
		r.cache.MergeChatsPage(chats)
		res.Chats += len(chats)
		if len(chats) < r.pageSize {
			break
		}
	}

	targets := r.cache.LoadedChats()
	if active := r.cache.Active(); active != 0 && !slices.Contains(targets, active) {
		targets = append(targets, active)
	}
	for _, chatID := range targets {
		n, err := r.repairChat(ctx, chatID)
		res.Messages += n
		if err != nil {
			r.logger.Warn("repair: get messages failed", zap.Int64("chat_id", chatID), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	if res.Messages > 0 {
		r.logger.Info("repair filled gaps", zap.Int("chats", res.Chats), zap.Int("messages", res.Messages))
	}
	r.bus.PublishNow(bus.KindChatsRepaired, res)
	return res
}

// repairChat walks back from the newest page while every message on a full
// page is new, which means the gap may continue further back.
func (r *Repairer) repairChat(ctx context.Context, chatID int64) (int, error) {
	total := 0
	for page := range maxMessagePages {
		msgs, err := r.pull.GetMessages(ctx, chatID, page*r.pageSize, r.pageSize)
		if err != nil {
			return total, err
		}
		added := r.cache.MergeMessagesPage(chatID, msgs)
		total += added
		if len(msgs) < r.pageSize || added < len(msgs) {
			break
		}
	}
	return total, nil
}

// LoadChat fetches the newest page of a chat, for when it is opened.
func (r *Repairer) LoadChat(ctx context.Context, chatID int64) (int, error) {
	msgs, err := r.pull.GetMessages(ctx, chatID, 0, r.pageSize)
	if err != nil {
		return 0, err
	}
	return r.cache.MergeMessagesPage(chatID, msgs), nil
}

// LoadOlder fetches the page preceding what is cached for a chat.
func (r *Repairer) LoadOlder(ctx context.Context, chatID int64) (int, error) {
	msgs, err := r.pull.GetMessages(ctx, chatID, r.cache.Len(chatID), r.pageSize)
	if err != nil {
		return 0, err
	}
	return r.cache.MergeMessagesPage(chatID, msgs), nil
}
