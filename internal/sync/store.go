// Package sync holds the client-side cache that reconciles paginated history
// pulled from the server with messages pushed over the live connection.
package sync

import (
	"cmp"
	"slices"
	"sort"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"go.uber.org/zap"
)

const previewLen = 100

type chatCache struct {
	summary  chat.Summary
	messages []chat.Message // ordered by (Timestamp, ID)
	ids      map[int64]struct{}
}

// Store is the deduplicating message/chat cache. It is safe for concurrent
// use: the connection manager writes pushed messages, the repairer writes
// pulled pages and views read snapshots.
type Store struct {
	mu     sync.RWMutex
	chats  map[int64]*chatCache
	order  []int64 // chat ids by LastMessageAt descending
	active int64
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates an empty cache. b and logger may be nil.
func NewStore(b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		chats:  make(map[int64]*chatCache),
		bus:    b,
		logger: logger,
	}
}

// MergeNewMessage merges a pushed message. It returns false when the message
// id is already cached for the chat, which makes redelivery a no-op.
func (s *Store) MergeNewMessage(m chat.Message) bool {
	s.mu.Lock()
	added, reordered := s.mergeLocked(m, true)
	if reordered {
		s.reorderLocked()
	}
	s.mu.Unlock()

	if !added {
		s.logger.Debug("duplicate message dropped", zap.Int64("message_id", m.ID), zap.Int64("chat_id", m.ChatID))
		return false
	}
	s.bus.PublishNow(bus.KindCacheUpdated, m.ChatID)
	return true
}

// MergeMessagesPage merges a page pulled from the server for chatID and
// returns how many messages were new. Messages of other chats are ignored.
func (s *Store) MergeMessagesPage(chatID int64, page []chat.Message) int {
	s.mu.Lock()
	added, reorder := 0, false
	for _, m := range page {
		if m.ChatID != chatID {
			continue
		}
		ok, moved := s.mergeLocked(m, false)
		if ok {
			added++
		}
		reorder = reorder || moved
	}
	if reorder {
		s.reorderLocked()
	}
	s.mu.Unlock()

	if added > 0 {
		s.bus.PublishNow(bus.KindCacheUpdated, chatID)
	}
	return added
}

// MergeChatsPage merges a page of chat summaries pulled from the server.
// LastMessageAt only ever moves forward; the server's unread count wins
// except for the open chat, which stays read.
func (s *Store) MergeChatsPage(page []chat.Summary) {
	if len(page) == 0 {
		return
	}
	s.mu.Lock()
	for _, in := range page {
		c := s.chatLocked(in.ChatID)
		if in.Name != "" {
			c.summary.Name = in.Name
		}
		if in.LastMessageAt > c.summary.LastMessageAt {
			c.summary.LastMessageAt = in.LastMessageAt
			c.summary.LastMessagePreview = in.LastMessagePreview
		}
		if in.ChatID != s.active {
			c.summary.UnreadCount = in.UnreadCount
		}
	}
	s.reorderLocked()
	s.mu.Unlock()

	s.bus.PublishNow(bus.KindCacheUpdated, int64(0))
}

// mergeLocked inserts m in timestamp order unless its id is cached.
// It reports whether m was added and whether the chat order may have changed.
func (s *Store) mergeLocked(m chat.Message, live bool) (added, reorder bool) {
	_, known := s.chats[m.ChatID]
	c := s.chatLocked(m.ChatID)
	if _, dup := c.ids[m.ID]; dup {
		return false, !known
	}

	i := sort.Search(len(c.messages), func(i int) bool { return m.Before(c.messages[i]) })
	c.messages = slices.Insert(c.messages, i, m)
	c.ids[m.ID] = struct{}{}

	if live && m.ChatID != s.active {
		c.summary.UnreadCount++
	}
	if m.Timestamp > c.summary.LastMessageAt {
		c.summary.LastMessageAt = m.Timestamp
		c.summary.LastMessagePreview = chat.Preview(m.Body, previewLen)
		return true, true
	}
	return true, !known
}

func (s *Store) chatLocked(chatID int64) *chatCache {
	c, ok := s.chats[chatID]
	if !ok {
		c = &chatCache{
			summary: chat.Summary{ChatID: chatID},
			ids:     make(map[int64]struct{}),
		}
		s.chats[chatID] = c
		s.order = append(s.order, chatID)
	}
	return c
}

func (s *Store) reorderLocked() {
	slices.SortStableFunc(s.order, func(a, b int64) int {
		ta, tb := s.chats[a].summary.LastMessageAt, s.chats[b].summary.LastMessageAt
		if ta != tb {
			return cmp.Compare(tb, ta)
		}
		return cmp.Compare(a, b)
	})
}

// Chats returns the chat list ordered by most recent message first.
func (s *Store) Chats() []chat.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Summary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.chats[id].summary)
	}
	return out
}

// Summary returns one chat's summary.
func (s *Store) Summary(chatID int64) (chat.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return chat.Summary{}, false
	}
	return c.summary, true
}

// Messages returns a copy of the cached messages of a chat, oldest first.
func (s *Store) Messages(chatID int64) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	return slices.Clone(c.messages)
}

// Len returns the number of cached messages for a chat.
func (s *Store) Len(chatID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.chats[chatID]; ok {
		return len(c.messages)
	}
	return 0
}

// LoadedChats returns the ids of chats that have cached messages, most
// recent first.
func (s *Store) LoadedChats() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for _, id := range s.order {
		if len(s.chats[id].messages) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Open marks chatID as the chat being viewed and clears its unread count.
// Open(0) closes the active chat.
func (s *Store) Open(chatID int64) {
	s.mu.Lock()
	s.active = chatID
	if c, ok := s.chats[chatID]; ok {
		c.summary.UnreadCount = 0
	}
	s.mu.Unlock()
	s.bus.PublishNow(bus.KindCacheUpdated, chatID)
}

// Active returns the open chat, 0 if none.
func (s *Store) Active() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// MarkRead clears a chat's unread count locally.
func (s *Store) MarkRead(chatID int64) {
	s.mu.Lock()
	if c, ok := s.chats[chatID]; ok {
		c.summary.UnreadCount = 0
	}
	s.mu.Unlock()
	s.bus.PublishNow(bus.KindCacheUpdated, chatID)
}
