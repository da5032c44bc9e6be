package pull

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/store"
)

type countingHub struct{ n int }

func (h *countingHub) SimulateDisconnect() int { h.n++; return 2 }

func newServer(t *testing.T) (*Client, *store.DB, *countingHub) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "pull.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(nil); err != nil {
		t.Fatal(err)
	}
	if err := db.SeedChats(5); err != nil {
		t.Fatal(err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	hub := &countingHub{}
	api.NewHandler(db, hub, nil).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", nil), db, hub
}

func TestClientRoundTrip(t *testing.T) {
	c, db, hub := newServer(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		m := chat.Message{ID: i, ChatID: 2, Timestamp: i * 100, Sender: "Grace", Body: "hello there"}
		if err := db.InsertMessage(m); err != nil {
			t.Fatal(err)
		}
		if err := db.UpdateChatLastMessage(2, m.Timestamp, m.Body); err != nil {
			t.Fatal(err)
		}
	}

	chats, err := c.GetChats(ctx, 0, 50)
	if err != nil {
		t.Fatalf("GetChats() error = %v", err)
	}
	if len(chats) != 5 || chats[0].ChatID != 2 || chats[0].UnreadCount != 3 {
		t.Errorf("GetChats() = %+v", chats)
	}

	msgs, err := c.GetMessages(ctx, 2, 0, 2)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 2 || msgs[1].ID != 3 {
		t.Errorf("GetMessages() = %+v, want ids [2 3]", msgs)
	}

	found, err := c.SearchMessages(ctx, 2, "THERE")
	if err != nil || len(found) != 3 {
		t.Errorf("SearchMessages() = %d results, err %v; want 3", len(found), err)
	}
	found, err = c.SearchAllMessages(ctx, "nomatch")
	if err != nil || len(found) != 0 {
		t.Errorf("SearchAllMessages() = %d results, err %v; want 0", len(found), err)
	}

	if err := c.MarkChatAsRead(ctx, 2); err != nil {
		t.Fatalf("MarkChatAsRead() error = %v", err)
	}
	s, _ := db.GetChat(2)
	if s.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", s.UnreadCount)
	}

	n, err := c.SimulateDisconnect(ctx)
	if err != nil || n != 2 || hub.n != 1 {
		t.Errorf("SimulateDisconnect() = %d, %v (calls %d)", n, err, hub.n)
	}
}

func TestClientStatusError(t *testing.T) {
	c, _, _ := newServer(t)
	_, err := c.SearchAllMessages(context.Background(), "")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadRequest || se.Message == "" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestClientUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", nil)
	if _, err := c.GetChats(context.Background(), 0, 10); err == nil {
		t.Error("GetChats() expected error for unreachable server")
	}
}
