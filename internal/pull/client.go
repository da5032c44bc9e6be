// Package pull is the client side of the pull API.
package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chat"
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pull api: HTTP %d", e.Code)
	}
	return fmt.Sprintf("pull api: HTTP %d: %s", e.Code, e.Message)
}

// Client calls the server's /api routes.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the server at baseURL, e.g. http://127.0.0.1:8080.
// A nil hc uses a client with a 10s timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// GetChats fetches one page of the chat list, most recent first.
func (c *Client) GetChats(ctx context.Context, offset, limit int) ([]chat.Summary, error) {
	var page api.ChatsPage
	if err := c.do(ctx, http.MethodGet, "/api/chats", pageQuery(offset, limit), &page); err != nil {
		return nil, err
	}
	out := make([]chat.Summary, 0, len(page.Chats))
	for _, ch := range page.Chats {
		out = append(out, ch.ToChat())
	}
	return out, nil
}

// GetMessages fetches one page of a chat's history. Offset 0 is the newest
// page; each page is oldest first.
func (c *Client) GetMessages(ctx context.Context, chatID int64, offset, limit int) ([]chat.Message, error) {
	var page api.MessagesPage
	path := "/api/chats/" + strconv.FormatInt(chatID, 10) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, pageQuery(offset, limit), &page); err != nil {
		return nil, err
	}
	return toMessages(page.Messages), nil
}

// SearchMessages searches one chat.
func (c *Client) SearchMessages(ctx context.Context, chatID int64, query string) ([]chat.Message, error) {
	var page api.MessagesPage
	path := "/api/chats/" + strconv.FormatInt(chatID, 10) + "/search"
	if err := c.do(ctx, http.MethodGet, path, url.Values{"q": {query}}, &page); err != nil {
		return nil, err
	}
	return toMessages(page.Messages), nil
}

// SearchAllMessages searches every chat.
func (c *Client) SearchAllMessages(ctx context.Context, query string) ([]chat.Message, error) {
	var page api.MessagesPage
	if err := c.do(ctx, http.MethodGet, "/api/search", url.Values{"q": {query}}, &page); err != nil {
		return nil, err
	}
	return toMessages(page.Messages), nil
}

// MarkChatAsRead resets a chat's unread counter on the server.
func (c *Client) MarkChatAsRead(ctx context.Context, chatID int64) error {
	path := "/api/chats/" + strconv.FormatInt(chatID, 10) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SimulateDisconnect asks the server to drop every websocket.
func (c *Client) SimulateDisconnect(ctx context.Context) (int, error) {
	var res api.DisconnectResult
	if err := c.do(ctx, http.MethodPost, "/api/admin/simulate-disconnect", nil, &res); err != nil {
		return 0, err
	}
	return res.Dropped, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body api.ErrorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func pageQuery(offset, limit int) url.Values {
	return url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}
}

func toMessages(in []api.Message) []chat.Message {
	out := make([]chat.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.ToChat())
	}
	return out
}
