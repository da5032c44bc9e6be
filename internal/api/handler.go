// Package api serves the pull API that clients use to load history and
// repair gaps after a reconnect.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/chat"
	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Store is the read side of the chat log.
type Store interface {
	GetChats(offset, limit int) ([]chat.Summary, error)
	GetMessages(chatID int64, offset, limit int) ([]chat.Message, error)
	SearchMessages(chatID int64, query string) ([]chat.Message, error)
	SearchAllMessages(query string) ([]chat.Message, error)
	MarkChatAsRead(chatID int64) error
}

// Disconnecter drops every live websocket.
type Disconnecter interface {
	SimulateDisconnect() int
}

// Handler implements the /api routes.
type Handler struct {
	store  Store
	hub    Disconnecter
	logger *zap.Logger
}

// NewHandler creates a handler. hub may be nil, in which case the admin
// route is not registered.
func NewHandler(st Store, hub Disconnecter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: st, hub: hub, logger: logger}
}

// Register mounts the routes under /api.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api")
	g.GET("/chats", h.getChats)
	g.GET("/chats/:id/messages", h.getMessages)
	g.GET("/chats/:id/search", h.searchChat)
	g.GET("/search", h.searchAll)
	g.POST("/chats/:id/read", h.markRead)
	if h.hub != nil {
		g.POST("/admin/simulate-disconnect", h.simulateDisconnect)
	}
}

var (
	errBadChatID = errors.New("chat id must be a positive integer")
	errBadOffset = errors.New("offset must be a non-negative integer")
	errBadLimit  = errors.New("limit must be a positive integer")
	errNoQuery   = errors.New("query parameter q is required")
)

func (h *Handler) getChats(c *gin.Context) {
	offset, limit, err := pageParams(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	chats, err := h.store.GetChats(offset, limit)
	if err != nil {
		h.internalError(c, "get chats", err)
		return
	}
	out := make([]Chat, 0, len(chats))
	for _, s := range chats {
		out = append(out, FromSummary(s))
	}
	c.JSON(http.StatusOK, ChatsPage{Offset: offset, Limit: limit, Chats: out})
}

func (h *Handler) getMessages(c *gin.Context) {
	chatID, err := chatIDParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	offset, limit, err := pageParams(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	msgs, err := h.store.GetMessages(chatID, offset, limit)
	if err != nil {
		h.internalError(c, "get messages", err)
		return
	}
	c.JSON(http.StatusOK, MessagesPage{ChatID: chatID, Offset: offset, Limit: limit, Messages: fromMessages(msgs)})
}

func (h *Handler) searchChat(c *gin.Context) {
	chatID, err := chatIDParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	q := c.Query("q")
	if q == "" {
		badRequest(c, errNoQuery)
		return
	}
	msgs, err := h.store.SearchMessages(chatID, q)
	if err != nil {
		h.internalError(c, "search messages", err)
		return
	}
	c.JSON(http.StatusOK, MessagesPage{ChatID: chatID, Limit: len(msgs), Messages: fromMessages(msgs)})
}

func (h *Handler) searchAll(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		badRequest(c, errNoQuery)
		return
	}
	msgs, err := h.store.SearchAllMessages(q)
	if err != nil {
		h.internalError(c, "search all messages", err)
		return
	}
	c.JSON(http.StatusOK, MessagesPage{Limit: len(msgs), Messages: fromMessages(msgs)})
}

func (h *Handler) markRead(c *gin.Context) {
	chatID, err := chatIDParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.store.MarkChatAsRead(chatID); err != nil {
		h.internalError(c, "mark chat as read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) simulateDisconnect(c *gin.Context) {
	n := h.hub.SimulateDisconnect()
	h.logger.Info("simulate disconnect via http", zap.Int("dropped", n))
	c.JSON(http.StatusOK, DisconnectResult{Dropped: n})
}

func chatIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadChatID
	}
	return id, nil
}

func pageParams(c *gin.Context) (offset, limit int, err error) {
	limit = defaultLimit
	if v := c.Query("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errBadOffset
		}
	}
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return 0, 0, errBadLimit
		}
	}
	return offset, min(limit, maxLimit), nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorBody{Error: op + " failed"})
}
