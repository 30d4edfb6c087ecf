// Package ws is the host-UI bridge: a WebSocket endpoint receiving tagged
// commands from the UI surface and returning typed responses.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pixelmuse/backend/internal/ai"
	"github.com/pixelmuse/backend/internal/images"
	"github.com/pixelmuse/backend/internal/logging"
	"github.com/pixelmuse/backend/internal/monitoring"
	"github.com/pixelmuse/backend/internal/session"
	"github.com/pixelmuse/backend/internal/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // editor UI runs on an editor-assigned origin
	},
}

// Handler dispatches UI commands to the session store and its
// collaborators.
type Handler struct {
	store     *session.Store
	generator ai.Generator
	saver     *images.Saver
	resolver  *images.Resolver
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu    sync.Mutex
	conns map[*client]struct{}
}

// client wraps a connection with a write lock: responses come from the
// read loop but notifications can arrive from the removal worker.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewHandler creates a WebSocket handler.
func NewHandler(store *session.Store, generator ai.Generator, saver *images.Saver, resolver *images.Resolver, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		store:     store,
		generator: generator,
		saver:     saver,
		resolver:  resolver,
		logger:    logger,
		conns:     make(map[*client]struct{}),
	}
}

// WithMetrics attaches a metrics collector.
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// HandleConnection upgrades the request and runs the command loop.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &client{conn: conn}

	h.mu.Lock()
	h.conns[cl] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}

	defer func() {
		h.mu.Lock()
		delete(h.conns, cl)
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.WSConnections.Dec()
		}
		conn.Close()
	}()

	reqCtx := c.Request.Context()

	for {
		var cmd types.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			h.logger.Debug("websocket read ended", zap.Error(err))
			return
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues(cmd.Type).Inc()
		}
		h.dispatch(reqCtx, cl, cmd)
	}
}

// Notify broadcasts an informational notification to every connected UI,
// used for aggregated file-removal outcomes.
func (h *Handler) Notify(message string) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.conns))
	for cl := range h.conns {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		if err := cl.writeJSON(gin.H{
			"type":      "notification",
			"message":   message,
			"timestamp": time.Now().Unix(),
		}); err != nil {
			h.logger.Debug("notification write failed", zap.Error(err))
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, cl *client, cmd types.Command) {
	switch cmd.Type {
	case types.CmdSendMessage:
		h.handleSendMessage(ctx, cl, cmd)
	case types.CmdNewChat:
		h.handleNewChat(ctx, cl)
	case types.CmdLoadChatSession:
		h.handleLoadSession(ctx, cl, cmd)
	case types.CmdGetChatSessions:
		h.handleGetSessions(cl)
	case types.CmdUpdateImageStates:
		h.handleUpdateImageStates(ctx, cl, cmd)
	case types.CmdGetChatHistory:
		h.handleGetHistory(ctx, cl)
	case types.CmdPing:
		h.send(cl, gin.H{"type": "pong"})
	default:
		h.sendError(cl, fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, cl *client, cmd types.Command) {
	if cmd.Text == "" {
		h.sendError(cl, "empty message text")
		return
	}

	userMsg := h.store.Append(ctx, types.Message{
		Text:   cmd.Text,
		Sender: types.SenderUser,
		Type:   types.MessageText,
	})
	h.send(cl, gin.H{
		"type":      "message-appended",
		"message":   userMsg,
		"timestamp": time.Now().Unix(),
	})

	if h.generator == nil {
		h.sendError(cl, "image generation is not configured")
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	result, err := h.generator.Generate(genCtx, cmd.Text, cmd.Model)
	if err != nil {
		h.sendError(cl, err.Error())
		return
	}

	paths, err := h.saver.SaveAll(genCtx, result.Images)
	if err != nil {
		h.sendError(cl, err.Error())
		return
	}

	data := &types.ImageData{
		Prompt:         cmd.Text,
		SavedFilePaths: paths,
		ImageStates: &types.ImageStates{
			Deleted: make([]bool, len(paths)),
			Hidden:  make([]bool, len(paths)),
		},
		Usage: result.Usage,
	}
	assistantMsg := h.store.Append(ctx, types.Message{
		Text:      "Generated " + plural(len(paths), "image"),
		Sender:    types.SenderAssistant,
		Type:      types.MessageImage,
		ImageData: data,
	})

	h.send(cl, gin.H{
		"type":      "message-appended",
		"message":   assistantMsg,
		"images":    h.resolver.Resolve(data),
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) handleNewChat(ctx context.Context, cl *client) {
	sum := h.store.Create(ctx)
	h.send(cl, gin.H{
		"type":      "chat-created",
		"session":   sum,
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) handleLoadSession(ctx context.Context, cl *client, cmd types.Command) {
	if cmd.SessionID == "" {
		h.sendError(cl, "missing sessionId")
		return
	}
	msgs, err := h.store.Switch(ctx, cmd.SessionID)
	if err != nil {
		h.sendError(cl, err.Error())
		return
	}
	h.send(cl, gin.H{
		"type":      "chat-session",
		"sessionId": cmd.SessionID,
		"messages":  h.presentMessages(msgs),
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) handleGetSessions(cl *client) {
	h.send(cl, gin.H{
		"type":      "chat-sessions",
		"sessions":  h.store.Summaries(),
		"currentId": h.store.CurrentID(),
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) handleUpdateImageStates(ctx context.Context, cl *client, cmd types.Command) {
	if cmd.MessageIndex == nil {
		h.sendError(cl, "missing messageIndex")
		return
	}
	applied, err := h.store.UpdateImageStates(ctx, *cmd.MessageIndex, cmd.ImageStates)
	if err != nil {
		h.sendError(cl, err.Error())
		return
	}
	h.send(cl, gin.H{
		"type":      "image-states-updated",
		"applied":   applied,
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) handleGetHistory(ctx context.Context, cl *client) {
	id, msgs := h.store.History(ctx)
	h.send(cl, gin.H{
		"type":      "chat-history",
		"sessionId": id,
		"messages":  h.presentMessages(msgs),
		"timestamp": time.Now().Unix(),
	})
}

// messageView is a message with its saved paths resolved into presentable
// references.
type messageView struct {
	types.Message
	Images []string `json:"images,omitempty"`
}

func (h *Handler) presentMessages(msgs []types.Message) []messageView {
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{Message: m}
		if m.Type == types.MessageImage {
			views[i].Images = h.resolver.Resolve(m.ImageData)
		}
	}
	return views
}

func (h *Handler) send(cl *client, data interface{}) {
	if err := cl.writeJSON(data); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
	}
}

func (h *Handler) sendError(cl *client, msg string) {
	h.send(cl, gin.H{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
