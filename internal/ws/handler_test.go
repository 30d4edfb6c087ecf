package ws

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmuse/backend/internal/ai"
	"github.com/pixelmuse/backend/internal/images"
	"github.com/pixelmuse/backend/internal/session"
	"github.com/pixelmuse/backend/internal/storage"
)

// stubGenerator returns a fixed inline payload for every prompt.
type stubGenerator struct {
	err error
}

func (g *stubGenerator) Generate(ctx context.Context, prompt, model string) (*ai.Result, error) {
	if g.err != nil {
		return nil, g.err
	}
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	return &ai.Result{
		Images: []ai.Image{{B64JSON: payload}},
		Usage:  map[string]interface{}{"model": "stub", "cost": 0.01},
	}, nil
}

type wsFixture struct {
	conn  *websocket.Conn
	store *session.Store
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()

	backend := storage.NewBackend([]storage.Tier{storage.NewFileTier(root)}, nil)
	rem := session.NewFileRemover(10*time.Millisecond, nil, nil)
	t.Cleanup(rem.Close)

	store, err := session.NewStore(session.Config{
		Backend:   backend,
		Index:     storage.NewIndexFile(root),
		Lifecycle: session.NewImageLifecycle(rem, nil),
		Window:    10 * time.Millisecond,
	})
	require.NoError(t, err)

	saver := images.NewSaver(root+"/images", nil)
	handler := NewHandler(store, &stubGenerator{}, saver, images.NewResolver(), nil)

	router := gin.New()
	router.GET("/ws", handler.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsFixture{conn: conn, store: store}
}

func (f *wsFixture) send(t *testing.T, cmd map[string]interface{}) {
	t.Helper()
	require.NoError(t, f.conn.WriteJSON(cmd))
}

func (f *wsFixture) recv(t *testing.T) map[string]interface{} {
	t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, f.conn.ReadJSON(&msg))
	return msg
}

func TestHandlerPing(t *testing.T) {
	f := newWSFixture(t)
	f.send(t, map[string]interface{}{"type": "ping"})
	resp := f.recv(t)
	assert.Equal(t, "pong", resp["type"])
}

func TestHandlerUnknownCommand(t *testing.T) {
	f := newWSFixture(t)
	f.send(t, map[string]interface{}{"type": "reticulate-splines"})
	resp := f.recv(t)
	assert.Equal(t, "error", resp["type"])
	assert.Contains(t, resp["message"], "unknown command")
}

func TestHandlerSendMessageFlow(t *testing.T) {
	f := newWSFixture(t)
	f.send(t, map[string]interface{}{"type": "send-message", "text": "a fox in autumn leaves"})

	user := f.recv(t)
	assert.Equal(t, "message-appended", user["type"])

	assistant := f.recv(t)
	require.Equal(t, "message-appended", assistant["type"])
	imgs, ok := assistant["images"].([]interface{})
	require.True(t, ok)
	require.Len(t, imgs, 1)
	assert.True(t, strings.HasPrefix(imgs[0].(string), "data:image/png;base64,"))

	msg := assistant["message"].(map[string]interface{})
	assert.Equal(t, "assistant", msg["sender"])
	data := msg["imageData"].(map[string]interface{})
	paths := data["savedFilePaths"].([]interface{})
	require.Len(t, paths, 1)
	states := data["imageStates"].(map[string]interface{})
	assert.Equal(t, []interface{}{false}, states["deleted"].([]interface{}))
}

func TestHandlerNewChatAndSessions(t *testing.T) {
	f := newWSFixture(t)

	f.send(t, map[string]interface{}{"type": "new-chat"})
	created := f.recv(t)
	require.Equal(t, "chat-created", created["type"])
	sessID := created["session"].(map[string]interface{})["id"].(string)
	require.NotEmpty(t, sessID)

	f.send(t, map[string]interface{}{"type": "get-chat-sessions"})
	listing := f.recv(t)
	require.Equal(t, "chat-sessions", listing["type"])
	assert.Equal(t, sessID, listing["currentId"])
	sessions := listing["sessions"].([]interface{})
	require.NotEmpty(t, sessions)
}

func TestHandlerLoadUnknownSession(t *testing.T) {
	f := newWSFixture(t)
	f.send(t, map[string]interface{}{"type": "load-chat-session", "sessionId": "nope"})
	resp := f.recv(t)
	assert.Equal(t, "error", resp["type"])
}

func TestHandlerUpdateImageStates(t *testing.T) {
	f := newWSFixture(t)

	// Produce an image message first
	f.send(t, map[string]interface{}{"type": "send-message", "text": "a lighthouse"})
	f.recv(t) // user echo
	f.recv(t) // assistant

	f.send(t, map[string]interface{}{
		"type":         "update-image-states",
		"messageIndex": 1,
		"imageStates":  map[string]interface{}{"deleted": []bool{false}, "hidden": []bool{true}},
	})
	resp := f.recv(t)
	require.Equal(t, "image-states-updated", resp["type"])
	assert.Equal(t, true, resp["applied"])

	// Identical update is suppressed
	f.send(t, map[string]interface{}{
		"type":         "update-image-states",
		"messageIndex": 1,
		"imageStates":  map[string]interface{}{"deleted": []bool{false}, "hidden": []bool{true}},
	})
	resp = f.recv(t)
	require.Equal(t, "image-states-updated", resp["type"])
	assert.Equal(t, false, resp["applied"])
}

func TestHandlerGetHistory(t *testing.T) {
	f := newWSFixture(t)

	f.send(t, map[string]interface{}{"type": "send-message", "text": "a quiet harbor"})
	f.recv(t)
	f.recv(t)

	f.send(t, map[string]interface{}{"type": "get-chat-history"})
	resp := f.recv(t)
	require.Equal(t, "chat-history", resp["type"])
	msgs := resp["messages"].([]interface{})
	require.Len(t, msgs, 2)

	image := msgs[1].(map[string]interface{})
	imgs := image["images"].([]interface{})
	require.Len(t, imgs, 1)
	assert.True(t, strings.HasPrefix(imgs[0].(string), "data:image/png;base64,"))
}
