package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/config"
	"github.com/akinalp/threadline/database"
	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/ws"
)

type testServer struct {
	*httptest.Server
	app   *App
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "threadline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Server:   config.ServerConfig{CORSOrigins: []string{"*"}},
		Database: config.DatabaseConfig{ID: "main"},
		JWT:      config.JWTConfig{Secret: "test-secret-test-secret-test-secret"},
		Messages: config.MessageConfig{
			MaxLength:            2000,
			PinLimit:             2,
			ThreadRetryAttempts:  3,
			ThreadRetryBaseDelay: time.Millisecond,
		},
		RateLimit: config.RateLimitConfig{
			MessageBurst:    100,
			MessageWindow:   time.Minute,
			MessageCooldown: time.Second,
		},
	}

	app := newApp(cfg, db, docstore.NewMemoryBus(), clock.New())
	srv := httptest.NewServer(app.Handler)
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})

	token, err := app.Services.Token.Issue("u1", "alice", time.Hour)
	require.NoError(t, err)

	return &testServer{Server: srv, app: app, token: token}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp.StatusCode, env
}

func (s *testServer) createMessage(t *testing.T, channelID, text string) models.Message {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/v1/messages", map[string]any{"text": text, "channelId": channelID})
	require.Equal(t, http.StatusCreated, status, env.Error)

	var out struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out.Message
}

func TestRoutes_RequireBearerToken(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/v1/messages?channelId=general")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(s.URL + "/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutes_MessageLifecycle(t *testing.T) {
	s := newTestServer(t)

	first := s.createMessage(t, "general", "hello")
	second := s.createMessage(t, "general", "world")
	assert.Equal(t, "u1", first.AuthorID)

	status, env := s.do(t, http.MethodGet, "/v1/messages?channelId=general&limit=10", nil)
	require.Equal(t, http.StatusOK, status)
	var page models.MessagePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Items, 2)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, []string{page.Items[0].ID, page.Items[1].ID})
	assert.False(t, page.Items[1].Less(&page.Items[0]), "page is oldest first")
	assert.False(t, page.HasMore)

	status, _ = s.do(t, http.MethodPatch, "/v1/messages?id="+first.ID, map[string]any{"text": "edited"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodDelete, "/v1/messages?id="+second.ID, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/v1/messages/"+second.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var out struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, out.Message.IsRemoved())
	assert.Empty(t, out.Message.Text)
}

func TestRoutes_ThreadReply(t *testing.T) {
	s := newTestServer(t)
	root := s.createMessage(t, "general", "root")

	status, env := s.do(t, http.MethodPost, "/v1/messages/"+root.ID+"/thread", map[string]any{"text": "reply"})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var result models.ReplyResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, root.ID, result.ThreadID)

	status, env = s.do(t, http.MethodGet, "/v1/messages/"+root.ID+"/thread", nil)
	require.Equal(t, http.StatusOK, status)
	var thread models.ThreadPage
	require.NoError(t, json.Unmarshal(env.Data, &thread))
	assert.Equal(t, 1, thread.ParentMessage.ThreadMessageCount)
	assert.Equal(t, 1, thread.Total)
	require.Len(t, thread.Replies, 1)
	assert.Equal(t, result.Reply.ID, thread.Replies[0].ID)

	// Replies stay out of the top-level listing.
	status, env = s.do(t, http.MethodGet, "/v1/messages?channelId=general", nil)
	require.Equal(t, http.StatusOK, status)
	var page models.MessagePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 1)
}

func TestRoutes_PinLimit(t *testing.T) {
	s := newTestServer(t)
	a := s.createMessage(t, "general", "a")
	b := s.createMessage(t, "general", "b")
	c := s.createMessage(t, "general", "c")

	status, _ := s.do(t, http.MethodPost, "/v1/messages/"+a.ID+"/pin", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/v1/messages/"+a.ID+"/pin", nil)
	assert.Equal(t, http.StatusOK, status, "pinning twice is idempotent")
	status, _ = s.do(t, http.MethodPost, "/v1/messages/"+b.ID+"/pin", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/v1/messages/"+c.ID+"/pin", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodDelete, "/v1/messages/"+a.ID+"/pin", nil)
	assert.Equal(t, http.StatusOK, status)

	status, env := s.do(t, http.MethodGet, "/v1/pins?contextType=channel&contextId=general", nil)
	require.Equal(t, http.StatusOK, status)
	var pins []models.PinnedMessage
	require.NoError(t, json.Unmarshal(env.Data, &pins))
	require.Len(t, pins, 1)
	assert.Equal(t, b.ID, pins[0].MessageID)
}

func TestRoutes_MetricsExposed(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutes_RealtimeReceivesStoreEvents(t *testing.T) {
	s := newTestServer(t)

	channel := docstore.CollectionChannel("main", models.CollectionMessages)
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/v1/realtime?token=" + s.token + "&channels=" + channel
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ready ws.Event
	require.NoError(t, conn.ReadJSON(&ready))
	require.Equal(t, ws.OpReady, ready.Op)

	msg := s.createMessage(t, "general", "pushed")

	var ev ws.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, ws.OpEvent, ev.Op)

	var data ws.EventData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Contains(t, data.Channels, channel)
	assert.Contains(t, string(data.Payload), msg.ID)
}

func TestRoutes_TypingClearedWhenLastConnectionDrops(t *testing.T) {
	s := newTestServer(t)

	dialAs := func(token string, channels ...string) *websocket.Conn {
		t.Helper()
		u := "ws" + strings.TrimPrefix(s.URL, "http") + "/v1/realtime?token=" + token
		if len(channels) > 0 {
			u += "&channels=" + strings.Join(channels, ",")
		}
		conn, _, err := websocket.DefaultDialer.Dial(u, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		var ready ws.Event
		require.NoError(t, conn.ReadJSON(&ready))
		require.Equal(t, ws.OpReady, ready.Op)
		return conn
	}
	nextKind := func(conn *websocket.Conn) string {
		t.Helper()
		var ev ws.Event
		require.NoError(t, conn.ReadJSON(&ev))
		require.Equal(t, ws.OpEvent, ev.Op)
		var data ws.EventData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		name := data.Events[0]
		return name[strings.LastIndexByte(name, '.')+1:]
	}

	observerToken, err := s.app.Services.Token.Issue("u2", "bob", time.Hour)
	require.NoError(t, err)
	observer := dialAs(observerToken, docstore.CollectionChannel("main", models.CollectionTyping))

	typist := dialAs(s.token)
	status, env := s.do(t, http.MethodPut, "/v1/typing", map[string]any{"channelId": "general", "state": "start"})
	require.Equal(t, http.StatusNoContent, status, env.Error)
	assert.Equal(t, "create", nextKind(observer))

	// The typist vanishes without sending stop.
	require.NoError(t, typist.Close())
	assert.Equal(t, "delete", nextKind(observer))
}
