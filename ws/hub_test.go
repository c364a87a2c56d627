package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

type staticValidator struct{}

func (staticValidator) Validate(token string) (*models.TokenClaims, error) {
	if token != "good" {
		return nil, pkg.ErrUnauthorized
	}
	return &models.TokenClaims{UserID: "u1"}, nil
}

// countingSource records how many upstream subscriptions are open.
type countingSource struct {
	*docstore.MemoryBus
	mu   sync.Mutex
	open map[string]int
}

func (s *countingSource) Subscribe(channel string, fn func(docstore.Event)) func() {
	s.mu.Lock()
	s.open[channel]++
	s.mu.Unlock()
	unsubscribe := s.MemoryBus.Subscribe(channel, fn)
	return func() {
		s.mu.Lock()
		s.open[channel]--
		s.mu.Unlock()
		unsubscribe()
	}
}

func (s *countingSource) openCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[channel]
}

const messagesChannel = "databases.main.collections.messages.documents"

func startHub(t *testing.T) (*Hub, *countingSource, *httptest.Server) {
	source := &countingSource{MemoryBus: docstore.NewMemoryBus(), open: map[string]int{}}
	hub := NewHub(source, "databases.main.", nil)
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, staticValidator{}).HandleConnection))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})
	return hub, source, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func publish(t *testing.T, bus *docstore.MemoryBus, id string) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), docstore.Event{
		Events:   []string{messagesChannel + "." + id + ".create"},
		Channels: []string{messagesChannel, messagesChannel + "." + id},
		Payload:  json.RawMessage(`{"id":"` + id + `"}`),
	}))
}

func TestReadyThenEvents(t *testing.T) {
	_, source, srv := startHub(t)
	conn := dial(t, srv, "token=good&channels="+messagesChannel+",databases.other.x")

	ready := readFrame(t, conn)
	require.Equal(t, OpReady, ready.Op)
	var data ReadyData
	require.NoError(t, json.Unmarshal(ready.Data, &data))
	assert.Equal(t, "u1", data.UserID)
	assert.Equal(t, []string{messagesChannel}, data.Channels)

	require.Eventually(t, func() bool { return source.openCount(messagesChannel) == 1 }, time.Second, 5*time.Millisecond)
	publish(t, source.MemoryBus, "m1")

	frame := readFrame(t, conn)
	assert.Equal(t, OpEvent, frame.Op)
	assert.Positive(t, frame.Seq)
	var payload EventData
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, messagesChannel+".m1.create", payload.Events[0])
}

func TestSubscribeUnsubscribeAndHeartbeat(t *testing.T) {
	hub, source, srv := startHub(t)
	conn := dial(t, srv, "token=good")
	readFrame(t, conn) // ready

	require.NoError(t, conn.WriteJSON(map[string]any{"op": OpHeartbeat}))
	assert.Equal(t, OpHeartbeatAck, readFrame(t, conn).Op)

	require.NoError(t, conn.WriteJSON(map[string]any{"op": OpSubscribe, "d": SubscribeData{Channels: []string{"forbidden"}}}))
	assert.Equal(t, OpError, readFrame(t, conn).Op)

	require.NoError(t, conn.WriteJSON(map[string]any{"op": OpSubscribe, "d": SubscribeData{Channels: []string{messagesChannel}}}))
	require.Eventually(t, func() bool { return source.openCount(messagesChannel) == 1 }, time.Second, 5*time.Millisecond)

	second := dial(t, srv, "token=good&channels="+messagesChannel)
	readFrame(t, second)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, source.openCount(messagesChannel), "one upstream subscription per channel")

	require.NoError(t, conn.WriteJSON(map[string]any{"op": OpUnsubscribe, "d": SubscribeData{Channels: []string{messagesChannel}}}))
	second.Close()
	require.Eventually(t, func() bool { return source.openCount(messagesChannel) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRejectsBadToken(t *testing.T) {
	_, _, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestUserFullyDisconnectedAfterLastConnection(t *testing.T) {
	hub, _, srv := startHub(t)

	gone := make(chan string, 4)
	hub.OnUserFullyDisconnected(func(userID string) { gone <- userID })

	first := dial(t, srv, "token=good")
	readFrame(t, first)
	second := dial(t, srv, "token=good")
	readFrame(t, second)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	first.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, gone, "the user still has a connection")

	second.Close()
	select {
	case userID := <-gone:
		assert.Equal(t, "u1", userID)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
}
