package sender

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/client/realtime"
	"github.com/akinalp/threadline/client/store"
	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

var general = models.Scope{Kind: models.ScopeChannel, ID: "general"}

type composer struct {
	mu   sync.Mutex
	text string
}

func (c *composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

type fakeWriter struct {
	mu       sync.Mutex
	requests []*models.CreateMessageRequest
	// during runs inside the write, before the response is returned.
	during func()
	err    error
}

func (w *fakeWriter) CreateMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.Message, error) {
	w.mu.Lock()
	w.requests = append(w.requests, req)
	w.mu.Unlock()

	if w.during != nil {
		w.during()
	}
	if w.err != nil {
		return nil, w.err
	}
	return &models.Message{
		ID:        "m1",
		ScopeID:   req.ScopeID(),
		AuthorID:  "u1",
		Text:      req.Text,
		CreatedAt: "2024-05-01T12:00:00.000Z",
	}, nil
}

func (w *fakeWriter) CreateReply(ctx context.Context, messageID string, req *models.CreateReplyRequest) (*models.ReplyResult, error) {
	if w.err != nil {
		return nil, w.err
	}
	root := messageID
	return &models.ReplyResult{
		ThreadID: root,
		Reply: &models.Message{
			ID:        "r1",
			ScopeID:   "general",
			AuthorID:  "u1",
			Text:      req.Text,
			ThreadID:  &root,
			CreatedAt: "2024-05-01T12:00:01.000Z",
		},
	}, nil
}

func (w *fakeWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

func echo(t *testing.T, msg *models.Message) docstore.Event {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return docstore.Event{
		Events:   []string{docstore.DocumentChannel("main", models.CollectionMessages, msg.ID) + "." + docstore.KindCreate},
		Channels: []string{docstore.CollectionChannel("main", models.CollectionMessages)},
		Payload:  payload,
	}
}

type fixture struct {
	sender     *Sender
	writer     *fakeWriter
	composer   *composer
	dispatcher *realtime.Dispatcher
	messages   *store.Store
	threads    *store.ThreadStore
	clock      *clock.Mock
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		writer:   &fakeWriter{},
		composer: &composer{},
		messages: store.New(),
		threads:  store.NewThreadStore(),
		clock:    clock.NewMock(),
	}
	f.dispatcher = realtime.NewDispatcher(f.messages, f.threads, nil)
	f.dispatcher.SetScope(general)
	f.sender = New(f.writer, f.dispatcher, nil, f.composer, opts, f.clock)
	return f
}

func TestSend_EchoAfterResponseLeavesOneMessage(t *testing.T) {
	f := newFixture(Options{})
	f.composer.SetText("hello")

	msg, err := f.sender.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Empty(t, f.composer.Text())
	require.Equal(t, 1, f.messages.Len())

	time.Sleep(200 * time.Millisecond)
	f.dispatcher.Handle(echo(t, msg))
	f.dispatcher.Wait()

	require.Equal(t, 1, f.messages.Len())
	got, _ := f.messages.Get("m1")
	assert.Equal(t, "hello", got.Text)
}

func TestSend_EchoBeforeResponseLeavesOneMessage(t *testing.T) {
	f := newFixture(Options{})
	f.writer.during = func() {
		f.dispatcher.Handle(echo(t, &models.Message{
			ID: "m1", ScopeID: "general", AuthorID: "u1", Text: "hello", CreatedAt: "2024-05-01T12:00:00.000Z",
		}))
		f.dispatcher.Wait()
	}

	_, err := f.sender.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.messages.Len())
}

func TestSend_EmptyIsRejectedLocally(t *testing.T) {
	f := newFixture(Options{})
	f.composer.SetText("   ")

	_, err := f.sender.Send(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmpty)
	assert.ErrorIs(t, err, pkg.ErrBadRequest)
	assert.Equal(t, 0, f.writer.calls())
	assert.Equal(t, 0, f.messages.Len())
	assert.Equal(t, "   ", f.composer.Text(), "the field is untouched")
}

func TestSend_AttachmentOnlyIsAllowed(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.sender.Send(context.Background(), "", []models.Attachment{{ID: "a1", Filename: "cat.png"}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.writer.calls())
}

func TestSend_TooLong(t *testing.T) {
	f := newFixture(Options{MaxLength: 5})

	_, err := f.sender.Send(context.Background(), strings.Repeat("a", 6), nil)
	assert.ErrorIs(t, err, ErrTooLong)
	assert.False(t, errors.Is(err, ErrEmpty))
	assert.Equal(t, 0, f.writer.calls())

	_, err = f.sender.Send(context.Background(), "ğğğğğ", nil)
	assert.NoError(t, err, "length counts runes")
}

func TestSend_FailureRestoresComposer(t *testing.T) {
	f := newFixture(Options{})
	f.writer.err = pkg.ErrForbidden
	f.composer.SetText("hello there")

	var duringText string
	f.writer.during = func() { duringText = f.composer.Text() }

	_, err := f.sender.Send(context.Background(), "hello there", nil)
	assert.ErrorIs(t, err, pkg.ErrForbidden)
	assert.Empty(t, duringText, "cleared while the write is in flight")
	assert.Equal(t, "hello there", f.composer.Text())
	assert.Equal(t, 0, f.messages.Len())
}

func TestSend_RateLimitedBeforeNetwork(t *testing.T) {
	f := newFixture(Options{Burst: 2, Interval: time.Second})

	for i := 0; i < 2; i++ {
		_, err := f.sender.Send(context.Background(), "hi", nil)
		require.NoError(t, err)
	}

	_, err := f.sender.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, pkg.ErrRateLimited)
	assert.Equal(t, 2, f.writer.calls())

	f.clock.Add(time.Second)
	_, err = f.sender.Send(context.Background(), "hi", nil)
	assert.NoError(t, err)
}

func TestSend_ConversationScope(t *testing.T) {
	f := newFixture(Options{})
	dm := models.Scope{Kind: models.ScopeConversation, ID: "c1"}
	f.dispatcher.SetScope(dm)

	_, err := f.sender.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.Len(t, f.writer.requests, 1)
	assert.Equal(t, "c1", f.writer.requests[0].ConversationID)
	assert.Empty(t, f.writer.requests[0].ChannelID)
	assert.Equal(t, 1, f.messages.Len())
}

func TestSend_ScopeSwitchDuringWriteSkipsInsert(t *testing.T) {
	f := newFixture(Options{})
	f.writer.during = func() {
		f.dispatcher.SetScope(models.Scope{Kind: models.ScopeChannel, ID: "random"})
	}

	_, err := f.sender.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.messages.Len())
}

func TestSend_NoScope(t *testing.T) {
	f := newFixture(Options{})
	f.dispatcher.SetScope(models.Scope{})

	_, err := f.sender.Send(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrNoScope)
	assert.Equal(t, 0, f.writer.calls())
}

func TestReply_GoesToOpenThread(t *testing.T) {
	f := newFixture(Options{})
	thread := f.threads.Open("root")

	reply, err := f.sender.Reply(context.Background(), "root", "in thread", nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", reply.ID)
	assert.True(t, thread.Has("r1"))
	assert.Equal(t, 0, f.messages.Len(), "replies stay out of the top-level view")
}
