package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/database"
	"github.com/akinalp/threadline/pkg"
)

func newTestStore(t *testing.T) (*SQLiteStore, *clock.Mock) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewSQLiteStore(db.Conn, NewMemoryBus(), "main", clk), clk
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Create(ctx, "messages", "", map[string]any{"text": "hi", "scopeId": "c1"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, int64(1), doc.Revision)

	got, err := s.Get(ctx, "messages", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Data["text"])
	assert.Equal(t, "2024-05-01T12:00:00.000Z", got.CreatedAt)

	_, err = s.Create(ctx, "messages", doc.ID, map[string]any{})
	assert.ErrorIs(t, err, pkg.ErrAlreadyExists)

	_, err = s.Get(ctx, "messages", "missing")
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestUpdateMergesAndBumpsRevision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Create(ctx, "messages", "m1", map[string]any{"text": "a", "attachments": []any{"x"}})
	require.NoError(t, err)

	updated, err := s.Update(ctx, "messages", "m1", map[string]any{"text": "b", "attachments": nil}, UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, "b", updated.Data["text"])
	assert.NotContains(t, updated.Data, "attachments")

	_, err = s.Update(ctx, "messages", "m1", map[string]any{"text": "c"}, UpdateOptions{IfRevision: doc.Revision})
	assert.ErrorIs(t, err, pkg.ErrConflict)

	got, err := s.Get(ctx, "messages", "m1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Data["text"])

	_, err = s.Update(ctx, "messages", "nope", map[string]any{}, UpdateOptions{})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestListOrderFilterAndCursor(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	create := func(id, createdAt string, thread any) {
		data := map[string]any{"scopeId": "c1", "createdAt": createdAt}
		if thread != nil {
			data["threadId"] = thread
		}
		_, err := s.Create(ctx, "messages", id, data)
		require.NoError(t, err)
	}
	create("b", "2024-01-01T00:00:01.000Z", nil)
	create("a", "2024-01-01T00:00:01.000Z", nil)
	create("c", "2024-01-01T00:00:02.000Z", nil)
	create("r", "2024-01-01T00:00:03.000Z", "c")
	_, err := s.Create(ctx, "messages", "other", map[string]any{"scopeId": "c2", "createdAt": "2024-01-01T00:00:00.000Z"})
	require.NoError(t, err)

	q := Query{Equal: map[string]any{"scopeId": "c1"}, IsNull: []string{"threadId"}, Desc: true}
	docs, err := s.List(ctx, "messages", q)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(docs))

	q.Limit = 1
	q.Before = "c"
	docs, err = s.List(ctx, "messages", q)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(docs))

	// Ascending, the cursor pages toward newer documents.
	docs, err = s.List(ctx, "messages", Query{Equal: map[string]any{"scopeId": "c1"}, IsNull: []string{"threadId"}, Before: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(docs))

	docs, err = s.List(ctx, "messages", Query{NotNull: []string{"threadId"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, ids(docs))

	n, err := s.Count(ctx, "messages", Query{Equal: map[string]any{"threadId": "c"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.List(ctx, "messages", Query{Before: "ghost"})
	assert.ErrorIs(t, err, pkg.ErrNotFound)

	_, err = s.List(ctx, "messages", Query{Equal: map[string]any{"x') OR 1=1 --": 1}})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)
}

func TestEventsArePublished(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var got []Event
	unsubscribe := s.Subscribe(CollectionChannel("main", "messages"), func(ev Event) {
		got = append(got, ev)
	})

	_, err := s.Create(ctx, "messages", "m1", map[string]any{"text": "a"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "messages", "m1", map[string]any{"text": "b"}, UpdateOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "messages", "m1"))

	unsubscribe()
	_, err = s.Create(ctx, "messages", "m2", map[string]any{})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "databases.main.collections.messages.documents.m1.create", got[0].Events[0])
	assert.Equal(t, "databases.main.collections.messages.documents.m1.update", got[1].Events[0])
	assert.Equal(t, "databases.main.collections.messages.documents.m1.delete", got[2].Events[0])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[1].Payload, &payload))
	assert.Equal(t, "b", payload["text"])
	assert.Equal(t, "m1", payload["id"])

	assert.True(t, errors.Is(s.Delete(ctx, "messages", "m1"), pkg.ErrNotFound))
}

func TestDecode(t *testing.T) {
	doc := &Document{ID: "m1", Revision: 4, Data: map[string]any{"text": "hi", "count": float64(3)}}
	var v struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		Count    int    `json:"count"`
		Revision int64  `json:"revision"`
	}
	require.NoError(t, doc.Decode(&v))
	assert.Equal(t, "m1", v.ID)
	assert.Equal(t, 3, v.Count)
	assert.Equal(t, int64(4), v.Revision)

	data, err := ToData(v)
	require.NoError(t, err)
	assert.NotContains(t, data, "id")
	assert.NotContains(t, data, "revision")
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
