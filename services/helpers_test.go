package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/database"
	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

func newTestDocStore(t *testing.T) *docstore.SQLiteStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return docstore.NewSQLiteStore(db.Conn, docstore.NewMemoryBus(), "main", nil)
}

// steppingClock returns a mock clock that moves 1ms forward on every read so
// each created message gets a distinct createdAt.
type steppingClock struct {
	*clock.Mock
	mu sync.Mutex
}

func newSteppingClock() *steppingClock {
	m := clock.NewMock()
	m.Set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	return &steppingClock{Mock: m}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Mock.Add(time.Millisecond)
	return c.Mock.Now()
}

// flakyStore rejects selected updates with a conflict, the way a racing
// writer would.
type flakyStore struct {
	docstore.Store

	mu       sync.Mutex
	failures map[string]int // document id -> updates left to reject
	rejected int
}

func (s *flakyStore) failNextUpdates(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = make(map[string]int)
	}
	s.failures[id] = n
}

func (s *flakyStore) Update(ctx context.Context, collection, id string, patch map[string]any, opts docstore.UpdateOptions) (*docstore.Document, error) {
	s.mu.Lock()
	if s.failures[id] > 0 {
		s.failures[id]--
		s.rejected++
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: injected", pkg.ErrConflict)
	}
	s.mu.Unlock()
	return s.Store.Update(ctx, collection, id, patch, opts)
}

func createRoot(t *testing.T, svc MessageService, userID, channelID, text string) *models.Message {
	t.Helper()
	msg, err := svc.Create(context.Background(), userID, &models.CreateMessageRequest{Text: text, ChannelID: channelID})
	require.NoError(t, err)
	return msg
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, Clock: clock.New()}
}
