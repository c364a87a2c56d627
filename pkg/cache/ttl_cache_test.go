package cache

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiry(t *testing.T) {
	clk := clock.NewMock()
	c := New[string, int](time.Minute, time.Hour, clk)
	defer c.Close()

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "expired entries stay until the sweep")

	c.evictExpired()
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheDelete(t *testing.T) {
	c := New[string, int](time.Minute, time.Hour, clock.NewMock())
	defer c.Close()

	c.Set("u1", 1)
	c.Set("u2", 2)
	c.Delete("u1")

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("u1")
	assert.False(t, ok)
	v, ok := c.Get("u2")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
