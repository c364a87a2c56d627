// Package enrich fills in the display data a message does not carry: the
// author's profile and a preview of the message it replies to.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg/cache"
)

const (
	DefaultProfileTTL = 5 * time.Minute
	cleanupInterval   = time.Minute
)

// Source is where profiles and referenced messages come from. *api.Client
// satisfies it.
type Source interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
}

// Enricher enriches messages. Profiles are cached for a TTL and concurrent
// lookups of the same key share one request.
type Enricher struct {
	source   Source
	profiles *cache.TTLCache[string, models.Profile]
	group    singleflight.Group
}

// New creates an enricher. ttl <= 0 uses DefaultProfileTTL; a nil clock
// means the wall clock.
func New(source Source, ttl time.Duration, clk clock.Clock) *Enricher {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &Enricher{
		source:   source,
		profiles: cache.New[string, models.Profile](ttl, cleanupInterval, clk),
	}
}

// Close stops the cache sweep.
func (e *Enricher) Close() {
	e.profiles.Close()
}

// Invalidate drops the cached profile of userID, e.g. after a profile update.
func (e *Enricher) Invalidate(userID string) {
	e.profiles.Delete(userID)
}

// Enrich returns a copy of msg with Author and ReplyContext filled in. The
// copy is returned even when a lookup failed; the error reports what is
// missing.
func (e *Enricher) Enrich(ctx context.Context, msg *models.Message) (*models.Message, error) {
	out := *msg

	// Lookups are independent: one failing does not cancel the other.
	var g errgroup.Group

	if msg.AuthorID != "" {
		g.Go(func() error {
			p, err := e.Profile(ctx, msg.AuthorID)
			if err != nil {
				return fmt.Errorf("author %s: %w", msg.AuthorID, err)
			}
			out.Author = p
			return nil
		})
	}

	if msg.ReplyToID != nil && *msg.ReplyToID != "" {
		replyToID := *msg.ReplyToID
		g.Go(func() error {
			ref, err := e.reference(ctx, replyToID)
			if err != nil {
				return fmt.Errorf("reply context %s: %w", replyToID, err)
			}
			out.ReplyContext = ref
			return nil
		})
	}

	err := g.Wait()
	return &out, err
}

// Profile returns the cached profile of userID, fetching it on a miss.
func (e *Enricher) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	if p, ok := e.profiles.Get(userID); ok {
		return &p, nil
	}

	v, err, _ := e.group.Do("profile:"+userID, func() (any, error) {
		p, err := e.source.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		e.profiles.Set(userID, *p)
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	p := v.(models.Profile)
	return &p, nil
}

// reference builds the preview of the replied-to message, author included.
// A failed author lookup leaves Author nil rather than failing the preview.
func (e *Enricher) reference(ctx context.Context, id string) (*models.MessageReference, error) {
	v, err, _ := e.group.Do("message:"+id, func() (any, error) {
		return e.source.GetMessage(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	target := v.(*models.Message)

	ref := &models.MessageReference{
		ID:       target.ID,
		AuthorID: target.AuthorID,
		Text:     target.Text,
		Removed:  target.IsRemoved(),
	}
	if ref.Removed {
		ref.Text = ""
	}
	if p, err := e.Profile(ctx, target.AuthorID); err == nil {
		ref.Author = p
	}
	return ref, nil
}
