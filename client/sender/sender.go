// Package sender sends messages optimistically: the compose field clears
// before the write resolves and the confirmed message is inserted without
// waiting for its realtime echo.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

var (
	ErrEmpty       = fmt.Errorf("%w: message is empty", pkg.ErrBadRequest)
	ErrTooLong     = fmt.Errorf("%w: message is too long", pkg.ErrBadRequest)
	ErrRateLimited = fmt.Errorf("%w: sending too fast", pkg.ErrRateLimited)
	ErrNoScope     = errors.New("sender: no active scope")
)

// Composer is the compose field.
type Composer interface {
	Text() string
	SetText(text string)
}

// Writer issues the writes. *api.Client satisfies it.
type Writer interface {
	CreateMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.Message, error)
	CreateReply(ctx context.Context, messageID string, req *models.CreateReplyRequest) (*models.ReplyResult, error)
}

// Enricher fills in display data of the confirmed message.
type Enricher interface {
	Enrich(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// Target is where confirmed messages go. *realtime.Dispatcher satisfies it,
// so sent messages and their echoes share one dedup-by-id insert.
type Target interface {
	Scope() models.Scope
	Insert(scope models.Scope, msg *models.Message) bool
}

// Options bound what a sender accepts.
type Options struct {
	MaxLength int           // runes; default models.DefaultMaxMessageLength
	Burst     int           // sends allowed back to back; default 3
	Interval  time.Duration // one more send per interval; default 1s
}

func (o Options) withDefaults() Options {
	if o.MaxLength <= 0 {
		o.MaxLength = models.DefaultMaxMessageLength
	}
	if o.Burst <= 0 {
		o.Burst = 3
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	return o
}

// Sender is the optimistic send pipeline of one compose field.
type Sender struct {
	writer   Writer
	target   Target
	enricher Enricher
	composer Composer
	clock    clock.Clock
	limiter  *rate.Limiter
	opts     Options
}

// New creates a sender. enricher and composer may be nil; a nil clock means
// the wall clock.
func New(writer Writer, target Target, enricher Enricher, composer Composer, opts Options, clk clock.Clock) *Sender {
	if clk == nil {
		clk = clock.New()
	}
	opts = opts.withDefaults()
	return &Sender{
		writer:   writer,
		target:   target,
		enricher: enricher,
		composer: composer,
		clock:    clk,
		limiter:  rate.NewLimiter(rate.Every(opts.Interval), opts.Burst),
		opts:     opts,
	}
}

// Send writes text into the active scope.
//
// Validation and the rate check run before any network call. The compose
// field is cleared before the write and restored to text when it fails.
// On success the enriched message is inserted and returned.
func (s *Sender) Send(ctx context.Context, text string, attachments []models.Attachment) (*models.Message, error) {
	scope := s.target.Scope()
	if scope.IsZero() {
		return nil, ErrNoScope
	}
	trimmed, err := s.check(text, attachments)
	if err != nil {
		return nil, err
	}

	req := &models.CreateMessageRequest{Text: trimmed, Attachments: attachments}
	if scope.Kind == models.ScopeConversation {
		req.ConversationID = scope.ID
	} else {
		req.ChannelID = scope.ID
	}

	s.setComposer("")
	msg, err := s.writer.CreateMessage(ctx, req)
	if err != nil {
		s.setComposer(text)
		return nil, err
	}

	msg = s.enrich(ctx, msg)
	s.target.Insert(scope, msg)
	return msg, nil
}

// Reply writes text into the thread of messageID. Replies go to the thread
// view through the target; the compose field is left alone.
func (s *Sender) Reply(ctx context.Context, messageID, text string, attachments []models.Attachment) (*models.Message, error) {
	scope := s.target.Scope()
	if scope.IsZero() {
		return nil, ErrNoScope
	}
	trimmed, err := s.check(text, attachments)
	if err != nil {
		return nil, err
	}

	res, err := s.writer.CreateReply(ctx, messageID, &models.CreateReplyRequest{Text: trimmed, Attachments: attachments})
	if err != nil {
		return nil, err
	}

	reply := s.enrich(ctx, res.Reply)
	s.target.Insert(scope, reply)
	return reply, nil
}

// check validates text and takes a rate token. It returns the trimmed text.
func (s *Sender) check(text string, attachments []models.Attachment) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" && len(attachments) == 0 {
		return "", ErrEmpty
	}
	if n := utf8.RuneCountInString(trimmed); n > s.opts.MaxLength {
		return "", fmt.Errorf("%w: %d characters, at most %d", ErrTooLong, n, s.opts.MaxLength)
	}
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		return "", ErrRateLimited
	}
	return trimmed, nil
}

func (s *Sender) enrich(ctx context.Context, msg *models.Message) *models.Message {
	if s.enricher == nil {
		return msg
	}
	enriched, err := s.enricher.Enrich(ctx, msg)
	if err != nil {
		log.Printf("[sender] enrichment of %s incomplete: %v", msg.ID, err)
	}
	if enriched == nil {
		return msg
	}
	return enriched
}

func (s *Sender) setComposer(text string) {
	if s.composer != nil {
		s.composer.SetText(text)
	}
}
