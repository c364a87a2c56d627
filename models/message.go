package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxMessageLength bounds the text of a message in runes.
const DefaultMaxMessageLength = 2000

// TimestampLayout is the fixed-width ISO-8601 layout every timestamp uses.
// createdAt is the sort key and is compared as a string, so the width must
// never vary (RFC3339Nano trims trailing zeros and would break ordering).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Message is a chat message in a channel or a direct conversation.
//
// Top-level messages have ThreadID == nil. A reply carries the id of its
// thread root in ThreadID; the root owns the aggregate thread counters.
type Message struct {
	ID                 string              `json:"id"`
	ScopeID            string              `json:"scopeId"`
	AuthorID           string              `json:"authorId"`
	Text               string              `json:"text"`
	CreatedAt          string              `json:"createdAt"`
	EditedAt           *string             `json:"editedAt,omitempty"`
	RemovedAt          *string             `json:"removedAt,omitempty"`
	RemovedBy          *string             `json:"removedBy,omitempty"`
	ImageRef           *string             `json:"imageRef,omitempty"`
	Attachments        []Attachment        `json:"attachments,omitempty"`
	ReplyToID          *string             `json:"replyToId,omitempty"`
	ThreadID           *string             `json:"threadId,omitempty"`
	ThreadMessageCount int                 `json:"threadMessageCount"`
	ThreadParticipants []string            `json:"threadParticipants,omitempty"`
	LastThreadReplyAt  *string             `json:"lastThreadReplyAt,omitempty"`
	Reactions          map[string][]string `json:"reactions,omitempty"`
	Mentions           []string            `json:"mentions,omitempty"`

	// Revision is the document revision the message was read at.
	Revision int64 `json:"revision,omitempty"`

	// Filled on the client by enrichment, never persisted.
	Author       *Profile          `json:"author,omitempty"`
	ReplyContext *MessageReference `json:"replyContext,omitempty"`
}

// Attachment is a file attached to a message. The upload itself is handled elsewhere.
type Attachment struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	FileURL  string  `json:"fileUrl"`
	FileSize *int64  `json:"fileSize,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
}

// MessageReference is the preview of the message a reply points at.
type MessageReference struct {
	ID       string   `json:"id"`
	AuthorID string   `json:"authorId"`
	Author   *Profile `json:"author,omitempty"`
	Text     string   `json:"text"`
	Removed  bool     `json:"removed,omitempty"`
}

// IsThreadReply reports whether the message belongs to a thread.
func (m *Message) IsThreadReply() bool {
	return m.ThreadID != nil && *m.ThreadID != ""
}

// IsRemoved reports whether the message was soft deleted.
func (m *Message) IsRemoved() bool {
	return m.RemovedAt != nil
}

// Less orders messages by createdAt, then by id for equal timestamps.
func (m *Message) Less(other *Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}

// MessagePage is the result of a cursor-paginated read.
type MessagePage struct {
	Items   []Message `json:"items"`
	HasMore bool      `json:"hasMore"`
}

// CreateMessageRequest is the body of POST /messages.
// ConversationID is set instead of ChannelID when posting into a direct conversation.
type CreateMessageRequest struct {
	Text           string       `json:"text"`
	ChannelID      string       `json:"channelId,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	ImageRef       *string      `json:"imageRef,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReplyToID      *string      `json:"replyToId,omitempty"`
	Mentions       []string     `json:"mentions,omitempty"`
}

// ScopeID returns whichever scope id the request addresses.
func (r *CreateMessageRequest) ScopeID() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ChannelID
}

// Validate trims the text and checks the content rules.
// A message with an image or attachments may have empty text.
func (r *CreateMessageRequest) Validate(maxLength int) error {
	r.Text = strings.TrimSpace(r.Text)
	if err := ValidateText(r.Text, maxLength, r.ImageRef != nil || len(r.Attachments) > 0); err != nil {
		return err
	}
	if r.ChannelID == "" && r.ConversationID == "" {
		return fmt.Errorf("channelId or conversationId is required")
	}
	if r.ChannelID != "" && r.ConversationID != "" {
		return fmt.Errorf("only one of channelId and conversationId may be set")
	}
	return nil
}

// UpdateMessageRequest is the body of PATCH /messages.
type UpdateMessageRequest struct {
	Text string `json:"text"`
}

// Validate trims the text and checks the content rules.
func (r *UpdateMessageRequest) Validate(maxLength int) error {
	r.Text = strings.TrimSpace(r.Text)
	return ValidateText(r.Text, maxLength, false)
}

// ValidateText applies the shared length rules. Text is expected to be trimmed.
func ValidateText(text string, maxLength int, hasMedia bool) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	n := utf8.RuneCountInString(text)
	if n == 0 && !hasMedia {
		return fmt.Errorf("message text is required")
	}
	if n > maxLength {
		return fmt.Errorf("message text must be at most %d characters", maxLength)
	}
	return nil
}
