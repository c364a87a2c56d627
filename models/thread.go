package models

import "strings"

// ThreadPage is the response of GET /messages/{id}/thread.
type ThreadPage struct {
	ParentMessage *Message  `json:"parentMessage"`
	Replies       []Message `json:"replies"`
	Total         int       `json:"total"`
	HasMore       bool      `json:"hasMore"`
}

// CreateReplyRequest is the body of POST /messages/{id}/thread.
type CreateReplyRequest struct {
	Text        string       `json:"text"`
	ImageRef    *string      `json:"imageRef,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`
}

// Validate trims the text and checks the content rules.
func (r *CreateReplyRequest) Validate(maxLength int) error {
	r.Text = strings.TrimSpace(r.Text)
	return ValidateText(r.Text, maxLength, r.ImageRef != nil || len(r.Attachments) > 0)
}

// ReplyResult is the response of POST /messages/{id}/thread.
// ThreadID is the resolved root, which differs from the path id when the
// target was itself a reply.
type ReplyResult struct {
	Reply    *Message `json:"reply"`
	ThreadID string   `json:"threadId"`
}
