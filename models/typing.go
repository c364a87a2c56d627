package models

// Typing states sent by clients.
const (
	TypingStart = "start"
	TypingStop  = "stop"
)

// TypingIndicator is the ephemeral "user is composing" signal.
// The server keeps one document per (user, scope); clients expire them on
// their own after a staleness window.
type TypingIndicator struct {
	UserID    string `json:"userId"`
	ScopeID   string `json:"scopeId"`
	UpdatedAt string `json:"updatedAt"`
}

// TypingID derives the document id of a typing indicator.
func TypingID(userID, scopeID string) string {
	return userID + ":" + scopeID
}

// TypingRequest is the body of PUT /typing.
type TypingRequest struct {
	ChannelID      string `json:"channelId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	State          string `json:"state"`
}

// ScopeID returns whichever scope id the request addresses.
func (r *TypingRequest) ScopeID() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ChannelID
}
