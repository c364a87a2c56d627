package models

// PinnedMessage marks a message as pinned in a context (channel or conversation).
//
// (ContextType, ContextID, MessageID) identifies a pin. Pins are created and
// destroyed, never mutated.
type PinnedMessage struct {
	ID          string `json:"id"`
	ContextType string `json:"contextType"`
	ContextID   string `json:"contextId"`
	MessageID   string `json:"messageId"`
	PinnedBy    string `json:"pinnedBy"`
	CreatedAt   string `json:"createdAt"`
}

// PinID derives the document id of a pin, which makes pinning idempotent.
func PinID(contextType, contextID, messageID string) string {
	return contextType + ":" + contextID + ":" + messageID
}
