package models

// ScopeKind is the kind of conversation a message lives in.
type ScopeKind string

const (
	ScopeChannel      ScopeKind = "channel"
	ScopeConversation ScopeKind = "conversation"
)

// Collection ids of the document store.
const (
	CollectionMessages       = "messages"
	CollectionDirectMessages = "direct_messages"
	CollectionPins           = "pins"
	CollectionTyping         = "typing"
	CollectionProfiles       = "profiles"
)

// Valid reports whether k is a known scope kind.
func (k ScopeKind) Valid() bool {
	return k == ScopeChannel || k == ScopeConversation
}

// Collection returns the message collection of the scope kind.
func (k ScopeKind) Collection() string {
	if k == ScopeConversation {
		return CollectionDirectMessages
	}
	return CollectionMessages
}

// Scope identifies a channel or a direct conversation.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// IsZero reports whether no scope is set.
func (s Scope) IsZero() bool {
	return s.ID == ""
}

func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID
}
