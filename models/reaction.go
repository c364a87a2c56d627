package models

import (
	"fmt"
	"slices"
	"unicode/utf8"
)

// MaxEmojiLength bounds an emoji key in runes. Composite emoji (flags,
// families) can be 10+ code points.
const MaxEmojiLength = 32

// ToggleReactionRequest is the body of POST /messages/{id}/reactions.
type ToggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

// Validate checks the emoji key.
func (r *ToggleReactionRequest) Validate() error {
	if r.Emoji == "" {
		return fmt.Errorf("emoji is required")
	}
	if utf8.RuneCountInString(r.Emoji) > MaxEmojiLength {
		return fmt.Errorf("emoji too long")
	}
	return nil
}

// ToggleReaction adds userID to reactions[emoji] or removes it when present.
// It returns the new map and whether the reaction was added; the input map is
// not modified.
func ToggleReaction(reactions map[string][]string, emoji, userID string) (map[string][]string, bool) {
	out := make(map[string][]string, len(reactions)+1)
	for k, v := range reactions {
		out[k] = slices.Clone(v)
	}

	users := out[emoji]
	if i := slices.Index(users, userID); i >= 0 {
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(out, emoji)
		} else {
			out[emoji] = users
		}
		return out, false
	}
	out[emoji] = append(users, userID)
	return out, true
}
