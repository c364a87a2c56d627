package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Profile is the public view of a user, used to enrich messages.
type Profile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

// UpdateProfileRequest is the body of PUT /profiles/me.
type UpdateProfileRequest struct {
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

// Validate checks the display name length.
func (r *UpdateProfileRequest) Validate() error {
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	n := utf8.RuneCountInString(r.DisplayName)
	if n < 1 || n > 64 {
		return fmt.Errorf("display name must be 1-64 characters")
	}
	return nil
}
