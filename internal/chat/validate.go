package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxUsernameLength is the longest accepted username, in characters.
	MaxUsernameLength = 20

	// MaxContentLength is the longest accepted message body after
	// trimming, in characters.
	MaxContentLength = 500
)

var (
	// ErrInvalidUsername is returned for empty, oversized, or
	// non-printable usernames.
	ErrInvalidUsername = errors.New("username must be 1-20 printable characters")

	// ErrInvalidContent is returned for message bodies that are empty
	// after trimming or exceed the length limit.
	ErrInvalidContent = fmt.Errorf("message content must be 1-%d characters", MaxContentLength)
)

// ValidateUsername checks the registration username rules.
func ValidateUsername(name string) error {
	if name == "" || utf8.RuneCountInString(name) > MaxUsernameLength {
		return ErrInvalidUsername
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return ErrInvalidUsername
		}
	}
	return nil
}

// ValidateContent trims the message body and checks the length rules.
// It returns the trimmed content on success.
func ValidateContent(content string) (string, error) {
	// Limits count characters, not bytes, so multibyte text is not
	// penalized for its encoding.
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrInvalidContent
	}
	return trimmed, nil
}
