// Package validate provides shared validation functions.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hay-kot/warren/internal/core/errs"
)

// Default length bounds, counted in characters.
const (
	MaxChannelNameLength = 100
	MaxDescriptionLength = 500
	MaxMessageLength     = 1000
	MaxIdentifierLength  = 255
	MaxMemoryValueLength = 64 * 1024
)

var channelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// ChannelName validates a trimmed channel name: letters, digits, spaces,
// hyphens and underscores, at most maxLen characters.
func ChannelName(name string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = MaxChannelNameLength
	}

	if name == "" {
		return fmt.Errorf("name is required")
	}
	if n := utf8.RuneCountInString(name); n > maxLen {
		return fmt.Errorf("name is %d characters, limit is %d", n, maxLen)
	}
	if !channelNamePattern.MatchString(name) {
		return fmt.Errorf("name may only contain letters, numbers, spaces, hyphens, and underscores")
	}
	return nil
}

// Description validates an optional free-text description.
func Description(desc string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = MaxDescriptionLength
	}
	if n := utf8.RuneCountInString(desc); n > maxLen {
		return fmt.Errorf("description is %d characters, limit is %d", n, maxLen)
	}
	return nil
}

// MessageBody validates a message body. An over-long body is reported as
// errs.ErrMessageTooLong.
func MessageBody(body string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}
	if strings.TrimSpace(body) == "" {
		return errs.Validation("message body is required")
	}
	if n := utf8.RuneCountInString(body); n > maxLen {
		return fmt.Errorf("%w: %d characters, limit is %d", errs.ErrMessageTooLong, n, maxLen)
	}
	return nil
}

// Identifier validates an externally supplied id such as an agent id or a
// memory key: non-empty, bounded, no control characters.
func Identifier(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return errs.Validation("%s is required", field)
	}
	if n := utf8.RuneCountInString(id); n > MaxIdentifierLength {
		return errs.Validation("%s is %d characters, limit is %d", field, n, MaxIdentifierLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return errs.Validation("%s contains control characters", field)
		}
	}
	return nil
}

// MemoryValue validates a channel memory value.
func MemoryValue(value string) error {
	if n := len(value); n > MaxMemoryValueLength {
		return errs.Validation("value is %d bytes, limit is %d", n, MaxMemoryValueLength)
	}
	return nil
}
