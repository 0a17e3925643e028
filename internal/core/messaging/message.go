// Package messaging provides the per-channel ordered message log.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hay-kot/warren/internal/core/errs"
)

// Kind classifies a message body.
type Kind string

const (
	KindText       Kind = "text"
	KindStructured Kind = "structured" // body is a JSON document
	KindSystem     Kind = "system"
)

// ParseKind returns the Kind named by s. An empty string is KindText.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindText, nil
	case KindText, KindStructured, KindSystem:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q (want text, structured, or system)", errs.ErrInvalidKind, s)
	}
}

// Message is a single entry in a channel's log. Sequence is strictly
// increasing and unique within the channel.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Kind      Kind      `json:"kind"`
	Sequence  int64     `json:"sequence_key"`
	CreatedAt time.Time `json:"created_at"`
}

// checkBody enforces kind-specific body rules.
func checkBody(kind Kind, body string) error {
	if kind == KindStructured && !json.Valid([]byte(body)) {
		return errs.Validation("structured message body must be valid JSON")
	}
	return nil
}

// Stats summarizes one channel's log.
type Stats struct {
	Count        int       `json:"count"`
	LastSequence int64     `json:"last_sequence"`
	LastAt       time.Time `json:"last_at,omitzero"`
}
