// Package channel defines channels, the named conversation spaces agents
// join, and the registry that creates and tracks them.
package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/hay-kot/warren/internal/core/errs"
)

// Kind classifies a channel.
type Kind string

const (
	KindGeneral Kind = "general"
	KindPrivate Kind = "private"
	KindPublic  Kind = "public"
	KindMeeting Kind = "meeting"
	KindSupport Kind = "support"
)

// Kinds lists every valid channel kind.
var Kinds = []Kind{KindGeneral, KindPrivate, KindPublic, KindMeeting, KindSupport}

// ParseKind returns the Kind named by s. An empty string is KindGeneral.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindGeneral, nil
	}
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %s)", errs.ErrInvalidKind, s, joinKinds())
}

func joinKinds() string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Status is the lifecycle state of a channel.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Member records an agent's participation in a channel.
type Member struct {
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Channel is the aggregate root for messages, queued files, and memory.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Members     []Member  `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsActive reports whether the channel accepts new messages and files.
func (c *Channel) IsActive() bool {
	return c.Status == StatusActive
}

// Member returns the membership record for agentID.
func (c *Channel) Member(agentID string) (Member, bool) {
	for _, m := range c.Members {
		if m.AgentID == agentID {
			return m, true
		}
	}
	return Member{}, false
}

// HasMember reports whether agentID has joined the channel.
func (c *Channel) HasMember(agentID string) bool {
	_, ok := c.Member(agentID)
	return ok
}

// Archive transitions the channel to the archived state.
func (c *Channel) Archive(now time.Time) error {
	if c.Status == StatusArchived {
		return errs.Transition(string(StatusArchived), string(StatusArchived))
	}
	c.Status = StatusArchived
	c.UpdatedAt = now
	return nil
}
