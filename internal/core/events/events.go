// Package events defines the audit trail of state transitions. Components
// only write events; operators read them back with `warren events`.
package events

import (
	"context"
	"time"
)

// Type names a state transition.
type Type string

const (
	ChannelCreated  Type = "channel.created"
	ChannelArchived Type = "channel.archived"
	ChannelPurged   Type = "channel.purged"
	MemberAdded     Type = "channel.member_added"
	MessageAppended Type = "message.appended"
	MessagesPruned  Type = "message.pruned"
	FileQueued      Type = "file.queued"
	FileClaimed     Type = "file.claimed"
	FileFinished    Type = "file.finished"
	FileReclaimed   Type = "file.reclaimed"
	MemorySet       Type = "memory.set"
	MemoryDeleted   Type = "memory.deleted"
	AgentRegistered Type = "agent.registered"
	AgentOffline    Type = "agent.offline"
)

// Event is one recorded transition.
type Event struct {
	ID        string    `cbor:"id" json:"id"`
	Type      Type      `cbor:"type" json:"type"`
	ChannelID string    `cbor:"channel_id,omitempty" json:"channel_id,omitempty"`
	AgentID   string    `cbor:"agent_id,omitempty" json:"agent_id,omitempty"`
	Subject   string    `cbor:"subject,omitempty" json:"subject,omitempty"`
	Detail    string    `cbor:"detail,omitempty" json:"detail,omitempty"`
	Timestamp time.Time `cbor:"timestamp" json:"timestamp"`
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	ChannelID string
	Type      Type
	Since     time.Time
	Limit     int
}

// Match reports whether e passes the filter, ignoring Limit.
func (f Filter) Match(e Event) bool {
	if f.ChannelID != "" && e.ChannelID != f.ChannelID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && !e.Timestamp.After(f.Since) {
		return false
	}
	return true
}

// Recorder persists events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Reader lists recorded events, newest first.
type Reader interface {
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Discard is a Recorder that drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) error { return nil }
