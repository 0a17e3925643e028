// Package queue implements the per-channel priority queue of file work
// items. Agents claim files one at a time; a file is never handed to two
// claimers.
package queue

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/hay-kot/warren/internal/core/errs"
)

// Status is the processing state of a queued file.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// ParseStatus returns the Status named by s, case-insensitively. An empty
// string returns "" and matches every status in filters.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return "", nil
	}
	switch st := Status(strings.ToUpper(s)); st {
	case StatusQueued, StatusProcessing, StatusDone, StatusFailed:
		return st, nil
	default:
		return "", errs.Validation("unknown file status %q", s)
	}
}

// File is a unit of work in a channel's queue.
type File struct {
	ID         string    `json:"file_id"`
	ChannelID  string    `json:"channel_id"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	Priority   int       `json:"priority"`
	Status     Status    `json:"status"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ClaimedAt  time.Time `json:"claimed_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Pending reports whether the file is still waiting or being worked.
func (f *File) Pending() bool {
	return f.Status == StatusQueued || f.Status == StatusProcessing
}

// claimableBy reports whether agentID may take the file. Files assigned to
// an agent are reserved for it; an anonymous claimer only takes
// unassigned files.
func (f *File) claimableBy(agentID string) bool {
	return f.Status == StatusQueued && (f.AssignedTo == "" || f.AssignedTo == agentID)
}

// finish moves a claimed file to its terminal outcome.
func (f *File) finish(outcome Status, agentID string, now time.Time) error {
	if outcome != StatusDone && outcome != StatusFailed {
		return errs.Validation("outcome must be DONE or FAILED, got %q", outcome)
	}
	if f.Status != StatusProcessing {
		return errs.Transition(string(f.Status), string(outcome))
	}
	if agentID != "" && f.AssignedTo != agentID {
		return fmt.Errorf("%w: file is assigned to %q, not %q", errs.ErrInvalidTransition, f.AssignedTo, agentID)
	}
	f.Status = outcome
	f.FinishedAt = now
	return nil
}

// compareClaimOrder orders files by priority descending, then age. Ties
// keep insertion order when used with a stable sort.
func compareClaimOrder(a, b File) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}
