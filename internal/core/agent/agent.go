// Package agent tracks the agents known to warren: their declared
// capabilities, presence status, and last activity.
package agent

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/core/validate"
)

// Lock is the resource guarding the agent_states table.
const Lock = "agent_states"

// Status is an agent's presence.
type Status string

const (
	StatusAvailable Status = "available"
	StatusActive    Status = "active"
	StatusOffline   Status = "offline"
)

// State is the presence record of one agent. Records are never deleted.
type State struct {
	ID             string    `json:"agent_id"`
	Status         Status    `json:"status"`
	Capabilities   []string  `json:"capabilities,omitempty"`
	CurrentChannel string    `json:"current_channel,omitempty"`
	LastActivity   time.Time `json:"last_activity"`
}

// Tracker records agent presence.
type Tracker struct {
	guard *guard.Guard
	now   func() time.Time
}

// NewTracker creates a Tracker over g.
func NewTracker(g *guard.Guard) *Tracker {
	return &Tracker{guard: g, now: time.Now}
}

// Register declares an agent and its capabilities. A registered agent is
// available until it acts in a channel.
func (t *Tracker) Register(ctx context.Context, id string, capabilities []string) (State, error) {
	if err := validate.Identifier("agent_id", id); err != nil {
		return State{}, errs.E("agent.register", Lock, id, err)
	}
	caps := normalizeCapabilities(capabilities)

	var state State
	err := t.update(ctx, id, func(s *State, now time.Time) {
		s.Capabilities = caps
		if s.Status == "" || s.Status == StatusOffline {
			s.Status = StatusAvailable
		}
		s.LastActivity = now
		state = *s
	})
	if err != nil {
		return State{}, errs.E("agent.register", Lock, id, err)
	}
	return state, nil
}

// Touch records activity by id in channelID, creating the agent on first
// reference.
func (t *Tracker) Touch(ctx context.Context, id, channelID string) (State, error) {
	if err := validate.Identifier("agent_id", id); err != nil {
		return State{}, errs.E("agent.touch", Lock, id, err)
	}

	var state State
	err := t.update(ctx, id, func(s *State, now time.Time) {
		s.Status = StatusActive
		if channelID != "" {
			s.CurrentChannel = channelID
		}
		s.LastActivity = now
		state = *s
	})
	if err != nil {
		return State{}, errs.E("agent.touch", Lock, id, err)
	}
	return state, nil
}

// MarkOffline sets an existing agent offline.
func (t *Tracker) MarkOffline(ctx context.Context, id string) (State, error) {
	var state State
	err := t.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		states, err := t.load(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(states, id)
		if idx < 0 {
			return errs.NotFound("agent", id)
		}
		states[idx].Status = StatusOffline
		state = states[idx]
		return t.save(ctx, states)
	})
	if err != nil {
		return State{}, errs.E("agent.offline", Lock, id, err)
	}
	return state, nil
}

// SweepIdle marks agents with no activity for longer than timeout offline
// and returns them.
func (t *Tracker) SweepIdle(ctx context.Context, timeout time.Duration) ([]State, error) {
	var swept []State
	err := t.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		states, err := t.load(ctx)
		if err != nil {
			return err
		}
		cutoff := t.now().Add(-timeout)
		for i := range states {
			if states[i].Status == StatusOffline || states[i].LastActivity.After(cutoff) {
				continue
			}
			states[i].Status = StatusOffline
			swept = append(swept, states[i])
		}
		if len(swept) == 0 {
			return nil
		}
		return t.save(ctx, states)
	})
	if err != nil {
		return nil, errs.E("agent.sweep", Lock, "", err)
	}
	return swept, nil
}

// Get returns one agent.
func (t *Tracker) Get(ctx context.Context, id string) (State, error) {
	states, err := t.List(ctx)
	if err != nil {
		return State{}, err
	}
	idx := indexOf(states, id)
	if idx < 0 {
		return State{}, errs.E("agent.get", Lock, id, errs.NotFound("agent", id))
	}
	return states[idx], nil
}

// List returns every known agent sorted by id.
func (t *Tracker) List(ctx context.Context) ([]State, error) {
	var states []State
	err := t.guard.WithLock(ctx, Lock, storage.Shared, func() error {
		var err error
		states, err = t.load(ctx)
		return err
	})
	if err != nil {
		return nil, errs.E("agent.list", Lock, "", err)
	}
	slices.SortFunc(states, func(a, b State) int { return strings.Compare(a.ID, b.ID) })
	return states, nil
}

// update applies fn to the agent's state, creating it when absent.
func (t *Tracker) update(ctx context.Context, id string, fn func(s *State, now time.Time)) error {
	return t.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		states, err := t.load(ctx)
		if err != nil {
			return err
		}

		idx := indexOf(states, id)
		if idx < 0 {
			s := State{ID: id}
			fn(&s, t.now())
			rec, err := storage.EncodeOne(s)
			if err != nil {
				return errs.Storage(err)
			}
			return t.guard.Append(ctx, storage.TableAgentStates, rec)
		}

		fn(&states[idx], t.now())
		return t.save(ctx, states)
	})
}

func (t *Tracker) load(ctx context.Context) ([]State, error) {
	records, err := t.guard.Load(ctx, storage.TableAgentStates)
	if err != nil {
		return nil, err
	}
	states, err := storage.Decode[State](records)
	if err != nil {
		return nil, errs.Storage(err)
	}
	return states, nil
}

func (t *Tracker) save(ctx context.Context, states []State) error {
	records, err := storage.Encode(states)
	if err != nil {
		return errs.Storage(err)
	}
	return t.guard.Replace(ctx, storage.TableAgentStates, records)
}

func indexOf(states []State, id string) int {
	return slices.IndexFunc(states, func(s State) bool { return s.ID == id })
}

// normalizeCapabilities trims, drops empties, and dedupes, keeping order.
func normalizeCapabilities(in []string) []string {
	var out []string
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
