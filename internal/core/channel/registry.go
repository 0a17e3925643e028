package channel

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hay-kot/criterio"

	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/core/validate"
	"github.com/hay-kot/warren/pkg/randid"
)

// Lock is the resource name guarding the channels table.
const Lock = "channels"

// Limits bounds channel input.
type Limits struct {
	MaxNameLength        int
	MaxDescriptionLength int
}

// Registry creates channels and manages membership.
type Registry struct {
	guard  *guard.Guard
	limits Limits
	now    func() time.Time
}

// NewRegistry creates a Registry over g.
func NewRegistry(g *guard.Guard, limits Limits) *Registry {
	return &Registry{guard: g, limits: limits, now: time.Now}
}

// Create validates and persists a new channel. Names are unique
// case-insensitively.
func (r *Registry) Create(ctx context.Context, name string, kind string, description string) (Channel, error) {
	const op = "channel.create"

	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)

	var fields criterio.FieldErrorsBuilder
	if err := validate.ChannelName(name, r.limits.MaxNameLength); err != nil {
		fields = fields.Append("name", err)
	}
	if err := validate.Description(description, r.limits.MaxDescriptionLength); err != nil {
		fields = fields.Append("description", err)
	}
	if err := fields.ToError(); err != nil {
		return Channel{}, errs.E(op, Lock, "", fmt.Errorf("%w: %w", errs.ErrValidation, err))
	}

	k, err := ParseKind(kind)
	if err != nil {
		return Channel{}, errs.E(op, Lock, "", err)
	}

	var created Channel
	err = r.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		channels, err := r.load(ctx)
		if err != nil {
			return err
		}

		for _, c := range channels {
			if strings.EqualFold(c.Name, name) {
				return fmt.Errorf("%w: channel %q already exists", errs.ErrDuplicateName, c.Name)
			}
		}

		now := r.now()
		created = Channel{
			ID:          "channel_" + uuid.NewString(),
			Name:        name,
			Kind:        k,
			Description: description,
			Status:      StatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		rec, err := storage.EncodeOne(created)
		if err != nil {
			return errs.Storage(err)
		}
		return r.guard.Append(ctx, storage.TableChannels, rec)
	})
	if err != nil {
		return Channel{}, errs.E(op, Lock, name, err)
	}

	return created, nil
}

// Get returns a channel by id.
func (r *Registry) Get(ctx context.Context, id string) (Channel, error) {
	var found Channel
	err := r.guard.WithLock(ctx, Lock, storage.Shared, func() error {
		channels, err := r.load(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(channels, id)
		if idx < 0 {
			return errs.NotFound("channel", id)
		}
		found = channels[idx]
		return nil
	})
	if err != nil {
		return Channel{}, errs.E("channel.get", Lock, id, err)
	}
	return found, nil
}

// Lookup returns a channel by id without taking Lock. The caller must
// already hold Lock in either mode.
func (r *Registry) Lookup(ctx context.Context, id string) (Channel, error) {
	channels, err := r.load(ctx)
	if err != nil {
		return Channel{}, err
	}
	idx := indexOf(channels, id)
	if idx < 0 {
		return Channel{}, errs.NotFound("channel", id)
	}
	return channels[idx], nil
}

// FindByName returns a channel by case-insensitive name.
func (r *Registry) FindByName(ctx context.Context, name string) (Channel, error) {
	channels, err := r.List(ctx)
	if err != nil {
		return Channel{}, err
	}
	for _, c := range channels {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return Channel{}, errs.E("channel.find", Lock, name, errs.NotFound("channel", name))
}

// List returns every channel, newest first.
func (r *Registry) List(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	err := r.guard.WithLock(ctx, Lock, storage.Shared, func() error {
		var err error
		channels, err = r.load(ctx)
		return err
	})
	if err != nil {
		return nil, errs.E("channel.list", Lock, "", err)
	}

	// Reverse first so channels created in the same instant stay newest first.
	slices.Reverse(channels)
	slices.SortStableFunc(channels, func(a, b Channel) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return channels, nil
}

// AddMember joins agentID to the channel. Joining twice returns the
// original membership. An empty sessionID gets a generated one.
func (r *Registry) AddMember(ctx context.Context, channelID, agentID, sessionID string) (Member, error) {
	const op = "channel.add_member"

	if err := validate.Identifier("agent_id", agentID); err != nil {
		return Member{}, errs.E(op, Lock, channelID, err)
	}
	if sessionID == "" {
		sessionID = "session_" + randid.Generate(13)
	} else if err := validate.Identifier("session_id", sessionID); err != nil {
		return Member{}, errs.E(op, Lock, channelID, err)
	}

	var member Member
	err := r.update(ctx, channelID, func(c *Channel, now time.Time) (bool, error) {
		if existing, ok := c.Member(agentID); ok {
			member = existing
			return false, nil
		}
		if !c.IsActive() {
			return false, errs.Validation("channel %q is archived", c.Name)
		}

		member = Member{AgentID: agentID, SessionID: sessionID, JoinedAt: now}
		c.Members = append(c.Members, member)
		c.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return Member{}, errs.E(op, Lock, channelID, err)
	}
	return member, nil
}

// Archive marks the channel archived. Archived channels keep their history
// but reject new messages, members, and files.
func (r *Registry) Archive(ctx context.Context, channelID string) (Channel, error) {
	var archived Channel
	err := r.update(ctx, channelID, func(c *Channel, now time.Time) (bool, error) {
		if err := c.Archive(now); err != nil {
			return false, err
		}
		archived = *c
		return true, nil
	})
	if err != nil {
		return Channel{}, errs.E("channel.archive", Lock, channelID, err)
	}
	return archived, nil
}

// Purge deletes a channel. cascade runs first, under the exclusive
// channel lock, to remove the rows the channel owns; the channel record is
// only deleted if cascade succeeds.
func (r *Registry) Purge(ctx context.Context, channelID string, cascade func(ctx context.Context, c Channel) error) (Channel, error) {
	var purged Channel
	err := r.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		channels, err := r.load(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(channels, channelID)
		if idx < 0 {
			return errs.NotFound("channel", channelID)
		}
		purged = channels[idx]

		if cascade != nil {
			if err := cascade(ctx, purged); err != nil {
				return err
			}
		}
		return r.save(ctx, slices.Delete(channels, idx, idx+1))
	})
	if err != nil {
		return Channel{}, errs.E("channel.purge", Lock, channelID, err)
	}
	return purged, nil
}

// update applies fn to one channel under the exclusive lock and persists
// the table when fn reports a change.
func (r *Registry) update(ctx context.Context, channelID string, fn func(c *Channel, now time.Time) (bool, error)) error {
	return r.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		channels, err := r.load(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(channels, channelID)
		if idx < 0 {
			return errs.NotFound("channel", channelID)
		}

		changed, err := fn(&channels[idx], r.now())
		if err != nil || !changed {
			return err
		}
		return r.save(ctx, channels)
	})
}

func (r *Registry) load(ctx context.Context) ([]Channel, error) {
	records, err := r.guard.Load(ctx, storage.TableChannels)
	if err != nil {
		return nil, err
	}
	channels, err := storage.Decode[Channel](records)
	if err != nil {
		return nil, errs.Storage(err)
	}
	return channels, nil
}

func (r *Registry) save(ctx context.Context, channels []Channel) error {
	records, err := storage.Encode(channels)
	if err != nil {
		return errs.Storage(err)
	}
	return r.guard.Replace(ctx, storage.TableChannels, records)
}

func indexOf(channels []Channel, id string) int {
	return slices.IndexFunc(channels, func(c Channel) bool { return c.ID == id })
}
