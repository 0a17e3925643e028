package warren

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/events"
)

// PurgeResult reports what a channel purge removed.
type PurgeResult struct {
	Channel       channel.Channel `json:"channel"`
	Messages      int             `json:"messages"`
	Files         int             `json:"files"`
	MemoryEntries int             `json:"memory_entries"`
}

// CreateChannel creates a channel. An empty kind is general.
func (s *Service) CreateChannel(ctx context.Context, name, kind, description string) (_ channel.Channel, err error) {
	ctx, done := s.start(ctx, "channel.create", attribute.String("channel.name", name))
	defer done(&err)

	c, err := s.channels.Create(ctx, name, kind, description)
	if err != nil {
		return channel.Channel{}, err
	}

	s.logger.Info().Str("channel_id", c.ID).Str("name", c.Name).Str("kind", string(c.Kind)).Msg("channel created")
	s.record(ctx, events.Event{
		Type:      events.ChannelCreated,
		ChannelID: c.ID,
		Subject:   c.Name,
		Detail:    string(c.Kind),
	})
	return c, nil
}

// AddUserToChannel joins agentID to the channel referenced by id or name.
// sessionID ties the membership to the caller's host session; an empty one
// is generated. Rejoining keeps the original membership.
func (s *Service) AddUserToChannel(ctx context.Context, channelRef, agentID, sessionID string) (_ channel.Member, err error) {
	ctx, done := s.start(ctx, "channel.add_member",
		attribute.String("channel.ref", channelRef),
		attribute.String("agent.id", agentID),
		attribute.String("session.id", sessionID))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return channel.Member{}, err
	}

	already := c.HasMember(agentID)
	m, err := s.channels.AddMember(ctx, c.ID, agentID, sessionID)
	if err != nil {
		return channel.Member{}, err
	}
	s.touchAgent(ctx, agentID, c.ID)

	if !already {
		s.record(ctx, events.Event{
			Type:      events.MemberAdded,
			ChannelID: c.ID,
			AgentID:   agentID,
			Subject:   m.SessionID,
		})
	}
	return m, nil
}

// GetChannel returns a channel by id or name.
func (s *Service) GetChannel(ctx context.Context, channelRef string) (_ channel.Channel, err error) {
	ctx, done := s.start(ctx, "channel.get", attribute.String("channel.ref", channelRef))
	defer done(&err)

	return s.resolveChannel(ctx, channelRef)
}

// ListChannels returns every channel, newest first.
func (s *Service) ListChannels(ctx context.Context) (_ []channel.Channel, err error) {
	ctx, done := s.start(ctx, "channel.list")
	defer done(&err)

	return s.channels.List(ctx)
}

// ArchiveChannel stops a channel from accepting new messages, members, and
// files. Its history stays readable.
func (s *Service) ArchiveChannel(ctx context.Context, channelRef string) (_ channel.Channel, err error) {
	ctx, done := s.start(ctx, "channel.archive", attribute.String("channel.ref", channelRef))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return channel.Channel{}, err
	}

	archived, err := s.channels.Archive(ctx, c.ID)
	if err != nil {
		return channel.Channel{}, err
	}

	s.logger.Info().Str("channel_id", c.ID).Msg("channel archived")
	s.record(ctx, events.Event{Type: events.ChannelArchived, ChannelID: c.ID, Subject: c.Name})
	return archived, nil
}

// PurgeChannel deletes a channel with its messages, queued files, and
// memory. It is not atomic: each table is cleared in turn under the
// exclusive channel lock and the channel record goes last. A failed purge
// leaves the channel in place and is completed by calling PurgeChannel
// again; the result counts only rows removed by that call.
func (s *Service) PurgeChannel(ctx context.Context, channelRef string) (_ PurgeResult, err error) {
	ctx, done := s.start(ctx, "channel.purge", attribute.String("channel.ref", channelRef))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return PurgeResult{}, err
	}

	var res PurgeResult
	purged, err := s.channels.Purge(ctx, c.ID, func(ctx context.Context, c channel.Channel) error {
		var err error
		if res.Messages, err = s.messages.DeleteChannel(ctx, c.ID); err != nil {
			return err
		}
		if res.Files, err = s.queue.DeleteChannel(ctx, c.ID); err != nil {
			return err
		}
		res.MemoryEntries, err = s.memory.DeleteChannel(ctx, c.ID)
		return err
	})
	if err != nil {
		return PurgeResult{}, err
	}
	res.Channel = purged
	s.hub.drop(purged.ID)

	s.logger.Info().
		Str("channel_id", purged.ID).
		Int("messages", res.Messages).
		Int("files", res.Files).
		Int("memory", res.MemoryEntries).
		Msg("channel purged")
	s.record(ctx, events.Event{
		Type:      events.ChannelPurged,
		ChannelID: purged.ID,
		Subject:   purged.Name,
		Detail:    fmt.Sprintf("messages=%d files=%d memory=%d", res.Messages, res.Files, res.MemoryEntries),
	})
	return res, nil
}

// resolveChannel finds a channel by id, then by case-insensitive name.
func (s *Service) resolveChannel(ctx context.Context, ref string) (channel.Channel, error) {
	c, err := s.channels.Get(ctx, ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return channel.Channel{}, err
	}
	return s.channels.FindByName(ctx, ref)
}
