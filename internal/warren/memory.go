package warren

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/core/memory"
)

// SetChannelMemory upserts key in the channel's memory. An empty kind is
// context.
func (s *Service) SetChannelMemory(ctx context.Context, channelRef, key, value, kind string) (_ memory.Entry, err error) {
	ctx, done := s.start(ctx, "memory.set",
		attribute.String("channel.ref", channelRef),
		attribute.String("memory.key", key))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return memory.Entry{}, err
	}

	e, err := s.memory.Set(ctx, c.ID, key, value, kind)
	if err != nil {
		return memory.Entry{}, err
	}

	s.record(ctx, events.Event{
		Type:      events.MemorySet,
		ChannelID: c.ID,
		Subject:   key,
		Detail:    string(e.Kind),
	})
	return e, nil
}

// GetChannelMemory returns every memory entry of the channel keyed by key.
func (s *Service) GetChannelMemory(ctx context.Context, channelRef string) (_ map[string]memory.Entry, err error) {
	ctx, done := s.start(ctx, "memory.all", attribute.String("channel.ref", channelRef))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return nil, err
	}
	return s.memory.All(ctx, c.ID)
}

// GetChannelMemoryEntry returns one memory entry.
func (s *Service) GetChannelMemoryEntry(ctx context.Context, channelRef, key string) (_ memory.Entry, err error) {
	ctx, done := s.start(ctx, "memory.get",
		attribute.String("channel.ref", channelRef),
		attribute.String("memory.key", key))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return memory.Entry{}, err
	}
	return s.memory.Get(ctx, c.ID, key)
}

// DeleteChannelMemory removes one memory entry.
func (s *Service) DeleteChannelMemory(ctx context.Context, channelRef, key string) (err error) {
	ctx, done := s.start(ctx, "memory.delete",
		attribute.String("channel.ref", channelRef),
		attribute.String("memory.key", key))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return err
	}
	if err := s.memory.Delete(ctx, c.ID, key); err != nil {
		return err
	}

	s.record(ctx, events.Event{Type: events.MemoryDeleted, ChannelID: c.ID, Subject: key})
	return nil
}
