package warren

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/core/messaging"
	"github.com/hay-kot/warren/internal/metrics"
)

// AddMessage appends a message from authorID to the channel. An empty
// kind is text.
func (s *Service) AddMessage(ctx context.Context, channelRef, authorID, body, kind string) (_ messaging.Message, err error) {
	ctx, done := s.start(ctx, "message.append",
		attribute.String("channel.ref", channelRef),
		attribute.String("agent.id", authorID))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return messaging.Message{}, err
	}

	msg, err := s.messages.Append(ctx, c.ID, authorID, body, kind)
	if err != nil {
		return messaging.Message{}, err
	}

	metrics.MessagesAppended.Inc()
	s.touchAgent(ctx, authorID, c.ID)
	if dropped := s.hub.publish(msg); dropped > 0 {
		s.logger.Debug().Str("channel_id", c.ID).Int("dropped", dropped).Msg("slow subscribers missed a message")
	}
	s.record(ctx, events.Event{
		Type:      events.MessageAppended,
		ChannelID: c.ID,
		AgentID:   authorID,
		Subject:   msg.ID,
		Detail:    strconv.FormatInt(msg.Sequence, 10),
	})
	return msg, nil
}

// GetMessages returns the channel's messages after cursor in sequence
// order. A cursor of 0 returns the whole log.
func (s *Service) GetMessages(ctx context.Context, channelRef string, cursor int64) (_ []messaging.Message, err error) {
	ctx, done := s.start(ctx, "message.since",
		attribute.String("channel.ref", channelRef),
		attribute.Int64("cursor", cursor))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return nil, err
	}
	return s.messages.Since(ctx, c.ID, cursor)
}

// SearchMessages finds messages containing text, newest first. An empty
// channelRef searches every channel.
func (s *Service) SearchMessages(ctx context.Context, text, channelRef string, limit int) (_ []messaging.Message, err error) {
	ctx, done := s.start(ctx, "message.search",
		attribute.String("channel.ref", channelRef),
		attribute.Int("limit", limit))
	defer done(&err)

	var channelID string
	if channelRef != "" {
		c, err := s.resolveChannel(ctx, channelRef)
		if err != nil {
			return nil, err
		}
		channelID = c.ID
	}
	return s.messages.Search(ctx, text, channelID, limit)
}

// Subscribe streams messages appended to the channel through this Service
// from now on. Delivery is best effort: a subscriber that falls behind
// misses messages and should catch up with GetMessages and its last
// sequence key. cancel ends the subscription and closes the channel.
func (s *Service) Subscribe(ctx context.Context, channelRef string) (_ <-chan messaging.Message, _ func(), err error) {
	ctx, done := s.start(ctx, "message.subscribe", attribute.String("channel.ref", channelRef))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.subscribe(c.ID)
	return ch, cancel, nil
}
