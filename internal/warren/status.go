package warren

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hay-kot/warren/internal/core/agent"
	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/queue"
)

// ChannelStatus summarizes one channel from its live rows.
type ChannelStatus struct {
	Channel       channel.Channel `json:"channel"`
	MemberCount   int             `json:"member_count"`
	MessageCount  int             `json:"message_count"`
	LastSequence  int64           `json:"last_sequence"`
	LastMessageAt time.Time       `json:"last_message_at,omitzero"`
	Queue         queue.Depth     `json:"queue"`
	MemoryCount   int             `json:"memory_count"`
	// UpdatedAt is the later of the channel's own update and its last
	// message.
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemStatus summarizes the whole store.
type SystemStatus struct {
	ChannelCount    int       `json:"channel_count"`
	ActiveChannels  int       `json:"active_channels"`
	AgentCount      int       `json:"agent_count"`
	AvailableAgents int       `json:"available_agents"`
	ActiveAgents    int       `json:"active_agents"`
	MessageCount    int       `json:"message_count"`
	QueueDepth      int       `json:"queue_depth"`
	Processing      int       `json:"processing"`
	Backend         string    `json:"backend"`
	Timestamp       time.Time `json:"timestamp"`
}

// GetChannelStatus returns counts for one channel.
func (s *Service) GetChannelStatus(ctx context.Context, channelRef string) (_ ChannelStatus, err error) {
	ctx, done := s.start(ctx, "channel.status", attribute.String("channel.ref", channelRef))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return ChannelStatus{}, err
	}

	msgs, err := s.messages.ChannelStats(ctx, c.ID)
	if err != nil {
		return ChannelStatus{}, err
	}
	depths, err := s.queue.Depths(ctx)
	if err != nil {
		return ChannelStatus{}, err
	}
	mem, err := s.memory.All(ctx, c.ID)
	if err != nil {
		return ChannelStatus{}, err
	}

	updated := c.UpdatedAt
	if msgs.LastAt.After(updated) {
		updated = msgs.LastAt
	}

	return ChannelStatus{
		Channel:       c,
		MemberCount:   len(c.Members),
		MessageCount:  msgs.Count,
		LastSequence:  msgs.LastSequence,
		LastMessageAt: msgs.LastAt,
		Queue:         depths[c.ID],
		MemoryCount:   len(mem),
		UpdatedAt:     updated,
	}, nil
}

// GetSystemStatus returns store-wide counts.
func (s *Service) GetSystemStatus(ctx context.Context) (_ SystemStatus, err error) {
	ctx, done := s.start(ctx, "system.status")
	defer done(&err)

	channels, err := s.channels.List(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	agents, err := s.agents.List(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	stats, err := s.messages.Stats(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	depths, err := s.queue.Depths(ctx)
	if err != nil {
		return SystemStatus{}, err
	}

	st := SystemStatus{
		ChannelCount: len(channels),
		AgentCount:   len(agents),
		Backend:      s.backend.Kind(),
		Timestamp:    s.now(),
	}
	for i := range channels {
		if channels[i].IsActive() {
			st.ActiveChannels++
		}
	}
	for _, a := range agents {
		switch a.Status {
		case agent.StatusAvailable:
			st.AvailableAgents++
		case agent.StatusActive:
			st.ActiveAgents++
		}
	}
	for _, m := range stats {
		st.MessageCount += m.Count
	}
	for _, d := range depths {
		st.QueueDepth += d.Queued
		st.Processing += d.Processing
	}
	return st, nil
}
