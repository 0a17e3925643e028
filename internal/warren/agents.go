package warren

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hay-kot/warren/internal/core/agent"
	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/metrics"
)

// RegisterAgent declares an agent and its capabilities.
func (s *Service) RegisterAgent(ctx context.Context, agentID string, capabilities []string) (_ agent.State, err error) {
	ctx, done := s.start(ctx, "agent.register", attribute.String("agent.id", agentID))
	defer done(&err)

	st, err := s.agents.Register(ctx, agentID, capabilities)
	if err != nil {
		return agent.State{}, err
	}

	s.record(ctx, events.Event{
		Type:    events.AgentRegistered,
		AgentID: agentID,
		Detail:  strings.Join(st.Capabilities, ","),
	})
	return st, nil
}

// GetAgent returns one agent's presence.
func (s *Service) GetAgent(ctx context.Context, agentID string) (_ agent.State, err error) {
	ctx, done := s.start(ctx, "agent.get", attribute.String("agent.id", agentID))
	defer done(&err)

	return s.agents.Get(ctx, agentID)
}

// ListAgents returns every known agent.
func (s *Service) ListAgents(ctx context.Context) (_ []agent.State, err error) {
	ctx, done := s.start(ctx, "agent.list")
	defer done(&err)

	return s.agents.List(ctx)
}

// MarkAgentOffline sets an agent offline.
func (s *Service) MarkAgentOffline(ctx context.Context, agentID string) (_ agent.State, err error) {
	ctx, done := s.start(ctx, "agent.offline", attribute.String("agent.id", agentID))
	defer done(&err)

	st, err := s.agents.MarkOffline(ctx, agentID)
	if err != nil {
		return agent.State{}, err
	}

	metrics.AgentsMarkedOffline.Inc()
	s.record(ctx, events.Event{Type: events.AgentOffline, AgentID: agentID})
	return st, nil
}

// touchAgent records agent activity after a committed operation. Presence
// is advisory, so a failure is logged rather than returned.
func (s *Service) touchAgent(ctx context.Context, agentID, channelID string) {
	if _, err := s.agents.Touch(ctx, agentID, channelID); err != nil {
		s.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to record agent activity")
	}
}
