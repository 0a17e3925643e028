package warren

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/core/queue"
	"github.com/hay-kot/warren/internal/metrics"
)

// AddFileToQueue enqueues path on the channel. A non-empty assignedTo
// reserves the file for that agent.
func (s *Service) AddFileToQueue(ctx context.Context, channelRef, path string, priority int, assignedTo string) (_ queue.File, err error) {
	ctx, done := s.start(ctx, "queue.enqueue",
		attribute.String("channel.ref", channelRef),
		attribute.Int("priority", priority))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return queue.File{}, err
	}

	f, err := s.queue.Enqueue(ctx, c.ID, path, priority, assignedTo)
	if err != nil {
		return queue.File{}, err
	}

	metrics.FilesQueued.Inc()
	s.record(ctx, events.Event{
		Type:      events.FileQueued,
		ChannelID: c.ID,
		AgentID:   assignedTo,
		Subject:   f.ID,
		Detail:    f.Name,
	})
	return f, nil
}

// GetNextFileFromQueue claims the channel's next file for agentID. It
// returns nil when nothing is claimable. An empty agentID only claims
// unassigned files.
func (s *Service) GetNextFileFromQueue(ctx context.Context, channelRef, agentID string) (_ *queue.File, err error) {
	ctx, done := s.start(ctx, "queue.claim",
		attribute.String("channel.ref", channelRef),
		attribute.String("agent.id", agentID))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return nil, err
	}

	f, err := s.queue.ClaimNext(ctx, c.ID, agentID)
	if err != nil || f == nil {
		return nil, err
	}

	metrics.FilesClaimed.Inc()
	if agentID != "" {
		s.touchAgent(ctx, agentID, c.ID)
	}
	s.record(ctx, events.Event{
		Type:      events.FileClaimed,
		ChannelID: c.ID,
		AgentID:   agentID,
		Subject:   f.ID,
		Detail:    f.Name,
	})
	return f, nil
}

// CompleteFile marks a claimed file DONE. A non-empty agentID must be the
// claimer.
func (s *Service) CompleteFile(ctx context.Context, fileID, agentID string) (queue.File, error) {
	return s.finishFile(ctx, fileID, queue.StatusDone, agentID)
}

// FailFile marks a claimed file FAILED. A non-empty agentID must be the
// claimer.
func (s *Service) FailFile(ctx context.Context, fileID, agentID string) (queue.File, error) {
	return s.finishFile(ctx, fileID, queue.StatusFailed, agentID)
}

func (s *Service) finishFile(ctx context.Context, fileID string, outcome queue.Status, agentID string) (_ queue.File, err error) {
	ctx, done := s.start(ctx, "queue.finish",
		attribute.String("file.id", fileID),
		attribute.String("outcome", string(outcome)))
	defer done(&err)

	f, err := s.queue.Finish(ctx, fileID, outcome, agentID)
	if err != nil {
		return queue.File{}, err
	}

	metrics.FilesFinished.WithLabelValues(string(outcome)).Inc()
	s.record(ctx, events.Event{
		Type:      events.FileFinished,
		ChannelID: f.ChannelID,
		AgentID:   f.AssignedTo,
		Subject:   f.ID,
		Detail:    string(outcome),
	})
	return f, nil
}

// ListQueue returns the channel's files in claim order. An empty status
// lists every file.
func (s *Service) ListQueue(ctx context.Context, channelRef string, status queue.Status) (_ []queue.File, err error) {
	ctx, done := s.start(ctx, "queue.list", attribute.String("channel.ref", channelRef))
	defer done(&err)

	c, err := s.resolveChannel(ctx, channelRef)
	if err != nil {
		return nil, err
	}
	return s.queue.List(ctx, c.ID, status)
}
