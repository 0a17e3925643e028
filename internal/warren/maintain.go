package warren

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/metrics"
)

// EventRetention is how many audit events maintenance keeps.
const EventRetention = 10_000

// MaintenanceReport counts what one maintenance pass changed.
type MaintenanceReport struct {
	MessagesPruned  int `json:"messages_pruned"`
	FilesReclaimed  int `json:"files_reclaimed"`
	AgentsOffline   int `json:"agents_offline"`
	EventsCompacted int `json:"events_compacted"`
}

// Maintain applies retention: it prunes old messages, returns stalled
// files to their queues, marks idle agents offline, and compacts the
// audit log. Each step runs even if an earlier one fails; the errors are
// joined.
func (s *Service) Maintain(ctx context.Context) (_ MaintenanceReport, err error) {
	ctx, done := s.start(ctx, "maintenance.run")
	defer done(&err)

	var (
		report  MaintenanceReport
		errList []error
	)

	pruned, err := s.messages.Prune(ctx, s.cfg.Retention.MessageMaxAge)
	if err != nil {
		errList = append(errList, err)
	} else if pruned > 0 {
		report.MessagesPruned = pruned
		metrics.MessagesPruned.Add(float64(pruned))
		s.record(ctx, events.Event{Type: events.MessagesPruned, Detail: strconv.Itoa(pruned)})
	}

	reclaimed, err := s.queue.ReclaimExpired(ctx, s.cfg.Retention.ProcessingTimeout)
	if err != nil {
		errList = append(errList, err)
	}
	for _, f := range reclaimed {
		report.FilesReclaimed++
		metrics.FilesReclaimed.Inc()
		s.record(ctx, events.Event{
			Type:      events.FileReclaimed,
			ChannelID: f.ChannelID,
			AgentID:   f.AssignedTo,
			Subject:   f.ID,
			Detail:    f.Name,
		})
	}

	swept, err := s.agents.SweepIdle(ctx, s.cfg.Retention.AgentTimeout)
	if err != nil {
		errList = append(errList, err)
	}
	for _, a := range swept {
		report.AgentsOffline++
		metrics.AgentsMarkedOffline.Inc()
		s.record(ctx, events.Event{Type: events.AgentOffline, AgentID: a.ID, Detail: "idle"})
	}

	compacted, err := s.events.Compact(ctx, EventRetention)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to compact event log")
	}
	report.EventsCompacted = compacted

	s.logger.Info().
		Int("pruned", report.MessagesPruned).
		Int("reclaimed", report.FilesReclaimed).
		Int("offline", report.AgentsOffline).
		Int("events_compacted", report.EventsCompacted).
		Msg("maintenance complete")

	return report, errors.Join(errList...)
}

// RunMaintenance calls Maintain every interval until ctx is done. Failed
// passes are logged and retried on the next tick.
func (s *Service) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.Retention.MaintenanceInterval
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Maintain(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("maintenance pass failed")
			}
		}
	}
}
