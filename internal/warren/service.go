// Package warren composes channels, messages, the file work queue, channel
// memory, and agent presence into the operations callers use.
//
// Every operation opens a trace span, counts its outcome in Prometheus,
// logs through zerolog, and records an audit event once its state change
// has committed. An audit write failure is logged and never fails the
// operation.
package warren

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hay-kot/warren/internal/core/agent"
	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/config"
	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/memory"
	"github.com/hay-kot/warren/internal/core/messaging"
	"github.com/hay-kot/warren/internal/core/queue"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/metrics"
)

// EventLog is the audit trail the service writes to.
type EventLog interface {
	events.Recorder
	events.Reader
	Compact(ctx context.Context, retain int) (int, error)
}

// Options assembles a Service from already-opened dependencies.
type Options struct {
	Backend storage.Backend
	// Cache defaults to a per-service in-memory cache.
	Cache  guard.Cache
	Events EventLog
	Config config.Config
	Logger zerolog.Logger
}

// Service is the facade over every warren component.
type Service struct {
	cfg      config.Config
	backend  storage.Backend
	guard    *guard.Guard
	channels *channel.Registry
	messages *messaging.Log
	queue    *queue.Queue
	memory   *memory.Store
	agents   *agent.Tracker
	events   EventLog
	hub      *hub
	tracer   trace.Tracer
	logger   zerolog.Logger
	closers  []func() error
	now      func() time.Time
}

// New builds a Service. The caller keeps ownership of the dependencies
// unless they were created by Open.
func New(opts Options) *Service {
	cfg := opts.Config
	if opts.Cache == nil {
		opts.Cache = guard.NewMemoryCache()
	}
	if opts.Events == nil {
		opts.Events = discardLog{}
	}

	logger := opts.Logger.With().Str("component", "warren").Logger()

	g := guard.New(opts.Backend, opts.Cache, guard.Config{
		Timeout:      cfg.Lock.Timeout,
		PollInterval: cfg.Lock.PollInterval,
		TTL:          cfg.Cache.TTL,
	}, logger.With().Str("component", "guard").Logger())

	registry := channel.NewRegistry(g, channel.Limits{
		MaxNameLength:        cfg.Limits.MaxChannelNameLength,
		MaxDescriptionLength: cfg.Limits.MaxDescriptionLength,
	})

	return &Service{
		cfg:      cfg,
		backend:  opts.Backend,
		guard:    g,
		channels: registry,
		messages: messaging.NewLog(g, registry, messaging.Limits{
			MaxMessageLength: cfg.Limits.MaxMessageLength,
			SearchLimit:      cfg.Limits.SearchLimit,
		}),
		queue:  queue.New(g, registry, cfg.Limits.MaxFilesPerChannel),
		memory: memory.NewStore(g, registry),
		agents: agent.NewTracker(g),
		events: opts.Events,
		hub:    newHub(),
		tracer: otel.Tracer("github.com/hay-kot/warren"),
		logger: logger,
		now:    time.Now,
	}
}

// Backend names the storage adapter in use.
func (s *Service) Backend() string { return s.backend.Kind() }

// Events returns the audit log reader.
func (s *Service) Events() events.Reader { return s.events }

// Close releases resources opened by Open and ends every subscription.
func (s *Service) Close() error {
	s.hub.closeAll()

	var errList []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// start opens a span for op. The returned func ends it and records the
// outcome; call it with a pointer to the operation's named error.
func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	begin := s.now()

	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}

		elapsed := s.now().Sub(begin)
		result := errorClass(err)
		metrics.OperationsTotal.WithLabelValues(op, result).Inc()
		metrics.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)

			ev := s.logger.Warn()
			if result == "validation" || result == "not_found" {
				ev = s.logger.Debug()
			}
			ev.Err(err).
				Str("op", op).
				Str("result", result).
				Bool("retryable", errs.Retryable(err)).
				Dur("elapsed", elapsed).
				Msg("operation failed")
		} else {
			s.logger.Debug().Str("op", op).Dur("elapsed", elapsed).Msg("operation complete")
		}
		span.End()
	}
}

// record writes an audit event. The state change it describes has
// already committed, so a failure is only logged.
func (s *Service) record(ctx context.Context, e events.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if err := s.events.Record(ctx, e); err != nil {
		metrics.EventWriteFailures.Inc()
		s.logger.Error().Err(err).Str("event", string(e.Type)).Msg("failed to record event")
	}
}

// errorClass maps an error to a low-cardinality metric label.
func errorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrValidation):
		return "validation"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrDuplicateName):
		return "duplicate"
	case errors.Is(err, errs.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, errs.ErrInvalidTransition):
		return "transition"
	case errors.Is(err, errs.ErrStorage):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

type discardLog struct{ events.Discard }

func (discardLog) List(context.Context, events.Filter) ([]events.Event, error) { return nil, nil }

func (discardLog) Compact(context.Context, int) (int, error) { return 0, nil }
