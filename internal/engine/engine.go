// Package engine implements the process and task lifecycle state machines,
// progress tracking, and SLA compliance sweeps.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/bus"
	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/internal/store"
	"github.com/docuflow/waypoint/model"
)

const (
	defaultAtRiskWindow   = 15 * time.Minute
	defaultIdempotencyTTL = 24 * time.Hour

	eventSource = "workflow-engine"
)

// Engine manages the lifecycle of process instances and their tasks.
type Engine struct {
	store        store.Store
	bus          *bus.EventBus
	idem         IdempotencyStore
	idemTTL      time.Duration
	atRiskWindow time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithIdempotencyStore enables idempotency-key deduplication for StartProcess.
func WithIdempotencyStore(s IdempotencyStore, ttl time.Duration) Option {
	return func(e *Engine) {
		e.idem = s
		if ttl > 0 {
			e.idemTTL = ttl
		}
	}
}

// WithAtRiskWindow overrides the window before a due date in which an SLA
// is flagged as at risk.
func WithAtRiskWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.atRiskWindow = d
		}
	}
}

// WithMetrics wires engine counters into the metrics registry.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a new workflow engine.
func NewEngine(st store.Store, b *bus.EventBus, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		bus:          b,
		idemTTL:      defaultIdempotencyTTL,
		atRiskWindow: defaultAtRiskWindow,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// recordEvent appends an audit record. Audit failures are logged and
// swallowed so they never abort the triggering operation.
func (e *Engine) recordEvent(ctx context.Context, evt model.ProcessEvent) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := e.store.AppendProcessEvent(ctx, evt); err != nil {
		e.logger.Warn("append process event failed",
			zap.String("process_instance_id", evt.ProcessInstanceID),
			zap.String("event_type", evt.EventType),
			zap.Error(err),
		)
	}
}

// publish emits an event on the in-process bus. The bus isolates handler
// failures, so the returned event is informational only.
func (e *Engine) publish(ctx context.Context, eventType string, data map[string]any) {
	if e.bus == nil {
		return
	}
	rctx := model.RequestContextFrom(ctx)
	correlationID := ""
	if rctx != nil {
		correlationID = rctx.CorrelationID
	}
	e.bus.Publish(ctx, eventType, data, eventSource, correlationID)
}

func actorID(ctx context.Context) string {
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.SubjectID != "" {
		return rctx.SubjectID
	}
	return "system"
}

// slaStatusAt computes the SLA status for a non-terminal item at a point
// in time. A missing due date is always on track.
func (e *Engine) slaStatusAt(dueDate *time.Time, now time.Time) string {
	if dueDate == nil {
		return model.SLAOnTrack
	}
	if now.After(*dueDate) {
		return model.SLABreached
	}
	if dueDate.Sub(now) <= e.atRiskWindow {
		return model.SLAAtRisk
	}
	return model.SLAOnTrack
}

func dueDateFor(now time.Time, slaTargetMins int) *time.Time {
	if slaTargetMins <= 0 {
		return nil
	}
	due := now.Add(time.Duration(slaTargetMins) * time.Minute)
	return &due
}
