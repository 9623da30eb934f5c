package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/model"
)

// CheckSLACompliance recomputes SLA statuses for all active processes and
// tasks. Transitions emit audit and bus events. It returns the number of
// items found in breach. The sweep is idempotent: re-running it against an
// unchanged store produces no new transitions.
func (e *Engine) CheckSLACompliance(ctx context.Context) (int, error) {
	ctx, span := observability.StartSpan(ctx, "engine.CheckSLACompliance")
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	start := time.Now()
	now := start.UTC()
	violations := 0

	processes, err := e.store.ListProcessesByStatus(ctx,
		model.ProcessStatusRunning, model.ProcessStatusSuspended)
	if err != nil {
		return 0, err
	}
	for _, inst := range processes {
		next := e.slaStatusAt(inst.DueDate, now)
		if next == model.SLABreached {
			violations++
		}
		if next == inst.SLAStatus {
			continue
		}
		inst.SLAStatus = next
		inst.UpdatedAt = now
		if updErr := e.store.UpdateProcess(ctx, inst); updErr != nil {
			e.logger.Warn("sla sweep: update process failed",
				zap.String("process_instance_id", inst.ID), zap.Error(updErr))
			continue
		}
		e.emitSLAEvent(ctx, inst.ID, "", next,
			fmt.Sprintf("process %q sla is %s", inst.Name, next))
	}

	tasks, err := e.store.ListTasksByStatus(ctx,
		model.TaskStatusAssigned, model.TaskStatusInProgress)
	if err != nil {
		return violations, err
	}
	for _, task := range tasks {
		next := e.slaStatusAt(task.DueDate, now)
		if next == model.SLABreached {
			violations++
		}
		if next == task.SLAStatus {
			continue
		}
		task.SLAStatus = next
		task.UpdatedAt = now
		if updErr := e.store.UpdateTask(ctx, task); updErr != nil {
			e.logger.Warn("sla sweep: update task failed",
				zap.String("task_id", task.ID), zap.Error(updErr))
			continue
		}
		e.emitSLAEvent(ctx, task.ProcessInstanceID, task.ID, next,
			fmt.Sprintf("task %q sla is %s", task.Name, next))
	}

	if e.metrics != nil {
		e.metrics.SLASweepDuration.Observe(time.Since(start).Seconds())
	}
	return violations, nil
}

func (e *Engine) emitSLAEvent(ctx context.Context, processID, taskID, slaStatus, message string) {
	var eventType, severity string
	switch slaStatus {
	case model.SLAAtRisk:
		eventType, severity = model.EventSLAAtRisk, model.SeverityWarning
	case model.SLABreached:
		eventType, severity = model.EventSLABreached, model.SeverityCritical
	default:
		eventType, severity = model.EventSLAMet, model.SeverityInfo
	}

	e.recordEvent(ctx, model.ProcessEvent{
		ProcessInstanceID: processID,
		TaskID:            taskID,
		EventType:         eventType,
		Category:          model.CategorySLA,
		Severity:          severity,
		UserID:            "system",
		Message:           message,
		Automated:         true,
	})
	e.publish(ctx, eventType, map[string]any{
		"process_instance_id": processID,
		"task_id":             taskID,
		"sla_status":          slaStatus,
	})
	if e.metrics != nil && eventType != model.EventSLAMet {
		e.metrics.SLAViolationsTotal.WithLabelValues(severity).Inc()
	}
}

// RunSLASweeper runs CheckSLACompliance on an interval until the context is
// cancelled. Intended to be launched as a goroutine from main.
func (e *Engine) RunSLASweeper(ctx context.Context, interval time.Duration) {
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
			if n, err := e.CheckSLACompliance(ctx); err != nil {
				e.logger.Error("sla sweep failed", zap.Error(err))
			} else if n > 0 {
				e.logger.Info("sla sweep found violations", zap.Int("count", n))
			}
		}
	}
}
