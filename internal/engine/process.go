package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/model"
)

// StartProcessInput carries the request payload for StartProcess.
type StartProcessInput struct {
	ProcessDefinitionID string         `json:"process_definition_id"`
	Name                string         `json:"name"`
	Type                string         `json:"type"`
	Priority            string         `json:"priority"`
	SLATargetMins       int            `json:"sla_target_mins"`
	InputData           map[string]any `json:"input_data"`
	BusinessContext     map[string]any `json:"business_context"`
	IdempotencyKey      string         `json:"-"`
}

// StartProcess creates a new process instance and moves it to RUNNING.
// When an idempotency key is supplied and a store is configured, a repeat
// request with identical input returns the original instance.
func (e *Engine) StartProcess(ctx context.Context, in StartProcessInput) (model.ProcessInstance, error) {
	ctx, span := observability.StartSpan(ctx, "engine.StartProcess")
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if in.ProcessDefinitionID == "" {
		err = model.NewInvalidArgumentError("process_definition_id is required")
		return model.ProcessInstance{}, err
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}

	var idemKey, inputHash string
	if e.idem != nil && in.IdempotencyKey != "" {
		idemKey = FormatIdempotencyKey("start_process", in.IdempotencyKey)
		inputHash = HashInput(in)

		existingID, found, checkErr := e.idem.Check(ctx, idemKey, inputHash)
		if checkErr != nil {
			if model.ErrorCode(checkErr) == model.ErrConflict {
				err = checkErr
				return model.ProcessInstance{}, err
			}
			// Idempotency store unavailable: proceed without deduplication.
			e.logger.Warn("idempotency check failed", zap.Error(checkErr))
		} else if found {
			return e.store.GetProcess(ctx, existingID)
		}
	}

	now := time.Now().UTC()
	inst := model.ProcessInstance{
		ID:                  uuid.New().String(),
		ProcessDefinitionID: in.ProcessDefinitionID,
		Name:                in.Name,
		Type:                in.Type,
		Status:              model.ProcessStatusPending,
		InitiatedBy:         actorID(ctx),
		Priority:            in.Priority,
		SLATargetMins:       in.SLATargetMins,
		DueDate:             dueDateFor(now, in.SLATargetMins),
		SLAStatus:           model.SLAOnTrack,
		InputData:           in.InputData,
		BusinessContext:     in.BusinessContext,
		IdempotencyKey:      in.IdempotencyKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err = e.store.CreateProcess(ctx, inst); err != nil {
		return model.ProcessInstance{}, err
	}

	// New instances start running immediately.
	inst.Status = model.ProcessStatusRunning
	inst.StartedAt = &now
	inst.UpdatedAt = now
	if err = e.store.UpdateProcess(ctx, inst); err != nil {
		return model.ProcessInstance{}, err
	}

	e.recordEvent(ctx, model.ProcessEvent{
		ProcessInstanceID: inst.ID,
		EventType:         model.EventProcessStarted,
		Category:          model.CategoryLifecycle,
		Severity:          model.SeverityInfo,
		UserID:            inst.InitiatedBy,
		Message:           fmt.Sprintf("process %q started", inst.Name),
		OldStatus:         model.ProcessStatusPending,
		NewStatus:         model.ProcessStatusRunning,
	})
	e.publish(ctx, model.EventProcessStarted, map[string]any{
		"process_instance_id":   inst.ID,
		"process_definition_id": inst.ProcessDefinitionID,
		"initiated_by":          inst.InitiatedBy,
		"priority":              inst.Priority,
	})
	if e.metrics != nil {
		e.metrics.ProcessStartsTotal.WithLabelValues(inst.ProcessDefinitionID).Inc()
		e.metrics.ProcessTransitionsTotal.WithLabelValues(model.ProcessStatusPending, model.ProcessStatusRunning).Inc()
	}

	if idemKey != "" {
		if storeErr := e.idem.Store(ctx, idemKey, inputHash, inst.ID, e.idemTTL); storeErr != nil {
			e.logger.Warn("idempotency store failed", zap.Error(storeErr))
		}
	}

	return inst, nil
}

// GetProcess retrieves a process instance by ID.
func (e *Engine) GetProcess(ctx context.Context, processID string) (model.ProcessInstance, error) {
	return e.store.GetProcess(ctx, processID)
}

// UpdateProcessStatus transitions a process instance to a new status.
// Terminal instances reject further transitions with a conflict error.
// The output map is recorded on the instance for the COMPLETED transition
// and ignored otherwise.
func (e *Engine) UpdateProcessStatus(ctx context.Context, processID, newStatus, detail string, output map[string]any) (model.ProcessInstance, error) {
	ctx, span := observability.StartSpan(ctx, "engine.UpdateProcessStatus",
		observability.AttrProcessID.String(processID))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if !validProcessStatus(newStatus) {
		err = model.NewInvalidArgumentError(fmt.Sprintf("unknown process status %q", newStatus))
		return model.ProcessInstance{}, err
	}

	inst, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		return model.ProcessInstance{}, err
	}

	if model.IsTerminalProcessStatus(inst.Status) {
		err = model.NewConflictError(
			fmt.Sprintf("process instance %q is %s and cannot transition to %s", processID, inst.Status, newStatus))
		return model.ProcessInstance{}, err
	}
	if inst.Status == newStatus {
		return inst, nil
	}

	oldStatus := inst.Status
	now := time.Now().UTC()
	inst.Status = newStatus
	inst.UpdatedAt = now

	switch newStatus {
	case model.ProcessStatusRunning:
		if inst.StartedAt == nil {
			inst.StartedAt = &now
		}
	case model.ProcessStatusCompleted:
		inst.ProgressPercentage = 100
		inst.CompletedAt = &now
		if output != nil {
			inst.OutputData = output
		}
		if inst.SLAStatus != model.SLABreached {
			inst.SLAStatus = model.SLAMet
		}
	case model.ProcessStatusFailed:
		inst.ErrorMessage = detail
		inst.CompletedAt = &now
	case model.ProcessStatusCancelled:
		inst.CompletedAt = &now
	}

	if err = e.store.UpdateProcess(ctx, inst); err != nil {
		return model.ProcessInstance{}, err
	}

	eventType := processEventType(newStatus)
	e.recordEvent(ctx, model.ProcessEvent{
		ProcessInstanceID: inst.ID,
		EventType:         eventType,
		Category:          model.CategoryLifecycle,
		Severity:          processEventSeverity(newStatus),
		UserID:            actorID(ctx),
		Message:           statusChangeMessage(inst, oldStatus, newStatus, detail),
		OldStatus:         oldStatus,
		NewStatus:         newStatus,
	})
	e.publish(ctx, eventType, map[string]any{
		"process_instance_id": inst.ID,
		"old_status":          oldStatus,
		"new_status":          newStatus,
		"detail":              detail,
	})
	if e.metrics != nil {
		e.metrics.ProcessTransitionsTotal.WithLabelValues(oldStatus, newStatus).Inc()
	}

	return inst, nil
}

// SuspendProcess pauses a running process instance.
func (e *Engine) SuspendProcess(ctx context.Context, processID, reason string) (model.ProcessInstance, error) {
	inst, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	if inst.Status != model.ProcessStatusRunning {
		return model.ProcessInstance{}, model.NewConflictError(
			fmt.Sprintf("process instance %q is %s, only running processes can be suspended", processID, inst.Status))
	}
	return e.UpdateProcessStatus(ctx, processID, model.ProcessStatusSuspended, reason, nil)
}

// ResumeProcess restarts a suspended process instance.
func (e *Engine) ResumeProcess(ctx context.Context, processID, reason string) (model.ProcessInstance, error) {
	inst, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	if inst.Status != model.ProcessStatusSuspended {
		return model.ProcessInstance{}, model.NewConflictError(
			fmt.Sprintf("process instance %q is %s, only suspended processes can be resumed", processID, inst.Status))
	}
	return e.UpdateProcessStatus(ctx, processID, model.ProcessStatusRunning, reason, nil)
}

// CancelProcess cancels a non-terminal process instance.
func (e *Engine) CancelProcess(ctx context.Context, processID, reason string) (model.ProcessInstance, error) {
	return e.UpdateProcessStatus(ctx, processID, model.ProcessStatusCancelled, reason, nil)
}

// ListProcessEvents returns the audit trail for a process instance.
func (e *Engine) ListProcessEvents(ctx context.Context, processID string) ([]model.ProcessEvent, error) {
	if _, err := e.store.GetProcess(ctx, processID); err != nil {
		return nil, err
	}
	return e.store.ListProcessEvents(ctx, processID)
}

func validProcessStatus(status string) bool {
	switch status {
	case model.ProcessStatusPending, model.ProcessStatusRunning, model.ProcessStatusSuspended,
		model.ProcessStatusCompleted, model.ProcessStatusFailed, model.ProcessStatusCancelled:
		return true
	}
	return false
}

func processEventType(status string) string {
	switch status {
	case model.ProcessStatusSuspended:
		return model.EventProcessSuspended
	case model.ProcessStatusRunning:
		return model.EventProcessResumed
	case model.ProcessStatusCompleted:
		return model.EventProcessCompleted
	case model.ProcessStatusFailed:
		return model.EventProcessFailed
	case model.ProcessStatusCancelled:
		return model.EventProcessCancelled
	}
	return model.EventProcessStatusChanged
}

func processEventSeverity(status string) string {
	if status == model.ProcessStatusFailed {
		return model.SeverityCritical
	}
	return model.SeverityInfo
}

func statusChangeMessage(inst model.ProcessInstance, oldStatus, newStatus, detail string) string {
	msg := fmt.Sprintf("process %q transitioned %s -> %s", inst.Name, oldStatus, newStatus)
	if detail != "" {
		msg += ": " + detail
	}
	return msg
}
