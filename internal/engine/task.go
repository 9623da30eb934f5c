package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/model"
)

// CreateTaskInput carries the request payload for CreateTask.
type CreateTaskInput struct {
	ProcessInstanceID string   `json:"process_instance_id"`
	TaskDefinitionID  string   `json:"task_definition_id"`
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	AssignedTo        string   `json:"assigned_to"`
	DependsOn         []string `json:"depends_on"`
	Priority          string   `json:"priority"`
	SLATargetMins     int      `json:"sla_target_mins"`
}

// CreateTask adds a task to a running process instance. A task created with
// an assignee starts ASSIGNED, otherwise PENDING. An empty priority inherits
// the parent's.
func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (model.Task, error) {
	ctx, span := observability.StartSpan(ctx, "engine.CreateTask",
		observability.AttrProcessID.String(in.ProcessInstanceID))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if in.ProcessInstanceID == "" {
		err = model.NewInvalidArgumentError("process_instance_id is required")
		return model.Task{}, err
	}

	inst, err := e.store.GetProcess(ctx, in.ProcessInstanceID)
	if err != nil {
		return model.Task{}, err
	}
	if model.IsTerminalProcessStatus(inst.Status) {
		err = model.NewConflictError(
			fmt.Sprintf("process instance %q is %s, cannot add tasks", inst.ID, inst.Status))
		return model.Task{}, err
	}

	if in.Priority == "" {
		in.Priority = inst.Priority
	}

	now := time.Now().UTC()
	status := model.TaskStatusPending
	if in.AssignedTo != "" {
		status = model.TaskStatusAssigned
	}

	task := model.Task{
		ID:                uuid.New().String(),
		ProcessInstanceID: in.ProcessInstanceID,
		TaskDefinitionID:  in.TaskDefinitionID,
		Name:              in.Name,
		Type:              in.Type,
		Status:            status,
		AssignedTo:        in.AssignedTo,
		DependsOn:         in.DependsOn,
		Priority:          in.Priority,
		SLATargetMins:     in.SLATargetMins,
		DueDate:           dueDateFor(now, in.SLATargetMins),
		SLAStatus:         model.SLAOnTrack,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err = e.store.CreateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	e.recordEvent(ctx, model.ProcessEvent{
		ProcessInstanceID: task.ProcessInstanceID,
		TaskID:            task.ID,
		EventType:         model.EventTaskCreated,
		Category:          model.CategoryLifecycle,
		Severity:          model.SeverityInfo,
		UserID:            actorID(ctx),
		Message:           fmt.Sprintf("task %q created", task.Name),
		NewStatus:         task.Status,
	})
	e.publish(ctx, model.EventTaskCreated, map[string]any{
		"process_instance_id": task.ProcessInstanceID,
		"task_id":             task.ID,
		"status":              task.Status,
		"assigned_to":         task.AssignedTo,
	})

	// Progress denominator grew, recompute the parent.
	e.refreshProcessProgress(ctx, inst.ID)

	return task, nil
}

// GetTask retrieves a task by ID.
func (e *Engine) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// ListTasks returns a process instance's tasks in creation order.
func (e *Engine) ListTasks(ctx context.Context, processID string) ([]model.Task, error) {
	if _, err := e.store.GetProcess(ctx, processID); err != nil {
		return nil, err
	}
	return e.store.ListTasksByProcess(ctx, processID)
}

// AssignTask directly assigns a task to a user, recording a manual
// assignment. Strategy-based assignment lives in the router.
func (e *Engine) AssignTask(ctx context.Context, taskID, assignee string) (model.Task, error) {
	if assignee == "" {
		return model.Task{}, model.NewInvalidArgumentError("assignee is required")
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if model.IsTerminalTaskStatus(task.Status) {
		return model.Task{}, model.NewConflictError(
			fmt.Sprintf("task %q is %s and cannot be assigned", taskID, task.Status))
	}

	now := time.Now().UTC()
	task.AssignedTo = assignee
	if task.Status == model.TaskStatusPending {
		task.Status = model.TaskStatusAssigned
	}
	task.UpdatedAt = now

	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	if err := e.store.AppendAssignment(ctx, model.TaskAssignment{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		AssignedTo: assignee,
		AssignedBy: actorID(ctx),
		Method:     model.AssignManual,
		Status:     model.AssignmentActive,
		Reason:     "direct assignment",
		AssignedAt: now,
	}); err != nil {
		e.logger.Warn("append assignment failed", zap.String("task_id", task.ID), zap.Error(err))
	}

	e.recordEvent(ctx, model.ProcessEvent{
		ProcessInstanceID: task.ProcessInstanceID,
		TaskID:            task.ID,
		EventType:         model.EventTaskAssigned,
		Category:          model.CategoryAssignment,
		Severity:          model.SeverityInfo,
		UserID:            actorID(ctx),
		Message:           fmt.Sprintf("task %q assigned to %s", task.Name, assignee),
		NewStatus:         task.Status,
	})
	e.publish(ctx, model.EventTaskAssigned, map[string]any{
		"process_instance_id": task.ProcessInstanceID,
		"task_id":             task.ID,
		"assigned_to":         assignee,
	})
	if e.metrics != nil {
		e.metrics.TaskAssignmentsTotal.WithLabelValues(model.AssignManual).Inc()
	}

	return task, nil
}

// StartTask claims a task and moves it to IN_PROGRESS. All of the task's
// dependencies must already be completed or skipped.
func (e *Engine) StartTask(ctx context.Context, taskID string) (model.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status != model.TaskStatusPending && task.Status != model.TaskStatusAssigned {
		return model.Task{}, model.NewConflictError(
			fmt.Sprintf("task %q is %s and cannot be started", taskID, task.Status))
	}

	if len(task.DependsOn) > 0 {
		siblings, err := e.store.ListTasksByProcess(ctx, task.ProcessInstanceID)
		if err != nil {
			return model.Task{}, err
		}
		if blocked := unmetDependencies(task, siblings); len(blocked) > 0 {
			return model.Task{}, model.NewConflictError(
				fmt.Sprintf("task %q has unmet dependencies: %s", taskID, strings.Join(blocked, ", ")))
		}
	}

	now := time.Now().UTC()
	actor := actorID(ctx)
	task.Status = model.TaskStatusInProgress
	task.ClaimedBy = actor
	task.ClaimedAt = &now
	task.StartedAt = &now
	task.UpdatedAt = now

	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	e.recordEvent(ctx, model.ProcessEvent{
		ProcessInstanceID: task.ProcessInstanceID,
		TaskID:            task.ID,
		EventType:         model.EventTaskStarted,
		Category:          model.CategoryLifecycle,
		Severity:          model.SeverityInfo,
		UserID:            actor,
		Message:           fmt.Sprintf("task %q started by %s", task.Name, actor),
		NewStatus:         task.Status,
	})
	e.publish(ctx, model.EventTaskStarted, map[string]any{
		"process_instance_id": task.ProcessInstanceID,
		"task_id":             task.ID,
		"claimed_by":          actor,
	})

	return task, nil
}

// CompleteTask finishes a task, records its actual duration, and refreshes
// the parent process's progress. When every task in the process is terminal,
// the parent is auto-completed or auto-failed.
//
// Completion is accepted from both IN_PROGRESS and ASSIGNED: automated
// workers report results in a single call without an explicit StartTask,
// so ASSIGNED completes directly and ActualDurationMin stays zero.
func (e *Engine) CompleteTask(ctx context.Context, taskID string, output map[string]any) (model.Task, error) {
	ctx, span := observability.StartSpan(ctx, "engine.CompleteTask",
		observability.AttrTaskID.String(taskID))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status != model.TaskStatusInProgress && task.Status != model.TaskStatusAssigned {
		err = model.NewConflictError(
			fmt.Sprintf("task %q is %s and cannot be completed", taskID, task.Status))
		return model.Task{}, err
	}

	now := time.Now().UTC()
	task.Status = model.TaskStatusCompleted
	task.OutputData = output
	task.CompletedAt = &now
	task.UpdatedAt = now
	if task.StartedAt != nil {
		task.ActualDurationMin = now.Sub(*task.StartedAt).Minutes()
	}
	if task.DueDate == nil || !now.After(*task.DueDate) {
		task.SLAStatus = model.SLAMet
	}

	if err = e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	e.recordEvent(ctx, model.ProcessEvent{
		ProcessInstanceID: task.ProcessInstanceID,
		TaskID:            task.ID,
		EventType:         model.EventTaskCompleted,
		Category:          model.CategoryLifecycle,
		Severity:          model.SeverityInfo,
		UserID:            actorID(ctx),
		Message:           fmt.Sprintf("task %q completed", task.Name),
		NewStatus:         task.Status,
	})
	e.publish(ctx, model.EventTaskCompleted, map[string]any{
		"process_instance_id":  task.ProcessInstanceID,
		"task_id":              task.ID,
		"actual_duration_mins": task.ActualDurationMin,
	})
	if e.metrics != nil {
		e.metrics.TaskCompletionsTotal.WithLabelValues(task.Status).Inc()
	}

	e.refreshProcessProgress(ctx, task.ProcessInstanceID)

	return task, nil
}

// FailTask marks a task as failed. The parent process is auto-failed once
// the failure is recorded.
func (e *Engine) FailTask(ctx context.Context, taskID, errorMessage string) (model.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if model.IsTerminalTaskStatus(task.Status) {
		return model.Task{}, model.NewConflictError(
			fmt.Sprintf("task %q is %s and cannot be failed", taskID, task.Status))
	}

	now := time.Now().UTC()
	task.Status = model.TaskStatusFailed
	task.CompletedAt = &now
	task.UpdatedAt = now
	if task.StartedAt != nil {
		task.ActualDurationMin = now.Sub(*task.StartedAt).Minutes()
	}

	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	e.recordEvent(ctx, model.ProcessEvent{
		ProcessInstanceID: task.ProcessInstanceID,
		TaskID:            task.ID,
		EventType:         model.EventTaskFailed,
		Category:          model.CategoryLifecycle,
		Severity:          model.SeverityCritical,
		UserID:            actorID(ctx),
		Message:           fmt.Sprintf("task %q failed: %s", task.Name, errorMessage),
		NewStatus:         task.Status,
		Details:           map[string]any{"error": errorMessage},
	})
	e.publish(ctx, model.EventTaskFailed, map[string]any{
		"process_instance_id": task.ProcessInstanceID,
		"task_id":             task.ID,
		"error":               errorMessage,
	})
	if e.metrics != nil {
		e.metrics.TaskCompletionsTotal.WithLabelValues(task.Status).Inc()
	}

	e.refreshProcessProgress(ctx, task.ProcessInstanceID)

	return task, nil
}

// refreshProcessProgress recomputes the parent's progress percentage and
// applies the auto-completion rules. Failures here are logged and swallowed
// so a progress glitch never fails the task operation that triggered it.
//
// Auto-completion fires once every task is terminal, not once every task is
// COMPLETED: SKIPPED and CANCELLED tasks never block the parent from
// finishing, they just contribute nothing to the progress percentage.
func (e *Engine) refreshProcessProgress(ctx context.Context, processID string) {
	inst, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		e.logger.Warn("refresh progress: load process failed",
			zap.String("process_instance_id", processID), zap.Error(err))
		return
	}
	if model.IsTerminalProcessStatus(inst.Status) {
		return
	}

	tasks, err := e.store.ListTasksByProcess(ctx, processID)
	if err != nil {
		e.logger.Warn("refresh progress: list tasks failed",
			zap.String("process_instance_id", processID), zap.Error(err))
		return
	}
	if len(tasks) == 0 {
		return
	}

	var completed, terminal int
	var failures []string
	for _, t := range tasks {
		if t.Status == model.TaskStatusCompleted {
			completed++
		}
		if model.IsTerminalTaskStatus(t.Status) {
			terminal++
		}
		if t.Status == model.TaskStatusFailed {
			failures = append(failures, t.Name)
		}
	}

	inst.ProgressPercentage = float64(completed) / float64(len(tasks)) * 100
	inst.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateProcess(ctx, inst); err != nil {
		e.logger.Warn("refresh progress: update process failed",
			zap.String("process_instance_id", processID), zap.Error(err))
		return
	}

	if len(failures) > 0 {
		msg := fmt.Sprintf("tasks failed: %s", strings.Join(failures, ", "))
		if _, err := e.UpdateProcessStatus(ctx, processID, model.ProcessStatusFailed, msg, nil); err != nil {
			e.logger.Warn("auto-fail process failed",
				zap.String("process_instance_id", processID), zap.Error(err))
		}
		return
	}

	if terminal == len(tasks) {
		if _, err := e.UpdateProcessStatus(ctx, processID, model.ProcessStatusCompleted, "", nil); err != nil {
			e.logger.Warn("auto-complete process failed",
				zap.String("process_instance_id", processID), zap.Error(err))
		}
	}
}

// unmetDependencies returns the dependency IDs that are not yet satisfied.
// Dependencies reference sibling tasks by definition ID or instance ID.
func unmetDependencies(task model.Task, siblings []model.Task) []string {
	done := make(map[string]bool, len(siblings))
	for _, s := range siblings {
		satisfied := s.Status == model.TaskStatusCompleted || s.Status == model.TaskStatusSkipped
		done[s.ID] = satisfied
		if s.TaskDefinitionID != "" {
			if prev, seen := done[s.TaskDefinitionID]; !seen || prev {
				done[s.TaskDefinitionID] = satisfied
			}
		}
	}

	var blocked []string
	for _, dep := range task.DependsOn {
		if !done[dep] {
			blocked = append(blocked, dep)
		}
	}
	return blocked
}
