// Package router assigns tasks to workers using pluggable strategies.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/bus"
	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/internal/store"
	"github.com/docuflow/waypoint/model"
)

const eventSource = "task-router"

// TaskRouter selects assignees for tasks and records assignment history.
type TaskRouter struct {
	store   store.Store
	bus     *bus.EventBus
	logger  *zap.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	rrCounters map[string]int
}

// New creates a task router.
func New(st store.Store, b *bus.EventBus, logger *zap.Logger, metrics *observability.Metrics) *TaskRouter {
	return &TaskRouter{
		store:      st,
		bus:        b,
		logger:     logger,
		metrics:    metrics,
		rrCounters: make(map[string]int),
	}
}

// AssignInput carries the request payload for Assign.
type AssignInput struct {
	TaskID string   `json:"task_id"`
	Method string   `json:"method"`
	Team   string   `json:"team"`
	Pool   []string `json:"pool"`
}

// Assign picks an assignee from the candidate pool using the requested
// strategy and assigns the task. MANUAL is not a routing strategy and is
// rejected; direct assignment goes through the engine.
func (r *TaskRouter) Assign(ctx context.Context, in AssignInput) (model.TaskAssignment, error) {
	ctx, span := observability.StartSpan(ctx, "router.Assign",
		observability.AttrTaskID.String(in.TaskID),
		observability.AttrAssignMethod.String(in.Method))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if in.Method == model.AssignManual {
		err = model.NewInvalidArgumentError("MANUAL is not a routing strategy, assign the task directly")
		return model.TaskAssignment{}, err
	}
	if len(in.Pool) == 0 {
		err = model.NewInvalidArgumentError("candidate pool is empty")
		return model.TaskAssignment{}, err
	}

	task, err := r.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return model.TaskAssignment{}, err
	}
	if model.IsTerminalTaskStatus(task.Status) {
		err = model.NewConflictError(
			fmt.Sprintf("task %q is %s and cannot be assigned", in.TaskID, task.Status))
		return model.TaskAssignment{}, err
	}

	assignee, reason, err := r.selectAssignee(ctx, in)
	if err != nil {
		return model.TaskAssignment{}, err
	}

	assignment, err := r.applyAssignment(ctx, task, assignee, in.Method, reason, model.EventTaskAssigned, "")
	if err != nil {
		return model.TaskAssignment{}, err
	}
	return assignment, nil
}

// Reassign moves a task from its current assignee to a new one. The previous
// active assignment record is closed before the new one is opened.
func (r *TaskRouter) Reassign(ctx context.Context, taskID, newAssignee, reason string) (model.TaskAssignment, error) {
	if newAssignee == "" {
		return model.TaskAssignment{}, model.NewInvalidArgumentError("new assignee is required")
	}

	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return model.TaskAssignment{}, err
	}
	if model.IsTerminalTaskStatus(task.Status) {
		return model.TaskAssignment{}, model.NewConflictError(
			fmt.Sprintf("task %q is %s and cannot be reassigned", taskID, task.Status))
	}

	previous := task.AssignedTo
	if err := r.store.CloseActiveAssignments(ctx, taskID); err != nil {
		return model.TaskAssignment{}, err
	}

	if reason == "" {
		reason = "reassigned"
	}
	return r.applyAssignment(ctx, task, newAssignee, model.AssignManual, reason, model.EventTaskReassigned, previous)
}

// History returns a task's assignment records, oldest first.
func (r *TaskRouter) History(ctx context.Context, taskID string) ([]model.TaskAssignment, error) {
	if _, err := r.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return r.store.ListAssignments(ctx, taskID)
}

// selectAssignee applies the routing strategy to the candidate pool.
func (r *TaskRouter) selectAssignee(ctx context.Context, in AssignInput) (assignee, reason string, err error) {
	switch in.Method {
	case model.AssignRoundRobin:
		key := in.Team
		if key == "" {
			key = "default"
		}
		r.mu.Lock()
		idx := r.rrCounters[key] % len(in.Pool)
		r.rrCounters[key]++
		r.mu.Unlock()
		return in.Pool[idx], fmt.Sprintf("round robin position %d for pool %q", idx, key), nil

	case model.AssignLoadBalanced:
		return r.leastLoaded(ctx, in.Pool)

	case model.AssignSkillBased:
		// Skill matching is not implemented yet. Until worker skill
		// profiles exist, degrade to load balancing so the call still
		// produces a sensible assignment.
		assignee, reason, err = r.leastLoaded(ctx, in.Pool)
		if err != nil {
			return "", "", err
		}
		return assignee, "skill data unavailable, " + reason, nil

	default:
		return "", "", model.NewInvalidArgumentError(
			fmt.Sprintf("unknown assignment method %q", in.Method))
	}
}

// leastLoaded picks the candidate with the fewest active tasks. Ties break
// lexicographically so the choice is deterministic.
func (r *TaskRouter) leastLoaded(ctx context.Context, pool []string) (string, string, error) {
	counts, err := r.store.CountActiveTasks(ctx, pool)
	if err != nil {
		return "", "", err
	}

	sorted := make([]string, len(pool))
	copy(sorted, pool)
	sort.Strings(sorted)

	best := sorted[0]
	for _, candidate := range sorted[1:] {
		if counts[candidate] < counts[best] {
			best = candidate
		}
	}
	return best, fmt.Sprintf("least loaded with %d active tasks", counts[best]), nil
}

// applyAssignment persists the assignment and emits the audit and bus events.
func (r *TaskRouter) applyAssignment(
	ctx context.Context,
	task model.Task,
	assignee, method, reason, eventType, previousAssignee string,
) (model.TaskAssignment, error) {
	now := time.Now().UTC()
	task.AssignedTo = assignee
	if task.Status == model.TaskStatusPending {
		task.Status = model.TaskStatusAssigned
	}
	task.UpdatedAt = now

	if err := r.store.UpdateTask(ctx, task); err != nil {
		return model.TaskAssignment{}, err
	}

	assignment := model.TaskAssignment{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		AssignedTo: assignee,
		AssignedBy: assignerID(ctx),
		Method:     method,
		Status:     model.AssignmentActive,
		Reason:     reason,
		AssignedAt: now,
	}
	if err := r.store.AppendAssignment(ctx, assignment); err != nil {
		return model.TaskAssignment{}, err
	}

	message := fmt.Sprintf("task %q assigned to %s via %s", task.Name, assignee, method)
	details := map[string]any{"method": method, "reason": reason}
	if previousAssignee != "" {
		message = fmt.Sprintf("task %q reassigned from %s to %s", task.Name, previousAssignee, assignee)
		details["previous_assignee"] = previousAssignee
	}

	event := model.ProcessEvent{
		ID:                uuid.New().String(),
		ProcessInstanceID: task.ProcessInstanceID,
		TaskID:            task.ID,
		EventType:         eventType,
		Category:          model.CategoryAssignment,
		Severity:          model.SeverityInfo,
		UserID:            assignment.AssignedBy,
		Message:           message,
		NewStatus:         task.Status,
		Details:           details,
		Timestamp:         now,
	}
	if err := r.store.AppendProcessEvent(ctx, event); err != nil {
		r.logger.Warn("append process event failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}

	if r.bus != nil {
		correlationID := ""
		if rctx := model.RequestContextFrom(ctx); rctx != nil {
			correlationID = rctx.CorrelationID
		}
		r.bus.Publish(ctx, eventType, map[string]any{
			"process_instance_id": task.ProcessInstanceID,
			"task_id":             task.ID,
			"assigned_to":         assignee,
			"method":              method,
		}, eventSource, correlationID)
	}
	if r.metrics != nil {
		r.metrics.TaskAssignmentsTotal.WithLabelValues(method).Inc()
	}

	return assignment, nil
}

func assignerID(ctx context.Context) string {
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.SubjectID != "" {
		return rctx.SubjectID
	}
	return "system"
}
