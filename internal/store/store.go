// Package store defines the persistence contract for process instances,
// tasks, assignment history, and the audit trail, with in-memory and
// PostgreSQL implementations. The core does not assume any specific
// storage engine beyond this interface.
package store

import (
	"context"

	"github.com/docuflow/waypoint/model"
)

// Store persists workflow state. All methods return NOT_FOUND for absent
// rows and wrap collaborator failures as PERSISTENCE_ERROR.
type Store interface {
	// CreateProcess persists a new process instance.
	CreateProcess(ctx context.Context, inst model.ProcessInstance) error

	// GetProcess retrieves a process instance by ID.
	GetProcess(ctx context.Context, id string) (model.ProcessInstance, error)

	// UpdateProcess persists an updated process instance.
	UpdateProcess(ctx context.Context, inst model.ProcessInstance) error

	// ListProcessesByStatus returns instances in any of the given statuses.
	ListProcessesByStatus(ctx context.Context, statuses ...string) ([]model.ProcessInstance, error)

	// CreateTask persists a new task.
	CreateTask(ctx context.Context, task model.Task) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, id string) (model.Task, error)

	// UpdateTask persists an updated task.
	UpdateTask(ctx context.Context, task model.Task) error

	// ListTasksByProcess returns all tasks of a process instance, in
	// creation order.
	ListTasksByProcess(ctx context.Context, processID string) ([]model.Task, error)

	// ListTasksByStatus returns tasks in any of the given statuses.
	ListTasksByStatus(ctx context.Context, statuses ...string) ([]model.Task, error)

	// CountActiveTasks returns the number of ASSIGNED or IN_PROGRESS tasks
	// per assignee, for the given candidate set. Candidates with no active
	// tasks map to zero.
	CountActiveTasks(ctx context.Context, assignees []string) (map[string]int, error)

	// AppendAssignment adds a record to the append-only assignment history.
	AppendAssignment(ctx context.Context, assignment model.TaskAssignment) error

	// CloseActiveAssignments marks a task's active assignment records as
	// reassigned.
	CloseActiveAssignments(ctx context.Context, taskID string) error

	// ListAssignments returns a task's assignment history, oldest first.
	ListAssignments(ctx context.Context, taskID string) ([]model.TaskAssignment, error)

	// AppendProcessEvent adds a record to the append-only audit trail.
	AppendProcessEvent(ctx context.Context, event model.ProcessEvent) error

	// ListProcessEvents returns a process's audit trail, oldest first.
	ListProcessEvents(ctx context.Context, processID string) ([]model.ProcessEvent, error)
}
