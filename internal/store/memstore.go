package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/docuflow/waypoint/model"
)

// MemoryStore is an in-memory Store for testing and single-instance
// deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	processes   map[string]model.ProcessInstance
	tasks       map[string]model.Task
	taskOrder   []string                          // task IDs in creation order
	assignments map[string][]model.TaskAssignment // key: task ID
	events      map[string][]model.ProcessEvent   // key: process instance ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processes:   make(map[string]model.ProcessInstance),
		tasks:       make(map[string]model.Task),
		assignments: make(map[string][]model.TaskAssignment),
		events:      make(map[string][]model.ProcessEvent),
	}
}

// CreateProcess persists a new process instance.
func (s *MemoryStore) CreateProcess(_ context.Context, inst model.ProcessInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processes[inst.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("process instance %q already exists", inst.ID))
	}
	s.processes[inst.ID] = inst
	return nil
}

// GetProcess retrieves a process instance by ID.
func (s *MemoryStore) GetProcess(_ context.Context, id string) (model.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.processes[id]
	if !exists {
		return model.ProcessInstance{}, model.NewNotFoundError(
			fmt.Sprintf("process instance %q not found", id))
	}
	return inst, nil
}

// UpdateProcess persists an updated process instance.
func (s *MemoryStore) UpdateProcess(_ context.Context, inst model.ProcessInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processes[inst.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("process instance %q not found", inst.ID))
	}
	s.processes[inst.ID] = inst
	return nil
}

// ListProcessesByStatus returns instances in any of the given statuses,
// ordered by creation time.
func (s *MemoryStore) ListProcessesByStatus(_ context.Context, statuses ...string) ([]model.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var result []model.ProcessInstance
	for _, inst := range s.processes {
		if want[inst.Status] {
			result = append(result, inst)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CreateTask persists a new task.
func (s *MemoryStore) CreateTask(_ context.Context, task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("task %q already exists", task.ID))
	}
	s.tasks[task.ID] = task
	s.taskOrder = append(s.taskOrder, task.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (s *MemoryStore) GetTask(_ context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return model.Task{}, model.NewNotFoundError(fmt.Sprintf("task %q not found", id))
	}
	return task, nil
}

// UpdateTask persists an updated task.
func (s *MemoryStore) UpdateTask(_ context.Context, task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("task %q not found", task.ID))
	}
	s.tasks[task.ID] = task
	return nil
}

// ListTasksByProcess returns all tasks of a process in creation order.
func (s *MemoryStore) ListTasksByProcess(_ context.Context, processID string) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Task
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t.ProcessInstanceID == processID {
			result = append(result, t)
		}
	}
	return result, nil
}

// ListTasksByStatus returns tasks in any of the given statuses, in
// creation order.
func (s *MemoryStore) ListTasksByStatus(_ context.Context, statuses ...string) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var result []model.Task
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; want[t.Status] {
			result = append(result, t)
		}
	}
	return result, nil
}

// CountActiveTasks returns active task counts per candidate assignee.
func (s *MemoryStore) CountActiveTasks(_ context.Context, assignees []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(assignees))
	for _, a := range assignees {
		counts[a] = 0
	}
	for _, t := range s.tasks {
		if t.Status != model.TaskStatusAssigned && t.Status != model.TaskStatusInProgress {
			continue
		}
		if _, tracked := counts[t.AssignedTo]; tracked {
			counts[t.AssignedTo]++
		}
	}
	return counts, nil
}

// AppendAssignment adds a record to the assignment history.
func (s *MemoryStore) AppendAssignment(_ context.Context, assignment model.TaskAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[assignment.TaskID] = append(s.assignments[assignment.TaskID], assignment)
	return nil
}

// CloseActiveAssignments marks a task's active records as reassigned.
func (s *MemoryStore) CloseActiveAssignments(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.assignments[taskID]
	for i := range records {
		if records[i].Status == model.AssignmentActive {
			records[i].Status = model.AssignmentReassigned
		}
	}
	return nil
}

// ListAssignments returns a task's assignment history, oldest first.
func (s *MemoryStore) ListAssignments(_ context.Context, taskID string) ([]model.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.assignments[taskID]
	result := make([]model.TaskAssignment, len(records))
	copy(result, records)
	return result, nil
}

// AppendProcessEvent adds a record to the audit trail.
func (s *MemoryStore) AppendProcessEvent(_ context.Context, event model.ProcessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ProcessInstanceID] = append(s.events[event.ProcessInstanceID], event)
	return nil
}

// ListProcessEvents returns a process's audit trail, oldest first.
func (s *MemoryStore) ListProcessEvents(_ context.Context, processID string) ([]model.ProcessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[processID]
	result := make([]model.ProcessEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// ProcessCount returns the number of stored processes. For testing.
func (s *MemoryStore) ProcessCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}
