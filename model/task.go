package model

import "time"

// Task status constants. Completed, failed, skipped, and cancelled are
// terminal.
const (
	TaskStatusPending    = "PENDING"
	TaskStatusAssigned   = "ASSIGNED"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusCompleted  = "COMPLETED"
	TaskStatusFailed     = "FAILED"
	TaskStatusSkipped    = "SKIPPED"
	TaskStatusCancelled  = "CANCELLED"
)

// Assignment method constants.
const (
	AssignManual       = "MANUAL"
	AssignRoundRobin   = "ROUND_ROBIN"
	AssignLoadBalanced = "LOAD_BALANCED"
	AssignSkillBased   = "SKILL_BASED"
)

// Assignment record status constants. History is append-only; reassignment
// marks the prior record reassigned and opens a new active one.
const (
	AssignmentActive     = "active"
	AssignmentReassigned = "reassigned"
)

// IsTerminalTaskStatus reports whether a task status is final.
func IsTerminalTaskStatus(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is a unit of work within exactly one process instance. Completing a
// task triggers progress recomputation on the parent.
type Task struct {
	ID                string         `json:"id"`
	ProcessInstanceID string         `json:"process_instance_id"`
	TaskDefinitionID  string         `json:"task_definition_id"`
	Name              string         `json:"name"`
	Type              string         `json:"type"`
	Status            string         `json:"status"`
	AssignedTo        string         `json:"assigned_to,omitempty"`
	DependsOn         []string       `json:"depends_on,omitempty"`
	Priority          string         `json:"priority"`
	SLATargetMins     int            `json:"sla_target_mins,omitempty"`
	DueDate           *time.Time     `json:"due_date,omitempty"`
	SLAStatus         string         `json:"sla_status"`
	ClaimedBy         string         `json:"claimed_by,omitempty"`
	ClaimedAt         *time.Time     `json:"claimed_at,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	OutputData        map[string]any `json:"output_data,omitempty"`
	ActualDurationMin float64        `json:"actual_duration_mins,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TaskAssignment is one append-only entry of a task's assignment history.
type TaskAssignment struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	AssignedTo string    `json:"assigned_to"`
	AssignedBy string    `json:"assigned_by"`
	Method     string    `json:"method"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}
