package model

import "time"

// Process instance status constants. Completed, failed, and cancelled are
// terminal; an instance never leaves a terminal status.
const (
	ProcessStatusPending   = "PENDING"
	ProcessStatusRunning   = "RUNNING"
	ProcessStatusSuspended = "SUSPENDED"
	ProcessStatusCompleted = "COMPLETED"
	ProcessStatusFailed    = "FAILED"
	ProcessStatusCancelled = "CANCELLED"
)

// SLA status constants, recomputed relative to the due date.
const (
	SLAOnTrack  = "ON_TRACK"
	SLAAtRisk   = "AT_RISK"
	SLABreached = "BREACHED"
	SLAMet      = "MET"
)

// Priority constants shared by processes and tasks.
const (
	PriorityLow      = "LOW"
	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// IsTerminalProcessStatus reports whether a process status is final.
func IsTerminalProcessStatus(status string) bool {
	switch status {
	case ProcessStatusCompleted, ProcessStatusFailed, ProcessStatusCancelled:
		return true
	}
	return false
}

// ProcessInstance is a running execution of a journey, owned by the
// workflow engine. Instances are created on start and mutated only through
// status-transition operations; they are never deleted.
type ProcessInstance struct {
	ID                  string         `json:"id"`
	ProcessDefinitionID string         `json:"process_definition_id"`
	Name                string         `json:"name"`
	Type                string         `json:"type"`
	Status              string         `json:"status"`
	InitiatedBy         string         `json:"initiated_by"`
	AssignedTo          string         `json:"assigned_to,omitempty"`
	Priority            string         `json:"priority"`
	SLATargetMins       int            `json:"sla_target_mins,omitempty"`
	DueDate             *time.Time     `json:"due_date,omitempty"`
	ProgressPercentage  float64        `json:"progress_percentage"`
	SLAStatus           string         `json:"sla_status"`
	InputData           map[string]any `json:"input_data,omitempty"`
	OutputData          map[string]any `json:"output_data,omitempty"`
	BusinessContext     map[string]any `json:"business_context,omitempty"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	IdempotencyKey      string         `json:"idempotency_key,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}
