package model

import "time"

// Event types published on the bus and recorded in the audit trail. The
// enumeration is closed; consumers subscribe by type or via wildcard.
const (
	EventProcessStarted       = "process_started"
	EventProcessStatusChanged = "process_status_changed"
	EventProcessSuspended     = "process_suspended"
	EventProcessResumed       = "process_resumed"
	EventProcessCompleted     = "process_completed"
	EventProcessFailed        = "process_failed"
	EventProcessCancelled     = "process_cancelled"
	EventTaskCreated          = "task_created"
	EventTaskAssigned         = "task_assigned"
	EventTaskReassigned       = "task_reassigned"
	EventTaskStarted          = "task_started"
	EventTaskCompleted        = "task_completed"
	EventTaskFailed           = "task_failed"
	EventSLAAtRisk            = "sla_at_risk"
	EventSLABreached          = "sla_breached"
	EventSLAMet               = "sla_met"
	EventAssignmentNeeded     = "assignment_needed"
	EventWorkloadImbalance    = "workload_imbalance"
	EventNotificationSend     = "notification_send"
	EventEscalationTriggered  = "escalation_triggered"
)

// Event categories for audit records.
const (
	CategoryLifecycle  = "lifecycle"
	CategoryAssignment = "assignment"
	CategorySLA        = "sla"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ProcessEvent is one append-only audit trail record. A failed write of a
// ProcessEvent must never abort the operation that produced it.
type ProcessEvent struct {
	ID                string         `json:"id"`
	ProcessInstanceID string         `json:"process_instance_id"`
	TaskID            string         `json:"task_id,omitempty"`
	EventType         string         `json:"event_type"`
	Category          string         `json:"category"`
	Severity          string         `json:"severity"`
	UserID            string         `json:"user_id,omitempty"`
	Message           string         `json:"message"`
	OldStatus         string         `json:"old_status,omitempty"`
	NewStatus         string         `json:"new_status,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
	Automated         bool           `json:"automated"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Event is a transient bus message, retained only in the bus's bounded
// history ring.
type Event struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Data          map[string]any `json:"data,omitempty"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}
