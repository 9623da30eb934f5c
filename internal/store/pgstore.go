package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuflow/waypoint/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const processColumns = `id, process_definition_id, name, type, status, initiated_by,
	assigned_to, priority, sla_target_mins, due_date, progress_percentage,
	sla_status, input_data, output_data, business_context, error_message,
	idempotency_key, created_at, updated_at, started_at, completed_at`

// CreateProcess inserts a new process instance.
func (s *PgStore) CreateProcess(ctx context.Context, inst model.ProcessInstance) error {
	inputJSON, outputJSON, contextJSON, err := marshalProcessMaps(inst)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO process_instances (`+processColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		inst.ID, inst.ProcessDefinitionID, inst.Name, inst.Type, inst.Status, inst.InitiatedBy,
		inst.AssignedTo, inst.Priority, inst.SLATargetMins, inst.DueDate, inst.ProgressPercentage,
		inst.SLAStatus, inputJSON, outputJSON, contextJSON, inst.ErrorMessage,
		inst.IdempotencyKey, inst.CreatedAt, inst.UpdatedAt, inst.StartedAt, inst.CompletedAt,
	)
	if err != nil {
		return model.NewPersistenceError("insert process instance", err)
	}
	return nil
}

// GetProcess retrieves a process instance by ID.
func (s *PgStore) GetProcess(ctx context.Context, id string) (model.ProcessInstance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+processColumns+` FROM process_instances WHERE id = $1`, id)

	inst, err := scanProcess(row)
	if err == pgx.ErrNoRows {
		return model.ProcessInstance{}, model.NewNotFoundError(
			fmt.Sprintf("process instance %q not found", id))
	}
	if err != nil {
		return model.ProcessInstance{}, model.NewPersistenceError("query process instance", err)
	}
	return inst, nil
}

// UpdateProcess persists an updated process instance.
func (s *PgStore) UpdateProcess(ctx context.Context, inst model.ProcessInstance) error {
	inputJSON, outputJSON, contextJSON, err := marshalProcessMaps(inst)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE process_instances SET
			status = $1, assigned_to = $2, priority = $3, due_date = $4,
			progress_percentage = $5, sla_status = $6, input_data = $7,
			output_data = $8, business_context = $9, error_message = $10,
			updated_at = $11, started_at = $12, completed_at = $13
		WHERE id = $14`,
		inst.Status, inst.AssignedTo, inst.Priority, inst.DueDate,
		inst.ProgressPercentage, inst.SLAStatus, inputJSON,
		outputJSON, contextJSON, inst.ErrorMessage,
		inst.UpdatedAt, inst.StartedAt, inst.CompletedAt,
		inst.ID,
	)
	if err != nil {
		return model.NewPersistenceError("update process instance", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("process instance %q not found", inst.ID))
	}
	return nil
}

// ListProcessesByStatus returns instances in any of the given statuses.
func (s *PgStore) ListProcessesByStatus(ctx context.Context, statuses ...string) ([]model.ProcessInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+processColumns+` FROM process_instances
		 WHERE status = ANY($1) ORDER BY created_at ASC`, statuses)
	if err != nil {
		return nil, model.NewPersistenceError("query process instances", err)
	}
	defer rows.Close()

	var result []model.ProcessInstance
	for rows.Next() {
		inst, err := scanProcess(rows)
		if err != nil {
			return nil, model.NewPersistenceError("scan process instance", err)
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

const taskColumns = `id, process_instance_id, task_definition_id, name, type, status,
	assigned_to, depends_on, priority, sla_target_mins, due_date, sla_status,
	claimed_by, claimed_at, started_at, completed_at, output_data,
	actual_duration_mins, created_at, updated_at`

// CreateTask inserts a new task.
func (s *PgStore) CreateTask(ctx context.Context, task model.Task) error {
	outputJSON, err := marshalMap(task.OutputData)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		task.ID, task.ProcessInstanceID, task.TaskDefinitionID, task.Name, task.Type, task.Status,
		task.AssignedTo, task.DependsOn, task.Priority, task.SLATargetMins, task.DueDate, task.SLAStatus,
		task.ClaimedBy, task.ClaimedAt, task.StartedAt, task.CompletedAt, outputJSON,
		task.ActualDurationMin, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return model.NewPersistenceError("insert task", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *PgStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return model.Task{}, model.NewNotFoundError(fmt.Sprintf("task %q not found", id))
	}
	if err != nil {
		return model.Task{}, model.NewPersistenceError("query task", err)
	}
	return task, nil
}

// UpdateTask persists an updated task.
func (s *PgStore) UpdateTask(ctx context.Context, task model.Task) error {
	outputJSON, err := marshalMap(task.OutputData)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET
			status = $1, assigned_to = $2, priority = $3, due_date = $4,
			sla_status = $5, claimed_by = $6, claimed_at = $7, started_at = $8,
			completed_at = $9, output_data = $10, actual_duration_mins = $11,
			updated_at = $12
		WHERE id = $13`,
		task.Status, task.AssignedTo, task.Priority, task.DueDate,
		task.SLAStatus, task.ClaimedBy, task.ClaimedAt, task.StartedAt,
		task.CompletedAt, outputJSON, task.ActualDurationMin,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return model.NewPersistenceError("update task", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("task %q not found", task.ID))
	}
	return nil
}

// ListTasksByProcess returns all tasks of a process in creation order.
func (s *PgStore) ListTasksByProcess(ctx context.Context, processID string) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE process_instance_id = $1 ORDER BY created_at ASC`, processID)
	if err != nil {
		return nil, model.NewPersistenceError("query tasks", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksByStatus returns tasks in any of the given statuses.
func (s *PgStore) ListTasksByStatus(ctx context.Context, statuses ...string) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = ANY($1) ORDER BY created_at ASC`, statuses)
	if err != nil {
		return nil, model.NewPersistenceError("query tasks", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// CountActiveTasks returns active task counts per candidate assignee.
func (s *PgStore) CountActiveTasks(ctx context.Context, assignees []string) (map[string]int, error) {
	counts := make(map[string]int, len(assignees))
	for _, a := range assignees {
		counts[a] = 0
	}

	rows, err := s.pool.Query(ctx, `
		SELECT assigned_to, COUNT(*) FROM tasks
		WHERE assigned_to = ANY($1) AND status IN ('ASSIGNED', 'IN_PROGRESS')
		GROUP BY assigned_to`, assignees)
	if err != nil {
		return nil, model.NewPersistenceError("count active tasks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var assignee string
		var n int
		if err := rows.Scan(&assignee, &n); err != nil {
			return nil, model.NewPersistenceError("scan task count", err)
		}
		counts[assignee] = n
	}
	return counts, rows.Err()
}

// AppendAssignment adds a record to the assignment history.
func (s *PgStore) AppendAssignment(ctx context.Context, a model.TaskAssignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_assignments (id, task_id, assigned_to, assigned_by, method, status, reason, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TaskID, a.AssignedTo, a.AssignedBy, a.Method, a.Status, a.Reason, a.AssignedAt,
	)
	if err != nil {
		return model.NewPersistenceError("insert task assignment", err)
	}
	return nil
}

// CloseActiveAssignments marks a task's active records as reassigned.
func (s *PgStore) CloseActiveAssignments(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE task_assignments SET status = 'reassigned'
		WHERE task_id = $1 AND status = 'active'`, taskID)
	if err != nil {
		return model.NewPersistenceError("close active assignments", err)
	}
	return nil
}

// ListAssignments returns a task's assignment history, oldest first.
func (s *PgStore) ListAssignments(ctx context.Context, taskID string) ([]model.TaskAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, assigned_to, assigned_by, method, status, reason, assigned_at
		FROM task_assignments WHERE task_id = $1 ORDER BY assigned_at ASC`, taskID)
	if err != nil {
		return nil, model.NewPersistenceError("query task assignments", err)
	}
	defer rows.Close()

	var result []model.TaskAssignment
	for rows.Next() {
		var a model.TaskAssignment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.AssignedTo, &a.AssignedBy,
			&a.Method, &a.Status, &a.Reason, &a.AssignedAt); err != nil {
			return nil, model.NewPersistenceError("scan task assignment", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// AppendProcessEvent adds a record to the audit trail.
func (s *PgStore) AppendProcessEvent(ctx context.Context, e model.ProcessEvent) error {
	detailsJSON, err := marshalMap(e.Details)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO process_events (id, process_instance_id, task_id, event_type, category,
			severity, user_id, message, old_status, new_status, details, automated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.ProcessInstanceID, e.TaskID, e.EventType, e.Category,
		e.Severity, e.UserID, e.Message, e.OldStatus, e.NewStatus, detailsJSON, e.Automated, e.Timestamp,
	)
	if err != nil {
		return model.NewPersistenceError("insert process event", err)
	}
	return nil
}

// ListProcessEvents returns a process's audit trail, oldest first.
func (s *PgStore) ListProcessEvents(ctx context.Context, processID string) ([]model.ProcessEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, process_instance_id, task_id, event_type, category, severity,
		       user_id, message, old_status, new_status, details, automated, created_at
		FROM process_events WHERE process_instance_id = $1 ORDER BY created_at ASC`, processID)
	if err != nil {
		return nil, model.NewPersistenceError("query process events", err)
	}
	defer rows.Close()

	var result []model.ProcessEvent
	for rows.Next() {
		var e model.ProcessEvent
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.ProcessInstanceID, &e.TaskID, &e.EventType, &e.Category,
			&e.Severity, &e.UserID, &e.Message, &e.OldStatus, &e.NewStatus,
			&detailsJSON, &e.Automated, &e.Timestamp); err != nil {
			return nil, model.NewPersistenceError("scan process event", err)
		}
		if detailsJSON != nil {
			_ = json.Unmarshal(detailsJSON, &e.Details)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (model.ProcessInstance, error) {
	var inst model.ProcessInstance
	var inputJSON, outputJSON, contextJSON []byte

	err := row.Scan(
		&inst.ID, &inst.ProcessDefinitionID, &inst.Name, &inst.Type, &inst.Status, &inst.InitiatedBy,
		&inst.AssignedTo, &inst.Priority, &inst.SLATargetMins, &inst.DueDate, &inst.ProgressPercentage,
		&inst.SLAStatus, &inputJSON, &outputJSON, &contextJSON, &inst.ErrorMessage,
		&inst.IdempotencyKey, &inst.CreatedAt, &inst.UpdatedAt, &inst.StartedAt, &inst.CompletedAt,
	)
	if err != nil {
		return model.ProcessInstance{}, err
	}

	if inputJSON != nil {
		_ = json.Unmarshal(inputJSON, &inst.InputData)
	}
	if outputJSON != nil {
		_ = json.Unmarshal(outputJSON, &inst.OutputData)
	}
	if contextJSON != nil {
		_ = json.Unmarshal(contextJSON, &inst.BusinessContext)
	}
	return inst, nil
}

func scanTask(row rowScanner) (model.Task, error) {
	var task model.Task
	var outputJSON []byte

	err := row.Scan(
		&task.ID, &task.ProcessInstanceID, &task.TaskDefinitionID, &task.Name, &task.Type, &task.Status,
		&task.AssignedTo, &task.DependsOn, &task.Priority, &task.SLATargetMins, &task.DueDate, &task.SLAStatus,
		&task.ClaimedBy, &task.ClaimedAt, &task.StartedAt, &task.CompletedAt, &outputJSON,
		&task.ActualDurationMin, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return model.Task{}, err
	}

	if outputJSON != nil {
		_ = json.Unmarshal(outputJSON, &task.OutputData)
	}
	return task, nil
}

func collectTasks(rows pgx.Rows) ([]model.Task, error) {
	var result []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, model.NewPersistenceError("scan task", err)
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

func marshalProcessMaps(inst model.ProcessInstance) (input, output, bizCtx []byte, err error) {
	if input, err = marshalMap(inst.InputData); err != nil {
		return nil, nil, nil, err
	}
	if output, err = marshalMap(inst.OutputData); err != nil {
		return nil, nil, nil, err
	}
	if bizCtx, err = marshalMap(inst.BusinessContext); err != nil {
		return nil, nil, nil, err
	}
	return input, output, bizCtx, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, model.NewPersistenceError("marshal json payload", err)
	}
	return data, nil
}
