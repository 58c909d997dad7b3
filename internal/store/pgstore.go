package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
//
// Expected indexes: processes(status), tasks(process_id), tasks(status),
// tasks(assignee), tasks(due_at), process_events(process_id),
// sla_metrics(finalized_at), task_assignments(task_id, active).
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// CreateProcess inserts a new process instance.
func (s *PgStore) CreateProcess(ctx context.Context, p model.ProcessInstance) error {
	contextJSON, err := json.Marshal(p.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO processes (
			id, definition_id, definition_name, status, business_key,
			context, priority, progress, initiated_by, error, version,
			created_at, updated_at, started_at, completed_at, due_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		p.ID, p.DefinitionID, p.DefinitionName, p.Status, p.BusinessKey,
		contextJSON, p.Priority, p.Progress, p.InitiatedBy, p.Error, p.Version,
		p.CreatedAt, p.UpdatedAt, p.StartedAt, p.CompletedAt, p.DueAt,
	)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

// GetProcess retrieves a process instance by ID.
func (s *PgStore) GetProcess(ctx context.Context, processID string) (model.ProcessInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, definition_id, definition_name, status, business_key,
		       context, priority, progress, initiated_by, error, version,
		       created_at, updated_at, started_at, completed_at, due_at
		FROM processes
		WHERE id = $1`,
		processID,
	)

	p, err := scanProcess(row)
	if err == pgx.ErrNoRows {
		return model.ProcessInstance{}, model.NewNotFoundError(
			fmt.Sprintf("process %q not found", processID),
		)
	}
	if err != nil {
		return model.ProcessInstance{}, fmt.Errorf("query process: %w", err)
	}
	return p, nil
}

// UpdateProcess persists an updated process with optimistic locking.
func (s *PgStore) UpdateProcess(ctx context.Context, p model.ProcessInstance) error {
	contextJSON, err := json.Marshal(p.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE processes SET
			status = $1,
			context = $2,
			progress = $3,
			error = $4,
			version = $5,
			updated_at = $6,
			started_at = $7,
			completed_at = $8,
			due_at = $9
		WHERE id = $10 AND version = $11`,
		p.Status, contextJSON, p.Progress, p.Error, p.Version+1,
		time.Now().UTC(), p.StartedAt, p.CompletedAt, p.DueAt,
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("process %q version conflict (expected %d)", p.ID, p.Version),
		)
	}
	return nil
}

// FindProcesses returns process instances matching the filters, newest first.
func (s *PgStore) FindProcesses(ctx context.Context, filters ProcessFilters) ([]model.ProcessInstance, error) {
	query := `SELECT id, definition_id, definition_name, status, business_key,
	                 context, priority, progress, initiated_by, error, version,
	                 created_at, updated_at, started_at, completed_at, due_at
	          FROM processes
	          WHERE 1=1`
	var args []any
	argIdx := 1

	if filters.DefinitionID != "" {
		query += fmt.Sprintf(" AND definition_id = $%d", argIdx)
		args = append(args, filters.DefinitionID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.InitiatedBy != "" {
		query += fmt.Sprintf(" AND initiated_by = $%d", argIdx)
		args = append(args, filters.InitiatedBy)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	return s.queryProcesses(ctx, query, args...)
}

// FindOpenProcesses returns running and suspended instances, oldest first.
func (s *PgStore) FindOpenProcesses(ctx context.Context, limit int) ([]model.ProcessInstance, error) {
	query := `SELECT id, definition_id, definition_name, status, business_key,
	                 context, priority, progress, initiated_by, error, version,
	                 created_at, updated_at, started_at, completed_at, due_at
	          FROM processes
	          WHERE status IN ('running', 'suspended')
	          ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryProcesses(ctx, query, args...)
}

// CreateTask inserts a new task.
func (s *PgStore) CreateTask(ctx context.Context, t model.Task) error {
	inputJSON, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	outputJSON, err := json.Marshal(t.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (
			id, process_id, step_id, name, description, status, priority,
			assignee, team, ad_hoc, input, output, error,
			retries, max_retries, version,
			created_at, updated_at, started_at, completed_at, due_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20, $21
		)`,
		t.ID, t.ProcessID, t.StepID, t.Name, t.Description, t.Status, t.Priority,
		t.Assignee, t.Team, t.AdHoc, inputJSON, outputJSON, t.Error,
		t.Retries, t.MaxRetries, t.Version,
		t.CreatedAt, t.UpdatedAt, t.StartedAt, t.CompletedAt, t.DueAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *PgStore) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, process_id, step_id, name, description, status, priority,
		       assignee, team, ad_hoc, input, output, error,
		       retries, max_retries, version,
		       created_at, updated_at, started_at, completed_at, due_at
		FROM tasks
		WHERE id = $1`,
		taskID,
	)

	t, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return model.Task{}, model.NewNotFoundError(fmt.Sprintf("task %q not found", taskID))
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// UpdateTask persists an updated task with optimistic locking.
func (s *PgStore) UpdateTask(ctx context.Context, t model.Task) error {
	inputJSON, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	outputJSON, err := json.Marshal(t.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET
			status = $1,
			assignee = $2,
			team = $3,
			input = $4,
			output = $5,
			error = $6,
			retries = $7,
			version = $8,
			updated_at = $9,
			started_at = $10,
			completed_at = $11,
			due_at = $12
		WHERE id = $13 AND version = $14`,
		t.Status, t.Assignee, t.Team, inputJSON, outputJSON, t.Error,
		t.Retries, t.Version+1, time.Now().UTC(),
		t.StartedAt, t.CompletedAt, t.DueAt,
		t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("task %q version conflict (expected %d)", t.ID, t.Version),
		)
	}
	return nil
}

// FindTasks returns tasks matching the filters, newest first.
func (s *PgStore) FindTasks(ctx context.Context, filters TaskFilters) ([]model.Task, error) {
	query := `SELECT id, process_id, step_id, name, description, status, priority,
	                 assignee, team, ad_hoc, input, output, error,
	                 retries, max_retries, version,
	                 created_at, updated_at, started_at, completed_at, due_at
	          FROM tasks
	          WHERE 1=1`
	var args []any
	argIdx := 1

	if filters.ProcessID != "" {
		query += fmt.Sprintf(" AND process_id = $%d", argIdx)
		args = append(args, filters.ProcessID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.Assignee != "" {
		query += fmt.Sprintf(" AND assignee = $%d", argIdx)
		args = append(args, filters.Assignee)
		argIdx++
	}
	if filters.Team != "" {
		query += fmt.Sprintf(" AND team = $%d", argIdx)
		args = append(args, filters.Team)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Workload returns per-assignee open task counts. Active tasks and
// assignment history are aggregated separately before joining, so history
// rows never multiply the task count and idle assignees keep a row carrying
// their last assignment time.
func (s *PgStore) Workload(ctx context.Context) ([]model.AssigneeWorkload, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.assignee,
		       COALESCE(act.active_tasks, 0) AS active_tasks,
		       hist.last_assigned_at
		FROM (
			SELECT assignee FROM tasks
			WHERE assignee <> '' AND status IN ('assigned', 'in_progress')
			UNION
			SELECT assignee FROM task_assignments WHERE assignee <> ''
		) c
		LEFT JOIN (
			SELECT assignee, COUNT(*) AS active_tasks
			FROM tasks
			WHERE assignee <> '' AND status IN ('assigned', 'in_progress')
			GROUP BY assignee
		) act ON act.assignee = c.assignee
		LEFT JOIN (
			SELECT assignee, MAX(created_at) AS last_assigned_at
			FROM task_assignments
			GROUP BY assignee
		) hist ON hist.assignee = c.assignee
		ORDER BY c.assignee`,
	)
	if err != nil {
		return nil, fmt.Errorf("query workload: %w", err)
	}
	defer rows.Close()

	var result []model.AssigneeWorkload
	for rows.Next() {
		var w model.AssigneeWorkload
		if err := rows.Scan(&w.Assignee, &w.ActiveTasks, &w.LastAssignedAt); err != nil {
			return nil, fmt.Errorf("scan workload: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// AppendEvent adds an event to the process audit trail.
func (s *PgStore) AppendEvent(ctx context.Context, e model.ProcessEvent) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO process_events (
			id, process_id, task_id, type, severity, actor, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ProcessID, e.TaskID, e.Type, e.Severity, e.Actor, payloadJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert process event: %w", err)
	}
	return nil
}

// GetEvents retrieves all events for a process.
func (s *PgStore) GetEvents(ctx context.Context, processID string) ([]model.ProcessEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, process_id, task_id, type, severity, actor, payload, created_at
		FROM process_events
		WHERE process_id = $1
		ORDER BY created_at ASC`,
		processID,
	)
	if err != nil {
		return nil, fmt.Errorf("query process events: %w", err)
	}
	defer rows.Close()

	var events []model.ProcessEvent
	for rows.Next() {
		var e model.ProcessEvent
		var payloadJSON []byte
		if err := rows.Scan(
			&e.ID, &e.ProcessID, &e.TaskID, &e.Type, &e.Severity,
			&e.Actor, &payloadJSON, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan process event: %w", err)
		}
		if payloadJSON != nil {
			_ = json.Unmarshal(payloadJSON, &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CreateSLAMetric inserts a new SLA metric.
func (s *PgStore) CreateSLAMetric(ctx context.Context, m model.SLAMetric) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sla_metrics (
			id, process_id, task_id, kind, status, target_ns,
			started_at, deadline, elapsed_ns, finalized_at, version,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.ProcessID, m.TaskID, m.Kind, m.Status, int64(m.Target),
		m.StartedAt, m.Deadline, int64(m.Elapsed), m.FinalizedAt, m.Version,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sla metric: %w", err)
	}
	return nil
}

// UpdateSLAMetric persists an updated metric with optimistic locking.
func (s *PgStore) UpdateSLAMetric(ctx context.Context, m model.SLAMetric) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sla_metrics SET
			status = $1,
			elapsed_ns = $2,
			finalized_at = $3,
			version = $4,
			updated_at = $5
		WHERE id = $6 AND version = $7`,
		m.Status, int64(m.Elapsed), m.FinalizedAt, m.Version+1,
		time.Now().UTC(),
		m.ID, m.Version,
	)
	if err != nil {
		return fmt.Errorf("update sla metric: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("sla metric %q version conflict (expected %d)", m.ID, m.Version),
		)
	}
	return nil
}

// FindSLAMetrics returns metrics for a process.
func (s *PgStore) FindSLAMetrics(ctx context.Context, processID string) ([]model.SLAMetric, error) {
	return s.queryMetrics(ctx, `
		SELECT id, process_id, task_id, kind, status, target_ns,
		       started_at, deadline, elapsed_ns, finalized_at, version,
		       created_at, updated_at
		FROM sla_metrics
		WHERE process_id = $1
		ORDER BY created_at ASC`,
		processID,
	)
}

// FindOpenSLAMetrics returns metrics not yet finalized, oldest deadline first.
func (s *PgStore) FindOpenSLAMetrics(ctx context.Context, limit int) ([]model.SLAMetric, error) {
	query := `SELECT id, process_id, task_id, kind, status, target_ns,
	                 started_at, deadline, elapsed_ns, finalized_at, version,
	                 created_at, updated_at
	          FROM sla_metrics
	          WHERE finalized_at IS NULL
	          ORDER BY deadline ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryMetrics(ctx, query, args...)
}

// FindBreachedSLAMetrics returns metrics breached at or after since.
func (s *PgStore) FindBreachedSLAMetrics(ctx context.Context, since time.Time) ([]model.SLAMetric, error) {
	return s.queryMetrics(ctx, `
		SELECT id, process_id, task_id, kind, status, target_ns,
		       started_at, deadline, elapsed_ns, finalized_at, version,
		       created_at, updated_at
		FROM sla_metrics
		WHERE status = 'breached' AND updated_at >= $1
		ORDER BY updated_at DESC`,
		since,
	)
}

// CreateAssignment inserts a new assignment record.
func (s *PgStore) CreateAssignment(ctx context.Context, a model.TaskAssignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_assignments (
			id, task_id, process_id, assignee, assigned_by, method, reason,
			active, created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TaskID, a.ProcessID, a.Assignee, a.AssignedBy, a.Method, a.Reason,
		a.Active, a.CreatedAt, a.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// GetActiveAssignment returns the task's active assignment.
func (s *PgStore) GetActiveAssignment(ctx context.Context, taskID string) (model.TaskAssignment, error) {
	var a model.TaskAssignment
	err := s.pool.QueryRow(ctx, `
		SELECT id, task_id, process_id, assignee, assigned_by, method, reason,
		       active, created_at, closed_at
		FROM task_assignments
		WHERE task_id = $1 AND active = true`,
		taskID,
	).Scan(
		&a.ID, &a.TaskID, &a.ProcessID, &a.Assignee, &a.AssignedBy, &a.Method, &a.Reason,
		&a.Active, &a.CreatedAt, &a.ClosedAt,
	)
	if err == pgx.ErrNoRows {
		return model.TaskAssignment{}, model.NewNotFoundError(
			fmt.Sprintf("task %q has no active assignment", taskID),
		)
	}
	if err != nil {
		return model.TaskAssignment{}, fmt.Errorf("query assignment: %w", err)
	}
	return a, nil
}

// SwapAssignment closes the active assignment and creates the new one in a
// single transaction.
func (s *PgStore) SwapAssignment(ctx context.Context, taskID string, next model.TaskAssignment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin swap assignment: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE task_assignments SET active = false, closed_at = $1
		WHERE task_id = $2 AND active = true`,
		time.Now().UTC(), taskID,
	)
	if err != nil {
		return fmt.Errorf("close assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("task %q has no active assignment", taskID),
		)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO task_assignments (
			id, task_id, process_id, assignee, assigned_by, method, reason,
			active, created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, NULL)`,
		next.ID, next.TaskID, next.ProcessID, next.Assignee, next.AssignedBy,
		next.Method, next.Reason, next.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}

	return tx.Commit(ctx)
}

// FindAssignments returns a task's assignment history, oldest first.
func (s *PgStore) FindAssignments(ctx context.Context, taskID string) ([]model.TaskAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, process_id, assignee, assigned_by, method, reason,
		       active, created_at, closed_at
		FROM task_assignments
		WHERE task_id = $1
		ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var result []model.TaskAssignment
	for rows.Next() {
		var a model.TaskAssignment
		if err := rows.Scan(
			&a.ID, &a.TaskID, &a.ProcessID, &a.Assignee, &a.AssignedBy, &a.Method, &a.Reason,
			&a.Active, &a.CreatedAt, &a.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) queryProcesses(ctx context.Context, query string, args ...any) ([]model.ProcessInstance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query processes: %w", err)
	}
	defer rows.Close()

	var processes []model.ProcessInstance
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		processes = append(processes, p)
	}
	return processes, rows.Err()
}

func (s *PgStore) queryMetrics(ctx context.Context, query string, args ...any) ([]model.SLAMetric, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sla metrics: %w", err)
	}
	defer rows.Close()

	var metrics []model.SLAMetric
	for rows.Next() {
		var m model.SLAMetric
		var targetNs, elapsedNs int64
		if err := rows.Scan(
			&m.ID, &m.ProcessID, &m.TaskID, &m.Kind, &m.Status, &targetNs,
			&m.StartedAt, &m.Deadline, &elapsedNs, &m.FinalizedAt, &m.Version,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sla metric: %w", err)
		}
		m.Target = time.Duration(targetNs)
		m.Elapsed = time.Duration(elapsedNs)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (model.ProcessInstance, error) {
	var p model.ProcessInstance
	var contextJSON []byte
	err := row.Scan(
		&p.ID, &p.DefinitionID, &p.DefinitionName, &p.Status, &p.BusinessKey,
		&contextJSON, &p.Priority, &p.Progress, &p.InitiatedBy, &p.Error, &p.Version,
		&p.CreatedAt, &p.UpdatedAt, &p.StartedAt, &p.CompletedAt, &p.DueAt,
	)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &p.Context); err != nil {
			return model.ProcessInstance{}, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return p, nil
}

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	var inputJSON, outputJSON []byte
	err := row.Scan(
		&t.ID, &t.ProcessID, &t.StepID, &t.Name, &t.Description, &t.Status, &t.Priority,
		&t.Assignee, &t.Team, &t.AdHoc, &inputJSON, &outputJSON, &t.Error,
		&t.Retries, &t.MaxRetries, &t.Version,
		&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt, &t.DueAt,
	)
	if err != nil {
		return model.Task{}, err
	}
	if inputJSON != nil {
		_ = json.Unmarshal(inputJSON, &t.Input)
	}
	if outputJSON != nil {
		_ = json.Unmarshal(outputJSON, &t.Output)
	}
	return t, nil
}
