package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned when a task id has no row.
var ErrTaskNotFound = errors.New("task not found")

// CreateTask inserts a new task. ID is generated if empty.
func (s *Store) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks(id, group_folder, channel_id, prompt, schedule_type, schedule_value,
			context_mode, status, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.GroupFolder, t.ChannelID, t.Prompt, string(t.ScheduleKind), t.ScheduleValue,
		string(t.ContextMode), string(t.Status), t.NextRun, t.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_folder, channel_id, prompt, schedule_type, schedule_value,
			context_mode, status, COALESCE(next_run, ''), created_at
		FROM tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return t, err
}

// DueTasks returns active tasks whose next_run is non-empty and <= now
// (both ISO-8601, compared lexicographically).
func (s *Store) DueTasks(ctx context.Context, now string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_folder, channel_id, prompt, schedule_type, schedule_value,
			context_mode, status, COALESCE(next_run, ''), created_at
		FROM tasks
		WHERE status = ? AND next_run != '' AND next_run <= ?
		ORDER BY next_run ASC
	`, string(TaskActive), now)
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasksForGroup returns every task owned by a group folder, oldest
// first.
func (s *Store) ListTasksForGroup(ctx context.Context, groupFolder string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_folder, channel_id, prompt, schedule_type, schedule_value,
			context_mode, status, COALESCE(next_run, ''), created_at
		FROM tasks WHERE group_folder = ?
		ORDER BY created_at ASC
	`, groupFolder)
	if err != nil {
		return nil, fmt.Errorf("list tasks for group: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAllTasks returns every task, oldest first (nanoclaw-doctor reads it
// for its task count).
func (s *Store) ListAllTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_folder, channel_id, prompt, schedule_type, schedule_value,
			context_mode, status, COALESCE(next_run, ''), created_at
		FROM tasks ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AdvanceNextRun persists the caller's recomputed next_run for a recurring task, or
// deletes a `once` task, in a single transaction. This runs *before* the
// scheduler dispatches the task, so a crash cannot double-fire it.
func (s *Store) AdvanceNextRun(ctx context.Context, taskID string, newNextRun string, deleteTask bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("advance next_run begin: %w", err)
	}
	defer tx.Rollback()

	if deleteTask {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
			return fmt.Errorf("advance next_run delete: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET next_run = ? WHERE id = ?`, newNextRun, taskID); err != nil {
			return fmt.Errorf("advance next_run update: %w", err)
		}
	}
	return tx.Commit()
}

// SetTaskStatus sets a task's status (pause/resume) and returns
// ErrTaskNotFound when no row matches. Cancelling is CancelTask, which
// deletes the row.
func (s *Store) SetTaskStatus(ctx context.Context, taskID string, status TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), taskID)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// CancelTask deletes a task row entirely.
func (s *Store) CancelTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var scheduleKind, contextMode, status string
	if err := row.Scan(&t.ID, &t.GroupFolder, &t.ChannelID, &t.Prompt, &scheduleKind, &t.ScheduleValue,
		&contextMode, &status, &t.NextRun, &t.CreatedAt); err != nil {
		return Task{}, err
	}
	t.ScheduleKind = ScheduleKind(scheduleKind)
	t.ContextMode = ContextMode(contextMode)
	t.Status = TaskStatus(status)
	return t, nil
}
