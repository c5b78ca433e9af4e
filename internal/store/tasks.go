package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/zaloga/internal/model"
)

// CreateTask creates a task. A referenced order must exist.
func CreateTask(ctx context.Context, db *sql.DB, task model.Task) (*model.Task, error) {
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return nil, validationf("title", "required")
	}
	if task.Status == "" {
		task.Status = model.TaskStatusTodo
	}
	if !task.Status.Valid() {
		return nil, validationf("status", "invalid status %q", task.Status)
	}
	if task.OrderID != nil && *task.OrderID == "" {
		task.OrderID = nil
	}

	if task.OrderID != nil {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id = ?`, *task.OrderID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("checking order: %w", err)
		}
		if exists == 0 {
			return nil, &NotFoundError{Entity: "order", ID: *task.OrderID}
		}
	}

	task.ID = newID()
	task.CreatedAt = now()

	var orderID sql.NullString
	if task.OrderID != nil {
		orderID = nullString(*task.OrderID)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, order_id, due_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, string(task.Status), orderID, nullTime(task.DueDate), task.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	return GetTask(ctx, db, task.ID)
}

const taskColumns = `id, title, description, status, order_id, due_date, created_at`

// GetTask returns a task with its order, or nil if it does not exist.
func GetTask(ctx context.Context, db *sql.DB, id string) (*model.Task, error) {
	task, err := scanTask(db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}

	if task.OrderID != nil {
		order, err := GetOrder(ctx, db, *task.OrderID)
		if err != nil {
			return nil, err
		}
		task.Order = order
	}
	return task, nil
}

// ListTasks returns all tasks with their orders, newest first.
func ListTasks(ctx context.Context, db *sql.DB) ([]model.Task, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	orders := make(map[string]*model.Order)
	for i := range tasks {
		id := tasks[i].OrderID
		if id == nil {
			continue
		}
		order, ok := orders[*id]
		if !ok {
			order, err = GetOrder(ctx, db, *id)
			if err != nil {
				return nil, err
			}
			orders[*id] = order
		}
		tasks[i].Order = order
	}
	return tasks, nil
}

// UpdateTaskStatus sets a task's status.
func UpdateTaskStatus(ctx context.Context, db *sql.DB, id string, status model.TaskStatus) (*model.Task, error) {
	if !status.Valid() {
		return nil, validationf("status", "invalid status %q", status)
	}

	result, err := db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return nil, fmt.Errorf("updating task status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, &NotFoundError{Entity: "task", ID: id}
	}
	return GetTask(ctx, db, id)
}

// DeleteTask removes a task.
func DeleteTask(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "task", ID: id}
	}
	return nil
}

func scanTask(s rowScanner) (*model.Task, error) {
	t := &model.Task{}
	var orderID sql.NullString
	if err := s.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &orderID, &t.DueDate, &t.CreatedAt); err != nil {
		return nil, err
	}
	if orderID.Valid {
		t.OrderID = &orderID.String
	}
	return t, nil
}
