package api

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// TasksHandler handles task endpoints.
type TasksHandler struct {
	DB *sql.DB
}

type createTaskRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Status      model.TaskStatus `json:"status"`
	OrderID     string           `json:"orderId"`
	DueDate     string           `json:"dueDate"`
}

type updateTaskStatusRequest struct {
	Status model.TaskStatus `json:"status"`
}

// List handles GET /api/tasks.
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := store.ListTasks(r.Context(), h.DB)
	if err != nil {
		storeError(w, err, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	jsonResponse(w, http.StatusOK, tasks)
}

// Get handles GET /api/tasks/{id}.
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := store.GetTask(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "failed to get task")
		return
	}
	if task == nil {
		jsonError(w, http.StatusNotFound, "task not found")
		return
	}
	jsonResponse(w, http.StatusOK, task)
}

// Create handles POST /api/tasks.
func (h *TasksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task := model.Task{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		DueDate:     model.ParseDeadline(req.DueDate),
	}
	if id := strings.TrimSpace(req.OrderID); id != "" {
		task.OrderID = &id
	}

	created, err := store.CreateTask(r.Context(), h.DB, task)
	if err != nil {
		storeError(w, err, "failed to create task")
		return
	}
	jsonResponse(w, http.StatusCreated, created)
}

// UpdateStatus handles PATCH /api/tasks/{id}/status.
func (h *TasksHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateTaskStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := store.UpdateTaskStatus(r.Context(), h.DB, r.PathValue("id"), req.Status)
	if err != nil {
		storeError(w, err, "failed to update task")
		return
	}
	jsonResponse(w, http.StatusOK, task)
}

// Delete handles DELETE /api/tasks/{id}.
func (h *TasksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := store.DeleteTask(r.Context(), h.DB, r.PathValue("id")); err != nil {
		storeError(w, err, "failed to delete task")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "task deleted"})
}
