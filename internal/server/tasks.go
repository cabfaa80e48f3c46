package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rakunlabs/anonymizer/internal/tasks"
)

// taskName extracts the task name from /api/tasks/<name>.
func taskName(r *http.Request) string {
	path := strings.TrimSuffix(r.URL.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[idx+1:]
}

// AddTaskAPI creates and starts a periodic task.
func (s *Server) AddTaskAPI(w http.ResponseWriter, r *http.Request) {
	name := taskName(r)
	slog.Info("adding task", "task", name)
	if !tasks.Known(name) {
		slog.Error("task not found", "task", name)
		httpResponseEmpty(w, http.StatusBadRequest)
		return
	}
	if err := s.tasks.Add(name); err != nil {
		slog.Error("unable to create task", "task", name, "error", err)
		httpResponseEmpty(w, http.StatusInternalServerError)
		return
	}
	httpResponseEmpty(w, http.StatusOK)
}

// ResetTaskAPI stops and recreates a periodic task.
func (s *Server) ResetTaskAPI(w http.ResponseWriter, r *http.Request) {
	name := taskName(r)
	slog.Info("resetting task", "task", name)
	if !tasks.Known(name) {
		slog.Error("task not found", "task", name)
		httpResponseEmpty(w, http.StatusBadRequest)
		return
	}
	if err := s.tasks.Reset(name); err != nil {
		slog.Error("unable to recreate task", "task", name, "error", err)
		httpResponseEmpty(w, http.StatusInternalServerError)
		return
	}
	httpResponseEmpty(w, http.StatusOK)
}

// DeleteTaskAPI stops a periodic task.
func (s *Server) DeleteTaskAPI(w http.ResponseWriter, r *http.Request) {
	name := taskName(r)
	slog.Info("deleting task", "task", name)
	if !tasks.Known(name) {
		slog.Error("task not found", "task", name)
		httpResponseEmpty(w, http.StatusBadRequest)
		return
	}
	s.tasks.Remove(name)
	httpResponseEmpty(w, http.StatusOK)
}
