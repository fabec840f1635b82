package queue

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/echodial/echodial/pkg/logger"
)

// Handler exposes the enqueue contract over HTTP for the external dashboard:
// POST /calls with a CallJob body, GET /calls/{id} for job state.
type Handler struct {
	worker *Worker
	store  *Store
}

func NewHandler(worker *Worker, store *Store) *Handler {
	return &Handler{worker: worker, store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost:
		h.enqueue(w, r)
	case r.Method == http.MethodGet:
		h.lookup(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var job CallJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "invalid job payload", http.StatusBadRequest)
		return
	}
	if job.TaskID == "" || job.PhoneNumber == "" || job.BusinessName == "" {
		http.Error(w, "task_id, phone_number and business_name are required", http.StatusBadRequest)
		return
	}
	// Retry accounting is owned by the worker; a fresh enqueue always
	// starts at attempt one.
	job.RetryCount = 0
	job.PreviousAttemptNotes = ""

	handle := h.worker.Enqueue(job)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"id":      handle.ID,
		"task_id": handle.TaskID,
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/calls/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}
	rec, ok := h.store.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		logger.WarnCF("queue", "Failed to encode job record", map[string]interface{}{"job_id": id})
	}
}
