package queue

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/echodial/echodial/pkg/carrier"
	"github.com/echodial/echodial/pkg/numberpool"
	"github.com/echodial/echodial/pkg/session"
)

func newTestHandler(t *testing.T) (*Handler, *Store) {
	t.Helper()
	store := NewStore("")
	worker := NewWorker(store, numberpool.New(nil), session.NewRegistry(), &fakeDialer{}, &fakeExtractor{}, Options{})
	return NewHandler(worker, store), store
}

func TestHandlerEnqueueAccepted(t *testing.T) {
	h, store := newTestHandler(t)

	body := `{"task_id":"task-1","phone_number":"+15551234","business_name":"Luigi's Pizzeria","purpose":"book a table","retry_count":3}`
	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] == "" || resp["task_id"] != "task-1" {
		t.Fatalf("unexpected response %v", resp)
	}

	rec, ok := store.Get(resp["id"])
	if !ok {
		t.Fatalf("enqueued job missing from store")
	}
	if rec.Job.RetryCount != 0 || rec.Job.PreviousAttemptNotes != "" {
		t.Fatalf("fresh enqueue must reset retry accounting: %+v", rec.Job)
	}
}

func TestHandlerEnqueueRejectsMissingFields(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"task_id":"task-1"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlerEnqueueRejectsBadJSON(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlerLookup(t *testing.T) {
	h, store := newTestHandler(t)
	addRecord(store, "job-1", JobCompleted)

	req := httptest.NewRequest(http.MethodGet, "/calls/job-1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rec JobRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.ID != "job-1" || rec.Status != JobCompleted {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestHandlerLookupNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/calls/nope", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/calls/job-1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

var _ carrier.Dialer = (*fakeDialer)(nil)
