package queue

import (
	"time"

	"github.com/echodial/echodial/pkg/memory"
)

// CallJob is one queued request to place an outbound call. ExistingMemories
// is supplied by the enqueuer (the memory store lives with the dashboard) so
// extraction can avoid re-recording what is already known.
type CallJob struct {
	TaskID               string        `json:"task_id"`
	UserID               string        `json:"user_id"`
	BusinessName         string        `json:"business_name"`
	PhoneNumber          string        `json:"phone_number"`
	Purpose              string        `json:"purpose"`
	Questions            []string      `json:"questions,omitempty"`
	Context              string        `json:"context,omitempty"`
	UserProfile          string        `json:"user_profile,omitempty"`
	ExistingMemories     []memory.Fact `json:"existing_memories,omitempty"`
	RetryCount           int           `json:"retry_count"`
	PreviousAttemptNotes string        `json:"previous_attempt_notes,omitempty"`
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRecord is the stored state of one job across its attempts.
type JobRecord struct {
	ID         string        `json:"id"`
	Job        CallJob       `json:"job"`
	Status     JobStatus     `json:"status"`
	CallSid    string        `json:"call_sid,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Extraction memory.Result `json:"-"`
	Facts      int           `json:"facts"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// JobHandle is returned to the enqueuer for later status lookups.
type JobHandle struct {
	ID     string
	TaskID string
}
