package status

import (
	"sync"
	"time"

	"github.com/echodial/echodial/pkg/logger"
)

// CallStatus is the canonical lifecycle status of a call.
type CallStatus string

const (
	StatusInitiating CallStatus = "initiating"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in_progress"
	StatusCompleted  CallStatus = "completed"
	StatusBusy       CallStatus = "busy"
	StatusNoAnswer   CallStatus = "no_answer"
	StatusFailed     CallStatus = "failed"
)

var carrierToCanonical = map[string]CallStatus{
	"initiated":   StatusInitiating,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"completed":   StatusCompleted,
	"busy":        StatusBusy,
	"no-answer":   StatusNoAnswer,
	"failed":      StatusFailed,
	"canceled":    StatusFailed,
}

// terminal carrier statuses; the first of these to arrive stamps ended_at.
var terminalCarrier = map[string]bool{
	"completed": true,
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

// FromCarrier maps a carrier status to the canonical one. Unknown values
// pass through unchanged.
func FromCarrier(carrierStatus string) CallStatus {
	if canonical, ok := carrierToCanonical[carrierStatus]; ok {
		return canonical
	}
	return CallStatus(carrierStatus)
}

// IsTerminal reports whether a carrier status ends the call's lifecycle.
func IsTerminal(carrierStatus string) bool {
	return terminalCarrier[carrierStatus]
}

// Record is the canonical view of one call's lifecycle.
type Record struct {
	CallSid         string     `json:"call_sid"`
	Status          CallStatus `json:"status"`
	DurationSeconds int        `json:"duration_seconds"`
	HasDuration     bool       `json:"has_duration"`
	EndedAt         time.Time  `json:"ended_at"`
}

// Terminal reports whether the record has reached its final status.
func (r Record) Terminal() bool {
	return !r.EndedAt.IsZero()
}

// Reconciler folds at-least-once carrier callbacks into canonical call
// records. Callbacks arriving after a call is terminal are ignored, so
// duplicates and late reorders cannot regress state; ended_at is stamped
// exactly once, on the first terminal status observed.
type Reconciler struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Reconcile applies one carrier callback and returns the canonical status.
// durationSeconds is nil when the callback carried no duration; a later
// payload without one never erases a previously recorded duration.
func (r *Reconciler) Reconcile(callSid, carrierStatus string, durationSeconds *int) CallStatus {
	canonical := FromCarrier(carrierStatus)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[callSid]
	if !ok {
		rec = &Record{CallSid: callSid}
		r.records[callSid] = rec
	}

	if rec.Terminal() {
		logger.DebugCF("status", "Duplicate callback for terminal call ignored", map[string]interface{}{
			"call_sid": callSid, "carrier_status": carrierStatus,
		})
		return rec.Status
	}

	rec.Status = canonical
	if durationSeconds != nil {
		rec.DurationSeconds = *durationSeconds
		rec.HasDuration = true
	}
	if IsTerminal(carrierStatus) {
		rec.EndedAt = r.now().UTC()
	}

	logger.InfoCF("status", "Call status reconciled", map[string]interface{}{
		"call_sid": callSid, "carrier_status": carrierStatus, "status": string(canonical),
	})
	return canonical
}

// Lookup returns the canonical record for callSid.
func (r *Reconciler) Lookup(callSid string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callSid]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
