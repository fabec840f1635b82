package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/echodial/echodial/pkg/carrier"
	"github.com/echodial/echodial/pkg/logger"
	"github.com/echodial/echodial/pkg/memory"
	"github.com/echodial/echodial/pkg/numberpool"
	"github.com/echodial/echodial/pkg/session"
)

// Extractor is the post-call knowledge extraction trigger. Implemented by
// memory.Extractor.
type Extractor interface {
	Extract(ctx context.Context, req memory.Request) memory.Result
}

// Options tunes the worker pool. Zero fields fall back to the queue
// contract defaults: 2 attempts, 5s exponential backoff, 1000/5000
// retention.
type Options struct {
	Workers            int
	MaxAttempts        int
	BackoffBase        time.Duration
	SetupTimeout       time.Duration
	CallTimeout        time.Duration
	CompletedRetention int
	FailedRetention    int
	MaintenanceCron    string
	RelayURL           string
	StatusCallbackURL  string
}

func (o *Options) fillDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 2
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5 * time.Second
	}
	if o.SetupTimeout <= 0 {
		o.SetupTimeout = 15 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Minute
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = 1000
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 5000
	}
}

// Worker consumes queued call jobs with bounded concurrency. Each attempt
// reserves an outbound number, places the call, registers the session the
// relay bridge will drive, and waits for the bridge to end (or a timeout).
// Failed attempts retry with exponential backoff until the attempt budget is
// spent.
type Worker struct {
	opts      Options
	store     *Store
	pool      *numberpool.Pool
	registry  *session.Registry
	dialer    carrier.Dialer
	extractor Extractor

	jobs    chan string
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewWorker(store *Store, pool *numberpool.Pool, registry *session.Registry, dialer carrier.Dialer, extractor Extractor, opts Options) *Worker {
	opts.fillDefaults()
	return &Worker{
		opts:      opts,
		store:     store,
		pool:      pool,
		registry:  registry,
		dialer:    dialer,
		extractor: extractor,
		jobs:      make(chan string, 1024),
	}
}

// Enqueue registers a new call job and schedules it for processing.
func (w *Worker) Enqueue(job CallJob) JobHandle {
	rec := &JobRecord{
		ID:         uuid.NewString(),
		Job:        job,
		Status:     JobPending,
		EnqueuedAt: time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	w.store.Add(rec)
	logger.InfoCF("queue", "Job enqueued", map[string]interface{}{
		"job_id": rec.ID, "task_id": job.TaskID, "business": job.BusinessName,
	})

	w.jobs <- rec.ID
	return JobHandle{ID: rec.ID, TaskID: job.TaskID}
}

// Run starts the worker pool and blocks until ctx is cancelled. Jobs left
// pending or running by a previous process are re-queued first.
func (w *Worker) Run(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	for _, rec := range w.store.Pending() {
		select {
		case w.jobs <- rec.ID:
		default:
			logger.WarnCF("queue", "Job channel full during recovery", map[string]interface{}{"job_id": rec.ID})
		}
	}

	for i := 0; i < w.opts.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-w.jobs:
					w.processJob(ctx, id)
				}
			}
		}()
	}

	if w.opts.MaintenanceCron != "" {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.maintenanceLoop(ctx)
		}()
	}

	<-ctx.Done()
	w.wg.Wait()
	w.store.Flush()
}

// maintenanceLoop prunes and flushes the store whenever the configured cron
// expression comes due, checked once a minute.
func (w *Worker) maintenanceLoop(ctx context.Context) {
	gron := gronx.New()
	if !gron.IsValid(w.opts.MaintenanceCron) {
		logger.WarnCF("queue", "Invalid maintenance cron, maintenance disabled", map[string]interface{}{
			"cron": w.opts.MaintenanceCron,
		})
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := gron.IsDue(w.opts.MaintenanceCron)
			if err != nil || !due {
				continue
			}
			dropped := w.store.Prune(w.opts.CompletedRetention, w.opts.FailedRetention)
			w.store.Flush()
			if dropped > 0 {
				logger.InfoCF("queue", "Pruned job history", map[string]interface{}{"dropped": dropped})
			}
		}
	}
}

func (w *Worker) processJob(ctx context.Context, id string) {
	rec, ok := w.store.Get(id)
	if !ok {
		return
	}
	if rec.Status != JobPending && rec.Status != JobRunning {
		return
	}

	w.store.Update(id, func(r *JobRecord) { r.Status = JobRunning })
	attempt := rec.Job.RetryCount + 1
	logger.InfoCF("queue", "Attempt started", map[string]interface{}{
		"job_id": id, "task_id": rec.Job.TaskID, "attempt": attempt, "max_attempts": w.opts.MaxAttempts,
	})

	res := w.runAttempt(ctx, id, rec.Job)
	if res.success {
		w.store.Update(id, func(r *JobRecord) {
			r.Status = JobCompleted
			r.LastError = ""
			r.Extraction = res.extraction
			r.Facts = len(res.extraction.Facts)
		})
		logger.InfoCF("queue", "Job completed", map[string]interface{}{
			"job_id": id, "task_id": rec.Job.TaskID, "attempt": attempt, "facts": len(res.extraction.Facts),
		})
		return
	}

	if ctx.Err() != nil {
		// Shutting down mid-attempt: leave the job running so recovery
		// requeues it on the next start.
		return
	}

	if attempt >= w.opts.MaxAttempts {
		w.store.Update(id, func(r *JobRecord) {
			r.Status = JobFailed
			r.LastError = res.notes
		})
		logger.ErrorCF("queue", "Job failed, attempts exhausted", map[string]interface{}{
			"job_id": id, "task_id": rec.Job.TaskID, "attempts": attempt, "error": res.notes,
		})
		return
	}

	delay := w.backoffDelay(attempt)
	w.store.Update(id, func(r *JobRecord) {
		r.Status = JobPending
		r.Job.RetryCount = attempt
		r.Job.PreviousAttemptNotes = res.notes
		r.LastError = res.notes
	})
	logger.WarnCF("queue", "Attempt failed, retry scheduled", map[string]interface{}{
		"job_id": id, "task_id": rec.Job.TaskID, "attempt": attempt, "backoff": delay.String(), "error": res.notes,
	})

	time.AfterFunc(delay, func() {
		if !w.running.Load() {
			return
		}
		select {
		case w.jobs <- id:
		default:
			logger.WarnCF("queue", "Job channel full, retry dropped until recovery", map[string]interface{}{"job_id": id})
		}
	})
}

// backoffDelay grows exponentially from the base: base, 2*base, 4*base...
func (w *Worker) backoffDelay(attempt int) time.Duration {
	d := w.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

type attemptResult struct {
	success    bool
	notes      string
	extraction memory.Result
}

func (w *Worker) runAttempt(ctx context.Context, id string, job CallJob) attemptResult {
	from, err := w.pool.Acquire(id)
	if err != nil {
		if errors.Is(err, numberpool.ErrExhausted) {
			return attemptResult{notes: "no outbound number available; pool exhausted"}
		}
		return attemptResult{notes: fmt.Sprintf("number reservation failed: %v", err)}
	}

	callSid, err := w.dialer.PlaceCall(ctx, carrier.CallRequest{
		From:              from,
		To:                job.PhoneNumber,
		RelayURL:          w.opts.RelayURL,
		StatusCallbackURL: w.opts.StatusCallbackURL,
	})
	if err != nil {
		w.pool.Release(from, id)
		return attemptResult{notes: fmt.Sprintf("carrier rejected call: %v", err)}
	}

	sess := session.New(callSid)
	sess.JobID = id
	sess.TaskID = job.TaskID
	sess.UserID = job.UserID
	sess.BusinessName = job.BusinessName
	sess.Purpose = job.Purpose
	sess.Questions = job.Questions
	sess.Context = job.Context
	sess.UserProfile = job.UserProfile
	sess.RetryCount = job.RetryCount
	sess.PreviousAttemptNotes = job.PreviousAttemptNotes
	sess.FromNumber = from
	w.registry.Put(callSid, sess)
	w.store.Update(id, func(r *JobRecord) { r.CallSid = callSid })

	// cleanup mirrors the bridge's ended-state work so whichever side loses
	// the race still converges: every step is idempotent.
	cleanup := func(outcome session.Outcome) {
		w.pool.Release(from, id)
		w.registry.Delete(callSid)
		sess.Finish(outcome)
	}

	select {
	case <-sess.Activated():
	case <-time.After(w.opts.SetupTimeout):
		cleanup(session.Outcome{Err: errors.New("relay connection never arrived")})
		return attemptResult{notes: "relay connection never arrived; number released"}
	case <-ctx.Done():
		cleanup(session.Outcome{Err: ctx.Err()})
		return attemptResult{notes: "shutdown during setup wait"}
	}

	select {
	case <-sess.Done():
	case <-time.After(w.opts.CallTimeout):
		cleanup(session.Outcome{Err: errors.New("call exceeded maximum duration")})
		return attemptResult{notes: "call exceeded maximum duration"}
	case <-ctx.Done():
		cleanup(session.Outcome{Err: ctx.Err()})
		return attemptResult{notes: "shutdown during call"}
	}

	outcome := sess.Outcome()
	if !outcome.Completed {
		notes := "call ended without completing"
		if outcome.Err != nil {
			notes = outcome.Err.Error()
		}
		return attemptResult{notes: notes}
	}

	extraction := w.extractor.Extract(ctx, memory.Request{
		UserProfile:      job.UserProfile,
		ExistingMemories: job.ExistingMemories,
		BusinessName:     job.BusinessName,
		Purpose:          job.Purpose,
		Transcript:       sess.TranscriptText(),
	})
	return attemptResult{success: true, extraction: extraction}
}
