package session

import (
	"strings"
	"sync"
)

// Turn is one entry in a call transcript.
type Turn struct {
	Role string `json:"role"` // "caller", "agent" or "dtmf"
	Text string `json:"text"`
}

// Outcome is the terminal result of one relay conversation.
type Outcome struct {
	Completed   bool
	Err         error
	HandoffData string
}

// Session is the in-memory conversational state for one active call. It is
// created by the worker when a job attempt is claimed and a number reserved,
// and from then on is exclusively mutated by the protocol bridge driving the
// call. The worker only waits on its lifecycle channels and reads the
// transcript after Done fires.
type Session struct {
	CallID string

	// JobID is the queue job this call serves. It keys the number
	// reservation, so only this call's cleanup can release the number.
	JobID string

	TaskID               string
	UserID               string
	BusinessName         string
	Purpose              string
	Questions            []string
	Context              string
	UserProfile          string
	RetryCount           int
	PreviousAttemptNotes string

	// FromNumber is the pooled outbound number reserved for this call.
	FromNumber string

	mu         sync.Mutex
	transcript []Turn
	outcome    Outcome

	activateOnce sync.Once
	finishOnce   sync.Once
	activated    chan struct{}
	done         chan struct{}
}

func New(callID string) *Session {
	return &Session{
		CallID:    callID,
		activated: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// MarkActive signals that the relay setup for this call arrived. Idempotent.
func (s *Session) MarkActive() {
	s.activateOnce.Do(func() { close(s.activated) })
}

// Activated fires once the relay conversation reached its active state.
func (s *Session) Activated() <-chan struct{} {
	return s.activated
}

// Finish records the terminal outcome and fires Done. Only the first call
// wins; later calls from racing cleanup paths are no-ops.
func (s *Session) Finish(o Outcome) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.outcome = o
		s.mu.Unlock()
		close(s.done)
	})
}

// Done fires when the relay conversation has ended, for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) AppendTurn(t Turn) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, t)
	s.mu.Unlock()
}

func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// TranscriptText renders the transcript as "role: text" lines.
func (s *Session) TranscriptText() string {
	turns := s.Transcript()
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}
