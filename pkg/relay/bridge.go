package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/echodial/echodial/pkg/agent"
	"github.com/echodial/echodial/pkg/logger"
	"github.com/echodial/echodial/pkg/numberpool"
	"github.com/echodial/echodial/pkg/providers"
	"github.com/echodial/echodial/pkg/session"
	"github.com/echodial/echodial/pkg/utils"
)

type bridgeState int

const (
	stateAwaitingSetup bridgeState = iota
	stateActive
	stateEnded
)

// callConnectedSignal is the synthetic first turn that makes the agent speak
// as soon as the callee picks up. It never enters the transcript.
const callConnectedSignal = "[call_connected]"

var errSetupTimeout = errors.New("relay: no setup before deadline")

// Transport is the duplex connection under a bridge. The websocket server
// provides the real one; tests drive the bridge with an in-memory fake.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Bridge drives one relay conversation through the
// awaitingSetup -> active -> ended state machine. Cleanup on ended entry
// (number release, session delete, outcome publication) runs exactly once no
// matter which path gets there first.
type Bridge struct {
	conn         Transport
	registry     *session.Registry
	pool         *numberpool.Pool
	responder    agent.Responder
	setupTimeout time.Duration

	mu            sync.Mutex
	state         bridgeState
	sess          *session.Session
	history       []providers.Message
	pendingPrompt []string
	replyCancel   context.CancelFunc
	replyWG       sync.WaitGroup

	writeMu sync.Mutex
	endOnce sync.Once
}

func NewBridge(conn Transport, registry *session.Registry, pool *numberpool.Pool, responder agent.Responder, setupTimeout time.Duration) *Bridge {
	return &Bridge{
		conn:         conn,
		registry:     registry,
		pool:         pool,
		responder:    responder,
		setupTimeout: setupTimeout,
	}
}

// Run reads relay events until the conversation ends or the connection
// drops. It always leaves the bridge in the ended state.
func (b *Bridge) Run(ctx context.Context) {
	setupTimer := time.AfterFunc(b.setupTimeout, func() {
		b.mu.Lock()
		waiting := b.state == stateAwaitingSetup
		b.mu.Unlock()
		if waiting {
			logger.WarnC("relay", "No setup message before deadline, closing connection")
			b.end(session.Outcome{Err: errSetupTimeout})
		}
	})
	defer setupTimer.Stop()
	defer b.end(session.Outcome{Err: errors.New("relay: connection closed")})

	for {
		data, err := b.conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			ended := b.state == stateEnded
			b.mu.Unlock()
			if !ended {
				logger.DebugCF("relay", "Connection read ended", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			logger.WarnCF("relay", "Dropping undecodable message", map[string]interface{}{"error": err.Error()})
			continue
		}

		if done := b.dispatch(ctx, msg); done {
			return
		}
	}
}

// dispatch routes one event according to the current state. Returns true
// once the bridge has ended.
func (b *Bridge) dispatch(ctx context.Context, msg Inbound) bool {
	b.mu.Lock()
	st := b.state
	b.mu.Unlock()

	if st == stateEnded {
		return true
	}

	switch m := msg.(type) {
	case Setup:
		if st != stateAwaitingSetup {
			logger.WarnC("relay", "Duplicate setup ignored")
			return false
		}
		return b.handleSetup(ctx, m)
	case Prompt:
		if st == stateActive {
			b.handlePrompt(ctx, m)
		}
	case Interrupt:
		if st == stateActive {
			b.handleInterrupt(m)
		}
	case DTMF:
		if st == stateActive {
			b.handleDTMF(ctx, m)
		}
	case ErrorEvent:
		return b.handleError(m)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateEnded
}

func (b *Bridge) handleSetup(ctx context.Context, m Setup) bool {
	key := m.CallSid
	if key == "" {
		key = m.SessionID
	}

	sess, ok := b.registry.Get(key)
	if !ok {
		// No orphaned conversation is ever driven: close without going
		// active. Nothing was reserved under this key, so there is nothing
		// to release.
		logger.WarnCF("relay", "Setup for unknown call, closing", map[string]interface{}{
			"call_sid": m.CallSid, "session_id": m.SessionID,
		})
		b.end(session.Outcome{Err: fmt.Errorf("relay: %w", session.ErrNotFound)})
		return true
	}

	b.mu.Lock()
	b.state = stateActive
	b.sess = sess
	b.mu.Unlock()
	sess.MarkActive()

	// The worker finishes the session from outside on call timeout or
	// shutdown; tear the relay down when that happens instead of letting the
	// conversation run on as a zombie.
	go func() {
		<-sess.Done()
		b.end(sess.Outcome())
	}()

	logger.InfoCF("relay", "Relay session active", map[string]interface{}{
		"call_sid": key, "task_id": sess.TaskID, "business": sess.BusinessName,
	})

	// Outbound call: the agent opens the conversation.
	b.startReply(ctx, callConnectedSignal)
	return false
}

func (b *Bridge) handlePrompt(ctx context.Context, m Prompt) {
	b.mu.Lock()
	b.pendingPrompt = append(b.pendingPrompt, m.VoicePrompt)
	if !m.Last {
		b.mu.Unlock()
		return
	}
	utterance := strings.TrimSpace(strings.Join(b.pendingPrompt, " "))
	b.pendingPrompt = nil
	sess := b.sess
	b.mu.Unlock()

	if utterance == "" {
		return
	}
	sess.AppendTurn(session.Turn{Role: "caller", Text: utterance})
	b.startReply(ctx, utterance)
}

func (b *Bridge) handleInterrupt(m Interrupt) {
	logger.DebugCF("relay", "Caller interrupted reply", map[string]interface{}{
		"heard":      utils.Truncate(m.UtteranceUntilInterrupt, 80),
		"elapsed_ms": m.DurationUntilInterruptMs,
	})
	b.cancelReply()
}

func (b *Bridge) handleDTMF(ctx context.Context, m DTMF) {
	if m.Digit == "" {
		return
	}
	b.mu.Lock()
	sess := b.sess
	b.mu.Unlock()

	// Keypad input is a distinct signal type, never folded into speech.
	sess.AppendTurn(session.Turn{Role: "dtmf", Text: m.Digit})
	b.startReply(ctx, fmt.Sprintf("[dtmf:%s]", m.Digit))
}

func (b *Bridge) handleError(m ErrorEvent) bool {
	if isFatalError(m.Description) {
		logger.ErrorCF("relay", "Fatal carrier error, ending session", map[string]interface{}{
			"description": m.Description,
		})
		b.end(session.Outcome{Err: fmt.Errorf("relay: carrier error: %s", m.Description)})
		return true
	}
	logger.WarnCF("relay", "Recoverable carrier error", map[string]interface{}{
		"description": m.Description,
	})
	return false
}

// startReply cancels any in-flight reply and generates the next one. The
// previous generation goroutine is joined first so transcript and history
// stay ordered.
func (b *Bridge) startReply(ctx context.Context, input string) {
	b.cancelReply()

	replyCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.replyCancel = cancel
	b.history = append(b.history, providers.Message{Role: "user", Content: input})
	history := make([]providers.Message, len(b.history))
	copy(history, b.history)
	sess := b.sess
	b.mu.Unlock()

	b.replyWG.Add(1)
	go func() {
		defer b.replyWG.Done()
		defer cancel()
		b.generate(replyCtx, sess, history)
	}()
}

func (b *Bridge) cancelReply() {
	b.mu.Lock()
	cancel := b.replyCancel
	b.replyCancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.replyWG.Wait()
}

// generate produces one agent reply and streams it out as ordered text
// tokens. On cancellation only the committed prefix survives, in both the
// transcript and the provider history.
func (b *Bridge) generate(ctx context.Context, sess *session.Session, history []providers.Message) {
	reply, err := b.responder.Respond(ctx, sess, history)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.ErrorCF("relay", "Reply generation failed", map[string]interface{}{
			"call_sid": sess.CallID, "error": err.Error(),
		})
		b.end(session.Outcome{Err: fmt.Errorf("relay: reply generation: %w", err)})
		return
	}

	tokens := tokenize(reply.Text)
	var committed strings.Builder
	interrupted := false
	for i, tok := range tokens {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		if werr := b.writeJSON(NewTextToken(tok, i == len(tokens)-1)); werr != nil {
			interrupted = true
			break
		}
		committed.WriteString(tok)
	}

	spoken := committed.String()
	if spoken != "" {
		sess.AppendTurn(session.Turn{Role: "agent", Text: strings.TrimSpace(spoken)})
		b.mu.Lock()
		b.history = append(b.history, providers.Message{Role: "assistant", Content: spoken})
		b.mu.Unlock()
	}

	if reply.EndCall && !interrupted {
		if werr := b.writeJSON(NewEnd(reply.HandoffData)); werr != nil {
			logger.WarnCF("relay", "Failed to send end event", map[string]interface{}{"error": werr.Error()})
		}
		b.end(session.Outcome{Completed: true, HandoffData: reply.HandoffData})
	}
}

func (b *Bridge) writeJSON(v interface{}) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteJSON(v)
}

// end performs the one-shot transition into the ended state: release the
// reserved number, drop the session, publish the outcome, close the
// connection. Safe to call from every path, including racing ones.
func (b *Bridge) end(outcome session.Outcome) {
	b.endOnce.Do(func() {
		b.mu.Lock()
		b.state = stateEnded
		sess := b.sess
		cancel := b.replyCancel
		b.replyCancel = nil
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		if sess != nil {
			b.pool.Release(sess.FromNumber, sess.JobID)
			b.registry.Delete(sess.CallID)
			sess.Finish(outcome)
			logger.InfoCF("relay", "Relay session ended", map[string]interface{}{
				"call_sid":  sess.CallID,
				"completed": outcome.Completed,
				"error":     errString(outcome.Err),
			})
		}
		b.conn.Close()
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var fatalErrorHints = []string{
	"fatal",
	"unauthorized",
	"forbidden",
	"session ended",
	"media stream closed",
}

func isFatalError(description string) bool {
	d := strings.ToLower(description)
	for _, hint := range fatalErrorHints {
		if strings.Contains(d, hint) {
			return true
		}
	}
	return false
}

// tokenize splits a reply into stream chunks whose concatenation is exactly
// the original text.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	var tokens []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			tokens = append(tokens, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}
