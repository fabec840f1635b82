package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/echodial/echodial/pkg/providers"
	"github.com/echodial/echodial/pkg/session"
)

// endCallMarker is the convention by which the model signals that the call
// is over. Anything after the marker is treated as opaque handoff data.
const endCallMarker = "<end_call>"

// Reply is one agent utterance, possibly ending the call.
type Reply struct {
	Text        string
	EndCall     bool
	HandoffData string
}

// Responder produces the agent side of a live call. Implemented by Agent;
// faked in bridge tests.
type Responder interface {
	Respond(ctx context.Context, sess *session.Session, history []providers.Message) (Reply, error)
}

// Agent drives the conversation for one configured model. It is stateless;
// per-call history lives with the bridge that owns the call.
type Agent struct {
	provider providers.LLMProvider
	model    string
	opts     providers.Options
}

func New(provider providers.LLMProvider, model string, maxTokens int, temperature float64) *Agent {
	return &Agent{
		provider: provider,
		model:    model,
		opts:     providers.Options{MaxTokens: maxTokens, Temperature: temperature},
	}
}

func (a *Agent) Respond(ctx context.Context, sess *session.Session, history []providers.Message) (Reply, error) {
	resp, err := a.provider.Chat(ctx, buildSystemPrompt(sess), history, a.model, a.opts)
	if err != nil {
		return Reply{}, fmt.Errorf("agent respond: %w", err)
	}
	return parseReply(resp.Content), nil
}

func parseReply(content string) Reply {
	idx := strings.Index(content, endCallMarker)
	if idx < 0 {
		return Reply{Text: strings.TrimSpace(content)}
	}
	return Reply{
		Text:        strings.TrimSpace(content[:idx]),
		EndCall:     true,
		HandoffData: strings.TrimSpace(content[idx+len(endCallMarker):]),
	}
}

func buildSystemPrompt(sess *session.Session) string {
	var b strings.Builder
	b.WriteString("You are a polite, efficient phone assistant making a call on behalf of a user.\n")
	fmt.Fprintf(&b, "You are calling %s.\n", sess.BusinessName)
	fmt.Fprintf(&b, "Purpose of the call: %s\n", sess.Purpose)

	if len(sess.Questions) > 0 {
		b.WriteString("Questions you must get answered:\n")
		for i, q := range sess.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	if sess.Context != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", sess.Context)
	}
	if sess.UserProfile != "" {
		fmt.Fprintf(&b, "About the user you represent: %s\n", sess.UserProfile)
	}
	if sess.RetryCount > 0 && sess.PreviousAttemptNotes != "" {
		fmt.Fprintf(&b, "This is retry attempt %d. Notes from the previous attempt: %s\n",
			sess.RetryCount+1, sess.PreviousAttemptNotes)
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Speak in short, natural sentences suitable for a phone call.\n")
	b.WriteString("- Never reveal that you are an automated system unless asked directly.\n")
	b.WriteString("- Keypad input from the callee appears as messages like [dtmf:5]; treat them as menu selections, not speech.\n")
	fmt.Fprintf(&b, "- When the call has served its purpose, say goodbye and end your message with %s, optionally followed by a short JSON summary of the result.\n", endCallMarker)
	return b.String()
}
