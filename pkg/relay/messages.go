package relay

import (
	"encoding/json"
	"fmt"
)

// Inbound is one relay event from the carrier. Each wire kind has its own
// type so that bridge dispatch is an exhaustive type switch rather than
// field sniffing.
type Inbound interface {
	inbound()
}

// Setup opens a relay conversation and correlates it with a placed call.
type Setup struct {
	SessionID        string            `json:"sessionId"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	Direction        string            `json:"direction"`
	CallStatus       string            `json:"callStatus"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// Prompt carries caller speech. Last marks the end of the utterance; earlier
// fragments of the same utterance arrive with Last=false.
type Prompt struct {
	VoicePrompt string `json:"voicePrompt"`
	Lang        string `json:"lang"`
	Last        bool   `json:"last"`
}

// Interrupt reports that the caller spoke over the agent's reply.
type Interrupt struct {
	UtteranceUntilInterrupt  string `json:"utteranceUntilInterrupt"`
	DurationUntilInterruptMs int64  `json:"durationUntilInterruptMs"`
}

// DTMF is a single keypad digit.
type DTMF struct {
	Digit string `json:"digit"`
}

// ErrorEvent reports a carrier-side problem with the relay.
type ErrorEvent struct {
	Description string `json:"description"`
}

func (Setup) inbound()      {}
func (Prompt) inbound()     {}
func (Interrupt) inbound()  {}
func (DTMF) inbound()       {}
func (ErrorEvent) inbound() {}

// TextToken is one ordered chunk of an agent reply. The final chunk of a
// reply has Last=true; concatenating Token values yields the full reply.
type TextToken struct {
	Type  string `json:"type"` // always "text"
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

// End tells the carrier the agent is done with the call.
type End struct {
	Type        string `json:"type"` // always "end"
	HandoffData string `json:"handoffData,omitempty"`
}

func NewTextToken(token string, last bool) TextToken {
	return TextToken{Type: "text", Token: token, Last: last}
}

func NewEnd(handoffData string) End {
	return End{Type: "end", HandoffData: handoffData}
}

// DecodeInbound parses one wire message into its concrete type.
func DecodeInbound(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("relay: decode envelope: %w", err)
	}

	switch env.Type {
	case "setup":
		var m Setup
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("relay: decode setup: %w", err)
		}
		return m, nil
	case "prompt":
		var m Prompt
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("relay: decode prompt: %w", err)
		}
		return m, nil
	case "interrupt":
		var m Interrupt
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("relay: decode interrupt: %w", err)
		}
		return m, nil
	case "dtmf":
		var m DTMF
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("relay: decode dtmf: %w", err)
		}
		return m, nil
	case "error":
		var m ErrorEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("relay: decode error event: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("relay: unknown message type %q", env.Type)
	}
}
