package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/echodial/echodial/pkg/logger"
	"github.com/echodial/echodial/pkg/providers"
)

// Fact is one structured memory derived from a call transcript.
type Fact struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Category string `json:"category"`
}

// ContactUpdate is an optional contact derived from a call; at most one per
// call.
type ContactUpdate struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Company     string `json:"company"`
	Category    string `json:"category"`
	Notes       string `json:"notes"`
}

// Result is what one extraction produced. Zero facts and a nil contact is a
// perfectly valid outcome.
type Result struct {
	Facts   []Fact
	Contact *ContactUpdate
}

// Request assembles everything the reasoning collaborator needs.
type Request struct {
	UserProfile      string
	ExistingMemories []Fact
	BusinessName     string
	Purpose          string
	Transcript       string
}

var validCategories = map[string]bool{
	"preference": true,
	"fact":       true,
	"medical":    true,
	"financial":  true,
	"contact":    true,
	"general":    true,
}

// Extractor runs the post-call knowledge extraction step. Extraction never
// fails the underlying call: provider errors and unusable output both
// degrade to an empty Result.
type Extractor struct {
	provider providers.LLMProvider
	model    string
}

func NewExtractor(provider providers.LLMProvider, model string) *Extractor {
	return &Extractor{provider: provider, model: model}
}

func (e *Extractor) Extract(ctx context.Context, req Request) Result {
	resp, err := e.provider.Chat(ctx, extractionSystemPrompt,
		[]providers.Message{{Role: "user", Content: buildExtractionPrompt(req)}},
		e.model,
		providers.Options{MaxTokens: 1024, Temperature: 0.2},
	)
	if err != nil {
		logger.WarnCF("memory", "Extraction call failed, degrading to no facts", map[string]interface{}{
			"business": req.BusinessName, "error": err.Error(),
		})
		return Result{}
	}

	result, err := parseExtraction(resp.Content)
	if err != nil {
		logger.WarnCF("memory", "Unusable extraction output, degrading to no facts", map[string]interface{}{
			"business": req.BusinessName, "error": err.Error(),
		})
		return Result{}
	}

	logger.InfoCF("memory", "Extraction complete", map[string]interface{}{
		"business": req.BusinessName, "facts": len(result.Facts), "has_contact": result.Contact != nil,
	})
	return result
}

const extractionSystemPrompt = `You extract structured knowledge from phone call transcripts.
Respond with JSON only, in this exact shape:
{"memories": [{"key": "...", "value": "...", "category": "preference|fact|medical|financial|contact|general"}], "contact_update": {"name": "...", "phone_number": "...", "company": "...", "category": "...", "notes": "..."} or null}
Only record durable, useful information. When nothing is worth keeping, return {"memories": [], "contact_update": null}.`

func buildExtractionPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call to %s. Purpose: %s\n\n", req.BusinessName, req.Purpose)
	if req.UserProfile != "" {
		fmt.Fprintf(&b, "User profile: %s\n\n", req.UserProfile)
	}
	if len(req.ExistingMemories) > 0 {
		b.WriteString("Already known (do not repeat):\n")
		for _, m := range req.ExistingMemories {
			fmt.Fprintf(&b, "- %s: %s\n", m.Key, m.Value)
		}
		b.WriteString("\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(req.Transcript)
	return b.String()
}

type extractionPayload struct {
	Memories      []Fact         `json:"memories"`
	ContactUpdate *ContactUpdate `json:"contact_update"`
}

func parseExtraction(content string) (Result, error) {
	raw := stripCodeFence(strings.TrimSpace(content))
	if raw == "" {
		return Result{}, fmt.Errorf("empty extraction response")
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Result{}, fmt.Errorf("decode extraction response: %w", err)
	}

	facts := make([]Fact, 0, len(payload.Memories))
	for _, m := range payload.Memories {
		if strings.TrimSpace(m.Key) == "" || strings.TrimSpace(m.Value) == "" {
			continue
		}
		if !validCategories[m.Category] {
			m.Category = "general"
		}
		facts = append(facts, m)
	}

	contact := payload.ContactUpdate
	if contact != nil && strings.TrimSpace(contact.Name) == "" && strings.TrimSpace(contact.PhoneNumber) == "" {
		contact = nil
	}

	return Result{Facts: facts, Contact: contact}, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
