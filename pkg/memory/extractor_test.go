package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/echodial/echodial/pkg/providers"
)

type fakeProvider struct {
	content string
	err     error
	lastMsg string
}

func (p *fakeProvider) Chat(_ context.Context, _ string, messages []providers.Message, _ string, _ providers.Options) (*providers.Response, error) {
	if len(messages) > 0 {
		p.lastMsg = messages[len(messages)-1].Content
	}
	if p.err != nil {
		return nil, p.err
	}
	return &providers.Response{Content: p.content, FinishReason: "stop"}, nil
}

func testRequest() Request {
	return Request{
		UserProfile:  "vegetarian, lives in Lisbon",
		BusinessName: "Luigi's Pizzeria",
		Purpose:      "book a table",
		Transcript:   "agent: Hi, table for two?\ncaller: Sure, 7pm works.",
	}
}

func TestExtractParsesFactsAndContact(t *testing.T) {
	p := &fakeProvider{content: `{"memories":[{"key":"closing_time","value":"10pm","category":"fact"},{"key":"favorite_table","value":"by the window","category":"preference"}],"contact_update":{"name":"Luigi","phone_number":"+15551234","company":"Luigi's Pizzeria","category":"restaurant","notes":"owner"}}`}
	e := NewExtractor(p, "claude-haiku-4-5")

	res := e.Extract(context.Background(), testRequest())
	if len(res.Facts) != 2 {
		t.Fatalf("expected 2 facts, got %v", res.Facts)
	}
	if res.Contact == nil || res.Contact.Name != "Luigi" {
		t.Fatalf("expected contact update, got %+v", res.Contact)
	}
	if !strings.Contains(p.lastMsg, "Transcript:") {
		t.Fatalf("transcript missing from extraction prompt: %q", p.lastMsg)
	}
}

func TestExtractEmptyResultIsValid(t *testing.T) {
	p := &fakeProvider{content: `{"memories":[],"contact_update":null}`}
	e := NewExtractor(p, "claude-haiku-4-5")

	res := e.Extract(context.Background(), testRequest())
	if len(res.Facts) != 0 || res.Contact != nil {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestExtractDegradesOnProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("rate limited")}
	e := NewExtractor(p, "claude-haiku-4-5")

	res := e.Extract(context.Background(), testRequest())
	if len(res.Facts) != 0 || res.Contact != nil {
		t.Fatalf("provider errors must degrade to empty result, got %+v", res)
	}
}

func TestExtractDegradesOnMalformedOutput(t *testing.T) {
	p := &fakeProvider{content: "I could not find anything useful."}
	e := NewExtractor(p, "claude-haiku-4-5")

	res := e.Extract(context.Background(), testRequest())
	if len(res.Facts) != 0 || res.Contact != nil {
		t.Fatalf("malformed output must degrade to empty result, got %+v", res)
	}
}

func TestExtractStripsCodeFence(t *testing.T) {
	p := &fakeProvider{content: "```json\n{\"memories\":[{\"key\":\"k\",\"value\":\"v\",\"category\":\"fact\"}],\"contact_update\":null}\n```"}
	e := NewExtractor(p, "claude-haiku-4-5")

	res := e.Extract(context.Background(), testRequest())
	if len(res.Facts) != 1 || res.Facts[0].Key != "k" {
		t.Fatalf("fenced JSON not parsed: %+v", res)
	}
}

func TestParseExtractionNormalizesCategories(t *testing.T) {
	res, err := parseExtraction(`{"memories":[{"key":"k","value":"v","category":"made-up"}],"contact_update":null}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Facts[0].Category != "general" {
		t.Fatalf("unknown category should normalize to general, got %q", res.Facts[0].Category)
	}
}

func TestParseExtractionDropsBlankFacts(t *testing.T) {
	res, err := parseExtraction(`{"memories":[{"key":"","value":"v"},{"key":"k","value":"  "},{"key":"good","value":"yes","category":"fact"}],"contact_update":null}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Facts) != 1 || res.Facts[0].Key != "good" {
		t.Fatalf("blank facts should be dropped, got %v", res.Facts)
	}
}

func TestParseExtractionDropsAnonymousContact(t *testing.T) {
	res, err := parseExtraction(`{"memories":[],"contact_update":{"company":"Somewhere Inc"}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Contact != nil {
		t.Fatalf("contact without name or phone should be dropped, got %+v", res.Contact)
	}
}

func TestBuildExtractionPromptIncludesExistingMemories(t *testing.T) {
	req := testRequest()
	req.ExistingMemories = []Fact{{Key: "allergy", Value: "peanuts", Category: "medical"}}

	prompt := buildExtractionPrompt(req)
	if !strings.Contains(prompt, "allergy: peanuts") {
		t.Fatalf("existing memories missing from prompt: %q", prompt)
	}
	if !strings.Contains(prompt, "do not repeat") {
		t.Fatalf("dedupe instruction missing from prompt: %q", prompt)
	}
}
