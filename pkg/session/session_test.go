package session

import (
	"errors"
	"testing"
	"time"
)

func TestMarkActiveIsIdempotent(t *testing.T) {
	s := New("CA1")
	s.MarkActive()
	s.MarkActive()

	select {
	case <-s.Activated():
	case <-time.After(time.Second):
		t.Fatalf("Activated never fired")
	}
}

func TestFinishFirstOutcomeWins(t *testing.T) {
	s := New("CA1")
	s.Finish(Outcome{Completed: true, HandoffData: `{"ok":true}`})
	s.Finish(Outcome{Err: errors.New("late cleanup")})

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("Done never fired")
	}

	o := s.Outcome()
	if !o.Completed || o.Err != nil {
		t.Fatalf("later Finish overwrote the first outcome: %+v", o)
	}
	if o.HandoffData != `{"ok":true}` {
		t.Fatalf("unexpected handoff data %q", o.HandoffData)
	}
}

func TestAppendTurnSkipsBlankText(t *testing.T) {
	s := New("CA1")
	s.AppendTurn(Turn{Role: "caller", Text: "   "})
	s.AppendTurn(Turn{Role: "caller", Text: ""})
	s.AppendTurn(Turn{Role: "caller", Text: "hello"})

	turns := s.Transcript()
	if len(turns) != 1 || turns[0].Text != "hello" {
		t.Fatalf("unexpected transcript %v", turns)
	}
}

func TestTranscriptText(t *testing.T) {
	s := New("CA1")
	s.AppendTurn(Turn{Role: "agent", Text: "Hi, calling about a booking."})
	s.AppendTurn(Turn{Role: "caller", Text: "Sure, what time?"})
	s.AppendTurn(Turn{Role: "dtmf", Text: "3"})

	want := "agent: Hi, calling about a booking.\ncaller: Sure, what time?\ndtmf: 3"
	if got := s.TranscriptText(); got != want {
		t.Fatalf("transcript text mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestTranscriptReturnsCopy(t *testing.T) {
	s := New("CA1")
	s.AppendTurn(Turn{Role: "caller", Text: "hello"})

	turns := s.Transcript()
	turns[0].Text = "mutated"

	if s.Transcript()[0].Text != "hello" {
		t.Fatalf("Transcript exposed internal state")
	}
}

func TestRegistryPutGetDelete(t *testing.T) {
	r := NewRegistry()
	s := New("CA1")
	r.Put("CA1", s)

	got, ok := r.Get("CA1")
	if !ok || got != s {
		t.Fatalf("Get returned %v ok=%v", got, ok)
	}
	if !r.Has("CA1") || r.Len() != 1 {
		t.Fatalf("registry bookkeeping wrong: has=%v len=%d", r.Has("CA1"), r.Len())
	}

	r.Delete("CA1")
	r.Delete("CA1") // no-op
	if r.Has("CA1") || r.Len() != 0 {
		t.Fatalf("expected empty registry after delete")
	}
}

func TestRegistryPutReplacesExisting(t *testing.T) {
	r := NewRegistry()
	first := New("CA1")
	second := New("CA1")
	r.Put("CA1", first)
	r.Put("CA1", second)

	got, _ := r.Get("CA1")
	if got != second {
		t.Fatalf("expected replacement session")
	}
	if r.Len() != 1 {
		t.Fatalf("expected exactly one session per call, got %d", r.Len())
	}
}
