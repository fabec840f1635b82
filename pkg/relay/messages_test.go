package relay

import "testing"

func TestDecodeInboundSetup(t *testing.T) {
	raw := `{"type":"setup","sessionId":"S1","callSid":"CA1","from":"+15550001","to":"+15551234","direction":"outbound-api","customParameters":{"taskId":"t1"}}`
	msg, err := DecodeInbound([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	setup, ok := msg.(Setup)
	if !ok {
		t.Fatalf("expected Setup, got %T", msg)
	}
	if setup.CallSid != "CA1" || setup.SessionID != "S1" || setup.CustomParameters["taskId"] != "t1" {
		t.Fatalf("unexpected setup %+v", setup)
	}
}

func TestDecodeInboundPrompt(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"prompt","voicePrompt":"hello","lang":"en-US","last":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	prompt, ok := msg.(Prompt)
	if !ok || prompt.VoicePrompt != "hello" || !prompt.Last {
		t.Fatalf("unexpected prompt %+v (%T)", msg, msg)
	}
}

func TestDecodeInboundUnknownType(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"type":"mystery"}`)); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	if _, err := DecodeInbound([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestTokenizeRoundTrips(t *testing.T) {
	cases := []string{
		"",
		"one",
		"one two three",
		"  leading and  double  spaces ",
	}
	for _, in := range cases {
		var joined string
		for _, tok := range tokenize(in) {
			joined += tok
		}
		if joined != in {
			t.Errorf("tokenize(%q) concatenates to %q", in, joined)
		}
	}
}
