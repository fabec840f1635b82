package sms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/echodial/echodial/pkg/numberpool"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []string // "from->to"
	err  error
}

func (tr *fakeTransport) SendSMS(_ context.Context, from, to, _ string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.err != nil {
		return tr.err
	}
	tr.sent = append(tr.sent, from+"->"+to)
	return nil
}

func TestSendAllocatesFromPool(t *testing.T) {
	pool := numberpool.New([]string{"+15550001"})
	tr := &fakeTransport{}
	s := NewSender(pool, tr)

	err := s.Send(context.Background(), Request{CallID: "CA1", To: "+15551234", Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0] != "+15550001->+15551234" {
		t.Fatalf("unexpected send %v", tr.sent)
	}
	if len(pool.Snapshot()) != 0 {
		t.Fatalf("number must be released after send")
	}
}

func TestSendExplicitFromSkipsPool(t *testing.T) {
	pool := numberpool.New(nil) // exhausted pool must not matter
	tr := &fakeTransport{}
	s := NewSender(pool, tr)

	err := s.Send(context.Background(), Request{To: "+15551234", Body: "hi", FromNumber: "+15559999"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if tr.sent[0] != "+15559999->+15551234" {
		t.Fatalf("explicit from ignored: %v", tr.sent)
	}
}

func TestSendPoolExhausted(t *testing.T) {
	pool := numberpool.New(nil)
	s := NewSender(pool, &fakeTransport{})

	err := s.Send(context.Background(), Request{CallID: "CA1", To: "+15551234", Body: "hi"})
	if !errors.Is(err, numberpool.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestSendReleasesNumberOnTransportError(t *testing.T) {
	pool := numberpool.New([]string{"+15550001"})
	tr := &fakeTransport{err: errors.New("gateway down")}
	s := NewSender(pool, tr)

	if err := s.Send(context.Background(), Request{CallID: "CA1", To: "+15551234", Body: "hi"}); err == nil {
		t.Fatalf("expected transport error")
	}
	if len(pool.Snapshot()) != 0 {
		t.Fatalf("number must be released even when the send fails")
	}
}

func TestSendRequiresToAndBody(t *testing.T) {
	s := NewSender(numberpool.New([]string{"+15550001"}), &fakeTransport{})

	if err := s.Send(context.Background(), Request{Body: "hi"}); err == nil {
		t.Fatalf("expected error without recipient")
	}
	if err := s.Send(context.Background(), Request{To: "+15551234"}); err == nil {
		t.Fatalf("expected error without body")
	}
}
