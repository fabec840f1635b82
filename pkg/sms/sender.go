package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/echodial/echodial/pkg/logger"
	"github.com/echodial/echodial/pkg/numberpool"
)

// Transport delivers one SMS. Delivery itself is an external concern; this
// package only decides which number the message is sent from.
type Transport interface {
	SendSMS(ctx context.Context, from, to, body string) error
}

// Request is one outbound text message. When FromNumber is empty a number is
// allocated from the shared pool, keyed by CallID, for the duration of the
// send.
type Request struct {
	CallID     string
	To         string
	Body       string
	FromNumber string
}

type Sender struct {
	pool      *numberpool.Pool
	transport Transport
}

func NewSender(pool *numberpool.Pool, transport Transport) *Sender {
	return &Sender{pool: pool, transport: transport}
}

func (s *Sender) Send(ctx context.Context, req Request) error {
	if req.To == "" || req.Body == "" {
		return fmt.Errorf("sms: to and body are required")
	}

	from := req.FromNumber
	if from == "" {
		number, err := s.pool.Acquire(req.CallID)
		if err != nil {
			if errors.Is(err, numberpool.ErrExhausted) {
				return fmt.Errorf("sms: no number available for call %s: %w", req.CallID, err)
			}
			return err
		}
		from = number
		defer s.pool.Release(number, req.CallID)
	}

	if err := s.transport.SendSMS(ctx, from, req.To, req.Body); err != nil {
		return fmt.Errorf("sms: send to %s: %w", req.To, err)
	}

	logger.InfoCF("sms", "SMS sent", map[string]interface{}{
		"call_id": req.CallID, "to": req.To, "from": from,
	})
	return nil
}
