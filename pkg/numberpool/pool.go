package numberpool

import (
	"errors"
	"sync"

	"github.com/echodial/echodial/pkg/logger"
)

// ErrExhausted is returned by Acquire when every number is held. Callers are
// expected to retry later; holding a goroutine blocked on the pool is never
// correct here.
var ErrExhausted = errors.New("numberpool: no free outbound number")

// Pool tracks a fixed set of outbound caller-ID numbers and which call, if
// any, currently holds each one. A number is held by at most one call at a
// time.
type Pool struct {
	mu      sync.Mutex
	numbers []string
	holders map[string]string // number -> callID
}

func New(numbers []string) *Pool {
	return &Pool{
		numbers: append([]string(nil), numbers...),
		holders: make(map[string]string, len(numbers)),
	}
}

// Acquire reserves the first free number for callID. Returns ErrExhausted
// when none is free.
func (p *Pool) Acquire(callID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range p.numbers {
		if _, held := p.holders[n]; !held {
			p.holders[n] = callID
			logger.DebugCF("numberpool", "Number reserved", map[string]interface{}{
				"number": n, "call_id": callID, "in_use": len(p.holders), "total": len(p.numbers),
			})
			return n, nil
		}
	}
	return "", ErrExhausted
}

// Release frees number if callID still holds it. A release with a stale or
// unknown holder is a no-op, so racing cleanup paths can never free a number
// that has since been reassigned to another call.
func (p *Pool) Release(number, callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if holder, held := p.holders[number]; !held || holder != callID {
		return
	}
	delete(p.holders, number)
	logger.DebugCF("numberpool", "Number released", map[string]interface{}{
		"number": number, "in_use": len(p.holders), "total": len(p.numbers),
	})
}

// Holder reports the call currently holding number.
func (p *Pool) Holder(number string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	callID, ok := p.holders[number]
	return callID, ok
}

// Snapshot returns number -> holding callID for every held number.
func (p *Pool) Snapshot() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.holders))
	for n, c := range p.holders {
		out[n] = c
	}
	return out
}

// Size returns the total number of pooled numbers.
func (p *Pool) Size() int {
	return len(p.numbers)
}
