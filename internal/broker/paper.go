package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/herambskanda/teletrade/internal/logger"
)

// Paper is an in-memory execution back end for dry runs and tests. It
// honors the at-most-once contract: repeated Execute calls with the same
// idempotency key return the original ack instead of placing again.
type Paper struct {
	mu     sync.Mutex
	placed map[string]*Ack // idempotency key -> ack

	// FailFirst makes the first N calls per key fail with a transport
	// error before succeeding, to exercise retry paths.
	FailFirst int
	attempts  map[string]int

	// RejectAll makes every new placement a broker rejection.
	RejectAll string

	// Latency is applied per call when positive.
	Latency time.Duration
}

func NewPaper() *Paper {
	return &Paper{
		placed:   make(map[string]*Ack),
		attempts: make(map[string]int),
	}
}

func (p *Paper) Execute(ctx context.Context, idempotencyKey string, req Request) (*Ack, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return nil, &TransportError{Err: ctx.Err()}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ack, ok := p.placed[idempotencyKey]; ok {
		logger.Debugf("paper: replaying ack for key %s", idempotencyKey)
		return ack, nil
	}

	p.attempts[idempotencyKey]++
	if p.attempts[idempotencyKey] <= p.FailFirst {
		return nil, &TransportError{Err: fmt.Errorf("injected transport failure %d", p.attempts[idempotencyKey])}
	}
	if p.RejectAll != "" {
		return nil, &RejectedError{Reason: p.RejectAll}
	}

	ack := &Ack{BrokerID: "paper-" + uuid.NewString()[:8], PlacedAt: time.Now()}
	p.placed[idempotencyKey] = ack
	logger.Infof("paper: placed %s %s qty=%s key=%s id=%s",
		req.Side, req.Symbol, req.Quantity.String(), idempotencyKey, ack.BrokerID)
	return ack, nil
}

// Placed reports how many distinct orders were accepted.
func (p *Paper) Placed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.placed)
}

// Attempts reports the call count for one idempotency key.
func (p *Paper) Attempts(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[key]
}
