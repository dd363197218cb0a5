package reconcile

import (
	"context"
	"time"
)

// Pacer enforces the fixed inter-record delay of the reconciliation loop,
// keeping the sweep under the provider's rate ceiling.
type Pacer interface {
	Pace(ctx context.Context)
}

type fixedDelayPacer struct {
	delay time.Duration
}

func NewFixedDelayPacer(delay time.Duration) Pacer {
	return &fixedDelayPacer{delay: delay}
}

func (p *fixedDelayPacer) Pace(ctx context.Context) {
	if p.delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.delay):
	}
}
