package rng

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync/atomic"
)

// Software draws trial bits from the operating system CSPRNG. This is the
// default engine and the recommended backup for hardware setups.
type Software struct {
	failed atomic.Bool
}

// NewSoftware returns a software entropy source.
func NewSoftware() *Software {
	return &Software{}
}

func (s *Software) Draw(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var buf [TrialBits / 8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.failed.Store(true)
		return 0, fmt.Errorf("%w: crypto/rand: %v", ErrSourceFailure, err)
	}
	s.failed.Store(false)
	return popcount200(buf[:]), nil
}

func (s *Software) Name() string { return "software" }

func (s *Software) Healthy() bool { return !s.failed.Load() }
