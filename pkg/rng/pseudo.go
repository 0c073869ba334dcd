package rng

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Pseudo draws trial bits from a seeded PCG generator. Deterministic for a
// fixed seed, which makes it the engine of choice for tests and replay.
type Pseudo struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPseudo returns a pseudo-random source. A zero seed is replaced with
// the current clock so unseeded instances still differ between runs.
func NewPseudo(seed uint64) *Pseudo {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Pseudo{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (p *Pseudo) Draw(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var buf [TrialBits / 8]byte
	for i := 0; i < len(buf); i += 8 {
		v := p.rng.Uint64()
		for j := 0; j < 8 && i+j < len(buf); j++ {
			buf[i+j] = byte(v >> (8 * j))
		}
	}
	return popcount200(buf[:]), nil
}

func (p *Pseudo) Name() string { return "pseudo" }

func (p *Pseudo) Healthy() bool { return true }
