// Package rng provides the trial entropy sources. A trial value is the
// popcount of 200 independent binary draws, so values fall in [0, 200]
// with expected mean 100 and expected variance 50.
package rng

import (
	"context"
	"errors"
	"math/bits"
)

// TrialBits is the number of binary draws summed into one trial value.
const TrialBits = 200

// ErrSourceFailure is returned when a source cannot produce a value.
var ErrSourceFailure = errors.New("trial source failure")

// Source produces one raw trial value per call.
type Source interface {
	// Draw returns the next trial value in [0, TrialBits].
	Draw(ctx context.Context) (int, error)

	// Name identifies the engine (software, pseudo, hardware, hybrid).
	Name() string

	// Healthy reports whether the source is currently able to produce values.
	Healthy() bool
}

// New constructs a source by engine name. Hardware engines need a device
// path; pseudo engines accept a seed (0 seeds from the clock).
func New(engine, devicePath string, seed uint64) (Source, error) {
	switch engine {
	case "software":
		return NewSoftware(), nil
	case "pseudo":
		return NewPseudo(seed), nil
	case "hardware":
		return NewHardware(devicePath), nil
	default:
		return nil, errors.New("unknown rng engine: " + engine)
	}
}

// popcount200 sums the low 200 bits of a 25-byte buffer.
func popcount200(buf []byte) int {
	sum := 0
	for _, b := range buf[:TrialBits/8] {
		sum += bits.OnesCount8(b)
	}
	return sum
}
