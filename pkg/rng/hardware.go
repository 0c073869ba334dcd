package rng

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Hardware draws trial bits from a raw entropy device (for example
// /dev/hwrng or a USB REG exposing a character device). The device is
// opened lazily on first draw and kept open across draws.
type Hardware struct {
	path string

	mu     sync.Mutex
	device *os.File
	failed bool
}

// NewHardware returns a hardware source reading from the given device path.
func NewHardware(path string) *Hardware {
	return &Hardware{path: path}
}

func (h *Hardware) Draw(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.device == nil {
		f, err := os.Open(h.path)
		if err != nil {
			h.failed = true
			return 0, fmt.Errorf("%w: open %s: %v", ErrSourceFailure, h.path, err)
		}
		h.device = f
	}

	var buf [TrialBits / 8]byte
	if _, err := io.ReadFull(h.device, buf[:]); err != nil {
		h.failed = true
		h.device.Close()
		h.device = nil
		return 0, fmt.Errorf("%w: read %s: %v", ErrSourceFailure, h.path, err)
	}
	h.failed = false
	return popcount200(buf[:]), nil
}

func (h *Hardware) Name() string { return "hardware" }

func (h *Hardware) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.failed
}

// Close releases the underlying device.
func (h *Hardware) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.device == nil {
		return nil
	}
	err := h.device.Close()
	h.device = nil
	return err
}
