// ABOUTME: Output-rate conversion via libsamplerate
// ABOUTME: One converter instance per speaker track
package resample

import (
	"fmt"

	"github.com/dh1tw/gosamplerate"
)

// Converter resamples a mono float32 stream at a fixed ratio.
type Converter struct {
	src   gosamplerate.Src
	ratio float64
}

// New creates a converter from one sample rate to another.
func New(fromRate, toRate, channels int) (*Converter, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid rates %d -> %d", fromRate, toRate)
	}
	src, err := gosamplerate.New(gosamplerate.SRC_SINC_MEDIUM_QUALITY, channels, 8192)
	if err != nil {
		return nil, fmt.Errorf("failed to create samplerate converter: %w", err)
	}
	return &Converter{
		src:   src,
		ratio: float64(toRate) / float64(fromRate),
	}, nil
}

// Process converts a block of samples. Output length varies slightly
// per call; the converter carries fractional positions across calls.
func (c *Converter) Process(in []float32) ([]float32, error) {
	out, err := c.src.Process(in, c.ratio, false)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return out, nil
}

// Drain flushes samples still buffered inside the converter.
func (c *Converter) Drain() ([]float32, error) {
	out, err := c.src.Process(nil, c.ratio, true)
	if err != nil {
		return nil, fmt.Errorf("resample drain: %w", err)
	}
	return out, nil
}

// Close releases the libsamplerate state.
func (c *Converter) Close() error {
	return gosamplerate.Delete(c.src)
}
