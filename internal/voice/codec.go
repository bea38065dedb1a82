// ABOUTME: Codec abstraction over the Opus decoder
// ABOUTME: Sample-format dispatch for int16 and float32 PCM output
package voice

import (
	"encoding/binary"
	"fmt"
	"math"

	"gopkg.in/hraban/opus.v2"
)

// SampleFormat selects the PCM representation decoders produce. Each
// format carries its own decode and concealment path so per-call
// branching stays out of the decode loop.
type SampleFormat int

const (
	FormatInt16 SampleFormat = iota
	FormatFloat32
)

// BytesPerSample returns the width of one PCM sample.
func (f SampleFormat) BytesPerSample() int {
	if f == FormatFloat32 {
		return 4
	}
	return 2
}

func (f SampleFormat) String() string {
	if f == FormatFloat32 {
		return "float32"
	}
	return "int16"
}

// ParseSampleFormat maps a config string to a SampleFormat.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "int16":
		return FormatInt16, nil
	case "float32":
		return FormatFloat32, nil
	default:
		return 0, fmt.Errorf("unknown sample format %q", s)
	}
}

// Codec decodes compressed voice payloads to PCM bytes. Conceal
// synthesizes one frame of plausible audio for a lost payload. Reset
// discards decoder state after a stream restart.
type Codec interface {
	// Decode decodes one compressed payload into dst, returning the
	// number of PCM bytes written.
	Decode(data []byte, dst []byte) (int, error)

	// Conceal writes one loss-concealment frame into dst, returning
	// the number of PCM bytes written.
	Conceal(dst []byte) (int, error)

	// Reset discards all decoder state.
	Reset() error
}

// Samples per concealment frame. 40ms at the 24kHz voice rate, the
// size the transmitting side encodes with.
const plcFrameSamples = 960

// OpusCodec wraps an Opus decoder for one speaker.
type OpusCodec struct {
	dec      *opus.Decoder
	rate     int
	channels int
	format   SampleFormat
}

// NewOpusCodec creates a mono Opus codec producing the given sample format.
func NewOpusCodec(sampleRate int, format SampleFormat) (*OpusCodec, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusCodec{
		dec:      dec,
		rate:     sampleRate,
		channels: 1,
		format:   format,
	}, nil
}

// Decode decodes one Opus payload into dst.
func (c *OpusCodec) Decode(data []byte, dst []byte) (int, error) {
	switch c.format {
	case FormatFloat32:
		pcm := make([]float32, len(dst)/4)
		n, err := c.dec.DecodeFloat32(data, pcm)
		if err != nil {
			return 0, fmt.Errorf("opus decode: %w", err)
		}
		putFloat32(dst, pcm[:n*c.channels])
		return n * c.channels * 4, nil
	default:
		pcm := make([]int16, len(dst)/2)
		n, err := c.dec.Decode(data, pcm)
		if err != nil {
			return 0, fmt.Errorf("opus decode: %w", err)
		}
		putInt16(dst, pcm[:n*c.channels])
		return n * c.channels * 2, nil
	}
}

// Conceal synthesizes one frame for a payload lost in transit.
func (c *OpusCodec) Conceal(dst []byte) (int, error) {
	frameBytes := plcFrameSamples * c.format.BytesPerSample()
	if len(dst) < frameBytes {
		return 0, ErrShortBuffer
	}
	switch c.format {
	case FormatFloat32:
		pcm := make([]float32, plcFrameSamples)
		if err := c.dec.DecodePLCFloat32(pcm); err != nil {
			return 0, fmt.Errorf("opus plc: %w", err)
		}
		putFloat32(dst, pcm)
	default:
		pcm := make([]int16, plcFrameSamples)
		if err := c.dec.DecodePLC(pcm); err != nil {
			return 0, fmt.Errorf("opus plc: %w", err)
		}
		putInt16(dst, pcm)
	}
	return frameBytes, nil
}

// Reset recreates the underlying decoder. The Opus binding exposes no
// state reset, and decoder construction is cheap next to decoding.
func (c *OpusCodec) Reset() error {
	dec, err := opus.NewDecoder(c.rate, c.channels)
	if err != nil {
		return fmt.Errorf("failed to recreate opus decoder: %w", err)
	}
	c.dec = dec
	return nil
}

func putInt16(dst []byte, pcm []int16) {
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}

func putFloat32(dst []byte, pcm []float32) {
	for i, s := range pcm {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
