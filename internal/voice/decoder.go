// ABOUTME: Sequence recovery decoder for one speaker's voice stream
// ABOUTME: Repairs gaps and restarts using loss concealment
package voice

import (
	"encoding/binary"
	"errors"
	"fmt"

	"demovoice/pkg/steamvoice"
)

var (
	// ErrInsufficientData means a payload declared more bytes than
	// the message holds. The message is malformed; later messages
	// are unaffected.
	ErrInsufficientData = errors.New("voice: insufficient payload data")

	// ErrShortBuffer means decoded output would exceed the caller's
	// buffer. This is a hard stop, not truncation: silently dropping
	// tail audio would desynchronize the timeline.
	ErrShortBuffer = errors.New("voice: output buffer too small")

	// ErrSampleRateMismatch means a speaker announced a rate other
	// than the pipeline's fixed rate.
	ErrSampleRateMismatch = errors.New("voice: sample rate mismatch")
)

// A length entry of 0xFFFF carries no payload and orders a decoder reset.
const resetSentinel = 0xFFFF

// DefaultMaxConceal bounds concealment cost when sequence numbers jump
// arbitrarily, e.g. after a long silence or corruption.
const DefaultMaxConceal = 10

// Decoder turns one speaker's voice messages into PCM, repairing
// lost, duplicated and out-of-order payloads along the way. Each
// speaker owns exactly one Decoder for the life of a conversion.
type Decoder struct {
	codec      Codec
	format     SampleFormat
	rate       int
	seq        uint16
	maxConceal int
}

// NewDecoder creates a decoder over codec for a pipeline running at
// sampleRate. maxConceal caps the concealment frames generated for a
// single sequence gap; zero selects DefaultMaxConceal.
func NewDecoder(codec Codec, format SampleFormat, sampleRate, maxConceal int) *Decoder {
	if maxConceal <= 0 {
		maxConceal = DefaultMaxConceal
	}
	return &Decoder{
		codec:      codec,
		format:     format,
		rate:       sampleRate,
		maxConceal: maxConceal,
	}
}

// DecodeMessage decodes the packets of one voice message into dst and
// returns the number of PCM bytes produced. On error the caller must
// discard the partial output; the decoder itself remains usable for
// subsequent messages.
func (d *Decoder) DecodeMessage(packets []steamvoice.Packet, dst []byte) (int, error) {
	total := 0
	for _, p := range packets {
		switch p.Type {
		case steamvoice.PacketSampleRate:
			if int(p.Rate) != d.rate {
				return total, fmt.Errorf("%w: announced %d, pipeline %d", ErrSampleRateMismatch, p.Rate, d.rate)
			}
		case steamvoice.PacketSilence:
			n := int(p.Samples) * d.format.BytesPerSample()
			if total+n > len(dst) {
				return total, ErrShortBuffer
			}
			clear(dst[total : total+n])
			total += n
		case steamvoice.PacketOpus:
			n, err := d.decodeStream(p.Data, dst[total:])
			total += n
			if err != nil {
				return total, err
			}
			if total >= len(dst) {
				return total, ErrShortBuffer
			}
		}
	}
	return total, nil
}

// decodeStream walks the length/sequence-prefixed entries of one
// compressed payload. Layout per entry: 16-bit little-endian length
// (0xFFFF resets the decoder), 16-bit sequence number, then length
// bytes of compressed audio.
func (d *Decoder) decodeStream(data []byte, dst []byte) (int, error) {
	total := 0
	for len(data) > 2 {
		length := binary.LittleEndian.Uint16(data)
		data = data[2:]

		if length == resetSentinel {
			if err := d.codec.Reset(); err != nil {
				return total, err
			}
			d.seq = 0
			continue
		}

		if len(data) < 2 {
			return total, ErrInsufficientData
		}
		seq := binary.LittleEndian.Uint16(data)
		data = data[2:]

		if seq < d.seq {
			// The sender restarted its stream. Sequence numbering
			// picks up from the new value below.
			if err := d.codec.Reset(); err != nil {
				return total, err
			}
		} else {
			lost := int(seq - d.seq)
			if lost > d.maxConceal {
				lost = d.maxConceal
			}
			for i := 0; i < lost; i++ {
				n, err := d.codec.Conceal(dst[total:])
				total += n
				if err != nil {
					return total, err
				}
				if total >= len(dst) {
					return total, ErrShortBuffer
				}
			}
		}
		d.seq = seq + 1

		if len(data) < int(length) {
			return total, ErrInsufficientData
		}
		n, err := d.codec.Decode(data[:length], dst[total:])
		total += n
		if err != nil {
			return total, err
		}
		data = data[length:]
		if total >= len(dst) {
			return total, ErrShortBuffer
		}
	}
	return total, nil
}
