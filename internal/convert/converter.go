// ABOUTME: Timeline driver for demo-to-audio conversion
// ABOUTME: Pre-scans speakers, drives decoding per frame, flushes tracks
package convert

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"demovoice/internal/timeline"
	"demovoice/internal/voice"
	"demovoice/pkg/steamvoice"
)

// ErrUnknownSpeaker means the running pass saw a speaker the pre-scan
// did not. That is a logic defect, not bad input, so the conversion
// aborts rather than continuing with a desynchronized timeline.
var ErrUnknownSpeaker = errors.New("convert: speaker not discovered during scan")

// Samples of scratch space for one message's decoded output. The
// engine uses a buffer half this size internally, but at a little
// under half the pipeline rate; scaled up it has always been enough.
const decodeBufferSamples = 8192

// Frame is one replay tick: an absolute timestamp and the raw voice
// messages broadcast in it.
type Frame struct {
	Time  float64
	Voice [][]byte
}

// Source yields replay frames in timeline order. Next returns io.EOF
// after the last frame.
type Source interface {
	Next() (*Frame, error)
}

// OpenFunc opens a fresh pass over the replay. The converter makes two
// passes: one to discover speakers, one to decode.
type OpenFunc func() (Source, error)

// SinkFunc creates the downstream frame sink for one speaker. Called
// once per speaker between the scanning and running passes so every
// output stream is registered before any audio flows.
type SinkFunc func(speakerID uint64) (timeline.FrameSink, error)

// CodecFunc creates the per-speaker audio codec.
type CodecFunc func() (voice.Codec, error)

// Config holds the conversion parameters.
type Config struct {
	SampleRate    int
	SampleFormat  voice.SampleFormat
	FrameSamples  int
	WarmupSeconds float64
	MaxConceal    int
}

// Converter runs a single-pass batch conversion over an already
// complete replay. It is not safe for concurrent use and is consumed
// by Run.
type Converter struct {
	cfg      Config
	open     OpenFunc
	newCodec CodecFunc
	newSink  SinkFunc

	speakers map[uint64]*speakerState
	scratch  []byte
}

type speakerState struct {
	dec   *voice.Decoder
	track *timeline.Track
	sink  timeline.FrameSink
}

// New creates a converter.
func New(cfg Config, open OpenFunc, newCodec CodecFunc, newSink SinkFunc) *Converter {
	return &Converter{
		cfg:      cfg,
		open:     open,
		newCodec: newCodec,
		newSink:  newSink,
		speakers: make(map[uint64]*speakerState),
		scratch:  make([]byte, decodeBufferSamples*cfg.SampleFormat.BytesPerSample()),
	}
}

// Run performs the conversion: scan, run, flush.
func (c *Converter) Run() error {
	if err := c.scan(); err != nil {
		return err
	}
	if err := c.createSpeakers(); err != nil {
		return err
	}
	if err := c.runPass(); err != nil {
		return err
	}
	return c.flush()
}

// Speakers returns the tracks keyed by speaker, populated after Run.
func (c *Converter) Speakers() map[uint64]*timeline.Track {
	tracks := make(map[uint64]*timeline.Track, len(c.speakers))
	for id, s := range c.speakers {
		tracks[id] = s.track
	}
	return tracks
}

// scan walks all frames once, decoding nothing, to discover the full
// speaker set up front.
func (c *Converter) scan() error {
	src, err := c.open()
	if err != nil {
		return err
	}
	defer closeSource(src)

	frames := 0
	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("scan pass: %w", err)
		}
		frames++
		for _, raw := range frame.Voice {
			msg, err := steamvoice.Parse(raw)
			if err != nil {
				log.Warn().Err(err).Float64("time", frame.Time).Msg("skipping unparseable voice message")
				continue
			}
			if _, ok := c.speakers[msg.SpeakerID]; !ok {
				c.speakers[msg.SpeakerID] = nil
			}
		}
	}
	log.Info().Int("frames", frames).Int("speakers", len(c.speakers)).Msg("scan complete")
	return nil
}

// createSpeakers builds the decoder, track and sink for every speaker
// found by the scan.
func (c *Converter) createSpeakers() error {
	for id := range c.speakers {
		codec, err := c.newCodec()
		if err != nil {
			return fmt.Errorf("codec for speaker %d: %w", id, err)
		}
		sink, err := c.newSink(id)
		if err != nil {
			return fmt.Errorf("sink for speaker %d: %w", id, err)
		}
		c.speakers[id] = &speakerState{
			dec: voice.NewDecoder(codec, c.cfg.SampleFormat, c.cfg.SampleRate, c.cfg.MaxConceal),
			track: timeline.New(timeline.Config{
				SampleRate:     c.cfg.SampleRate,
				BytesPerSample: c.cfg.SampleFormat.BytesPerSample(),
				FrameSamples:   c.cfg.FrameSamples,
				WarmupSeconds:  c.cfg.WarmupSeconds,
			}, sink),
			sink: sink,
		}
		log.Debug().Uint64("speaker", id).Msg("speaker registered")
	}
	return nil
}

// runPass drives decoding and the per-speaker timelines over every
// frame in order.
func (c *Converter) runPass() error {
	src, err := c.open()
	if err != nil {
		return err
	}
	defer closeSource(src)

	first := true
	var prev float64
	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("run pass: %w", err)
		}

		for _, raw := range frame.Voice {
			if err := c.decodeMessage(raw, frame.Time); err != nil {
				return err
			}
		}

		dt := 0.0
		if !first {
			dt = max(0, frame.Time-prev)
		}
		first = false
		prev = frame.Time

		// Frames sharing a timestamp are sections of the same game
		// frame; their voice data is buffered above but they add no
		// new due samples.
		if dt == 0 {
			continue
		}

		// Every speaker advances, not just those who spoke: silent
		// speakers still have to keep pace with the clock.
		for _, s := range c.speakers {
			if err := s.track.Advance(dt, frame.Time); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeMessage decodes one voice message and buffers the PCM on the
// speaker's track. Malformed messages are skipped; a sample-rate
// mismatch or unknown speaker aborts the conversion.
func (c *Converter) decodeMessage(raw []byte, t float64) error {
	msg, err := steamvoice.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Float64("time", t).Msg("skipping unparseable voice message")
		return nil
	}
	s, ok := c.speakers[msg.SpeakerID]
	if !ok || s == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSpeaker, msg.SpeakerID)
	}

	n, err := s.dec.DecodeMessage(msg.Packets, c.scratch)
	if err != nil {
		if errors.Is(err, voice.ErrSampleRateMismatch) {
			return fmt.Errorf("speaker %d at %.3fs: %w", msg.SpeakerID, t, err)
		}
		// Message-local failure: drop its audio, keep converting.
		log.Warn().Err(err).Uint64("speaker", msg.SpeakerID).Float64("time", t).Msg("voice message dropped")
		return nil
	}
	s.track.Buffer(c.scratch[:n])
	return nil
}

// flush drains every track and closes sinks that want closing.
func (c *Converter) flush() error {
	for id, s := range c.speakers {
		if err := s.track.Flush(); err != nil {
			return fmt.Errorf("flushing speaker %d: %w", id, err)
		}
		if closer, ok := s.sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				return fmt.Errorf("closing sink for speaker %d: %w", id, err)
			}
		}
		log.Info().
			Uint64("speaker", id).
			Int64("frames", s.track.FramesWritten()).
			Int64("samples", s.track.Position()).
			Msg("track finished")
	}
	return nil
}

func closeSource(src Source) {
	if closer, ok := src.(io.Closer); ok {
		_ = closer.Close()
	}
}
