// ABOUTME: Tests for the per-speaker timeline engine
// ABOUTME: Frame-lock invariant, warm-up guard and underrun behavior
package timeline

import (
	"bytes"
	"math"
	"testing"
)

type captureSink struct {
	frames [][]byte
	pts    []int64
}

func (s *captureSink) WriteFrame(pcm []byte, pts int64) error {
	s.frames = append(s.frames, append([]byte(nil), pcm...))
	s.pts = append(s.pts, pts)
	return nil
}

func (s *captureSink) totalBytes() int {
	n := 0
	for _, f := range s.frames {
		n += len(f)
	}
	return n
}

const testRate = 24000

func newTestTrack(sink FrameSink, frameSamples int, warmup float64) *Track {
	return New(Config{
		SampleRate:     testRate,
		BytesPerSample: 2,
		FrameSamples:   frameSamples,
		WarmupSeconds:  warmup,
	}, sink)
}

func pcm(samples int, fill byte) []byte {
	b := make([]byte, samples*2)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestFrameLockOverIrregularTicks(t *testing.T) {
	sink := &captureSink{}
	// Frame size 1 so every released sample reaches the sink.
	track := newTestTrack(sink, 1, 0.05)

	// Irregular tick spacing, bursty audio uncorrelated with ticks.
	durations := []float64{0.013, 0.07, 0.001, 0.19, 0.033, 0.0417, 0.25, 0.009}
	now := 0.0
	for i, dt := range durations {
		if i%3 == 1 {
			track.Buffer(pcm(977, 0x11))
		}
		now += dt
		if err := track.Advance(dt, now); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}

		want := int64(math.Floor(now * testRate))
		if track.Position() != want {
			t.Fatalf("tick %d: position %d, want %d", i, track.Position(), want)
		}
		released := int64(sink.totalBytes() / 2)
		if released != want {
			t.Fatalf("tick %d: released %d samples, want %d (frame lock broken)", i, released, want)
		}
	}
}

func TestWarmupHoldsBacklog(t *testing.T) {
	// One speaker, frames at 0.0/0.1/0.2s, a
	// 2400-sample payload arriving at t=0.1, warm-up 0.2s. Nothing
	// but silence may be released through t=0.2 and the backlog must
	// remain intact.
	sink := &captureSink{}
	track := newTestTrack(sink, 1, 0.2)

	if err := track.Advance(0, 0); err != nil { // first frame, zero tick
		t.Fatal(err)
	}
	track.Buffer(pcm(2400, 0x7F))
	if err := track.Advance(0.1, 0.1); err != nil {
		t.Fatal(err)
	}
	if err := track.Advance(0.1, 0.2); err != nil {
		t.Fatal(err)
	}

	if track.Playing() {
		t.Error("warm-up still pending, track must not be playing")
	}
	if got := track.Backlog(); got != 2400 {
		t.Errorf("backlog %d samples, want 2400 retained", got)
	}
	for i, frame := range sink.frames {
		if !bytes.Equal(frame, make([]byte, len(frame))) {
			t.Fatalf("frame %d contains non-silence during warm-up", i)
		}
	}
	if released := sink.totalBytes() / 2; released != 4800 {
		t.Errorf("released %d samples of silence, want 4800", released)
	}
}

func TestPlaybackAfterWarmup(t *testing.T) {
	sink := &captureSink{}
	track := newTestTrack(sink, 1, 0.2)

	track.Buffer(pcm(2400, 0x7F))
	now := 0.0
	for i := 0; i < 4; i++ {
		now += 0.1
		if err := track.Advance(0.1, now); err != nil {
			t.Fatal(err)
		}
	}

	// The third tick arms playback and drains the backlog exactly;
	// draining to empty flips the track back to buffering.
	if track.Playing() {
		t.Fatal("expected track back in buffering state after exact drain")
	}
	audio := 0
	for _, frame := range sink.frames {
		if frame[0] == 0x7F {
			audio++
		}
	}
	if audio != 2400 {
		t.Errorf("expected 2400 audio samples released, got %d", audio)
	}
	if got := track.Backlog(); got != 0 {
		t.Errorf("backlog %d, want 0", got)
	}
}

func TestUnderrunPadsWithZeros(t *testing.T) {
	sink := &captureSink{}
	track := newTestTrack(sink, 1, 0)

	// 100 buffered samples, one tick worth 240. Warm-up of zero arms
	// playback on the first tick.
	track.Buffer(pcm(100, 0x42))
	if err := track.Advance(0.01, 0.01); err != nil {
		t.Fatal(err)
	}

	if got := sink.totalBytes() / 2; got != 240 {
		t.Fatalf("released %d samples, want 240", got)
	}
	for i, frame := range sink.frames {
		want := byte(0x42)
		if i >= 100 {
			want = 0
		}
		if frame[0] != want || frame[1] != want {
			t.Fatalf("sample %d: got 0x%02x, want 0x%02x", i, frame[0], want)
		}
	}
	if track.Playing() {
		t.Error("underrun must flip the track back to buffering")
	}
	if track.Backlog() != 0 {
		t.Errorf("backlog %d after underrun, want 0", track.Backlog())
	}
}

func TestUnderrunRearmsWarmup(t *testing.T) {
	sink := &captureSink{}
	track := newTestTrack(sink, 1, 0.1)

	// Buffer, drain past empty, then buffer again: the second burst
	// must wait out a fresh warm-up window.
	track.Buffer(pcm(10, 0x42))
	now := 0.0
	for i := 0; i < 3; i++ { // 0.1s of warm-up plus the arming tick
		now += 0.05
		if err := track.Advance(0.05, now); err != nil {
			t.Fatal(err)
		}
	}
	if track.Playing() {
		t.Fatal("10-sample backlog must underrun within one playing tick")
	}

	track.Buffer(pcm(4800, 0x55))
	now += 0.05
	if err := track.Advance(0.05, now); err != nil {
		t.Fatal(err)
	}
	if track.Playing() {
		t.Error("fresh buffer must wait out a fresh warm-up window")
	}
	if got := track.Backlog(); got != 4800 {
		t.Errorf("backlog %d, want 4800 held through new warm-up", got)
	}
}

func TestWarmupOnlyCountsDownWhileBuffered(t *testing.T) {
	sink := &captureSink{}
	track := newTestTrack(sink, 1, 0.2)

	// A speaker who never spoke burns hours of replay without
	// expiring the warm-up.
	now := 0.0
	for i := 0; i < 100; i++ {
		now += 0.5
		if err := track.Advance(0.5, now); err != nil {
			t.Fatal(err)
		}
	}
	track.Buffer(pcm(9600, 0x33))
	now += 0.1
	if err := track.Advance(0.1, now); err != nil {
		t.Fatal(err)
	}
	if track.Playing() {
		t.Error("warm-up must start only once audio is buffered")
	}
	if got := track.Backlog(); got != 9600 {
		t.Errorf("backlog %d, want 9600", got)
	}
}

func TestFrameAccumulatorCarriesRemainder(t *testing.T) {
	sink := &captureSink{}
	track := New(Config{
		SampleRate:     testRate,
		BytesPerSample: 2,
		FrameSamples:   1024,
		WarmupSeconds:  0,
	}, sink)

	// One tick of 0.1s releases 2400 samples: two whole 1024-sample
	// frames, 352 samples carried over.
	track.Buffer(pcm(2400, 0x42))
	if err := track.Advance(0.1, 0.1); err != nil {
		t.Fatal(err)
	}
	if len(sink.frames) != 2 {
		t.Fatalf("expected 2 whole frames, got %d", len(sink.frames))
	}
	for i, frame := range sink.frames {
		if len(frame) != 2048 {
			t.Errorf("frame %d: %d bytes, want 2048", i, len(frame))
		}
	}

	// Flush emits the 352-sample remainder.
	if err := track.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(sink.frames) != 3 {
		t.Fatalf("expected flushed partial frame, got %d frames", len(sink.frames))
	}
	if got := len(sink.frames[2]) / 2; got != 352 {
		t.Errorf("partial frame %d samples, want 352", got)
	}
}

func TestPresentationTimestamps(t *testing.T) {
	sink := &captureSink{}
	track := New(Config{
		SampleRate:     testRate,
		BytesPerSample: 2,
		FrameSamples:   1024,
		WarmupSeconds:  0,
	}, sink)

	track.Buffer(pcm(4800, 0x01))
	if err := track.Advance(0.2, 0.2); err != nil {
		t.Fatal(err)
	}
	if err := track.Flush(); err != nil {
		t.Fatal(err)
	}

	for i, pts := range sink.pts {
		want := int64(i) * 1024
		if pts != want {
			t.Errorf("frame %d: pts %d, want %d", i, pts, want)
		}
	}
}

func TestZeroDurationTickReleasesNothing(t *testing.T) {
	sink := &captureSink{}
	track := newTestTrack(sink, 1, 0)

	track.Buffer(pcm(2400, 0x42))
	if err := track.Advance(0.1, 0.1); err != nil {
		t.Fatal(err)
	}
	before := sink.totalBytes()
	// Same absolute time again: no new due samples by construction.
	if err := track.Advance(0, 0.1); err != nil {
		t.Fatal(err)
	}
	if sink.totalBytes() != before {
		t.Error("zero-duration tick must not release samples")
	}
}
