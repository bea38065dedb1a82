// ABOUTME: Per-speaker playback timeline engine
// ABOUTME: Keeps released sample counts frame-locked to the replay clock
package timeline

import "math"

// FrameSink receives whole downstream frames of PCM with a
// presentation timestamp in samples. The final frame handed over by
// Flush may be shorter than the configured frame size.
type FrameSink interface {
	WriteFrame(pcm []byte, pts int64) error
}

// Config holds the fixed parameters of a track.
type Config struct {
	SampleRate     int
	BytesPerSample int
	FrameSamples   int
	WarmupSeconds  float64
}

// Track owns one speaker's pending-sample backlog and playback state.
// Voice data arrives in bursts uncorrelated with tick boundaries; the
// track decides, on every tick, how many samples to release now and how
// many to hold so the speaker's output never drifts from the replay
// clock. Released sample counts always equal floor(replayTime * rate),
// whether the samples are real audio or synthesized silence.
type Track struct {
	cfg Config

	pending []byte  // decoded PCM not yet released, arrival order
	warmup  float64 // seconds of initial delay still to burn
	playing bool
	pos     int64 // replay position already covered, in samples

	accum []byte // released bytes short of a whole downstream frame
	pts   int64  // presentation timestamp of the next frame, in samples

	frames int64
	sink   FrameSink
}

// New creates a track feeding whole frames into sink.
func New(cfg Config, sink FrameSink) *Track {
	return &Track{cfg: cfg, warmup: cfg.WarmupSeconds, sink: sink}
}

// Buffer appends newly decoded PCM to the backlog. A transition from
// empty to non-empty re-arms the warm-up guard so audio does not snap
// in mid-buffer after an underrun.
func (t *Track) Buffer(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	if len(t.pending) == 0 {
		t.warmup = t.cfg.WarmupSeconds
	}
	t.pending = append(t.pending, pcm...)
}

// Advance processes one replay tick of dt seconds ending at absolute
// replay time now. It releases exactly the number of samples needed to
// bring the track's output up to floor(now * rate): buffered audio if
// playback is armed, zero samples otherwise, zero-padding any backlog
// shortfall.
func (t *Track) Advance(dt, now float64) error {
	// The warm-up only counts down while something is buffered; a
	// speaker who never spoke must not expire it. Playback arms on
	// the first tick that finds the warm-up already burned, so a tick
	// landing exactly on the boundary still releases silence.
	if !t.playing && len(t.pending) > 0 {
		if t.warmup <= 0 {
			t.playing = true
		} else {
			t.warmup -= dt
		}
	}

	target := int64(math.Floor(now * float64(t.cfg.SampleRate)))
	if target < t.pos {
		return nil
	}
	due := int(target-t.pos) * t.cfg.BytesPerSample
	t.pos = target
	if due == 0 {
		return nil
	}

	released := make([]byte, due)
	if t.playing {
		n := min(due, len(t.pending))
		copy(released, t.pending[:n])
		t.pending = append(t.pending[:0], t.pending[n:]...)
		if len(t.pending) == 0 {
			// Underrun: fall back to buffering until the warm-up
			// elapses again.
			t.playing = false
		}
	}
	return t.emit(released)
}

// Flush emits the final partial frame left in the accumulator. Backlog
// samples that never came due stay unreleased; emitting them would
// break the frame lock.
func (t *Track) Flush() error {
	if len(t.accum) == 0 {
		return nil
	}
	frame := t.accum
	t.accum = nil
	if err := t.sink.WriteFrame(frame, t.pts); err != nil {
		return err
	}
	t.pts += int64(len(frame) / t.cfg.BytesPerSample)
	t.frames++
	return nil
}

func (t *Track) emit(b []byte) error {
	t.accum = append(t.accum, b...)
	frameBytes := t.cfg.FrameSamples * t.cfg.BytesPerSample
	for len(t.accum) >= frameBytes {
		if err := t.sink.WriteFrame(t.accum[:frameBytes], t.pts); err != nil {
			return err
		}
		t.pts += int64(t.cfg.FrameSamples)
		t.frames++
		t.accum = append(t.accum[:0], t.accum[frameBytes:]...)
	}
	return nil
}

// Backlog returns the number of buffered samples not yet released.
func (t *Track) Backlog() int {
	return len(t.pending) / t.cfg.BytesPerSample
}

// Playing reports whether playback is currently armed.
func (t *Track) Playing() bool { return t.playing }

// Position returns the replay position this track has released up to,
// in samples.
func (t *Track) Position() int64 { return t.pos }

// FramesWritten returns the number of frames handed to the sink.
func (t *Track) FramesWritten() int64 { return t.frames }
