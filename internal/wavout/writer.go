// ABOUTME: Streaming per-speaker WAV file writer
// ABOUTME: Patches RIFF sizes on close, resampling output if configured
package wavout

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"demovoice/internal/resample"
	"demovoice/internal/voice"
)

const (
	wavHeaderSize = 44

	formatPCM       = 1
	formatIEEEFloat = 3
)

// header is the canonical 44-byte RIFF/WAVE header.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16
	AudioFormat   uint16  // 1 = PCM, 3 = IEEE float
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Writer streams one speaker's PCM frames into a WAV file. Sizes in
// the header are patched when the writer is closed. If the output rate
// differs from the pipeline rate, frames pass through a libsamplerate
// converter on the way to disk.
type Writer struct {
	f         *os.File
	format    voice.SampleFormat
	rate      int
	rs        *resample.Converter
	dataBytes uint32
	closed    bool
}

// Create opens path for writing and reserves space for the header.
// outRate of zero keeps the pipeline rate.
func Create(path string, format voice.SampleFormat, pipelineRate, outRate int) (*Writer, error) {
	if outRate == 0 {
		outRate = pipelineRate
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	w := &Writer{f: f, format: format, rate: outRate}
	if outRate != pipelineRate {
		w.rs, err = resample.New(pipelineRate, outRate, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	// Placeholder header; real sizes land in Close.
	if err := binary.Write(f, binary.LittleEndian, w.makeHeader()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

// WriteFrame appends one downstream frame of PCM. The presentation
// timestamp is implied by file position at a fixed rate, so pts is
// accepted only to satisfy the frame sink contract.
func (w *Writer) WriteFrame(pcm []byte, pts int64) error {
	if w.rs == nil {
		return w.write(pcm)
	}
	out, err := w.rs.Process(w.toFloat32(pcm))
	if err != nil {
		return err
	}
	return w.write(w.fromFloat32(out))
}

// Close drains the resampler, patches the header sizes and closes the
// file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.rs != nil {
		tail, err := w.rs.Drain()
		if err != nil {
			return err
		}
		if err := w.write(w.fromFloat32(tail)); err != nil {
			return err
		}
		if err := w.rs.Close(); err != nil {
			return err
		}
	}

	if _, err := w.f.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind for header patch: %w", err)
	}
	if err := binary.Write(w.f, binary.LittleEndian, w.makeHeader()); err != nil {
		return fmt.Errorf("failed to patch WAV header: %w", err)
	}
	return w.f.Close()
}

func (w *Writer) write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if _, err := w.f.Write(b); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	w.dataBytes += uint32(len(b))
	return nil
}

func (w *Writer) makeHeader() header {
	bytesPerSample := w.format.BytesPerSample()
	audioFormat := uint16(formatPCM)
	if w.format == voice.FormatFloat32 {
		audioFormat = formatIEEEFloat
	}
	return header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(wavHeaderSize-8) + w.dataBytes,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   audioFormat,
		NumChannels:   1,
		SampleRate:    uint32(w.rate),
		ByteRate:      uint32(w.rate * bytesPerSample),
		BlockAlign:    uint16(bytesPerSample),
		BitsPerSample: uint16(bytesPerSample * 8),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: w.dataBytes,
	}
}

func (w *Writer) toFloat32(pcm []byte) []float32 {
	if w.format == voice.FormatFloat32 {
		out := make([]float32, len(pcm)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		}
		return out
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32767.0
	}
	return out
}

func (w *Writer) fromFloat32(samples []float32) []byte {
	if w.format == voice.FormatFloat32 {
		out := make([]byte, len(samples)*4)
		for i, v := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out
	}
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}
