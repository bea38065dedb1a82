// ABOUTME: Tests for the WAV writer
// ABOUTME: Header patching, int16 and float32 layouts, close semantics
package wavout

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"demovoice/internal/voice"
)

func readWAV(t *testing.T, path string) (header, []byte) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if len(data) < wavHeaderSize {
		t.Fatalf("output shorter than a WAV header: %d bytes", len(data))
	}
	var h header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		t.Fatalf("failed to parse header: %v", err)
	}
	return h, data[wavHeaderSize:]
}

func TestWriteInt16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, voice.FormatInt16, 24000, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	frame1 := []byte{0x01, 0x00, 0x02, 0x00}
	frame2 := []byte{0x03, 0x00}
	if err := w.WriteFrame(frame1, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrame(frame2, 2); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	h, data := readWAV(t, path)
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if h.AudioFormat != formatPCM {
		t.Errorf("audio format %d, want %d", h.AudioFormat, formatPCM)
	}
	if h.NumChannels != 1 {
		t.Errorf("channels %d, want 1", h.NumChannels)
	}
	if h.SampleRate != 24000 {
		t.Errorf("sample rate %d, want 24000", h.SampleRate)
	}
	if h.BitsPerSample != 16 {
		t.Errorf("bits per sample %d, want 16", h.BitsPerSample)
	}
	if h.ByteRate != 48000 {
		t.Errorf("byte rate %d, want 48000", h.ByteRate)
	}
	if h.Subchunk2Size != 6 {
		t.Errorf("data size %d, want 6", h.Subchunk2Size)
	}
	if h.ChunkSize != 36+6 {
		t.Errorf("chunk size %d, want 42", h.ChunkSize)
	}
	want := append(append([]byte(nil), frame1...), frame2...)
	if !bytes.Equal(data, want) {
		t.Errorf("data %v, want %v", data, want)
	}
}

func TestWriteFloat32(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, voice.FormatFloat32, 24000, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	frame := make([]byte, 8) // two float32 samples
	if err := w.WriteFrame(frame, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	h, data := readWAV(t, path)
	if h.AudioFormat != formatIEEEFloat {
		t.Errorf("audio format %d, want %d", h.AudioFormat, formatIEEEFloat)
	}
	if h.BitsPerSample != 32 {
		t.Errorf("bits per sample %d, want 32", h.BitsPerSample)
	}
	if h.BlockAlign != 4 {
		t.Errorf("block align %d, want 4", h.BlockAlign)
	}
	if len(data) != 8 {
		t.Errorf("data length %d, want 8", len(data))
	}
}

func TestEmptyTrack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, voice.FormatInt16, 24000, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	h, data := readWAV(t, path)
	if h.Subchunk2Size != 0 {
		t.Errorf("data size %d, want 0", h.Subchunk2Size)
	}
	if len(data) != 0 {
		t.Errorf("unexpected %d data bytes in empty track", len(data))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, voice.FormatInt16, 24000, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close must be a no-op, got %v", err)
	}
}

func TestResampledOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, voice.FormatInt16, 24000, 48000)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A second of mid-scale samples upsampled 2x should land close to
	// twice the input length once the converter is drained.
	in := make([]byte, 24000*2)
	for i := 0; i < len(in); i += 2 {
		binary.LittleEndian.PutUint16(in[i:], uint16(int16(8192)))
	}
	if err := w.WriteFrame(in, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	h, data := readWAV(t, path)
	if h.SampleRate != 48000 {
		t.Errorf("sample rate %d, want 48000", h.SampleRate)
	}
	got := len(data) / 2
	if got < 47000 || got > 48100 {
		t.Errorf("resampled to %d samples, want about 48000", got)
	}
	if h.Subchunk2Size != uint32(len(data)) {
		t.Errorf("header data size %d, actual %d", h.Subchunk2Size, len(data))
	}
}
