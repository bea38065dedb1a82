// ABOUTME: GoldSrc demo container parser
// ABOUTME: Reads the demo header, directory entries and frame stream
package demo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

const (
	headerSize = 544
	entrySize  = 92

	magic = "HLDEMO\x00\x00"

	// EntryStartup holds the pre-game loading section; voice data only
	// appears in playback entries.
	EntryStartup  = 0
	EntryPlayback = 1
)

// Header is the fixed-size demo file header.
type Header struct {
	DemoProtocol int32
	NetProtocol  int32
	MapName      string
	GameDir      string
	MapCRC       uint32
}

// Entry is one directory entry describing a section of frames.
type Entry struct {
	Type       int32
	Descr      string
	Flags      int32
	CDTrack    int32
	TrackTime  float32
	FrameCount int32
	Offset     int32
	Length     int32
}

// Demo is a fully loaded demo file. The frame stream is parsed lazily
// through a FrameReader so the file can be walked more than once.
type Demo struct {
	Header  Header
	Entries []Entry

	data []byte
}

// Open reads and parses a demo file from disk.
func Open(path string) (*Demo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read demo file: %w", err)
	}
	return Parse(data)
}

// Parse parses a demo file from memory.
func Parse(data []byte) (*Demo, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("demo too short: %d bytes", len(data))
	}
	if string(data[:8]) != magic {
		return nil, fmt.Errorf("not a GoldSrc demo: bad magic")
	}

	d := &Demo{data: data}
	d.Header = Header{
		DemoProtocol: int32(binary.LittleEndian.Uint32(data[8:])),
		NetProtocol:  int32(binary.LittleEndian.Uint32(data[12:])),
		MapName:      cstring(data[16 : 16+260]),
		GameDir:      cstring(data[276 : 276+260]),
		MapCRC:       binary.LittleEndian.Uint32(data[536:]),
	}
	dirOffset := int64(int32(binary.LittleEndian.Uint32(data[540:])))

	if dirOffset < headerSize || dirOffset+4 > int64(len(data)) {
		return nil, fmt.Errorf("directory offset %d out of range", dirOffset)
	}
	count := int(int32(binary.LittleEndian.Uint32(data[dirOffset:])))
	if count < 0 || count > 1024 {
		return nil, fmt.Errorf("implausible directory entry count %d", count)
	}
	if dirOffset+4+int64(count*entrySize) > int64(len(data)) {
		return nil, fmt.Errorf("directory truncated: %d entries at offset %d", count, dirOffset)
	}

	for i := 0; i < count; i++ {
		e := data[dirOffset+4+int64(i*entrySize):]
		entry := Entry{
			Type:       int32(binary.LittleEndian.Uint32(e[0:])),
			Descr:      cstring(e[4 : 4+64]),
			Flags:      int32(binary.LittleEndian.Uint32(e[68:])),
			CDTrack:    int32(binary.LittleEndian.Uint32(e[72:])),
			TrackTime:  lefloat32(e[76:]),
			FrameCount: int32(binary.LittleEndian.Uint32(e[80:])),
			Offset:     int32(binary.LittleEndian.Uint32(e[84:])),
			Length:     int32(binary.LittleEndian.Uint32(e[88:])),
		}
		if entry.Offset < 0 || int(entry.Offset) > len(data) {
			return nil, fmt.Errorf("entry %d offset %d out of range", i, entry.Offset)
		}
		d.Entries = append(d.Entries, entry)
	}

	return d, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func lefloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
