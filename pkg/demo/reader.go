// ABOUTME: Frame stream iterator for GoldSrc demos
// ABOUTME: Walks playback entries and surfaces network-message payloads
package demo

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types as stored in the demo frame stream. Any type outside
// this table is a network-message frame carrying game data.
const (
	frameDemoStart      = 2
	frameConsoleCommand = 3
	frameClientData     = 4
	frameNextSection    = 5
	frameEvent          = 6
	frameWeaponAnim     = 7
	frameSound          = 8
	frameDemoBuffer     = 9
)

const (
	frameHeaderSize = 9 // type byte + time float + frame number

	// Network-message frames carry a block of engine playback state
	// (view parameters, user command, movevars) before the game data.
	netMsgInfoSize = 468

	maxNetMsgSize = 65536
)

// Frame is one timestamped frame of the demo playback stream.
// GameData is nil for frames that carry no network message.
type Frame struct {
	Type     byte
	Time     float32
	Index    int32
	GameData []byte
}

// FrameReader iterates the frames of every playback entry in order.
// Obtain one from Demo.Frames; a fresh reader walks the demo from the
// beginning, so multi-pass consumers simply create a new reader.
type FrameReader struct {
	demo  *Demo
	entry int
	off   int
	done  bool
}

// Frames returns a reader positioned at the first playback frame.
func (d *Demo) Frames() *FrameReader {
	return &FrameReader{demo: d, entry: -1}
}

// Next returns the next frame, or io.EOF after the last one.
func (r *FrameReader) Next() (*Frame, error) {
	for {
		if r.done {
			return nil, io.EOF
		}
		if r.entry < 0 || r.off < 0 {
			if !r.advanceEntry() {
				return nil, io.EOF
			}
		}

		data := r.demo.data
		if r.off+frameHeaderSize > len(data) {
			return nil, fmt.Errorf("frame header truncated at offset %d", r.off)
		}

		frame := &Frame{
			Type:  data[r.off],
			Time:  lefloat32(data[r.off+1:]),
			Index: int32(binary.LittleEndian.Uint32(data[r.off+5:])),
		}
		body := r.off + frameHeaderSize

		switch frame.Type {
		case frameNextSection:
			r.off = -1 // move to the next directory entry
			continue
		case frameDemoStart:
			r.off = body
		case frameConsoleCommand:
			r.off = body + 64
		case frameClientData:
			r.off = body + 32
		case frameEvent:
			r.off = body + 84
		case frameWeaponAnim:
			r.off = body + 8
		case frameSound:
			// channel, length-prefixed sample name, then four
			// floats/ints of playback parameters
			if body+8 > len(data) {
				return nil, fmt.Errorf("sound frame truncated at offset %d", r.off)
			}
			nameLen := int(int32(binary.LittleEndian.Uint32(data[body+4:])))
			if nameLen < 0 || nameLen > maxNetMsgSize {
				return nil, fmt.Errorf("implausible sound name length %d", nameLen)
			}
			r.off = body + 8 + nameLen + 16
		case frameDemoBuffer:
			if body+4 > len(data) {
				return nil, fmt.Errorf("buffer frame truncated at offset %d", r.off)
			}
			bufLen := int(int32(binary.LittleEndian.Uint32(data[body:])))
			if bufLen < 0 {
				return nil, fmt.Errorf("negative buffer length %d", bufLen)
			}
			r.off = body + 4 + bufLen
		default:
			// Network message: playback state block, then a
			// length-prefixed chunk of game data.
			lenOff := body + netMsgInfoSize
			if lenOff+4 > len(data) {
				return nil, fmt.Errorf("netmsg frame truncated at offset %d", r.off)
			}
			msgLen := int(int32(binary.LittleEndian.Uint32(data[lenOff:])))
			if msgLen < 0 || msgLen > maxNetMsgSize {
				return nil, fmt.Errorf("implausible netmsg length %d at offset %d", msgLen, r.off)
			}
			if lenOff+4+msgLen > len(data) {
				return nil, fmt.Errorf("netmsg payload truncated at offset %d", r.off)
			}
			frame.GameData = data[lenOff+4 : lenOff+4+msgLen]
			r.off = lenOff + 4 + msgLen
		}

		if r.off > len(data) {
			return nil, fmt.Errorf("frame payload truncated at offset %d", r.off)
		}
		return frame, nil
	}
}

// advanceEntry moves to the next playback entry, skipping startup
// sections. Returns false when no entries remain.
func (r *FrameReader) advanceEntry() bool {
	for r.entry++; r.entry < len(r.demo.Entries); r.entry++ {
		entry := r.demo.Entries[r.entry]
		if entry.Type == EntryStartup {
			continue
		}
		r.off = int(entry.Offset)
		return true
	}
	r.done = true
	return false
}
