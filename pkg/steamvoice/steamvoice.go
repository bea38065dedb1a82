// ABOUTME: Steam voice payload parser
// ABOUTME: Decomposes a voice message into typed packets and a speaker key
package steamvoice

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// PacketType identifies one payload packet inside a voice message.
type PacketType byte

const (
	PacketSilence    PacketType = 0x00
	PacketOpus       PacketType = 0x06
	PacketSampleRate PacketType = 0x0B
)

var (
	ErrTruncated = errors.New("steamvoice: message truncated")
	ErrChecksum  = errors.New("steamvoice: checksum mismatch")
)

// Packet is one tagged payload unit. Exactly one of the value fields is
// meaningful, selected by Type.
type Packet struct {
	Type    PacketType
	Rate    uint16 // PacketSampleRate
	Samples uint16 // PacketSilence
	Data    []byte // PacketOpus: length/sequence-prefixed compressed stream
}

// Message is a parsed voice message for a single speaker.
type Message struct {
	SpeakerID uint64
	Packets   []Packet
}

const (
	// speaker id + trailing checksum
	minMessageSize = 8 + 4

	opcodeVoiceData = 53 // svc_voicedata
)

// Parse decomposes a raw voice message. The message layout is a 64-bit
// speaker key, a run of typed packets, and a CRC-32 over everything
// that precedes it.
func Parse(data []byte) (*Message, error) {
	if len(data) < minMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}

	body := data[:len(data)-4]
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != want {
		return nil, ErrChecksum
	}

	msg := &Message{SpeakerID: binary.LittleEndian.Uint64(body)}
	rest := body[8:]

	for len(rest) > 0 {
		op := PacketType(rest[0])
		rest = rest[1:]
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: packet 0x%02x header", ErrTruncated, byte(op))
		}
		arg := binary.LittleEndian.Uint16(rest)
		rest = rest[2:]

		switch op {
		case PacketSilence:
			msg.Packets = append(msg.Packets, Packet{Type: PacketSilence, Samples: arg})
		case PacketSampleRate:
			msg.Packets = append(msg.Packets, Packet{Type: PacketSampleRate, Rate: arg})
		case PacketOpus:
			if len(rest) < int(arg) {
				return nil, fmt.Errorf("%w: opus packet wants %d bytes, %d remain", ErrTruncated, arg, len(rest))
			}
			msg.Packets = append(msg.Packets, Packet{Type: PacketOpus, Data: rest[:arg]})
			rest = rest[arg:]
		default:
			return nil, fmt.Errorf("steamvoice: unknown packet opcode 0x%02x", byte(op))
		}
	}

	return msg, nil
}

// Scan extracts voice messages embedded in a frame's raw game data.
//
// Locating svc_voicedata without a full engine-message parser relies on
// the message's own structure: opcode byte, player index, 16-bit little
// endian size, and a payload whose trailing CRC-32 must match. A
// candidate that fails the checksum is a false hit and scanning resumes
// one byte later.
func Scan(data []byte) [][]byte {
	var found [][]byte
	for i := 0; i+4 <= len(data); {
		if data[i] != opcodeVoiceData {
			i++
			continue
		}
		size := int(binary.LittleEndian.Uint16(data[i+2:]))
		end := i + 4 + size
		if size < minMessageSize || end > len(data) {
			i++
			continue
		}
		payload := data[i+4 : end]
		body := payload[:len(payload)-4]
		want := binary.LittleEndian.Uint32(payload[len(payload)-4:])
		if crc32.ChecksumIEEE(body) != want {
			i++
			continue
		}
		found = append(found, payload)
		i = end
	}
	return found
}
