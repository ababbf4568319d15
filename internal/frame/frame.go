// Package frame implements the on-wire frame format shared by the host
// dispatch engine and the device stream router: a fixed 20-byte little-endian
// header followed by a variable-length payload, with an optional IEEE CRC-32
// over the payload.
package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// HeaderSize is the fixed size in bytes of a frame header.
const HeaderSize = 20

// Magic values identifying the two defined channels.
const (
	MSGF uint32 = 0x4647534D // ASCII "MSGF" little-endian
	IMGF uint32 = 0x46474D49 // ASCII "IMGF" little-endian
)

// Header is the fixed-shape frame header. Fields other than Magic, Len,
// CRC32 and Seq are reserved and always zero on encode.
type Header struct {
	Magic uint32
	Type  uint8
	Flags uint8
	Rsv   uint16
	Len   uint32
	CRC32 uint32
	Seq   uint32
}

// Encode produces a complete frame: header followed by payload, exactly
// HeaderSize+len(payload) bytes. When enableCRC is true, CRC32 is the IEEE
// CRC-32 of payload; otherwise it is zero.
func Encode(magic uint32, payload []byte, seq uint32, enableCRC bool) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], magic)
	out[4] = 0 // type
	out[5] = 0 // flags
	binary.LittleEndian.PutUint16(out[6:8], 0) // rsv
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(payload)))

	var crc uint32
	if enableCRC {
		crc = crc32.ChecksumIEEE(payload)
	}
	binary.LittleEndian.PutUint32(out[12:16], crc)
	binary.LittleEndian.PutUint32(out[16:20], seq)
	copy(out[HeaderSize:], payload)
	return out
}

// DecodeHeader parses the fixed header from the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("frame: short header: have %d bytes, need %d", len(buf), HeaderSize)
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Type = buf[4]
	h.Flags = buf[5]
	h.Rsv = binary.LittleEndian.Uint16(buf[6:8])
	h.Len = binary.LittleEndian.Uint32(buf[8:12])
	h.CRC32 = binary.LittleEndian.Uint32(buf[12:16])
	h.Seq = binary.LittleEndian.Uint32(buf[16:20])
	return h, nil
}

// Decode parses a complete frame (header + payload) from buf. buf must
// contain at least HeaderSize+h.Len bytes.
func Decode(buf []byte) (Header, []byte, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}
	end := HeaderSize + int(h.Len)
	if len(buf) < end {
		return Header{}, nil, fmt.Errorf("frame: short payload: have %d bytes, need %d", len(buf), end)
	}
	return h, buf[HeaderSize:end], nil
}

// CheckCRC reports whether payload's IEEE CRC-32 matches want, applying the
// project's zero-CRC-is-rejection rule: a header CRC of zero never validates,
// even if the payload's actual CRC happens to be zero. Preserved for
// transport compatibility per the design notes on this format.
func CheckCRC(payload []byte, want uint32) bool {
	if want == 0 {
		return false
	}
	return crc32.ChecksumIEEE(payload) == want
}

// ChannelName returns a human-readable name for a known magic, or "UNKNOWN".
func ChannelName(magic uint32) string {
	switch magic {
	case MSGF:
		return "MSGF"
	case IMGF:
		return "IMGF"
	default:
		return "UNKNOWN"
	}
}
