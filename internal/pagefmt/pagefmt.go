// Package pagefmt holds the little-endian byte helpers and varint codecs
// shared by the header, freelist, B+Tree, and overflow-chain formats.
package pagefmt

import "encoding/binary"

var LE = binary.LittleEndian

func GetU16(b []byte, off int) uint16 { return LE.Uint16(b[off:]) }
func PutU16(b []byte, off int, v uint16) { LE.PutUint16(b[off:], v) }

func GetU32(b []byte, off int) uint32 { return LE.Uint32(b[off:]) }
func PutU32(b []byte, off int, v uint32) { LE.PutUint32(b[off:], v) }

func GetU64(b []byte, off int) uint64 { return LE.Uint64(b[off:]) }
func PutU64(b []byte, off int, v uint64) { LE.PutUint64(b[off:], v) }

// PutUvarint appends an unsigned varint to dst and returns the result.
func PutUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// GetUvarint reads an unsigned varint starting at offset off and returns
// the value along with the number of bytes consumed. n == 0 signals a
// malformed or truncated varint.
func GetUvarint(b []byte, off int) (uint64, int) {
	v, n := binary.Uvarint(b[off:])
	return v, n
}

// PutVarint appends a zigzag-encoded signed varint to dst.
func PutVarint(dst []byte, v int64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// GetVarint reads a zigzag-encoded signed varint starting at offset off.
func GetVarint(b []byte, off int) (int64, int) {
	v, n := binary.Varint(b[off:])
	return v, n
}
