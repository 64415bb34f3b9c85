package record

import (
	"math"

	"github.com/sphildreth/decentdb/internal/dberr"
	"github.com/sphildreth/decentdb/internal/pagefmt"
)

// EncodeField serializes a single already-decided Value (kind tag plus
// whatever payload that kind carries) onto dst and returns the extended
// slice. Overflow kinds encode only the chain's first page id (plus the
// decompressed length for the compressed-overflow kinds); the chain
// bytes themselves are written separately by the overflow package.
func EncodeField(dst []byte, v Value) []byte {
	dst = append(dst, byte(v.Kind))
	switch v.Kind {
	case KindNull:
		// no payload
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		dst = append(dst, b)
	case KindInt64:
		dst = pagefmt.PutVarint(dst, v.Int64)
	case KindFloat64:
		var buf [8]byte
		pagefmt.LE.PutUint64(buf[:], math.Float64bits(v.Float64))
		dst = append(dst, buf[:]...)
	case KindText, KindBlob:
		dst = pagefmt.PutUvarint(dst, uint64(len(v.Data)))
		dst = append(dst, v.Data...)
	case KindTextCompressed, KindBlobCompressed:
		dst = pagefmt.PutUvarint(dst, v.OrigLen)
		dst = pagefmt.PutUvarint(dst, uint64(len(v.Data)))
		dst = append(dst, v.Data...)
	case KindTextOverflow, KindBlobOverflow:
		var buf [4]byte
		pagefmt.LE.PutUint32(buf[:], v.OverflowPage)
		dst = append(dst, buf[:]...)
	case KindTextCompressedOverflow, KindBlobCompressedOverflow:
		dst = pagefmt.PutUvarint(dst, v.OrigLen)
		var buf [4]byte
		pagefmt.LE.PutUint32(buf[:], v.OverflowPage)
		dst = append(dst, buf[:]...)
	}
	return dst
}

// DecodeField reads one field starting at off, returning the value and
// the offset of the next field.
func DecodeField(buf []byte, off int) (Value, int, error) {
	if off >= len(buf) {
		return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: truncated field tag")
	}
	kind := Kind(buf[off])
	off++
	switch kind {
	case KindNull:
		return Value{Kind: kind}, off, nil
	case KindBool:
		if off >= len(buf) {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: truncated bool field")
		}
		return Value{Kind: kind, Bool: buf[off] != 0}, off + 1, nil
	case KindInt64:
		n, width := pagefmt.GetVarint(buf, off)
		if width <= 0 {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: malformed int64 varint")
		}
		return Value{Kind: kind, Int64: n}, off + width, nil
	case KindFloat64:
		if off+8 > len(buf) {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: truncated float64 field")
		}
		f := math.Float64frombits(pagefmt.GetU64(buf, off))
		return Value{Kind: kind, Float64: f}, off + 8, nil
	case KindText, KindBlob:
		n, width := pagefmt.GetUvarint(buf, off)
		if width <= 0 {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: malformed inline length varint")
		}
		off += width
		if off+int(n) > len(buf) {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: truncated inline payload")
		}
		data := make([]byte, n)
		copy(data, buf[off:off+int(n)])
		return Value{Kind: kind, Data: data}, off + int(n), nil
	case KindTextCompressed, KindBlobCompressed:
		origLen, w1 := pagefmt.GetUvarint(buf, off)
		if w1 <= 0 {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: malformed orig-length varint")
		}
		off += w1
		compLen, w2 := pagefmt.GetUvarint(buf, off)
		if w2 <= 0 {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: malformed compressed-length varint")
		}
		off += w2
		if off+int(compLen) > len(buf) {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: truncated compressed payload")
		}
		data := make([]byte, compLen)
		copy(data, buf[off:off+int(compLen)])
		return Value{Kind: kind, Data: data, OrigLen: origLen}, off + int(compLen), nil
	case KindTextOverflow, KindBlobOverflow:
		if off+4 > len(buf) {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: truncated overflow pointer")
		}
		page := pagefmt.GetU32(buf, off)
		return Value{Kind: kind, OverflowPage: page}, off + 4, nil
	case KindTextCompressedOverflow, KindBlobCompressedOverflow:
		origLen, w1 := pagefmt.GetUvarint(buf, off)
		if w1 <= 0 {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: malformed orig-length varint")
		}
		off += w1
		if off+4 > len(buf) {
			return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: truncated overflow pointer")
		}
		page := pagefmt.GetU32(buf, off)
		return Value{Kind: kind, OverflowPage: page, OrigLen: origLen}, off + 4, nil
	default:
		return Value{}, 0, dberr.New(dberr.CORRUPTION, "record: unknown field kind").WithContext("kind", byte(kind))
	}
}

// EncodeRecord serializes a full row: a field-count varint followed by
// each field in column order.
func EncodeRecord(values []Value) []byte {
	buf := pagefmt.PutUvarint(nil, uint64(len(values)))
	for _, v := range values {
		buf = EncodeField(buf, v)
	}
	return buf
}

// DecodeRecord parses every field in buf without resolving overflow
// pointers or decompressing payloads; callers needing final values use
// ResolveValue per field.
func DecodeRecord(buf []byte) ([]Value, error) {
	count, width := pagefmt.GetUvarint(buf, 0)
	if width <= 0 {
		return nil, dberr.New(dberr.CORRUPTION, "record: malformed field-count varint")
	}
	off := width
	values := make([]Value, 0, count)
	for i := uint64(0); i < count; i++ {
		v, next, err := DecodeField(buf, off)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		off = next
	}
	return values, nil
}
