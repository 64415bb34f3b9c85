package record

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/sphildreth/decentdb/internal/dberr"
)

// Compression is only attempted above this inline size and only kept
// when it saves at least this percentage.
const (
	compressMinSize      = 128
	compressMinSavingsPct = 10
)

// CompressIfWorthwhile zlib-compresses a TEXT or BLOB value's bytes when
// they are large enough and compression saves enough to bother. It
// returns the value unchanged (Data aliasing the input) when compression
// was not attempted or not kept.
func CompressIfWorthwhile(v Value) (Value, error) {
	if v.Kind != KindText && v.Kind != KindBlob {
		return v, nil
	}
	if len(v.Data) <= compressMinSize {
		return v, nil
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(v.Data); err != nil {
		return v, dberr.Wrap(dberr.INTERNAL, "record: zlib compress", err)
	}
	if err := w.Close(); err != nil {
		return v, dberr.Wrap(dberr.INTERNAL, "record: zlib compress close", err)
	}

	compressed := buf.Bytes()
	if len(compressed)*100 > len(v.Data)*(100-compressMinSavingsPct) {
		return v, nil
	}

	outKind := KindTextCompressed
	if v.Kind == KindBlob {
		outKind = KindBlobCompressed
	}
	out := make([]byte, len(compressed))
	copy(out, compressed)
	return Value{Kind: outKind, Data: out, OrigLen: uint64(len(v.Data))}, nil
}

func decompress(data []byte, origLen uint64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, dberr.Wrap(dberr.CORRUPTION, "record: zlib reader", err)
	}
	defer r.Close()
	out := make([]byte, 0, origLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, dberr.Wrap(dberr.CORRUPTION, "record: zlib decompress", err)
	}
	return buf.Bytes(), nil
}

// ChainReader reads the full contents of an overflow chain starting at
// firstPage, as implemented by the overflow package.
type ChainReader func(firstPage uint32) ([]byte, error)

// ResolveValue turns any kind of Value into a plain KindText/KindBlob
// (or pass-through for NULL/BOOL/INT64/FLOAT64) value with fully
// materialized bytes: overflow pointers are read via read, and
// compressed payloads (inline or from the chain) are decompressed.
func ResolveValue(v Value, read ChainReader) (Value, error) {
	switch v.Kind {
	case KindText, KindBlob, KindNull, KindBool, KindInt64, KindFloat64:
		return v, nil
	case KindTextCompressed, KindBlobCompressed:
		plain, err := decompress(v.Data, v.OrigLen)
		if err != nil {
			return Value{}, err
		}
		return plainValue(v.Kind, plain), nil
	case KindTextOverflow, KindBlobOverflow:
		data, err := read(v.OverflowPage)
		if err != nil {
			return Value{}, err
		}
		return plainValue(v.Kind, data), nil
	case KindTextCompressedOverflow, KindBlobCompressedOverflow:
		raw, err := read(v.OverflowPage)
		if err != nil {
			return Value{}, err
		}
		plain, err := decompress(raw, v.OrigLen)
		if err != nil {
			return Value{}, err
		}
		return plainValue(v.Kind, plain), nil
	default:
		return Value{}, dberr.New(dberr.CORRUPTION, "record: unresolvable field kind")
	}
}

func plainValue(kind Kind, data []byte) Value {
	if kind.IsText() {
		return Value{Kind: KindText, Data: data}
	}
	return Value{Kind: KindBlob, Data: data}
}

// DecodeRecordResolved decodes every field in buf and resolves overflow
// and compression, returning fully materialized values.
func DecodeRecordResolved(buf []byte, read ChainReader) ([]Value, error) {
	raw, err := DecodeRecord(buf)
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(raw))
	for i, v := range raw {
		resolved, err := ResolveValue(v, read)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}
