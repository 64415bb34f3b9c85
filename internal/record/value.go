// Package record implements the self-describing row codec: a
// kind-tagged value stream with opportunistic value compression,
// generalized from novasql's schema-bound null-bitmap row format
// (internal/storage/rowcodec.go, internal/record/schema.go) to a
// format that carries its own field kinds instead of relying on an
// external schema to interpret each byte.
package record

// Kind tags the wire representation of a single field value: a
// fixed twelve-kind enumeration including the compressed and overflow
// variants.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindText
	KindBlob
	KindTextOverflow
	KindBlobOverflow
	KindTextCompressed
	KindBlobCompressed
	KindTextCompressedOverflow
	KindBlobCompressedOverflow
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOL"
	case KindInt64:
		return "INT64"
	case KindFloat64:
		return "FLOAT64"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	case KindTextOverflow:
		return "TEXT_OVERFLOW"
	case KindBlobOverflow:
		return "BLOB_OVERFLOW"
	case KindTextCompressed:
		return "TEXT_COMPRESSED"
	case KindBlobCompressed:
		return "BLOB_COMPRESSED"
	case KindTextCompressedOverflow:
		return "TEXT_COMPRESSED_OVERFLOW"
	case KindBlobCompressedOverflow:
		return "BLOB_COMPRESSED_OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// IsOverflow reports whether the field's payload lives in an overflow
// chain rather than inline in the record.
func (k Kind) IsOverflow() bool {
	switch k {
	case KindTextOverflow, KindBlobOverflow, KindTextCompressedOverflow, KindBlobCompressedOverflow:
		return true
	default:
		return false
	}
}

// IsCompressed reports whether the field's payload is zlib-compressed,
// whether inline or in an overflow chain.
func (k Kind) IsCompressed() bool {
	switch k {
	case KindTextCompressed, KindBlobCompressed, KindTextCompressedOverflow, KindBlobCompressedOverflow:
		return true
	default:
		return false
	}
}

// IsText reports whether the field's logical type is TEXT (as opposed
// to BLOB), independent of compression/overflow state.
func (k Kind) IsText() bool {
	switch k {
	case KindText, KindTextOverflow, KindTextCompressed, KindTextCompressedOverflow:
		return true
	default:
		return false
	}
}

// Value is one column's value plus the kind its wire form is carrying.
// Data holds the inline payload for plain and compressed-inline kinds;
// for an unresolved overflow kind it is empty and OverflowPage names the
// chain to read instead.
type Value struct {
	Kind         Kind
	Bool         bool
	Int64        int64
	Float64      float64
	Data         []byte
	OverflowPage uint32
	// OrigLen is the decompressed length, set on compressed kinds so a
	// resolver can size its output buffer without guessing.
	OrigLen uint64
}

func Null() Value                    { return Value{Kind: KindNull} }
func BoolValue(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Int64Value(i int64) Value       { return Value{Kind: KindInt64, Int64: i} }
func Float64Value(f float64) Value   { return Value{Kind: KindFloat64, Float64: f} }
func TextValue(s string) Value       { return Value{Kind: KindText, Data: []byte(s)} }
func BlobValue(b []byte) Value       { return Value{Kind: KindBlob, Data: b} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Text returns the value's payload as a string. Only meaningful once the
// value has been fully resolved (plain TEXT/TEXT_COMPRESSED... kinds).
func (v Value) Text() string { return string(v.Data) }
