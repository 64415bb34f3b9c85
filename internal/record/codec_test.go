package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFieldRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		BoolValue(true),
		BoolValue(false),
		Int64Value(-42),
		Int64Value(1 << 40),
		Float64Value(3.14159),
		TextValue("hello"),
		BlobValue([]byte{0x00, 0x01, 0xff}),
	}
	for _, v := range values {
		buf := EncodeField(nil, v)
		got, n, err := DecodeField(buf, 0)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, v.Kind, got.Kind)
		switch v.Kind {
		case KindBool:
			require.Equal(t, v.Bool, got.Bool)
		case KindInt64:
			require.Equal(t, v.Int64, got.Int64)
		case KindFloat64:
			require.Equal(t, v.Float64, got.Float64)
		case KindText, KindBlob:
			require.Equal(t, v.Data, got.Data)
		}
	}
}

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	values := []Value{Int64Value(7), TextValue("a row"), BoolValue(true), Null()}
	buf := EncodeRecord(values)
	got, err := DecodeRecord(buf)
	require.NoError(t, err)
	require.Len(t, got, len(values))
	require.Equal(t, int64(7), got[0].Int64)
	require.Equal(t, "a row", got[1].Text())
	require.True(t, got[2].Bool)
	require.True(t, got[3].IsNull())
}

func TestCompressIfWorthwhileSkipsSmallValues(t *testing.T) {
	v := TextValue("short")
	out, err := CompressIfWorthwhile(v)
	require.NoError(t, err)
	require.Equal(t, KindText, out.Kind)
}

func TestCompressIfWorthwhileCompressesRepetitiveText(t *testing.T) {
	v := TextValue(strings.Repeat("abcdefgh", 64))
	out, err := CompressIfWorthwhile(v)
	require.NoError(t, err)
	require.Equal(t, KindTextCompressed, out.Kind)
	require.Less(t, len(out.Data), len(v.Data))
	require.Equal(t, uint64(len(v.Data)), out.OrigLen)

	resolved, err := ResolveValue(out, nil)
	require.NoError(t, err)
	require.Equal(t, v.Data, resolved.Data)
}

func TestCompressIfWorthwhileKeepsIncompressibleDataInline(t *testing.T) {
	// Pseudo-random bytes large enough to pass the size gate but that
	// zlib cannot shrink by the required 10%.
	data := make([]byte, 200)
	seed := uint32(1)
	for i := range data {
		seed = seed*1664525 + 1013904223
		data[i] = byte(seed >> 24)
	}
	v := BlobValue(data)
	out, err := CompressIfWorthwhile(v)
	require.NoError(t, err)
	require.Equal(t, KindBlob, out.Kind, "incompressible data should stay inline and uncompressed")
}

func TestResolveValueOverflowReadsThroughChainReader(t *testing.T) {
	v := Value{Kind: KindTextOverflow, OverflowPage: 9}
	read := func(firstPage uint32) ([]byte, error) {
		require.Equal(t, uint32(9), firstPage)
		return []byte("from chain"), nil
	}
	resolved, err := ResolveValue(v, read)
	require.NoError(t, err)
	require.Equal(t, KindText, resolved.Kind)
	require.Equal(t, "from chain", resolved.Text())
}

func TestDecodeRecordResolvedHandlesMixedKinds(t *testing.T) {
	big := TextValue(strings.Repeat("zzzzzzzz", 64))
	compressed, err := CompressIfWorthwhile(big)
	require.NoError(t, err)
	require.Equal(t, KindTextCompressed, compressed.Kind)

	buf := EncodeRecord([]Value{Int64Value(1), compressed})
	resolved, err := DecodeRecordResolved(buf, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), resolved[0].Int64)
	require.Equal(t, big.Data, resolved[1].Data)
}
