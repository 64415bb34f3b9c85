package decentdb

import "github.com/sphildreth/decentdb/internal/record"

// Value is a single column's value, tagged with the wire Kind it will
// be (or was) encoded as.
type Value = record.Value

// NullValue, BoolValue, Int64Value, Float64Value, TextValue, and
// BlobValue construct a Value of the corresponding column type. Callers
// never construct the overflow/compressed Kind variants directly; the
// row codec chooses those at encode time.
func NullValue() Value             { return record.Null() }
func BoolValue(b bool) Value       { return record.BoolValue(b) }
func Int64Value(i int64) Value     { return record.Int64Value(i) }
func Float64Value(f float64) Value { return record.Float64Value(f) }
func TextValue(s string) Value     { return record.TextValue(s) }
func BlobValue(b []byte) Value     { return record.BlobValue(b) }
