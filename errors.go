package decentdb

import (
	"errors"

	"github.com/sphildreth/decentdb/internal/dberr"
)

// Kind is the error taxonomy surfaced at the core-facing API boundary.
type Kind = dberr.Kind

const (
	KindIO         = dberr.IO
	KindCorruption = dberr.CORRUPTION
	KindConstraint = dberr.CONSTRAINT
	KindSchema     = dberr.SCHEMA
	KindBusy       = dberr.BUSY
	KindReadOnly   = dberr.READONLY
	KindInternal   = dberr.INTERNAL
)

// Error is the concrete error type returned by every fallible Database
// operation. Use errors.As to recover one from a wrapped error and
// inspect its Kind.
type Error = dberr.Error

// ErrorKind reports the Kind of err if it is (or wraps) a *Error, and
// ok=false otherwise.
func ErrorKind(err error) (kind Kind, ok bool) {
	var de *dberr.Error
	if !errors.As(err, &de) {
		return "", false
	}
	return de.Kind, true
}
