package storage

import (
	"bytes"
	"hash/crc32"

	"github.com/sphildreth/decentdb/internal/dberr"
	"github.com/sphildreth/decentdb/internal/pagefmt"
)

// HeaderSize is the fixed size of the database header occupying the
// start of page 1, regardless of the configured page size.
const HeaderSize = 128

// FormatVersion is incremented whenever the on-disk page or WAL layout
// changes incompatibly.
const FormatVersion uint32 = 1

var magic = [16]byte{'D', 'E', 'C', 'E', 'N', 'T', 'D', 'B', 0, 0, 0, 0, 0, 0, 0, 0}

// Valid page sizes.
var ValidPageSizes = [...]int{2048, 4096, 8192, 16384}

const DefaultPageSize = 4096

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the 128-byte database header occupying the start of page 1.
type Header struct {
	Version           uint32
	PageSize          uint32
	SchemaCookie      uint32
	RootCatalogPage   uint32
	RootFreelistPage  uint32
	FreelistHeadPage  uint32
	FreelistCount     uint32
	LastCheckpointLSN uint64
}

// NewHeader builds a fresh header for a brand-new database file.
func NewHeader(pageSize int) Header {
	return Header{
		Version:  FormatVersion,
		PageSize: uint32(pageSize),
	}
}

// Encode serializes the header into a HeaderSize-byte buffer, computing
// the CRC-32C checksum over every byte except the checksum field itself.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:16], magic[:])
	pagefmt.PutU32(buf, 16, h.Version)
	pagefmt.PutU32(buf, 20, h.PageSize)
	// offset 24:4 is the checksum, filled in last.
	pagefmt.PutU32(buf, 28, h.SchemaCookie)
	pagefmt.PutU32(buf, 32, h.RootCatalogPage)
	pagefmt.PutU32(buf, 36, h.RootFreelistPage)
	pagefmt.PutU32(buf, 40, h.FreelistHeadPage)
	pagefmt.PutU32(buf, 44, h.FreelistCount)
	pagefmt.PutU64(buf, 48, h.LastCheckpointLSN)
	sum := crc32.Checksum(buf, castagnoli)
	pagefmt.PutU32(buf, 24, sum)
	return buf
}

// DecodeHeader parses and validates a HeaderSize-byte buffer, returning a
// CORRUPTION error on bad magic or checksum mismatch.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, dberr.New(dberr.CORRUPTION, "header: buffer shorter than header size")
	}
	if !bytes.Equal(buf[0:16], magic[:]) {
		return Header{}, dberr.New(dberr.CORRUPTION, "header: bad magic")
	}
	stored := pagefmt.GetU32(buf, 24)
	verify := make([]byte, HeaderSize)
	copy(verify, buf[:HeaderSize])
	pagefmt.PutU32(verify, 24, 0)
	computed := crc32.Checksum(verify, castagnoli)
	if stored != computed {
		return Header{}, dberr.New(dberr.CORRUPTION, "header: checksum mismatch")
	}
	h := Header{
		Version:           pagefmt.GetU32(buf, 16),
		PageSize:          pagefmt.GetU32(buf, 20),
		SchemaCookie:      pagefmt.GetU32(buf, 28),
		RootCatalogPage:   pagefmt.GetU32(buf, 32),
		RootFreelistPage:  pagefmt.GetU32(buf, 36),
		FreelistHeadPage:  pagefmt.GetU32(buf, 40),
		FreelistCount:     pagefmt.GetU32(buf, 44),
		LastCheckpointLSN: pagefmt.GetU64(buf, 48),
	}
	if h.Version != FormatVersion {
		return Header{}, dberr.New(dberr.CORRUPTION, "header: unsupported format version").WithContext("version", h.Version)
	}
	if !isValidPageSize(int(h.PageSize)) {
		return Header{}, dberr.New(dberr.CORRUPTION, "header: invalid page size").WithContext("page_size", h.PageSize)
	}
	return h, nil
}

func isValidPageSize(n int) bool {
	for _, v := range ValidPageSizes {
		if v == n {
			return true
		}
	}
	return false
}
