package reader

import (
	"errors"
)

var (
	// ErrFormat indicates the archive's bytes not conforming to the zip specification
	ErrFormat = errors.New("zip: not a valid zip file")
	// ErrCommentLength indicates an invalid comment length
	ErrCommentLength = errors.New("zip: invalid comment length")
	// ErrAlgorithm indicates an invalid/unsupported compression algorithm
	ErrAlgorithm = errors.New("zip: unsupported compression algorithm")
	// ErrChecksum indicates decompressed contents failing CRC-32 or size validation
	ErrChecksum = errors.New("zip: checksum error")
)

const (
	// DirectoryEndLen is the fixed size of an EOCD record, excluding its comment.
	DirectoryEndLen = 22
	// Directory64LocLen is the size of a ZIP64 EOCD locator record.
	Directory64LocLen = 20
	// Directory64EndLen is the fixed size of a ZIP64 EOCD record.
	Directory64EndLen = 56
	// DirectoryHeaderLen is the fixed size of a central directory entry,
	// excluding its name, extra and comment fields.
	DirectoryHeaderLen = 46
	// FileHeaderLen is the fixed size of a local file header, excluding its
	// name and extra fields.
	FileHeaderLen = 30

	dataDescriptorSignature  = 0x08074b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	directoryHeaderSignature = 0x02014b50
	fileHeaderSignature      = 0x04034b50

	zip64ExtraID = 0x0001 // Zip64 extended information

	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1
)

// Compression methods.
const (
	Store   uint16 = 0 // no compression
	Deflate uint16 = 8 // DEFLATE compressed
)

// FileHeader describes a file within a zip archive, as recorded in the
// central directory. See the zip spec for details.
type FileHeader struct {
	// Name is the name of the file.
	//
	// It must be a relative path, not start with a drive letter (such as "C:"),
	// and must use forward slashes instead of back slashes. A trailing slash
	// indicates that this file is a directory and should have no data.
	Name string

	// Comment is any arbitrary user-defined string shorter than 64KiB.
	Comment string

	Flags uint16

	// Method is the compression method. If zero, Store is used.
	Method uint16

	// CRC32 is the checksum of the uncompressed contents declared by the
	// central directory.
	CRC32 uint32

	CompressedSize64   uint64
	UncompressedSize64 uint64
	Extra              []byte
}

// HasDataDescriptor reports whether the entry was written in streaming mode,
// with sizes and CRC-32 deferred to a trailing data descriptor. The central
// directory values remain authoritative either way; the flag only means the
// local file header legitimately carries zeros in those fields.
func (h *FileHeader) HasDataDescriptor() bool {
	return h.Flags&0x8 != 0
}

// File is one central directory entry together with the location of its
// local header within the archive.
type File struct {
	FileHeader
	HeaderOffset int64
}

// DirectoryEnd describes an EOCD record, with ZIP64 values already folded in
// when the archive carries a ZIP64 EOCD record.
type DirectoryEnd struct {
	DirectoryRecords uint64
	DirectorySize    uint64
	// DirectoryOffset is the offset of the first central directory entry,
	// relative to the start of the archive.
	DirectoryOffset uint64
	Comment         string
	// Zip64 records that a ZIP64 EOCD record supplied the fields above, so
	// DirectoryRecords is exact rather than truncated to 16 bits.
	Zip64 bool

	diskNbr            uint16
	dirDiskNbr         uint16
	dirRecordsThisDisk uint16
	commentLen         uint16
}

// NeedsZip64 reports whether any EOCD field carries the marker value deferring
// it to the ZIP64 EOCD record.
func (d *DirectoryEnd) NeedsZip64() bool {
	return d.DirectoryRecords == uint16max ||
		d.DirectorySize == uint32max ||
		d.DirectoryOffset == uint32max
}

// LocalFileHeader is the fixed portion of a member's local file header. Its
// name and extra contents are not retained; only their lengths matter for
// locating the compressed data that follows the header.
type LocalFileHeader struct {
	Flags            uint16
	Method           uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLen          int
	ExtraLen         int
}

// TotalSize returns the full byte length of the local header, variable
// fields included. The member's compressed data begins this many bytes past
// the header offset.
func (h *LocalFileHeader) TotalSize() int64 {
	return int64(FileHeaderLen + h.NameLen + h.ExtraLen)
}
