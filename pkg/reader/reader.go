package reader

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// A Decompressor returns a new decompressing reader, reading from r. The
// ReadCloser's Close method must be used to release associated resources.
type Decompressor func(r io.Reader) io.ReadCloser

var decompressors sync.Map // map[uint16]Decompressor

func init() {
	RegisterDecompressor(Store, io.NopCloser)
	RegisterDecompressor(Deflate, newFlateReader)
}

func newFlateReader(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}

// RegisterDecompressor registers a custom decompressor for a method ID. The
// common methods Store and Deflate are built in.
func RegisterDecompressor(method uint16, dcomp Decompressor) {
	if _, dup := decompressors.LoadOrStore(method, dcomp); dup {
		panic("decompressor already registered")
	}
}

func decompressor(method uint16) Decompressor {
	di, ok := decompressors.Load(method)
	if !ok {
		return nil
	}
	return di.(Decompressor)
}

// FindSignatureInBlock scans block backwards for the end of central directory
// signature and returns the offset of the record within the block, or -1 when
// the block does not contain one. A candidate only counts when its comment
// length agrees with the number of bytes that actually follow it, so member
// payloads that happen to contain the signature bytes are skipped over.
func FindSignatureInBlock(block []byte) int {
	for i := len(block) - DirectoryEndLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(block[i:i+4]) == directoryEndSignature {
			// n is the length of the comment trailing the record
			n := int(block[i+DirectoryEndLen-2]) | int(block[i+DirectoryEndLen-1])<<8
			if n+DirectoryEndLen+i <= len(block) {
				return i
			}
		}
	}
	return -1
}

// ReadDirectoryEnd parses the end of central directory record at the start of
// block. totalSize is the size of the whole archive, used to reject directory
// bounds that point outside it.
func ReadDirectoryEnd(block []byte, totalSize int64) (*DirectoryEnd, error) {
	if len(block) < DirectoryEndLen {
		return nil, errors.Wrap(ErrFormat, "truncated directory end record")
	}
	b := readBuf(block)
	if sig := b.uint32(); sig != directoryEndSignature {
		return nil, errors.Wrap(ErrFormat, "bad directory end signature")
	}
	d := &DirectoryEnd{
		diskNbr:            b.uint16(),
		dirDiskNbr:         b.uint16(),
		dirRecordsThisDisk: b.uint16(),
		DirectoryRecords:   uint64(b.uint16()),
		DirectorySize:      uint64(b.uint32()),
		DirectoryOffset:    uint64(b.uint32()),
		commentLen:         b.uint16(),
	}

	l := int(d.commentLen)
	if l > len(block)-DirectoryEndLen {
		return nil, ErrCommentLength
	}
	d.Comment = string(block[DirectoryEndLen : DirectoryEndLen+l])

	// Saturated fields defer to the zip64 record, so only directory bounds
	// that cannot be markers are checked against the archive size here.
	if !d.NeedsZip64() {
		if o := int64(d.DirectoryOffset); o < 0 || o+int64(d.DirectorySize) > totalSize {
			return nil, errors.Wrap(ErrFormat, "directory extends past end of archive")
		}
	}
	return d, nil
}

// ReadDirectory64Locator parses the zip64 directory end locator expected at
// the start of block. It returns ok=false when no locator is present, which
// is legitimate for archives whose 16- and 32-bit fields merely saturate.
// Locators pointing at other disks are ignored the same way archive/zip
// ignores them.
func ReadDirectory64Locator(block []byte) (offset int64, ok bool) {
	if len(block) < Directory64LocLen {
		return -1, false
	}
	b := readBuf(block)
	if sig := b.uint32(); sig != directory64LocSignature {
		return -1, false
	}
	if b.uint32() != 0 { // number of the disk holding the directory end record
		return -1, false
	}
	p := b.uint64()
	if b.uint32() != 1 { // total number of disks
		return -1, false
	}
	return int64(p), true
}

// ReadDirectory64End parses the zip64 end of central directory record at the
// start of block and folds its 64-bit totals into d.
func ReadDirectory64End(block []byte, d *DirectoryEnd) error {
	if len(block) < Directory64EndLen {
		return errors.Wrap(ErrFormat, "truncated zip64 directory end record")
	}
	b := readBuf(block)
	if sig := b.uint32(); sig != directory64EndSignature {
		return errors.Wrap(ErrFormat, "bad zip64 directory end signature")
	}
	b = b[12:] // skip record size, creator version and reader version
	b.skip(16) // skip disk numbers and the per-disk record count
	d.DirectoryRecords = b.uint64()
	d.DirectorySize = b.uint64()
	d.DirectoryOffset = b.uint64()
	d.Zip64 = true
	return nil
}

// ReadDirectoryHeader reads one central directory entry from r into f. It
// returns io.ErrUnexpectedEOF when the stream ends mid-entry and ErrFormat
// when the bytes are not a directory entry.
func ReadDirectoryHeader(f *File, r io.Reader) error {
	var buf [DirectoryHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	b := readBuf(buf[:])
	if sig := b.uint32(); sig != directoryHeaderSignature {
		return errors.Wrap(ErrFormat, "bad directory header signature")
	}

	f.Flags = b.skip(4).uint16() // skip creator and reader versions
	f.Method = b.uint16()
	f.CRC32 = b.skip(4).uint32() // skip modification time and date
	compressedSize := b.uint32()
	uncompressedSize := b.uint32()
	f.CompressedSize64 = uint64(compressedSize)
	f.UncompressedSize64 = uint64(uncompressedSize)
	filenameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	headerOffset := b.skip(8).uint32() // skip disk number start and internal/external attributes
	f.HeaderOffset = int64(headerOffset)

	d := make([]byte, filenameLen+extraLen+commentLen)
	if _, err := io.ReadFull(r, d); err != nil {
		return err
	}
	f.Name = string(d[:filenameLen])
	f.Extra = d[filenameLen : filenameLen+extraLen]
	f.Comment = string(d[filenameLen+extraLen:])

	needUSize := uncompressedSize == uint32max
	needCSize := compressedSize == uint32max
	needHeaderOffset := headerOffset == uint32max

	for extra := readBuf(f.Extra); len(extra) >= 4; {
		fieldTag := extra.uint16()
		fieldSize := int(extra.uint16())
		if len(extra) < fieldSize {
			break
		}
		fieldBuf := extra.sub(fieldSize)

		switch fieldTag {
		case zip64ExtraID:
			// The zip64 extra block carries the real values for fields that
			// are maxed out in the entry. Values that fit take precedence.
			if needUSize {
				needUSize = false
				if len(fieldBuf) < 8 {
					return errors.Wrapf(ErrFormat, "member %q: short zip64 extra field", f.Name)
				}
				f.UncompressedSize64 = fieldBuf.uint64()
			}
			if needCSize {
				needCSize = false
				if len(fieldBuf) < 8 {
					return errors.Wrapf(ErrFormat, "member %q: short zip64 extra field", f.Name)
				}
				f.CompressedSize64 = fieldBuf.uint64()
			}
			if needHeaderOffset {
				needHeaderOffset = false
				if len(fieldBuf) < 8 {
					return errors.Wrapf(ErrFormat, "member %q: short zip64 extra field", f.Name)
				}
				f.HeaderOffset = int64(fieldBuf.uint64())
			}
		}
	}
	if needUSize || needCSize || needHeaderOffset {
		return errors.Wrapf(ErrFormat, "member %q: saturated field without zip64 extra", f.Name)
	}
	return nil
}

// ReadFileHeader parses the fixed portion of the local file header at the
// start of block. The name and extra bytes that follow are accounted for by
// TotalSize but not parsed; the central directory is authoritative for both.
func ReadFileHeader(block []byte) (*LocalFileHeader, error) {
	if len(block) < FileHeaderLen {
		return nil, errors.Wrap(ErrFormat, "truncated local file header")
	}
	b := readBuf(block)
	if sig := b.uint32(); sig != fileHeaderSignature {
		return nil, errors.Wrap(ErrFormat, "bad local file header signature")
	}
	h := &LocalFileHeader{}
	h.Flags = b.skip(2).uint16() // skip reader version
	h.Method = b.uint16()
	h.CRC32 = b.skip(4).uint32() // skip modification time and date
	h.CompressedSize = b.uint32()
	h.UncompressedSize = b.uint32()
	h.NameLen = int(b.uint16())
	h.ExtraLen = int(b.uint16())
	return h, nil
}

// Matches verifies that a local file header agrees with the central directory
// entry the member was opened through. Members written in streaming mode
// store zeros for the sizes and checksum in the local header and defer to a
// trailing data descriptor, so only the method is comparable for those.
func (h *LocalFileHeader) Matches(f *FileHeader) error {
	if h.Method != f.Method {
		return errors.Wrapf(ErrFormat, "member %q: local header method %d, directory declares %d", f.Name, h.Method, f.Method)
	}
	if f.HasDataDescriptor() {
		return nil
	}
	if !sizeMatches(h.CompressedSize, f.CompressedSize64) {
		return errors.Wrapf(ErrFormat, "member %q: local header compressed size %d, directory declares %d", f.Name, h.CompressedSize, f.CompressedSize64)
	}
	if !sizeMatches(h.UncompressedSize, f.UncompressedSize64) {
		return errors.Wrapf(ErrFormat, "member %q: local header uncompressed size %d, directory declares %d", f.Name, h.UncompressedSize, f.UncompressedSize64)
	}
	if h.CRC32 != f.CRC32 {
		return errors.Wrapf(ErrFormat, "member %q: local header CRC-32 %08x, directory declares %08x", f.Name, h.CRC32, f.CRC32)
	}
	return nil
}

// sizeMatches compares a 32-bit local header size against the directory's
// 64-bit value, honoring the 0xffffffff escape used alongside zip64 extras.
func sizeMatches(local uint32, dir uint64) bool {
	if local == uint32max {
		return true
	}
	return uint64(local) == dir
}

// OpenMember returns a reader over the decompressed contents of a member
// whose compressed bytes have already been fetched. The reader validates the
// CRC-32 and decompressed length against the directory values as the stream
// drains; Close releases the decompressor.
func OpenMember(f *FileHeader, compressed []byte) (io.ReadCloser, error) {
	if uint64(len(compressed)) != f.CompressedSize64 {
		return nil, errors.Wrapf(ErrFormat, "member %q: fetched %d compressed bytes, directory declares %d", f.Name, len(compressed), f.CompressedSize64)
	}
	dcomp := decompressor(f.Method)
	if dcomp == nil {
		return nil, errors.Wrapf(ErrAlgorithm, "member %q: method %d", f.Name, f.Method)
	}
	return &checksumReader{
		rc:   dcomp(bytes.NewReader(compressed)),
		hash: crc32.NewIEEE(),
		f:    f,
	}, nil
}

// checksumReader wraps a decompressor and validates the produced stream
// against the directory's declared CRC-32 and uncompressed size once it is
// drained. Decoder failures count as corrupt member bytes.
type checksumReader struct {
	rc    io.ReadCloser
	hash  hash.Hash32
	nread uint64 // number of bytes read so far
	f     *FileHeader
	err   error // sticky error
}

func (r *checksumReader) Read(b []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err = r.rc.Read(b)
	r.hash.Write(b[:n])
	r.nread += uint64(n)
	if err == nil {
		return
	}
	if err == io.EOF {
		switch {
		case r.nread != r.f.UncompressedSize64:
			err = errors.Wrapf(ErrChecksum, "member %q: decompressed to %d bytes, directory declares %d", r.f.Name, r.nread, r.f.UncompressedSize64)
		case r.hash.Sum32() != r.f.CRC32:
			err = errors.Wrapf(ErrChecksum, "member %q: CRC-32 %08x, directory declares %08x", r.f.Name, r.hash.Sum32(), r.f.CRC32)
		}
	} else {
		err = errors.Wrapf(ErrChecksum, "member %q: %v", r.f.Name, err)
	}
	r.err = err
	return
}

// Close implements io.ReadCloser
func (r *checksumReader) Close() error { return r.rc.Close() }

type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}

func (b *readBuf) skip(n int) *readBuf {
	*b = (*b)[n:]
	return b
}
