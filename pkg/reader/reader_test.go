package reader_test

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-rabold/zippeek/pkg/reader"
)

type memberSpec struct {
	name    string
	content []byte
	method  uint16
}

// buildZip assembles an in-memory archive with archive/zip so the parser is
// tested against bytes produced by an independent implementation.
func buildZip(t *testing.T, members []memberSpec, comment string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: m.name, Method: m.method})
		require.NoError(t, err)
		_, err = w.Write(m.content)
		require.NoError(t, err)
	}
	if comment != "" {
		require.NoError(t, zw.SetComment(comment))
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// parseDirectory locates and parses the central directory the same way a
// remote reader does: end record first, then exactly the declared entries.
func parseDirectory(t *testing.T, data []byte) (*reader.DirectoryEnd, []*reader.File) {
	t.Helper()
	p := reader.FindSignatureInBlock(data)
	require.GreaterOrEqual(t, p, 0, "end of central directory record not found")
	d, err := reader.ReadDirectoryEnd(data[p:], int64(len(data)))
	require.NoError(t, err)

	br := bytes.NewReader(data[d.DirectoryOffset : d.DirectoryOffset+d.DirectorySize])
	var files []*reader.File
	for i := uint64(0); i < d.DirectoryRecords; i++ {
		f := &reader.File{}
		require.NoError(t, reader.ReadDirectoryHeader(f, br))
		files = append(files, f)
	}
	require.Zero(t, br.Len(), "directory bytes left over after declared entries")
	return d, files
}

func testMembers() []memberSpec {
	random := make([]byte, 10*1024)
	rand.New(rand.NewSource(1)).Read(random)
	return []memberSpec{
		{name: "a.txt", content: []byte("hello"), method: reader.Store},
		{name: "b.bin", content: random, method: reader.Deflate},
	}
}

func TestFindSignatureInBlock(t *testing.T) {
	data := buildZip(t, testMembers(), "with a comment")
	p := reader.FindSignatureInBlock(data)
	require.GreaterOrEqual(t, p, 0)
	assert.Equal(t, uint32(0x06054b50), binary.LittleEndian.Uint32(data[p:p+4]))

	t.Run("signature bytes inside member content are skipped", func(t *testing.T) {
		decoy := buildZip(t, []memberSpec{
			{name: "decoy", content: []byte("PK\x05\x06 looks like a record"), method: reader.Store},
		}, "")
		p := reader.FindSignatureInBlock(decoy)
		require.GreaterOrEqual(t, p, 0)
		_, err := reader.ReadDirectoryEnd(decoy[p:], int64(len(decoy)))
		assert.NoError(t, err)
	})

	t.Run("comment length must fit the block", func(t *testing.T) {
		block := make([]byte, reader.DirectoryEndLen)
		binary.LittleEndian.PutUint32(block, 0x06054b50)
		binary.LittleEndian.PutUint16(block[reader.DirectoryEndLen-2:], 0xffff)
		assert.Equal(t, -1, reader.FindSignatureInBlock(block))
	})

	t.Run("no record", func(t *testing.T) {
		assert.Equal(t, -1, reader.FindSignatureInBlock(make([]byte, 1024)))
	})
}

func TestReadDirectoryEnd(t *testing.T) {
	data := buildZip(t, testMembers(), "with a comment")
	p := reader.FindSignatureInBlock(data)
	require.GreaterOrEqual(t, p, 0)

	d, err := reader.ReadDirectoryEnd(data[p:], int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), d.DirectoryRecords)
	assert.Equal(t, "with a comment", d.Comment)
	assert.False(t, d.NeedsZip64())
	assert.False(t, d.Zip64)

	t.Run("truncated record", func(t *testing.T) {
		_, err := reader.ReadDirectoryEnd(data[p:p+10], int64(len(data)))
		assert.ErrorIs(t, err, reader.ErrFormat)
	})

	t.Run("bad signature", func(t *testing.T) {
		_, err := reader.ReadDirectoryEnd(make([]byte, reader.DirectoryEndLen), int64(len(data)))
		assert.ErrorIs(t, err, reader.ErrFormat)
	})

	t.Run("directory outside archive", func(t *testing.T) {
		_, err := reader.ReadDirectoryEnd(data[p:], 10)
		assert.ErrorIs(t, err, reader.ErrFormat)
	})
}

func TestReadDirectoryHeader(t *testing.T) {
	members := testMembers()
	data := buildZip(t, members, "")
	_, files := parseDirectory(t, data)
	require.Len(t, files, len(members))

	// Cross-check every parsed field against archive/zip's own reader.
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for i, f := range files {
		want := zr.File[i]
		assert.Equal(t, want.Name, f.Name)
		assert.Equal(t, want.Method, f.Method)
		assert.Equal(t, want.CRC32, f.CRC32)
		assert.Equal(t, want.CompressedSize64, f.CompressedSize64)
		assert.Equal(t, want.UncompressedSize64, f.UncompressedSize64)
		assert.Equal(t, uint64(len(members[i].content)), f.UncompressedSize64)
	}

	t.Run("truncated entry", func(t *testing.T) {
		d, _ := parseDirectory(t, data)
		cd := data[d.DirectoryOffset : d.DirectoryOffset+20]
		err := reader.ReadDirectoryHeader(&reader.File{}, bytes.NewReader(cd))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("not a directory entry", func(t *testing.T) {
		err := reader.ReadDirectoryHeader(&reader.File{}, bytes.NewReader(make([]byte, 64)))
		assert.ErrorIs(t, err, reader.ErrFormat)
	})
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func TestReadDirectory64Locator(t *testing.T) {
	locator := func(sig uint32, disk uint32, offset uint64, disks uint32) []byte {
		b := appendUint32(nil, sig)
		b = appendUint32(b, disk)
		b = appendUint64(b, offset)
		return appendUint32(b, disks)
	}

	off, ok := reader.ReadDirectory64Locator(locator(0x07064b50, 0, 12345, 1))
	assert.True(t, ok)
	assert.Equal(t, int64(12345), off)

	tests := []struct {
		name  string
		block []byte
	}{
		{name: "wrong signature", block: locator(0x06054b50, 0, 12345, 1)},
		{name: "record on another disk", block: locator(0x07064b50, 1, 12345, 1)},
		{name: "multiple disks", block: locator(0x07064b50, 0, 12345, 2)},
		{name: "short block", block: make([]byte, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := reader.ReadDirectory64Locator(tt.block)
			assert.False(t, ok)
		})
	}
}

func buildDirectory64End(sig uint32, records, size, offset uint64) []byte {
	b := appendUint32(nil, sig)
	b = appendUint64(b, 44)     // size of the remaining record
	b = appendUint16(b, 45)     // creator version
	b = appendUint16(b, 45)     // reader version
	b = appendUint32(b, 0)      // disk number
	b = appendUint32(b, 0)      // directory disk number
	b = appendUint64(b, records)
	b = appendUint64(b, records)
	b = appendUint64(b, size)
	return appendUint64(b, offset)
}

func TestReadDirectory64End(t *testing.T) {
	d := &reader.DirectoryEnd{}
	err := reader.ReadDirectory64End(buildDirectory64End(0x06064b50, 3, 123, 456), d)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), d.DirectoryRecords)
	assert.Equal(t, uint64(123), d.DirectorySize)
	assert.Equal(t, uint64(456), d.DirectoryOffset)
	assert.True(t, d.Zip64)

	t.Run("bad signature", func(t *testing.T) {
		err := reader.ReadDirectory64End(buildDirectory64End(0x02014b50, 3, 123, 456), d)
		assert.ErrorIs(t, err, reader.ErrFormat)
	})

	t.Run("truncated record", func(t *testing.T) {
		err := reader.ReadDirectory64End(make([]byte, 20), d)
		assert.ErrorIs(t, err, reader.ErrFormat)
	})
}

// openFixtureMember parses a member's local file header out of the raw
// archive bytes and returns its decompressing reader.
func openFixtureMember(t *testing.T, data []byte, f *reader.File) io.ReadCloser {
	t.Helper()
	lh, err := reader.ReadFileHeader(data[f.HeaderOffset:])
	require.NoError(t, err)
	require.NoError(t, lh.Matches(&f.FileHeader))

	bodyStart := f.HeaderOffset + lh.TotalSize()
	body := data[bodyStart : bodyStart+int64(f.CompressedSize64)]
	rc, err := reader.OpenMember(&f.FileHeader, body)
	require.NoError(t, err)
	return rc
}

func TestOpenMemberRoundTrip(t *testing.T) {
	members := testMembers()
	data := buildZip(t, members, "")
	_, files := parseDirectory(t, data)

	for i, m := range members {
		t.Run(m.name, func(t *testing.T) {
			rc := openFixtureMember(t, data, files[i])
			defer rc.Close()
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, m.content, got)
		})
	}
}

func TestOpenMemberValidation(t *testing.T) {
	data := buildZip(t, testMembers(), "")
	_, files := parseDirectory(t, data)
	stored, deflated := files[0], files[1]

	t.Run("payload length disagrees with directory", func(t *testing.T) {
		_, err := reader.OpenMember(&stored.FileHeader, []byte("hell"))
		assert.ErrorIs(t, err, reader.ErrFormat)
	})

	t.Run("unknown compression method", func(t *testing.T) {
		h := stored.FileHeader
		h.Method = 99
		_, err := reader.OpenMember(&h, []byte("hello"))
		assert.ErrorIs(t, err, reader.ErrAlgorithm)
	})

	t.Run("corrupt stored payload", func(t *testing.T) {
		body := []byte("hellx")
		rc, err := reader.OpenMember(&stored.FileHeader, body)
		require.NoError(t, err)
		defer rc.Close()
		_, err = io.ReadAll(rc)
		assert.ErrorIs(t, err, reader.ErrChecksum)
	})

	t.Run("corrupt deflate payload", func(t *testing.T) {
		lh, err := reader.ReadFileHeader(data[deflated.HeaderOffset:])
		require.NoError(t, err)
		bodyStart := deflated.HeaderOffset + lh.TotalSize()
		body := append([]byte(nil), data[bodyStart:bodyStart+int64(deflated.CompressedSize64)]...)
		body[len(body)/2] ^= 0xff

		rc, err := reader.OpenMember(&deflated.FileHeader, body)
		require.NoError(t, err)
		defer rc.Close()
		_, err = io.ReadAll(rc)
		assert.ErrorIs(t, err, reader.ErrChecksum)
	})

	t.Run("declared checksum disagrees", func(t *testing.T) {
		h := stored.FileHeader
		h.CRC32 ^= 0xdeadbeef
		rc, err := reader.OpenMember(&h, []byte("hello"))
		require.NoError(t, err)
		defer rc.Close()
		_, err = io.ReadAll(rc)
		assert.ErrorIs(t, err, reader.ErrChecksum)
	})

	t.Run("declared length disagrees", func(t *testing.T) {
		h := stored.FileHeader
		h.UncompressedSize64++
		rc, err := reader.OpenMember(&h, []byte("hello"))
		require.NoError(t, err)
		defer rc.Close()
		_, err = io.ReadAll(rc)
		assert.ErrorIs(t, err, reader.ErrChecksum)
	})
}

func TestLocalFileHeaderMatches(t *testing.T) {
	dir := reader.FileHeader{
		Name:               "plan.txt",
		Method:             reader.Deflate,
		CRC32:              0xcafebabe,
		CompressedSize64:   10,
		UncompressedSize64: 20,
	}
	local := func() *reader.LocalFileHeader {
		return &reader.LocalFileHeader{
			Method:           reader.Deflate,
			CRC32:            0xcafebabe,
			CompressedSize:   10,
			UncompressedSize: 20,
		}
	}

	assert.NoError(t, local().Matches(&dir))

	t.Run("method mismatch", func(t *testing.T) {
		h := local()
		h.Method = reader.Store
		assert.ErrorIs(t, h.Matches(&dir), reader.ErrFormat)
	})

	t.Run("compressed size mismatch", func(t *testing.T) {
		h := local()
		h.CompressedSize = 11
		assert.ErrorIs(t, h.Matches(&dir), reader.ErrFormat)
	})

	t.Run("uncompressed size mismatch", func(t *testing.T) {
		h := local()
		h.UncompressedSize = 21
		assert.ErrorIs(t, h.Matches(&dir), reader.ErrFormat)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		h := local()
		h.CRC32 = 1
		assert.ErrorIs(t, h.Matches(&dir), reader.ErrFormat)
	})

	t.Run("saturated local sizes defer to the directory", func(t *testing.T) {
		h := local()
		h.CompressedSize = 0xffffffff
		h.UncompressedSize = 0xffffffff
		assert.NoError(t, h.Matches(&dir))
	})

	t.Run("streamed members compare the method only", func(t *testing.T) {
		streamed := dir
		streamed.Flags |= 0x8
		h := local()
		h.CRC32 = 0
		h.CompressedSize = 0
		h.UncompressedSize = 0
		assert.NoError(t, h.Matches(&streamed))
	})
}

func TestRegisterDecompressor(t *testing.T) {
	reader.RegisterDecompressor(42, io.NopCloser)

	content := []byte("raw bytes under a custom method")
	h := &reader.FileHeader{
		Name:               "custom",
		Method:             42,
		CRC32:              crc32.ChecksumIEEE(content),
		CompressedSize64:   uint64(len(content)),
		UncompressedSize64: uint64(len(content)),
	}
	rc, err := reader.OpenMember(h, content)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	assert.Panics(t, func() {
		reader.RegisterDecompressor(reader.Store, io.NopCloser)
	})
}
