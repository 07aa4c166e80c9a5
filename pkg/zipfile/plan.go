package zipfile

import (
	"github.com/pkg/errors"

	"github.com/alec-rabold/zippeek/pkg/reader"
)

const (
	// eocdWindowSize is the first tail window scanned for the end of central
	// directory record. The record plus its comment can occupy up to 65557
	// bytes, so a doubled window always reaches it on the second attempt.
	eocdWindowSize = 64 * 1024

	// localHeaderPad is fetched beyond the fixed local header and member name
	// to cover the extra field, whose length is only known once the header is
	// parsed. Extra fields larger than this cost one additional request.
	localHeaderPad = 1024
)

// fetchPlan is an inclusive byte window to retrieve.
type fetchPlan struct {
	start, end int64
}

func (p fetchPlan) len() int64 { return p.end - p.start + 1 }

// tailReadPlans returns the windows to scan for the end of central directory
// record: the last windowSize bytes of the archive, then doubling, finishing
// with a window that spans the whole archive.
func tailReadPlans(size, windowSize int64) []fetchPlan {
	var plans []fetchPlan
	for n := windowSize; ; n *= 2 {
		if n >= size {
			plans = append(plans, fetchPlan{0, size - 1})
			return plans
		}
		plans = append(plans, fetchPlan{size - n, size - 1})
	}
}

// planMemberFetch computes the window covering a member's local file header
// and compressed payload. The window pads the fixed header by the member
// name and localHeaderPad so typical extra fields arrive in the same
// request. Directory values that place the member outside the archive are
// rejected before anything is fetched.
func planMemberFetch(f *reader.File, archiveSize int64) (fetchPlan, error) {
	if f.HeaderOffset < 0 || f.HeaderOffset+reader.FileHeaderLen > archiveSize {
		return fetchPlan{}, errors.Wrapf(reader.ErrFormat,
			"member %q: header offset %d outside archive of %d bytes", f.Name, f.HeaderOffset, archiveSize)
	}
	if f.CompressedSize64 > uint64(archiveSize) ||
		f.HeaderOffset+reader.FileHeaderLen+int64(f.CompressedSize64) > archiveSize {
		return fetchPlan{}, errors.Wrapf(reader.ErrFormat,
			"member %q: %d compressed bytes at offset %d extend past archive of %d bytes",
			f.Name, f.CompressedSize64, f.HeaderOffset, archiveSize)
	}
	p := fetchPlan{
		start: f.HeaderOffset,
		end:   f.HeaderOffset + reader.FileHeaderLen + int64(len(f.Name)) + localHeaderPad + int64(f.CompressedSize64) - 1,
	}
	if p.end > archiveSize-1 {
		p.end = archiveSize - 1
	}
	return p, nil
}

// sliceWindow returns the bytes [from, to] out of a block fetched at
// windowStart, or nil when the block does not fully cover the span. It lets
// the directory loader reuse the tail window for the zip64 records that sit
// adjacent to the directory end instead of fetching them again.
func sliceWindow(block []byte, windowStart, from, to int64) []byte {
	if from > to || from < windowStart || to >= windowStart+int64(len(block)) {
		return nil
	}
	return block[from-windowStart : to-windowStart+1]
}
