// Package zipfile reads members out of remote zip archives without
// downloading them whole. The archive's central directory is located with
// ranged tail reads and parsed once; member reads then fetch exactly the
// bytes holding the member's local header and compressed payload.
package zipfile

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/alec-rabold/zippeek/pkg/httprange"
	"github.com/alec-rabold/zippeek/pkg/reader"
)

// ErrMemberNotFound is returned by Open when no directory entry carries the
// requested name.
var ErrMemberNotFound = errors.New("zipfile: member not found")

// ErrClosed is returned by operations on a closed Archive.
var ErrClosed = errors.New("zipfile: archive is closed")

// Archive is a remote zip archive addressed by URL. It is safe for
// concurrent use; the central directory is fetched lazily and exactly once.
type Archive struct {
	url    string
	size   int64
	client *httprange.Client

	loadGroup singleflight.Group

	mu      sync.RWMutex
	loaded  bool
	files   []*reader.File
	byName  map[string]*reader.File
	comment string
	closed  bool
}

// Option configures an Archive.
type Option func(a *Archive)

// WithClient sets the range request client used for all reads.
func WithClient(client *httprange.Client) Option {
	return func(a *Archive) {
		a.client = client
	}
}

// WithHTTPClient sets the underlying *http.Client used for all reads.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *Archive) {
		a.client = httprange.NewClient(httpClient)
	}
}

// New probes rawURL and returns an Archive ready for directory and member
// reads. The probe both measures the archive and proves that the server
// honors range requests; httprange.ErrRangeNotSupported is returned when it
// does not.
func New(ctx context.Context, rawURL string, opts ...Option) (*Archive, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "zipfile: invalid archive URL %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("zipfile: unsupported URL scheme %q", u.Scheme)
	}
	a := &Archive{
		url:    rawURL,
		client: httprange.NewClient(nil),
	}
	for i := range opts {
		opts[i](a)
	}
	size, err := a.client.Probe(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	a.size = size
	return a, nil
}

// Size returns the archive's total size in bytes as reported by the probe.
func (a *Archive) Size() int64 {
	return a.size
}

// Directory returns the archive's members in central directory order. The
// directory is fetched on first use; concurrent callers share a single load
// and later callers reuse the parsed result.
func (a *Archive) Directory(ctx context.Context) ([]*reader.File, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	if a.loaded {
		files := a.files
		a.mu.RUnlock()
		return files, nil
	}
	a.mu.RUnlock()

	// Failed loads are not memoized: a transient fetch error should not
	// poison the archive for later calls.
	_, err, _ := a.loadGroup.Do("directory", func() (interface{}, error) {
		a.mu.RLock()
		loaded := a.loaded
		a.mu.RUnlock()
		if loaded {
			return nil, nil
		}
		files, byName, comment, err := a.loadDirectory(ctx)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.files, a.byName, a.comment, a.loaded = files, byName, comment, true
		a.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.files, nil
}

// Comment returns the archive comment, loading the directory when needed.
func (a *Archive) Comment(ctx context.Context) (string, error) {
	if _, err := a.Directory(ctx); err != nil {
		return "", err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.comment, nil
}

// Open fetches and decompresses the named member. The name must match a
// directory entry exactly; when an archive stores duplicate names the entry
// written last wins. The returned reader validates the member's CRC-32 and
// size as it is drained and must be closed by the caller.
func (a *Archive) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := a.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return a.openMember(ctx, f)
}

// ReadMember fetches, decompresses and validates the named member, returning
// its whole contents.
func (a *Archive) ReadMember(ctx context.Context, name string) ([]byte, error) {
	rc, err := a.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Search returns the members whose names contain each of the given terms,
// keyed by term. Terms that match nothing map to an empty slice.
func (a *Archive) Search(ctx context.Context, terms []string) (map[string][]*reader.File, error) {
	files, err := a.Directory(ctx)
	if err != nil {
		return nil, err
	}
	matches := make(map[string][]*reader.File, len(terms))
	for _, term := range terms {
		var hits []*reader.File
		for _, f := range files {
			if strings.Contains(f.Name, term) {
				hits = append(hits, f)
			}
		}
		matches[term] = hits
	}
	return matches, nil
}

// Close marks the archive closed. The archive holds no connections of its
// own, so closing only stops further reads.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *Archive) ensureOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	return nil
}

func (a *Archive) lookup(ctx context.Context, name string) (*reader.File, error) {
	if _, err := a.Directory(ctx); err != nil {
		return nil, err
	}
	a.mu.RLock()
	f := a.byName[name]
	a.mu.RUnlock()
	if f == nil {
		return nil, errors.Wrapf(ErrMemberNotFound, "%q", name)
	}
	return f, nil
}

// openMember fetches the member's local header and payload in one window,
// extending it when the header declares an extra field larger than the
// planned margin, and hands the payload to the decompressor.
func (a *Archive) openMember(ctx context.Context, f *reader.File) (io.ReadCloser, error) {
	plan, err := planMemberFetch(f, a.size)
	if err != nil {
		return nil, err
	}
	block, err := a.fetch(ctx, plan)
	if err != nil {
		return nil, err
	}
	lh, err := reader.ReadFileHeader(block)
	if err != nil {
		return nil, err
	}
	need := lh.TotalSize() + int64(f.CompressedSize64)
	if f.HeaderOffset+need > a.size {
		return nil, errors.Wrapf(reader.ErrFormat, "member %q extends past end of archive", f.Name)
	}
	if int64(len(block)) < need {
		rest, err := a.client.FetchRange(ctx, a.url, plan.start+int64(len(block)), plan.start+need-1)
		if err != nil {
			return nil, err
		}
		block = append(block, rest...)
	}
	if err := lh.Matches(&f.FileHeader); err != nil {
		return nil, err
	}
	return reader.OpenMember(&f.FileHeader, block[lh.TotalSize():need])
}

// eocdLocation bundles the parsed end of central directory record with where
// it was found, which the zip64 resolution step needs.
type eocdLocation struct {
	dir         *reader.DirectoryEnd
	window      []byte
	windowStart int64
	offset      int64
}

func (a *Archive) loadDirectory(ctx context.Context) ([]*reader.File, map[string]*reader.File, string, error) {
	loc, err := a.findDirectoryEnd(ctx)
	if err != nil {
		return nil, nil, "", err
	}
	if err := a.resolveZip64(ctx, loc); err != nil {
		return nil, nil, "", err
	}
	d := loc.dir

	if d.DirectorySize == 0 {
		if d.DirectoryRecords != 0 {
			return nil, nil, "", errors.Wrap(reader.ErrFormat, "empty directory with a nonzero record count")
		}
		return nil, map[string]*reader.File{}, d.Comment, nil
	}
	if d.DirectoryOffset > uint64(a.size) || d.DirectorySize > uint64(a.size) ||
		int64(d.DirectoryOffset)+int64(d.DirectorySize) > loc.offset {
		return nil, nil, "", errors.Wrapf(reader.ErrFormat,
			"directory of %d bytes at offset %d collides with its end record at %d",
			d.DirectorySize, d.DirectoryOffset, loc.offset)
	}

	block, err := a.client.FetchRange(ctx, a.url,
		int64(d.DirectoryOffset), int64(d.DirectoryOffset)+int64(d.DirectorySize)-1)
	if err != nil {
		return nil, nil, "", err
	}

	var files []*reader.File
	byName := make(map[string]*reader.File)
	buf := bytes.NewReader(block)
	// The count of files inside a zip is truncated to fit in a uint16 unless
	// a zip64 record carries the real one. Parse entries until the directory
	// bytes run out, then verify the count: exact when a zip64 record
	// supplied it, modulo 65536 for legacy archives.
	for buf.Len() > 0 {
		f := &reader.File{}
		if err := reader.ReadDirectoryHeader(f, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, nil, "", errors.Wrap(reader.ErrFormat, "truncated directory entry")
			}
			return nil, nil, "", err
		}
		files = append(files, f)
		byName[f.Name] = f // later entries shadow earlier duplicates
	}
	if n := uint64(len(files)); n != d.DirectoryRecords {
		if d.Zip64 || uint16(n) != uint16(d.DirectoryRecords) {
			return nil, nil, "", errors.Wrapf(reader.ErrFormat,
				"directory carried %d entries, end record declares %d", n, d.DirectoryRecords)
		}
	}

	log.WithFields(log.Fields{
		"url":     a.url,
		"members": len(files),
	}).Debug("loaded central directory")
	return files, byName, d.Comment, nil
}

// findDirectoryEnd scans progressively larger tail windows for the end of
// central directory record.
func (a *Archive) findDirectoryEnd(ctx context.Context) (*eocdLocation, error) {
	for _, plan := range tailReadPlans(a.size, eocdWindowSize) {
		window, err := a.fetch(ctx, plan)
		if err != nil {
			return nil, err
		}
		p := reader.FindSignatureInBlock(window)
		if p < 0 {
			log.WithFields(log.Fields{
				"url":    a.url,
				"window": plan.len(),
			}).Debug("directory end not in tail window, widening")
			continue
		}
		d, err := reader.ReadDirectoryEnd(window[p:], a.size)
		if err != nil {
			return nil, err
		}
		return &eocdLocation{
			dir:         d,
			window:      window,
			windowStart: plan.start,
			offset:      plan.start + int64(p),
		}, nil
	}
	return nil, errors.Wrap(reader.ErrFormat, "end of central directory not found")
}

// resolveZip64 replaces saturated end record fields with the 64-bit values
// from the zip64 records preceding it. Saturated fields without a zip64
// locator are kept as is: legacy archives legitimately max out the entry
// count. The records usually sit inside the already fetched tail window, so
// resolution rarely costs extra requests.
func (a *Archive) resolveZip64(ctx context.Context, loc *eocdLocation) error {
	if !loc.dir.NeedsZip64() || loc.offset < reader.Directory64LocLen {
		return nil
	}
	locStart := loc.offset - reader.Directory64LocLen
	block := sliceWindow(loc.window, loc.windowStart, locStart, loc.offset-1)
	if block == nil {
		var err error
		if block, err = a.client.FetchRange(ctx, a.url, locStart, loc.offset-1); err != nil {
			return err
		}
	}
	off, ok := reader.ReadDirectory64Locator(block)
	if !ok {
		return nil
	}
	if off < 0 || off+reader.Directory64EndLen > locStart {
		return errors.Wrap(reader.ErrFormat, "zip64 directory end outside archive")
	}
	end64 := sliceWindow(loc.window, loc.windowStart, off, off+reader.Directory64EndLen-1)
	if end64 == nil {
		var err error
		if end64, err = a.client.FetchRange(ctx, a.url, off, off+reader.Directory64EndLen-1); err != nil {
			return err
		}
	}
	return reader.ReadDirectory64End(end64, loc.dir)
}

func (a *Archive) fetch(ctx context.Context, p fetchPlan) ([]byte, error) {
	return a.client.FetchRange(ctx, a.url, p.start, p.end)
}
