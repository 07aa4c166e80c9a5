// Package httprange fetches byte ranges of a remote file with HTTP range
// requests (RFC 7233). Servers must advertise range support by answering a
// one-byte probe with 206 Partial Content; everything else is reported as
// ErrRangeNotSupported so callers can fail before transferring the file.
package httprange

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrRangeNotSupported is returned when the server answers a range request
// with a full response or refuses to report the resource's complete length.
var ErrRangeNotSupported = errors.New("httprange: server does not support range requests")

var errParse = errors.New("content-range parse error")

// RequestError describes a failed exchange with the remote server. Status is
// zero when the request never produced a response.
type RequestError struct {
	URL    string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("httprange: %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("httprange: %s: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

var defaultHTTPClient *http.Client

func init() {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   3 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	defaultHTTPClient = &http.Client{
		Transport: transport,
	}
}

// Client issues range requests against remote URLs. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client backed by httpClient. Passing nil selects a
// default client with dial timeouts suited for remote archive reading.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}
	return &Client{httpClient: httpClient}
}

// Probe issues a one-byte range request and returns the total size of the
// remote resource. It returns ErrRangeNotSupported when the server answers
// with a full response or hides the complete length, and a *RequestError for
// transport failures or a partial response that does not echo the one-byte
// window.
func (c *Client) Probe(ctx context.Context, url string) (int64, error) {
	resp, err := c.doRequest(ctx, url, "bytes=0-0")
	if err != nil {
		return -1, &RequestError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return -1, errors.Wrapf(ErrRangeNotSupported, "%s: got 200 for a range request", url)
	default:
		return -1, &RequestError{URL: url, Status: resp.StatusCode, Err: errors.Errorf("unexpected status %q", resp.Status)}
	}

	contentRange := resp.Header.Get(headers.ContentRange)
	if contentRange == "" {
		return -1, &RequestError{URL: url, Status: resp.StatusCode, Err: errors.New("no content-range header in partial response")}
	}
	first, last, size, err := parseContentRange(contentRange)
	if err != nil {
		return -1, &RequestError{URL: url, Status: resp.StatusCode, Err: err}
	}
	if first != 0 || last != 0 {
		return -1, &RequestError{URL: url, Status: resp.StatusCode,
			Err: errors.Errorf("requested range 0-0, server sent %d-%d", first, last)}
	}
	if size < 0 {
		// "bytes 0-0/*": ranges are honored but the complete length is
		// unknown, so the end of the file cannot be located.
		return -1, errors.Wrapf(ErrRangeNotSupported, "%s: server did not report a complete length", url)
	}
	log.WithFields(log.Fields{
		"url":  url,
		"size": size,
	}).Debug("probed remote file")
	return size, nil
}

// FetchRange retrieves bytes [start, end] (both inclusive) of url. The
// response must echo exactly the requested window: a different Content-Range
// or a body of the wrong length is reported as a *RequestError rather than
// returned short.
func (c *Client) FetchRange(ctx context.Context, url string, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, errors.Errorf("httprange: invalid byte range %d-%d", start, end)
	}
	resp, err := c.doRequest(ctx, url, fmt.Sprintf("bytes=%d-%d", start, end))
	if err != nil {
		return nil, &RequestError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return nil, errors.Wrapf(ErrRangeNotSupported, "%s: got 200 for a range request", url)
	default:
		return nil, &RequestError{URL: url, Status: resp.StatusCode, Err: errors.Errorf("unexpected status %q", resp.Status)}
	}

	first, last, _, err := parseContentRange(resp.Header.Get(headers.ContentRange))
	if err != nil {
		return nil, &RequestError{URL: url, Status: resp.StatusCode, Err: err}
	}
	if first != start || last != end {
		return nil, &RequestError{URL: url, Status: resp.StatusCode,
			Err: errors.Errorf("requested range %d-%d, server sent %d-%d", start, end, first, last)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{URL: url, Status: resp.StatusCode, Err: err}
	}
	if int64(len(body)) != end-start+1 {
		return nil, &RequestError{URL: url, Status: resp.StatusCode,
			Err: errors.Errorf("range %d-%d: body carried %d bytes", start, end, len(body))}
	}
	log.WithFields(log.Fields{
		"url":   url,
		"start": start,
		"end":   end,
	}).Debug("fetched range")
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headers.Range, rangeHeader)
	// Transparent compression would invalidate the byte offsets.
	req.Header.Set(headers.AcceptEncoding, "identity")
	return c.httpClient.Do(req)
}

func parseContentRange(str string) (first, last, length int64, err error) {
	first, last, length = -1, -1, -1

	// Content-Range: bytes 42-1233/1234
	// Content-Range: bytes 42-1233/*
	// Content-Range: bytes */1234

	strs := strings.Split(str, " ")
	if len(strs) != 2 || strs[0] != "bytes" {
		return -1, -1, -1, errParse
	}
	strs = strings.Split(strs[1], "/")
	if len(strs) != 2 {
		return -1, -1, -1, errParse
	}
	if strs[1] != "*" {
		length, err = strconv.ParseInt(strs[1], 10, 64)
		if err != nil {
			return -1, -1, -1, errParse
		}
	}
	if strs[0] != "*" {
		strs = strings.Split(strs[0], "-")
		if len(strs) != 2 {
			return -1, -1, -1, errParse
		}
		first, err = strconv.ParseInt(strs[0], 10, 64)
		if err != nil {
			return -1, -1, -1, errParse
		}
		last, err = strconv.ParseInt(strs[1], 10, 64)
		if err != nil {
			return -1, -1, -1, errParse
		}
	}
	if first == -1 && last == -1 && length == -1 {
		return -1, -1, -1, errParse
	}
	return first, last, length, nil
}
