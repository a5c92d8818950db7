// Package http provides a ByteSource backed by HTTP range requests.
//
// Opening a source fetches the head of the archive in one request. The
// header, MIME list and the pointer tables of small archives are then read
// without further round trips. Every later response is checked against the
// validators seen at open, so an archive replaced on the server fails reads
// with [ErrContentChanged] instead of mixing bytes of two files.
package http

import (
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
)

const (
	// DefaultPrefixSize is the number of leading bytes fetched at open.
	DefaultPrefixSize = 64 << 10
	// DefaultMaxRangeSize bounds the bytes requested by a single range request.
	DefaultMaxRangeSize = 1 << 20
)

var (
	// ErrRangeUnsupported is returned when the server ignores range requests.
	ErrRangeUnsupported = errors.New("http: range requests not supported")
	// ErrContentChanged is returned when the remote content no longer matches
	// the validators or size seen when the source was opened.
	ErrContentChanged = errors.New("http: remote content changed")
)

// Source implements random access reads via HTTP range requests.
// It satisfies zim.ByteSource and is safe for concurrent use.
type Source struct {
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	prefixSize   int64
	maxRangeSize int64

	size         int64
	prefix       []byte
	etag         string
	lastModified string
	id           string
	requests     atomic.Int64
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithPrefixSize sets how many leading bytes are fetched and kept at open.
// Values below 1 are raised to 1. Defaults to [DefaultPrefixSize].
func WithPrefixSize(n int64) Option {
	return func(s *Source) {
		s.prefixSize = max(n, 1)
	}
}

// WithMaxRangeSize bounds the size of a single range request; longer reads
// are split. Values below 1 are raised to 1. Defaults to [DefaultMaxRangeSize].
func WithMaxRangeSize(n int64) Option {
	return func(s *Source) {
		s.maxRangeSize = max(n, 1)
	}
}

// NewSource opens the remote content at url. It issues a single range
// request for the leading bytes, which also yields the size and validators.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:          url,
		client:       nethttp.DefaultClient,
		prefixSize:   DefaultPrefixSize,
		maxRangeSize: DefaultMaxRangeSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	if err := s.open(); err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	s.id = digest.FromString(strings.Join([]string{url, s.etag, s.lastModified, strconv.FormatInt(s.size, 10)}, "\n")).String()
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID identifies the remote content by URL, validators and size.
// A changed ETag yields a new ID, so cached blobs are not reused.
func (s *Source) SourceID() string {
	return s.id
}

// Requests returns the number of HTTP requests issued so far.
func (s *Source) Requests() int64 {
	return s.requests.Load()
}

// ReadAt reads len(p) bytes at off. Bytes within the prefix are copied
// without a request; the rest is fetched in ranges of at most the configured
// maximum size.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	want := p
	if remaining := s.size - off; int64(len(want)) > remaining {
		want = want[:remaining]
	}

	var n int
	if off < int64(len(s.prefix)) {
		n = copy(want, s.prefix[off:])
	}
	for n < len(want) {
		chunk := want[n:]
		if int64(len(chunk)) > s.maxRangeSize {
			chunk = chunk[:s.maxRangeSize]
		}
		if err := s.fetch(chunk, off+int64(n)); err != nil {
			return n, err
		}
		n += len(chunk)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// open fetches the prefix and records size and validators.
func (s *Source) open() error {
	req, err := s.newRequest()
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", s.prefixSize-1))
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// Only an empty resource cannot satisfy a range starting at 0.
		cr, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return err
		}
		if cr.total != 0 {
			return fmt.Errorf("range 0-%d not satisfiable for %d bytes", s.prefixSize-1, cr.total)
		}
		s.etag = resp.Header.Get("ETag")
		s.lastModified = resp.Header.Get("Last-Modified")
		return nil
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return fmt.Errorf("range request failed: %s", resp.Status)
	}

	cr, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if cr.start != 0 || cr.end >= s.prefixSize || cr.end >= cr.total {
		return fmt.Errorf("unexpected Content-Range %q for bytes=0-%d", resp.Header.Get("Content-Range"), s.prefixSize-1)
	}
	prefix := make([]byte, cr.end+1)
	if _, err := io.ReadFull(resp.Body, prefix); err != nil {
		return fmt.Errorf("read prefix: %w", err)
	}
	s.size = cr.total
	s.prefix = prefix
	s.etag = resp.Header.Get("ETag")
	s.lastModified = resp.Header.Get("Last-Modified")
	return nil
}

// fetch fills p with the bytes at off using one range request.
func (s *Source) fetch(p []byte, off int64) error {
	end := off + int64(len(p)) - 1
	req, err := s.newRequest()
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusPreconditionFailed, nethttp.StatusRequestedRangeNotSatisfiable:
		return fmt.Errorf("%w: %s", ErrContentChanged, resp.Status)
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return fmt.Errorf("range request failed: %s", resp.Status)
	}
	if err := s.checkValidators(resp); err != nil {
		return err
	}

	cr, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if cr.total != s.size {
		return fmt.Errorf("%w: size %d, was %d", ErrContentChanged, cr.total, s.size)
	}
	if cr.start != off || cr.end != end {
		return fmt.Errorf("unexpected Content-Range %q for bytes=%d-%d", resp.Header.Get("Content-Range"), off, end)
	}
	if _, err := io.ReadFull(resp.Body, p); err != nil {
		return fmt.Errorf("read bytes %d-%d: %w", off, end, err)
	}
	return nil
}

// checkValidators compares the response validators with those seen at open.
func (s *Source) checkValidators(resp *nethttp.Response) error {
	if etag := resp.Header.Get("ETag"); etag != s.etag {
		return fmt.Errorf("%w: ETag %q, was %q", ErrContentChanged, etag, s.etag)
	}
	if s.etag == "" && resp.Header.Get("Last-Modified") != s.lastModified {
		return fmt.Errorf("%w: Last-Modified %q, was %q", ErrContentChanged, resp.Header.Get("Last-Modified"), s.lastModified)
	}
	return nil
}

func (s *Source) do(req *nethttp.Request) (*nethttp.Response, error) {
	s.requests.Add(1)
	return s.client.Do(req)
}

func (s *Source) newRequest() (*nethttp.Request, error) {
	req, err := nethttp.NewRequest(nethttp.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	// If-Match requires a strong comparison, so weak ETags are only checked
	// on the response.
	if s.etag != "" && !strings.HasPrefix(s.etag, "W/") && req.Header.Get("If-Match") == "" {
		req.Header.Set("If-Match", s.etag)
	}
	if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
		req.Header.Set("If-Unmodified-Since", s.lastModified)
	}
	return req, nil
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// contentRange is a parsed "bytes start-end/total" header. Unsatisfied
// ranges ("bytes */total") have start and end set to -1.
type contentRange struct {
	start, end, total int64
}

func parseContentRange(value string) (contentRange, error) {
	invalid := fmt.Errorf("invalid Content-Range %q", value)
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return contentRange{}, invalid
	}
	span, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return contentRange{}, invalid
	}
	cr := contentRange{start: -1, end: -1}
	var err error
	if cr.total, err = strconv.ParseInt(total, 10, 64); err != nil || cr.total < 0 {
		return contentRange{}, invalid
	}
	if span == "*" {
		return cr, nil
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return contentRange{}, invalid
	}
	if cr.start, err = strconv.ParseInt(first, 10, 64); err != nil || cr.start < 0 {
		return contentRange{}, invalid
	}
	if cr.end, err = strconv.ParseInt(last, 10, 64); err != nil || cr.end < cr.start {
		return contentRange{}, invalid
	}
	return cr, nil
}
