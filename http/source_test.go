package http_test

import (
	"bytes"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zimhttp "github.com/meigma/zim/http"
)

func serveBytes(t *testing.T, data []byte, etag string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server := serveBytes(t, data, "")

	src, err := zimhttp.NewSource(server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, "world", string(buf))

	edge := make([]byte, 10)
	n, err = src.ReadAt(edge, int64(len(data)-3))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, n)
	assert.Equal(t, "rld", string(edge[:n]))

	n, err = src.ReadAt(buf, int64(len(data)))
	require.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)

	_, err = src.ReadAt(buf, -1)
	require.Error(t, err)
}

func TestSourceSectionReader(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 100)
	src, err := zimhttp.NewSource(serveBytes(t, data, "").URL)
	require.NoError(t, err)

	got, err := io.ReadAll(io.NewSectionReader(src, 0, src.Size()))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSourceIDTracksETag(t *testing.T) {
	t.Parallel()

	data := []byte("versioned")
	a, err := zimhttp.NewSource(serveBytes(t, data, `"v1"`).URL)
	require.NoError(t, err)
	b, err := zimhttp.NewSource(serveBytes(t, data, `"v2"`).URL)
	require.NoError(t, err)

	assert.NotEmpty(t, a.SourceID())
	assert.NotEqual(t, a.SourceID(), b.SourceID())
	assert.Positive(t, a.Requests())
}

func TestSourceSendsHeaders(t *testing.T) {
	t.Parallel()

	data := []byte("secret")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	_, err := zimhttp.NewSource(server.URL)
	require.Error(t, err)

	src, err := zimhttp.NewSource(server.URL,
		zimhttp.WithHeader("Authorization", "Bearer token"),
		zimhttp.WithClient(server.Client()),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
}

func TestSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	data := []byte("range unsupported")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	_, err := zimhttp.NewSource(server.URL)
	require.ErrorIs(t, err, zimhttp.ErrRangeUnsupported)
}

func TestSourceServesPrefixWithoutRequests(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("abcdefgh"), 512)
	src, err := zimhttp.NewSource(serveBytes(t, data, `"v1"`).URL, zimhttp.WithPrefixSize(1024))
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.Requests())

	buf := make([]byte, 80)
	_, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	_, err = src.ReadAt(buf, 1024-80)
	require.NoError(t, err)
	assert.Equal(t, data[1024-80:1024], buf)
	assert.Equal(t, int64(1), src.Requests())

	// Straddling the prefix fetches only the tail.
	_, err = src.ReadAt(buf, 1000)
	require.NoError(t, err)
	assert.Equal(t, data[1000:1080], buf)
	assert.Equal(t, int64(2), src.Requests())
}

func TestSourceSplitsLongReads(t *testing.T) {
	t.Parallel()

	var ranges []string
	var mu sync.Mutex
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := zimhttp.NewSource(server.URL, zimhttp.WithPrefixSize(1), zimhttp.WithMaxRangeSize(1000))
	require.NoError(t, err)

	buf := make([]byte, 4500)
	n, err := src.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, data[100:4600], buf)
	assert.Equal(t, int64(6), src.Requests())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"bytes=0-0",
		"bytes=100-1099",
		"bytes=1100-2099",
		"bytes=2100-3099",
		"bytes=3100-4099",
		"bytes=4100-4599",
	}, ranges)
}

func TestSourceDetectsChangedContent(t *testing.T) {
	t.Parallel()

	original := bytes.Repeat([]byte("0123456789"), 100)
	tests := []struct {
		name string
		// serve answers range requests after the source is open.
		serve func(w nethttp.ResponseWriter, r *nethttp.Request)
	}{
		{
			name: "etag changed",
			serve: func(w nethttp.ResponseWriter, r *nethttp.Request) {
				r.Header.Del("If-Match")
				w.Header().Set("ETag", `"v2"`)
				nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(original))
			},
		},
		{
			name: "precondition failed",
			serve: func(w nethttp.ResponseWriter, r *nethttp.Request) {
				w.Header().Set("ETag", `"v2"`)
				nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(original))
			},
		},
		{
			name: "size changed",
			serve: func(w nethttp.ResponseWriter, r *nethttp.Request) {
				w.Header().Set("ETag", `"v1"`)
				nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(append(bytes.Clone(original), "more"...)))
			},
		},
		{
			name: "truncated",
			serve: func(w nethttp.ResponseWriter, r *nethttp.Request) {
				w.Header().Set("ETag", `"v1"`)
				nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(original[:100]))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var replaced atomic.Bool
			server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
				if replaced.Load() {
					tt.serve(w, r)
					return
				}
				w.Header().Set("ETag", `"v1"`)
				nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(original))
			}))
			t.Cleanup(server.Close)

			src, err := zimhttp.NewSource(server.URL, zimhttp.WithPrefixSize(100))
			require.NoError(t, err)

			buf := make([]byte, 50)
			_, err = src.ReadAt(buf, 500)
			require.NoError(t, err)
			assert.Equal(t, original[500:550], buf)

			replaced.Store(true)
			_, err = src.ReadAt(buf, 500)
			require.ErrorIs(t, err, zimhttp.ErrContentChanged)

			// The prefix is still served from memory.
			_, err = src.ReadAt(buf, 0)
			require.NoError(t, err)
		})
	}
}

func TestSourceEmptyContent(t *testing.T) {
	t.Parallel()

	src, err := zimhttp.NewSource(serveBytes(t, nil, "").URL)
	require.NoError(t, err)
	assert.Zero(t, src.Size())

	n, err := src.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}
