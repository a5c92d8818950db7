package zim

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/meigma/zim/cache"
	"github.com/meigma/zim/cache/disk"
	"github.com/meigma/zim/cache/memory"
	"github.com/meigma/zim/internal/testutil"
)

var benchSinkBytes []byte

// benchArchive builds one cluster of n articles of size bytes each.
func benchArchive(b *testing.B, compression Compression, n, size int, random bool) (*testutil.Fixture, []string) {
	b.Helper()
	rng := rand.New(rand.NewPCG(uint64(n), uint64(size))) //nolint:gosec // deterministic bench data
	arts := make([]testutil.TestArticle, n)
	paths := make([]string, n)
	for i := range arts {
		content := make([]byte, size)
		for j := range content {
			if random {
				content[j] = byte(rng.Uint32())
			} else {
				content[j] = byte('a' + (i+j/64)%26)
			}
		}
		arts[i] = testutil.TestArticle{
			Namespace: 'A',
			URL:       fmt.Sprintf("Article_%04d", i),
			MIMEType:  "text/html",
			Content:   content,
		}
		paths[i] = arts[i].Path()
	}
	f := testutil.Build(b, testutil.Builder{
		Articles: arts,
		Clusters: []testutil.TestCluster{{Compression: compression}},
	})
	return f, paths
}

func BenchmarkReadArticle(b *testing.B) {
	cases := []struct {
		name  string
		count int
		size  int
	}{
		{name: "articles=64/size=4k", count: 64, size: 4 << 10},
		{name: "articles=16/size=64k", count: 16, size: 64 << 10},
	}
	compressions := []Compression{CompressionNone, CompressionZstd, CompressionXZ}
	caches := []struct {
		name string
		new  func(b *testing.B) cache.Cache
	}{
		{name: "cache=none", new: func(*testing.B) cache.Cache { return nil }},
		{name: "cache=memory", new: func(b *testing.B) cache.Cache {
			c, err := memory.New()
			if err != nil {
				b.Fatal(err)
			}
			return c
		}},
		{name: "cache=disk", new: func(b *testing.B) cache.Cache {
			c, err := disk.New(b.TempDir())
			if err != nil {
				b.Fatal(err)
			}
			return c
		}},
	}

	for _, bc := range cases {
		for _, random := range []bool{false, true} {
			pattern := "compressible"
			if random {
				pattern = "random"
			}
			for _, compression := range compressions {
				for _, cc := range caches {
					name := fmt.Sprintf("%s/%s/%s/%s", bc.name, pattern, compression, cc.name)
					b.Run(name, func(b *testing.B) {
						f, paths := benchArchive(b, compression, bc.count, bc.size, random)
						var opts []Option
						if c := cc.new(b); c != nil {
							opts = append(opts, WithCache(c))
						}
						a, err := New(testutil.NewMockByteSource(f.Data), opts...)
						if err != nil {
							b.Fatal(err)
						}

						b.SetBytes(int64(bc.size))
						b.ReportAllocs()
						b.ResetTimer()
						for i := 0; b.Loop(); i++ {
							content, _, err := a.ReadArticle(paths[i%len(paths)])
							if err != nil {
								b.Fatal(err)
							}
							benchSinkBytes = content
						}
					})
				}
			}
		}
	}
}

func BenchmarkLookup(b *testing.B) {
	f, paths := benchArchive(b, CompressionNone, 4096, 16, false)
	a, err := New(testutil.NewMockByteSource(f.Data))
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		if _, ok, err := a.Lookup(paths[(i*7919)%len(paths)]); err != nil || !ok {
			b.Fatalf("lookup: ok=%v err=%v", ok, err)
		}
	}
}
