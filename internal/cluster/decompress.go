package cluster

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// decoderConfig holds the zstd decoder settings shared by a pool.
type decoderConfig struct {
	maxMemory      uint64
	concurrency    int
	concurrencySet bool
	lowmem         bool
}

func (c decoderConfig) options() []zstd.DOption {
	opts := make([]zstd.DOption, 0, 3)
	if c.concurrencySet {
		opts = append(opts, zstd.WithDecoderConcurrency(c.concurrency))
	}
	opts = append(opts, zstd.WithDecoderLowmem(c.lowmem))
	if c.maxMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(c.maxMemory))
	}
	return opts
}

// zstdPool reuses zstd decoders across cluster reads.
type zstdPool struct {
	cfg  decoderConfig
	pool sync.Pool
}

func newZstdPool(cfg decoderConfig) *zstdPool {
	p := &zstdPool{cfg: cfg}
	p.pool.New = func() any {
		dec, err := zstd.NewReader(nil, p.cfg.options()...)
		if err != nil {
			return nil
		}
		return dec
	}
	return p
}

// Get returns a decoder reading from r and a release function that must be
// called when the caller is done with it. No release is needed on error.
func (p *zstdPool) Get(r io.Reader) (*zstd.Decoder, func(), error) {
	dec, ok := p.pool.Get().(*zstd.Decoder)
	if !ok || dec == nil {
		fresh, err := zstd.NewReader(r, p.cfg.options()...)
		if err != nil {
			return nil, nil, err
		}
		return fresh, fresh.Close, nil
	}
	if err := dec.Reset(r); err != nil {
		dec.Close()
		fresh, err := zstd.NewReader(r, p.cfg.options()...)
		if err != nil {
			return nil, nil, err
		}
		return fresh, fresh.Close, nil
	}
	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.pool.Put(dec)
	}, nil
}
