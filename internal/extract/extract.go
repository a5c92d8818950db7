// Package extract writes the articles of an archive to a Sink.
//
// Entries are grouped by cluster. Each cluster is decoded once, by a single
// worker streaming its blobs in order, and clusters are processed
// concurrently.
package extract

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/zim/internal/zimtype"
)

// Source is the archive surface extraction reads from.
type Source interface {
	Entries() iter.Seq2[zimtype.Entry, error]
	Resolve(e zimtype.Entry) (zimtype.Entry, error)
	ClusterBlobs(clusterNumber uint32) iter.Seq2[[]byte, error]
}

// Processor extracts archive entries into a Sink.
type Processor struct {
	source          Source
	workers         int
	followRedirects bool
	logger          *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the number of clusters processed concurrently.
// Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithRedirects writes redirect entries as copies of their target article.
// By default redirects are skipped.
func WithRedirects(follow bool) Option {
	return func(p *Processor) {
		p.followRedirects = follow
	}
}

// WithLogger sets the logger for per-entry debug records.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// New creates a Processor reading from source.
func New(source Source, opts ...Option) *Processor {
	p := &Processor{source: source}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// item is one file to write: the entry that names it and the blob that
// holds its content.
type item struct {
	entry   zimtype.Entry
	cluster uint32
	blob    uint32
}

// clusterGroup holds all items stored in one cluster, in blob order.
type clusterGroup struct {
	cluster uint32
	items   []item
}

// Process extracts every article into sink and returns what was written.
//
// The first error cancels the remaining work. Stats reflect the entries
// committed before the failure.
func (p *Processor) Process(ctx context.Context, sink Sink) (Stats, error) {
	groups, stats, err := p.plan()
	if err != nil {
		return stats, err
	}

	var (
		mu    sync.Mutex
		total = stats
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerCount(len(groups)))
	for _, group := range groups {
		g.Go(func() error {
			s, err := p.processGroup(ctx, group, sink)
			mu.Lock()
			total.add(s)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	return total, err
}

// plan walks the directory and groups extractable entries by cluster.
func (p *Processor) plan() ([]clusterGroup, Stats, error) {
	var stats Stats
	byCluster := make(map[uint32][]item)
	for e, err := range p.source.Entries() {
		if err != nil {
			return nil, stats, fmt.Errorf("extract: %w", err)
		}
		target := e
		if e.IsRedirect() {
			if !p.followRedirects {
				stats.Skipped++
				continue
			}
			target, err = p.source.Resolve(e)
			if err != nil {
				return nil, stats, fmt.Errorf("extract: %s: %w", e.Path(), err)
			}
		}
		clusterNumber, blobNumber, ok := target.Location()
		if !ok {
			stats.Skipped++
			continue
		}
		byCluster[clusterNumber] = append(byCluster[clusterNumber], item{
			entry:   e,
			cluster: clusterNumber,
			blob:    blobNumber,
		})
	}

	groups := make([]clusterGroup, 0, len(byCluster))
	for c, items := range byCluster {
		slices.SortStableFunc(items, func(a, b item) int {
			return cmp.Compare(a.blob, b.blob)
		})
		groups = append(groups, clusterGroup{cluster: c, items: items})
	}
	slices.SortFunc(groups, func(a, b clusterGroup) int {
		return cmp.Compare(a.cluster, b.cluster)
	})
	return groups, stats, nil
}

// processGroup walks one cluster and writes the items stored in it. The
// walk stops after the last blob an item needs.
func (p *Processor) processGroup(ctx context.Context, group clusterGroup, sink Sink) (Stats, error) {
	var stats Stats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	pending := make([]item, 0, len(group.items))
	for _, it := range group.items {
		if sink.ShouldProcess(it.entry) {
			pending = append(pending, it)
		} else {
			stats.Skipped++
		}
	}
	if len(pending) == 0 {
		return stats, nil
	}

	var blobNumber uint32
	for content, err := range p.source.ClusterBlobs(group.cluster) {
		if err != nil {
			return stats, fmt.Errorf("extract: %s: %w", pending[0].entry.Path(), err)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		for len(pending) > 0 && pending[0].blob == blobNumber {
			if err := p.processItem(pending[0], content, sink); err != nil {
				return stats, err
			}
			stats.Written++
			stats.Bytes += uint64(len(content))
			pending = pending[1:]
		}
		if len(pending) == 0 {
			return stats, nil
		}
		blobNumber++
	}
	return stats, fmt.Errorf("extract: %s: %w: cluster %d has no blob %d",
		pending[0].entry.Path(), zimtype.ErrOffsetDecode, group.cluster, pending[0].blob)
}

// processItem commits one entry's content to the sink.
func (p *Processor) processItem(it item, content []byte, sink Sink) error {
	w, err := sink.Writer(it.entry)
	if err != nil {
		return fmt.Errorf("extract: %s: %w", it.entry.Path(), err)
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("extract: %s: %w", it.entry.Path(), err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("extract: %s: commit: %w", it.entry.Path(), err)
	}

	p.logger.Debug("extracted", "path", it.entry.Path(), "cluster", it.cluster, "blob", it.blob, "bytes", len(content))
	return nil
}

// workerCount determines the number of concurrent cluster workers.
func (p *Processor) workerCount(groups int) int {
	workers := p.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > groups {
		workers = groups
	}
	return max(workers, 1)
}

func writeAll(w Committer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
