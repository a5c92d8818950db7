package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/meigma/zim"
	"github.com/meigma/zim/internal/extract"
)

// newFlagSet returns a command flag set that reports errors to stderr.
func newFlagSet(e *env, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("zim "+name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

// parseArgs parses a command's flags and checks its positional count.
func parseArgs(fs *pflag.FlagSet, args []string, want int, usage string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, usageError{msg: err.Error()}
	}
	rest := fs.Args()
	if len(rest) != want {
		return nil, usagef("usage: %s %s", fs.Name(), usage)
	}
	return rest, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return enc.Close()
}

type infoReport struct {
	UUID        string   `yaml:"uuid"`
	Version     string   `yaml:"version"`
	Size        string   `yaml:"size"`
	Entries     uint32   `yaml:"entries"`
	Clusters    uint32   `yaml:"clusters"`
	MIMETypes   []string `yaml:"mime_types"`
	MainPage    string   `yaml:"main_page,omitempty"`
	LayoutPage  string   `yaml:"layout_page,omitempty"`
	ChecksumPos uint64   `yaml:"checksum_pos"`
	Checksum    string   `yaml:"checksum,omitempty"`
}

func runInfo(_ context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "info")
	rest, err := parseArgs(fs, args, 1, "ARCHIVE")
	if err != nil {
		return err
	}
	a, closeFn, err := e.openArchive(rest[0])
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	h := a.Header()
	report := infoReport{
		UUID:        h.UUID.String(),
		Version:     fmt.Sprintf("%d.%d", h.MajorVersion, h.MinorVersion),
		Size:        humanize.IBytes(uint64(a.Size())), //nolint:gosec // sizes are non-negative
		Entries:     h.ArticleCount,
		Clusters:    h.ClusterCount,
		MIMETypes:   a.MIMETypes(),
		ChecksumPos: h.ChecksumPos,
	}
	if mainPage, ok, err := a.MainPage(); err != nil {
		return err
	} else if ok {
		report.MainPage = mainPage.Path()
	}
	if layout, ok, err := a.LayoutPage(); err != nil {
		return err
	} else if ok {
		report.LayoutPage = layout.Path()
	}
	// Archives without a trailing digest are still readable.
	if sum, err := a.Checksum(); err == nil {
		report.Checksum = hex.EncodeToString(sum)
	} else {
		e.logger.Warn("no checksum", "error", err)
	}
	return writeYAML(e.stdout, report)
}

func runList(_ context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "ls")
	byTitle := fs.Bool("by-title", false, "list in title order instead of URL order")
	long := fs.BoolP("long", "l", false, "print path, kind and title of every entry")
	rest, err := parseArgs(fs, args, 1, "[--by-title | --long] ARCHIVE")
	if err != nil {
		return err
	}
	if *byTitle && *long {
		return usagef("--by-title and --long are mutually exclusive")
	}
	a, closeFn, err := e.openArchive(rest[0])
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	if *long {
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		for entry, err := range a.Entries() {
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.Path(), entry.Kind, entry.Title)
		}
		return tw.Flush()
	}

	urls := a.URLsByURL()
	if *byTitle {
		urls = a.URLsByTitle()
	}
	for url, err := range urls {
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(e.stdout, url); err != nil {
			return err
		}
	}
	return nil
}

type entryReport struct {
	Path       string  `yaml:"path"`
	Kind       string  `yaml:"kind"`
	Title      string  `yaml:"title"`
	MIMEType   string  `yaml:"mime_type,omitempty"`
	Revision   uint32  `yaml:"revision"`
	Index      uint32  `yaml:"index"`
	Offset     int64   `yaml:"offset"`
	Cluster    *uint32 `yaml:"cluster,omitempty"`
	Blob       *uint32 `yaml:"blob,omitempty"`
	Size       string  `yaml:"size,omitempty"`
	RedirectTo string  `yaml:"redirect_to,omitempty"`
}

func runEntry(_ context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "entry")
	resolve := fs.Bool("resolve", false, "follow redirects and describe the target article")
	rest, err := parseArgs(fs, args, 2, "[--resolve] ARCHIVE NAME")
	if err != nil {
		return err
	}
	a, closeFn, err := e.openArchive(rest[0])
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	entry, ok, err := a.Lookup(rest[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", zim.ErrNotFound, rest[1])
	}
	if *resolve {
		if entry, err = a.Resolve(entry); err != nil {
			return err
		}
	}

	mime, err := a.MIMEType(entry)
	if err != nil {
		return err
	}
	report := entryReport{
		Path:     entry.Path(),
		Kind:     entry.Kind.String(),
		Title:    entry.Title,
		MIMEType: mime,
		Revision: entry.Revision,
		Index:    entry.URLIndex,
		Offset:   entry.Offset,
	}
	if clusterNumber, blobNumber, ok := entry.Location(); ok {
		report.Cluster = &clusterNumber
		report.Blob = &blobNumber
		content, err := a.Blob(clusterNumber, blobNumber)
		if err != nil {
			return err
		}
		report.Size = humanize.IBytes(uint64(len(content)))
	}
	if target, ok := entry.Redirect(); ok {
		next, err := a.EntryAt(target)
		if err != nil {
			return err
		}
		report.RedirectTo = next.Path()
	}
	return writeYAML(e.stdout, report)
}

func runCat(_ context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "cat")
	rest, err := parseArgs(fs, args, 2, "ARCHIVE NAME")
	if err != nil {
		return err
	}
	a, closeFn, err := e.openArchive(rest[0])
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	content, _, err := a.ReadArticle(rest[1])
	if err != nil {
		return err
	}
	_, err = e.stdout.Write(content)
	return err
}

func runExtract(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "extract")
	workers := fs.Int("workers", 0, "clusters decoded concurrently (0 uses GOMAXPROCS)")
	overwrite := fs.Bool("overwrite", false, "replace files that already exist")
	redirects := fs.Bool("redirects", false, "write redirects as copies of their target")
	rest, err := parseArgs(fs, args, 2, "[--workers N] [--overwrite] [--redirects] ARCHIVE DIR")
	if err != nil {
		return err
	}
	a, closeFn, err := e.openArchive(rest[0])
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	p := extract.New(a,
		extract.WithWorkers(*workers),
		extract.WithRedirects(*redirects),
		extract.WithLogger(e.logger),
	)
	stats, err := p.Process(ctx, extract.NewFileSink(rest[1], extract.WithOverwrite(*overwrite)))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.stdout, "extracted %s files (%s), skipped %s\n",
		humanize.Comma(int64(stats.Written)), humanize.IBytes(stats.Bytes), humanize.Comma(int64(stats.Skipped)))
	return err
}

func runVerify(_ context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "verify")
	rest, err := parseArgs(fs, args, 1, "ARCHIVE")
	if err != nil {
		return err
	}
	a, closeFn, err := e.openArchive(rest[0])
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	if err := a.Verify(); err != nil {
		return err
	}
	sum, err := a.Checksum()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.stdout, "ok %s\n", hex.EncodeToString(sum))
	return err
}
