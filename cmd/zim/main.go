// zim inspects and extracts ZIM archives from local files or HTTP URLs.
//
// Usage:
//
//	zim [global flags] <command> [flags] ARCHIVE [args]
//
// Commands print YAML where the output is structured (info, entry) and raw
// bytes where it is content (cat).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks errors caused by bad arguments.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// globals holds the flags shared by every command.
type globals struct {
	logLevel     string
	cacheDir     string
	cacheMax     string
	memEntries   int
	headers      []string
	maxBlobSize  string
	maxRedirects int
}

// env is what a command runs against.
type env struct {
	globals
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// command is a subcommand of the CLI.
type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

func commands() []command {
	return []command{
		{name: "info", usage: "ARCHIVE", summary: "print the header, MIME table and checksum", run: runInfo},
		{name: "ls", usage: "[--by-title | --long] ARCHIVE", summary: "list entry paths", run: runList},
		{name: "entry", usage: "[--resolve] ARCHIVE NAME", summary: "describe a directory entry", run: runEntry},
		{name: "cat", usage: "ARCHIVE NAME", summary: "write an article's content to stdout", run: runCat},
		{name: "extract", usage: "[--workers N] [--overwrite] [--redirects] ARCHIVE DIR", summary: "write every article under DIR", run: runExtract},
		{name: "verify", usage: "ARCHIVE", summary: "check the archive's MD5 checksum", run: runVerify},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globals
	flagSet := pflag.NewFlagSet("zim", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flagSet.StringVar(&g.cacheDir, "cache-dir", "", "cache decoded blobs on disk under this directory")
	flagSet.StringVar(&g.cacheMax, "cache-max", "1GiB", "size limit of the disk cache (0 for none)")
	flagSet.IntVar(&g.memEntries, "mem-cache", 64, "number of decoded blobs kept in memory (0 disables)")
	flagSet.StringArrayVar(&g.headers, "header", nil, `extra HTTP request header "Key: Value" (repeatable)`)
	flagSet.StringVar(&g.maxBlobSize, "max-blob-size", "256MiB", "largest blob to decode (0 for no limit)")
	flagSet.IntVar(&g.maxRedirects, "max-redirects", 8, "longest redirect chain to follow")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return usageError{msg: err.Error()}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return usagef("missing command")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return usagef("invalid --log-level %q", g.logLevel)
	}
	e := &env{
		globals: g,
		stdout:  stdout,
		stderr:  stderr,
		logger:  slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
	}

	name := rest[0]
	cmds := commands()
	i := slices.IndexFunc(cmds, func(c command) bool { return c.name == name })
	if i < 0 {
		return usagef("unknown command %q (see zim --help)", name)
	}
	return cmds[i].run(ctx, e, rest[1:])
}

// parseSize parses a human-readable byte size such as "64MiB".
func parseSize(flag, value string) (uint64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, usagef("invalid --%s %q: %v", flag, value, err)
	}
	return n, nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `zim reads ZIM archives from a local path or an http(s) URL.

Usage:
  zim [global flags] <command> [flags] ARCHIVE [args]

Commands:
`)
	var b strings.Builder
	for _, c := range commands() {
		fmt.Fprintf(&b, "  %-8s %s\n", c.name, c.summary)
		fmt.Fprintf(&b, "           zim %s %s\n", c.name, c.usage)
	}
	fmt.Fprint(w, b.String())
	fmt.Fprintf(w, "\nGlobal flags:\n%s", flagSet.FlagUsages())
}
