// Command snapfile prints the uid snapshot of an HTML file or URL using the
// static backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/adityalohuni/uidsnap/internal/app"
	"github.com/adityalohuni/uidsnap/internal/browser/htmlbrowser"
	"github.com/adityalohuni/uidsnap/internal/page"
	"github.com/adityalohuni/uidsnap/internal/resolver"
	"github.com/adityalohuni/uidsnap/internal/snapshot"
)

type options struct {
	selector   string
	includeAll bool
	iframes    bool
	asJSON     bool
	resolve    string
	maxDepth   int
	maxLines   int
	omitText   bool
	maxElems   int
	timeout    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.selector, "selector", "", "snapshot only the subtree of this CSS selector")
	flag.BoolVar(&opts.includeAll, "all", false, "include every visible element")
	flag.BoolVar(&opts.iframes, "iframes", true, "descend into srcdoc iframes")
	flag.BoolVar(&opts.asJSON, "json", false, "print the snapshot tree as JSON")
	flag.StringVar(&opts.resolve, "resolve", "", "print the selectors recorded for this uid instead of the tree")
	flag.IntVar(&opts.maxDepth, "max-depth", 0, "render at most this many levels")
	flag.IntVar(&opts.maxLines, "max-lines", 0, "render at most this many lines")
	flag.BoolVar(&opts.omitText, "omit-text", false, "leave text content out of the output")
	flag.IntVar(&opts.maxElems, "max-elements", 0, "stop capturing after this many elements")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "fetch timeout for URLs")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: snapfile [flags] <file-or-url>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if err := run(ctx, os.Stdout, flag.Arg(0), opts); err != nil {
		fmt.Fprintf(os.Stderr, "snapfile: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, w io.Writer, target string, opts options) error {
	logger := app.NewLogger(os.Stderr)
	b := htmlbrowser.New(htmlbrowser.Options{Logger: logger})
	if _, err := b.Navigate(ctx, target); err != nil {
		return err
	}
	m := snapshot.NewManager(b, resolver.New(b, resolver.Options{Logger: logger}), snapshot.ManagerOptions{
		Logger:      logger,
		MaxElements: opts.maxElems,
	})
	res, err := m.TakeSnapshot(ctx, snapshot.Options{
		Selector:       opts.selector,
		IncludeAll:     opts.includeAll,
		IncludeIframes: opts.iframes,
		Format: page.FormatOptions{
			MaxDepth: opts.maxDepth,
			MaxLines: opts.maxLines,
			OmitText: opts.omitText,
		},
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	switch {
	case opts.resolve != "":
		entry, err := m.Resolver().Lookup(opts.resolve)
		if err != nil {
			if errors.Is(err, resolver.ErrInvalidUIDFormat) {
				return fmt.Errorf("%w (snapshot %d uids look like %d_1)", err, res.JSON.SnapshotID, res.JSON.SnapshotID)
			}
			return err
		}
		return enc.Encode(entry)
	case opts.asJSON:
		return enc.Encode(res.JSON)
	}
	if res.JSON.Title != "" {
		fmt.Fprintf(w, "# %s\n", res.JSON.Title)
	}
	fmt.Fprintf(w, "# %s  snapshot=%d uids=%d", res.JSON.URL, res.JSON.SnapshotID, res.UIDCount)
	if res.Truncated {
		fmt.Fprint(w, " truncated")
	}
	_, err = fmt.Fprintf(w, "\n%s\n", res.Text)
	return err
}
