package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tarimpazar/agrisync/internal/model"
	"github.com/tarimpazar/agrisync/internal/query"
	syncp "github.com/tarimpazar/agrisync/internal/sync"
)

// runList prints one cached collection. It observes the repository, so an
// expired cache is refreshed first and a stale one in the background.
func runList(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: agrisync list catalog|listings [flags]")
	}
	collection := args[0]

	fs := flag.NewFlagSet("list "+collection, flag.ExitOnError)
	g := addGlobalFlags(fs)
	text := fs.String("q", "", "only show records containing this text")
	sortBy := fs.String("sort", "", "order: name, price-asc or price-desc")
	category := fs.String("category", "", "catalog only: "+categoryNames())
	owner := fs.String("owner", "", "listings only: show this user's listings")
	refresh := fs.Bool("refresh", false, "listings only: merge the owner's remote listings first")
	activeOnly := fs.Bool("active", false, "listings only: hide deactivated listings")
	wait := fs.Duration("wait", 30*time.Second, "how long to wait for the first result")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	order, err := query.ParseOrder(*sortBy)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()

	switch collection {
	case "catalog":
		var match func(model.CatalogItem) bool
		if *category != "" {
			cat, err := model.ParseCategory(*category)
			if err != nil {
				return err
			}
			match = func(c model.CatalogItem) bool { return c.Category == cat }
		}

		a, err := openApp(ctx, *g, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := first(ctx, a.catalog.Observe(ctx, syncp.Filter[model.CatalogItem]{Text: *text, Order: order, Match: match}))
		if err != nil {
			return err
		}
		printNotice(os.Stderr, u.Err, u.Degraded)
		return printCatalog(os.Stdout, u.Items)

	case "listings":
		var match func(model.Listing) bool
		if *activeOnly {
			match = func(l model.Listing) bool { return l.IsActive }
		}

		a, err := openApp(ctx, *g, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if *owner != "" {
			items, err := a.listings.ByOwner(ctx, *owner, *refresh)
			if err != nil && items == nil {
				return err
			}
			printNotice(os.Stderr, err, false)
			if match != nil {
				kept := items[:0]
				for _, l := range items {
					if match(l) {
						kept = append(kept, l)
					}
				}
				items = kept
			}
			return printListings(os.Stdout, query.Apply(a.engine, items, query.Options{Text: *text, Order: order}))
		}

		u, err := first(ctx, a.listings.Observe(ctx, syncp.Filter[model.Listing]{Text: *text, Order: order, Match: match}))
		if err != nil {
			return err
		}
		printNotice(os.Stderr, u.Err, u.Degraded)
		return printListings(os.Stdout, u.Items)
	}
	return fmt.Errorf("unknown collection %q (want catalog or listings)", collection)
}

// first returns the first update from ch.
func first[T any](ctx context.Context, ch <-chan syncp.Update[T]) (syncp.Update[T], error) {
	select {
	case u, ok := <-ch:
		if !ok {
			return u, fmt.Errorf("observation ended before the first result: %w", context.Cause(ctx))
		}
		return u, nil
	case <-ctx.Done():
		return syncp.Update[T]{}, fmt.Errorf("waiting for the first result: %w", ctx.Err())
	}
}

// printNotice explains why the output may be out of date.
func printNotice(w io.Writer, err error, degraded bool) {
	if err != nil {
		reason, detail := syncp.Explain(err)
		fmt.Fprintf(w, "⚠ showing cached data (%s): %s\n", reason, detail)
		return
	}
	if degraded {
		fmt.Fprintln(w, "⚠ showing cached data: the cache is past its maximum age and a refresh is pending")
	}
}

func printCatalog(w io.Writer, items []model.CatalogItem) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tTYPE\tVARIETY\tPRICE\tUPDATED")
	for _, c := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f/%s\t%s\n",
			c.Name, c.Category, c.ProductType, c.ProductVariety, c.Price, c.Unit, formatTime(c.LastUpdated))
	}
	fmt.Fprintf(tw, "\n%d item(s)\n", len(items))
	return tw.Flush()
}

func printListings(w io.Writer, items []model.Listing) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMACHINE\tLOCATION\tPRICE\tSTATUS\tUPDATED")
	for _, l := range items {
		status := "active"
		if !l.IsActive {
			status = "inactive"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			l.ID, l.Title, l.MachineType, l.Location, l.Price, status, formatTime(l.LastUpdated))
	}
	fmt.Fprintf(tw, "\n%d listing(s)\n", len(items))
	return tw.Flush()
}

func categoryNames() string {
	names := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
