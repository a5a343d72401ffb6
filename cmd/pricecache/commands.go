package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"QuoteKeeper/internal/admin"
	"QuoteKeeper/internal/model"

	"github.com/google/subcommands"
)

// withApp opens the application for a one-shot command and reports errors
// on stderr.
func withApp(fn func(*app) error) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()
	if err := fn(a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type refreshCmd struct {
	currency string
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "refresh prices now" }
func (*refreshCmd) Usage() string {
	return `pricecache refresh [-c <currency>] [SYMBOL...]

  Refreshes the given symbols, or the oldest stale keys when none are given.
  A symbol without -c refreshes every cached currency variant.
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "c", "", "currency of the given symbols")
}

func (c *refreshCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(func(a *app) error {
		svc := admin.NewService(a.engine, nil, a.adminOptions())
		resp, err := svc.Trigger(ctx, admin.TriggerRequest{Symbols: f.Args(), Currency: c.currency})
		if err != nil {
			return err
		}
		return printJSON(resp)
	})
}

type staleCmd struct {
	limit int
}

func (*staleCmd) Name() string     { return "stale" }
func (*staleCmd) Synopsis() string { return "list keys whose price needs a refresh" }
func (*staleCmd) Usage() string {
	return `pricecache stale [-n <limit>]
`
}

func (c *staleCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", admin.DefaultStaleLimit, "maximum number of keys to list")
}

func (c *staleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(func(a *app) error {
		resp, err := admin.NewService(a.engine, nil, a.adminOptions()).Stale(ctx, c.limit)
		if err != nil {
			return err
		}
		return printJSON(resp)
	})
}

type usageCmd struct{}

func (*usageCmd) Name() string     { return "usage" }
func (*usageCmd) Synopsis() string { return "report upstream request usage" }
func (*usageCmd) Usage() string {
	return `pricecache usage
`
}
func (*usageCmd) SetFlags(*flag.FlagSet) {}

func (*usageCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(func(a *app) error {
		rep, err := admin.NewService(a.engine, nil, a.adminOptions()).Usage(ctx)
		if err != nil {
			return err
		}
		return printJSON(rep)
	})
}

type correctCmd struct {
	currency string
	note     string
}

func (*correctCmd) Name() string     { return "correct" }
func (*correctCmd) Synopsis() string { return "map a bad symbol to its corrected form" }
func (*correctCmd) Usage() string {
	return `pricecache correct [-c <currency>] [-note <text>] ORIGINAL CORRECTED
`
}

func (c *correctCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "c", "USD", "currency the correction applies to")
	f.StringVar(&c.note, "note", "", "free-form note")
}

func (c *correctCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return withApp(func(a *app) error {
		corr, err := a.engine.AddCorrection(ctx, f.Arg(0), c.currency, f.Arg(1), c.note)
		if err != nil {
			return err
		}
		return printJSON(corr)
	})
}

type priceCmd struct {
	currency string
}

func (*priceCmd) Name() string     { return "price" }
func (*priceCmd) Synopsis() string { return "print the cached price of symbols, refreshing stale ones" }
func (*priceCmd) Usage() string {
	return `pricecache price [-c <currency>] SYMBOL...
`
}

func (c *priceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "c", "", "currency (defaults to engine.default_currency)")
}

func (c *priceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return withApp(func(a *app) error {
		svc := admin.NewService(a.engine, nil, a.adminOptions())
		for _, sym := range f.Args() {
			rec := svc.Price(ctx, sym, c.currency)
			updated := "never"
			if rec.PriceUpdatedAt != nil {
				updated = rec.PriceUpdatedAt.Local().Format(time.DateTime)
			}
			fmt.Printf("%-12s %12s  %s\n", rec.Key, rec.Price().StringFixed(4), updated)
		}
		return nil
	})
}

type historyCmd struct {
	currency string
	from     string
	to       string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "fetch and cache daily closes for a symbol" }
func (*historyCmd) Usage() string {
	return `pricecache history [-c <currency>] [-from YYYY-MM-DD] [-to YYYY-MM-DD] SYMBOL
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "c", "", "currency (defaults to engine.default_currency)")
	f.StringVar(&c.from, "from", "", "first day (defaults to 30 days ago)")
	f.StringVar(&c.to, "to", "", "last day (defaults to today)")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -30)
	var err error
	if c.to != "" {
		if end, err = time.Parse(model.DayLayout, c.to); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -to: %v\n", err)
			return subcommands.ExitUsageError
		}
	}
	if c.from != "" {
		if start, err = time.Parse(model.DayLayout, c.from); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -from: %v\n", err)
			return subcommands.ExitUsageError
		}
	}

	return withApp(func(a *app) error {
		currency := c.currency
		if currency == "" {
			currency = a.cfg.Engine.DefaultCurrency
		}
		h, err := a.engine.History(ctx, f.Arg(0), currency, start, end)
		if err != nil {
			return err
		}
		for date, price := range h.All() {
			fmt.Printf("%s %s\n", date.Format(model.DayLayout), price.String())
		}
		return nil
	})
}
