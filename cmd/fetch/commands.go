package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"quotehub/internal/config"
	"quotehub/internal/provider"
	"quotehub/internal/provider/ratelimit"
	"quotehub/internal/upstream"
)

// session is the upstream plus the pacer shared by one command run.
type session struct {
	up    upstream.Upstream
	pacer *ratelimit.Pacer
}

func open(path string) (*session, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	up, err := upstream.New(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	return &session{
		up:    up,
		pacer: ratelimit.NewPacer(cfg.Upstream.RequestsPerMinute, time.Minute, cfg.Scheduler.MaxBackoff),
	}, nil
}

func failf(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- quoteCmd ---

type quoteCmd struct {
	out    io.Writer
	config *string
	json   bool
}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "fetch the latest quote for one or more symbols" }
func (*quoteCmd) Usage() string {
	return `quote [-json] <symbol>...

Fetches each symbol in turn, waiting between calls to stay within the
configured per-minute quota. Failures are reported per symbol.
`
}
func (c *quoteCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "print one JSON object per quote")
}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "at least one symbol is required")
		return subcommands.ExitUsageError
	}
	s, err := open(*c.config)
	if err != nil {
		return failf("%v", err)
	}
	fetcher := &ratelimit.Fetcher{F: s.up.Fetcher, P: s.pacer}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	if !c.json {
		fmt.Fprintln(tw, "SYMBOL\tPRICE\tCHANGE\tCHANGE%\tVOLUME\tAS OF")
	}
	status := subcommands.ExitSuccess
	for _, sym := range f.Args() {
		q, err := fetcher.FetchQuote(ctx, sym)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s: %v\n", strings.ToUpper(sym), provider.Reason(err), err)
			status = subcommands.ExitFailure
			continue
		}
		if c.json {
			if err := json.NewEncoder(c.out).Encode(q); err != nil {
				return failf("%v", err)
			}
			continue
		}
		vol := "-"
		if q.Volume != nil {
			vol = fmt.Sprint(*q.Volume)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", q.Symbol, q.Price, q.ChangeAbsolute, q.ChangePercent, vol, q.AsOf.Format(time.DateOnly))
	}
	if !c.json {
		_ = tw.Flush()
	}
	return status
}

// --- overviewCmd ---

type overviewCmd struct {
	out    io.Writer
	config *string
}

func (*overviewCmd) Name() string     { return "overview" }
func (*overviewCmd) Synopsis() string { return "fetch the company overview of a symbol" }
func (*overviewCmd) Usage() string {
	return `overview <symbol>

Prints the company overview as JSON. Only providers that serve details
support this command.
`
}
func (*overviewCmd) SetFlags(*flag.FlagSet) {}

func (c *overviewCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "exactly one symbol is required")
		return subcommands.ExitUsageError
	}
	s, err := open(*c.config)
	if err != nil {
		return failf("%v", err)
	}
	if s.up.Details == nil {
		return failf("provider %s does not serve overviews", s.up.Fetcher.Name())
	}
	if err := s.pacer.Wait(ctx); err != nil {
		return failf("%v", err)
	}
	ov, err := s.up.Details.FetchOverview(ctx, f.Arg(0))
	if err != nil {
		return failf("%s: %v", provider.Reason(err), err)
	}
	if err := writeJSON(c.out, ov); err != nil {
		return failf("%v", err)
	}
	return subcommands.ExitSuccess
}

// --- historyCmd ---

type historyCmd struct {
	out      io.Writer
	config   *string
	interval string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "fetch recent price history of a symbol" }
func (*historyCmd) Usage() string {
	return `history [-interval daily|weekly|monthly] <symbol>

Prints the most recent bars, oldest first.
`
}
func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.interval, "interval", "daily", "bar size: daily, weekly or monthly")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "exactly one symbol is required")
		return subcommands.ExitUsageError
	}
	interval, err := provider.ParseInterval(c.interval)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	s, err := open(*c.config)
	if err != nil {
		return failf("%v", err)
	}
	if s.up.Details == nil {
		return failf("provider %s does not serve history", s.up.Fetcher.Name())
	}
	if err := s.pacer.Wait(ctx); err != nil {
		return failf("%v", err)
	}
	points, err := s.up.Details.FetchHistory(ctx, f.Arg(0), interval)
	if err != nil {
		return failf("%s: %v", provider.Reason(err), err)
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	for _, p := range points {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", p.Date.Format(time.DateOnly), p.Open, p.High, p.Low, p.Close, p.Volume)
	}
	if err := tw.Flush(); err != nil {
		return failf("%v", err)
	}
	return subcommands.ExitSuccess
}

// --- rawCmd ---

type rawCmd struct {
	out      io.Writer
	config   *string
	function string
	params   string
}

func (*rawCmd) Name() string     { return "raw" }
func (*rawCmd) Synopsis() string { return "dump a raw Alpha Vantage response" }
func (*rawCmd) Usage() string {
	return `raw -function <FUNCTION> [-params k=v,k=v] <symbol>

Calls the Alpha Vantage query endpoint and prints the response members as
JSON. Useful to check field names when the upstream schema changes.
`
}
func (c *rawCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.function, "function", "GLOBAL_QUOTE", "Alpha Vantage function")
	f.StringVar(&c.params, "params", "", "extra query parameters as comma separated k=v pairs")
}

func (c *rawCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "exactly one symbol is required")
		return subcommands.ExitUsageError
	}
	extra, err := parseParams(c.params)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	s, err := open(*c.config)
	if err != nil {
		return failf("%v", err)
	}
	if s.up.AlphaVantage == nil {
		return failf("raw requires the alphavantage provider")
	}
	if err := s.pacer.Wait(ctx); err != nil {
		return failf("%v", err)
	}
	body, err := s.up.AlphaVantage.Query(ctx, c.function, strings.ToUpper(f.Arg(0)), extra)
	if err != nil {
		return failf("%v", err)
	}
	if err := writeJSON(c.out, body); err != nil {
		return failf("%v", err)
	}
	return subcommands.ExitSuccess
}

func parseParams(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, errors.New("params must be k=v pairs")
		}
		out[k] = v
	}
	return out, nil
}
