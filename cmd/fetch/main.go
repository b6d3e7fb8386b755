// Command fetch queries the configured upstream directly, paced by the
// configured quota. It does not use the cache.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: $CONFIG_FILE or ./config.yaml)")

	commander := subcommands.NewCommander(flag.CommandLine, "fetch")
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&quoteCmd{out: os.Stdout, config: configPath}, "quotes")
	commander.Register(&overviewCmd{out: os.Stdout, config: configPath}, "details")
	commander.Register(&historyCmd{out: os.Stdout, config: configPath}, "details")
	commander.Register(&rawCmd{out: os.Stdout, config: configPath}, "debug")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(int(commander.Execute(ctx)))
}
