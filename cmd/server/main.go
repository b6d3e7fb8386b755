package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"quotehub/internal/aggregate"
	"quotehub/internal/broadcast"
	"quotehub/internal/cache"
	"quotehub/internal/config"
	"quotehub/internal/events"
	"quotehub/internal/jobs"
	"quotehub/internal/logger"
	"quotehub/internal/metrics"
	"quotehub/internal/provider/ratelimit"
	"quotehub/internal/scheduler"
	"quotehub/internal/server"
	"quotehub/internal/store"
	"quotehub/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: $CONFIG_FILE or ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("quotehub stopped")
	}
}

// app is the wired service graph.
type app struct {
	server *server.Server
	sched  *scheduler.Scheduler
	live   *broadcast.Broadcaster
	jobs   *jobs.Runner
	store  store.Store
	events events.Publisher
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	up, err := upstream.New(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	if cfg.Upstream.APIKey == "" {
		log.Warn().Str("provider", cfg.Upstream.Provider).Msg("upstream api key not set")
	}

	st, err := store.Open(ctx, store.Config{
		Driver:        cfg.Store.Driver,
		SQLitePath:    cfg.Store.SQLitePath,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		Prefix:        cfg.Store.Prefix,
		Retention:     cfg.Store.Retention,
	}, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var pub events.Publisher = events.Noop{}
	if len(cfg.Events.Brokers) > 0 {
		pub = events.NewKafka(events.Config{Brokers: cfg.Events.Brokers, Topic: cfg.Events.Topic},
			log.With().Str("component", "events").Logger())
	}

	c := cache.New(cfg.Cache.QuoteTTL, cache.WithMaxEntries(cfg.Cache.MaxEntries))
	rec := aggregate.NewRecorder(c, st, pub, m, log.With().Str("component", "recorder").Logger())
	if _, err := rec.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("restore cache")
	}

	pacer := ratelimit.NewPacer(cfg.Upstream.RequestsPerMinute, time.Minute, cfg.Scheduler.MaxBackoff)
	sched := scheduler.New(up.Fetcher, pacer,
		scheduler.WithObserver(rec),
		scheduler.WithMetrics(m),
		scheduler.WithLogger(log.With().Str("component", "scheduler").Logger()),
		scheduler.WithAttemptTimeout(cfg.Upstream.Timeout),
	)

	svc := aggregate.New(aggregate.Config{
		QuoteTTL:          cfg.Cache.QuoteTTL,
		AggregateTTL:      cfg.Cache.AggregateTTL,
		DocumentTTL:       cfg.Cache.DocumentTTL,
		FirstFetchTimeout: cfg.Cache.FirstFetchTimeout,
		Indices:           cfg.Symbols.Indices,
		Trending:          cfg.Symbols.Trending,
	}, c, sched,
		aggregate.WithDetails(up.Details),
		aggregate.WithStore(st),
		aggregate.WithMetrics(m),
		aggregate.WithLogger(log.With().Str("component", "aggregate").Logger()),
	)

	live := broadcast.New(svc,
		broadcast.WithMaxSymbols(cfg.Live.MaxSymbols),
		broadcast.WithMetrics(m),
		broadcast.WithLogger(log.With().Str("component", "broadcast").Logger()),
	)

	runner := jobs.New(ctx, svc, st, cfg.Store.Retention, log)
	if err := runner.Register(cfg.Jobs.Warm, cfg.Jobs.Prune); err != nil {
		sched.Close()
		_ = st.Close()
		return nil, err
	}

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		Outbox:         cfg.Live.Outbox,
		Quotes:         svc,
		Live:           live,
		Metrics:        m,
		Log:            log,
	})

	return &app{server: srv, sched: sched, live: live, jobs: runner, store: st, events: pub}, nil
}

// close releases everything newApp opened, upstream work first.
func (a *app) close(log zerolog.Logger) {
	a.sched.Close()
	if err := a.events.Close(); err != nil {
		log.Warn().Err(err).Msg("close events")
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close store")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(log)

	go a.live.Run(ctx, cfg.Live.Tick)
	a.jobs.Start()
	defer a.jobs.Stop()
	a.jobs.WarmNow()

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}
