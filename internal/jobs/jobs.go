// Package jobs runs the periodic warm and prune tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Warmer schedules refreshes for the fixed symbol lists.
type Warmer interface {
	Warm() int
}

// Pruner deletes stored data older than a cutoff.
type Pruner interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Runner owns the cron scheduler. Specs use six fields, seconds first.
type Runner struct {
	cron      *cron.Cron
	ctx       context.Context
	warmer    Warmer
	pruner    Pruner
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func New(ctx context.Context, warmer Warmer, pruner Pruner, retention time.Duration, log zerolog.Logger) *Runner {
	log = log.With().Str("component", "jobs").Logger()
	cl := cronLogger{log}
	return &Runner{
		cron:      cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:       ctx,
		warmer:    warmer,
		pruner:    pruner,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// Register adds the warm and prune jobs. An empty spec disables that job.
func (r *Runner) Register(warmSpec, pruneSpec string) error {
	if warmSpec != "" {
		if _, err := r.cron.AddFunc(warmSpec, func() { r.WarmNow() }); err != nil {
			return fmt.Errorf("register warm job: %w", err)
		}
	}
	if pruneSpec != "" {
		if _, err := r.cron.AddFunc(pruneSpec, func() { _, _ = r.PruneNow(r.ctx) }); err != nil {
			return fmt.Errorf("register prune job: %w", err)
		}
	}
	return nil
}

// Entries returns the number of registered jobs.
func (r *Runner) Entries() int { return len(r.cron.Entries()) }

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Int("jobs", r.Entries()).Msg("jobs started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("jobs stopped")
}

// WarmNow runs the warm job immediately.
func (r *Runner) WarmNow() int {
	n := r.warmer.Warm()
	r.log.Debug().Int("scheduled", n).Msg("warm")
	return n
}

// PruneNow deletes data older than the retention window.
func (r *Runner) PruneNow(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.retention)
	n, err := r.pruner.DeleteExpired(ctx, cutoff)
	if err != nil {
		r.log.Error().Err(err).Msg("prune store")
		return 0, err
	}
	r.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("pruned store")
	return n, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
